package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"arber/internal/config"
	"arber/internal/coordinator"
	"arber/internal/equity"
	"arber/internal/journal"
	"arber/internal/log"
	"arber/internal/report"
	"arber/internal/spread"
	"arber/internal/venue"
)

func main() {
	// .env 仅用于本地开发注入凭证，缺失不是错误。
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(report.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "open":
		code = runSession(ctx, coordinator.ActionOpen, os.Args[2:])
	case "close":
		code = runSession(ctx, coordinator.ActionClose, os.Args[2:])
	case "price-diff":
		code = runPriceDiff(ctx, os.Args[2:])
	case "equity-alert":
		code = runEquityAlert(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		code = report.ExitOK
	default:
		fmt.Fprintf(os.Stderr, "未知子命令: %s\n\n", os.Args[1])
		usage()
		code = report.ExitUsage
	}

	stop()
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, `用法: arber <子命令> [参数]

子命令:
  open          监控价差并在触发后双腿开仓
  close         监控价差并在触发后双腿平仓
  price-diff    持续展示两个交易所之间的价差
  equity-alert  监控账户权益并在穿越阈值时推送 webhook

各子命令支持 -h 查看参数，支持的交易所: %v
`, venue.SupportedVenues())
}

// setup 加载配置并初始化日志，是所有子命令的公共前置。
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	return cfg, logger, nil
}

// runSession 执行一次 open/close 会话，退出码编码终态。
func runSession(ctx context.Context, action coordinator.Action, args []string) int {
	fs := flag.NewFlagSet(string(action), flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
		longName   = fs.String("long", "", "多头腿所在交易所")
		shortName  = fs.String("short", "", "空头腿所在交易所")
		symbol     = fs.String("symbol", "", "标的，可用币种简称（BTC）或完整合约符号")
		size       = fs.Float64("size", 0, "目标数量（基础币计）")
		threshold  = fs.Float64("threshold", 0, "触发价差阈值（小数，0.001 即 0.1%）")
		timeout    = fs.Duration("timeout", 10*time.Minute, "会话最长持续时间")
	)
	_ = fs.Parse(args)

	if *longName == "" || *shortName == "" || *symbol == "" || *size <= 0 {
		fmt.Fprintln(os.Stderr, "缺少必要参数: -long -short -symbol -size")
		fs.Usage()
		return report.ExitUsage
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return report.ExitUsage
	}
	defer func() { _ = logger.Sync() }()

	longAdapter, err := venue.New(*longName, cfg.Venue(*longName), logger)
	if err != nil {
		logger.Error("初始化多头交易所失败", zap.Error(err))
		return report.ExitUsage
	}
	shortAdapter, err := venue.New(*shortName, cfg.Venue(*shortName), logger)
	if err != nil {
		logger.Error("初始化空头交易所失败", zap.Error(err))
		return report.ExitUsage
	}

	store, err := journal.NewStore(cfg.Journal)
	if err != nil {
		logger.Error("初始化会话日志库失败", zap.Error(err))
		return report.ExitFailed
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("关闭会话日志库失败", zap.Error(closeErr))
		}
	}()

	recorder, err := journal.NewService(store, logger)
	if err != nil {
		logger.Error("初始化会话记录器失败", zap.Error(err))
		return report.ExitFailed
	}

	coord := coordinator.New(
		coordinator.Leg{Adapter: longAdapter, Hedged: cfg.Venue(*longName).HedgedMode},
		coordinator.Leg{Adapter: shortAdapter, Hedged: cfg.Venue(*shortName).HedgedMode},
		coordinator.Options{
			MaxSubmitAttempts:    cfg.Coordinator.MaxSubmitAttempts,
			MaxRebalanceAttempts: cfg.Coordinator.MaxRebalanceAttempts,
			SubmitBackoffMin:     cfg.Coordinator.SubmitBackoffMin,
			SubmitBackoffMax:     cfg.Coordinator.SubmitBackoffMax,
			PollInterval:         cfg.Coordinator.PollInterval,
			UpdateInterval:       cfg.Coordinator.UpdateInterval,
			CleanupTimeout:       cfg.Coordinator.CleanupTimeout,
		},
		recorder,
		logger,
	)

	intent := coordinator.Intent{
		LongVenue:  *longName,
		ShortVenue: *shortName,
		Symbol:     *symbol,
		TotalSize:  *size,
		Threshold:  *threshold,
		Timeout:    *timeout,
	}

	var session *coordinator.Session
	if action == coordinator.ActionOpen {
		session, err = coord.RunOpen(ctx, intent)
	} else {
		session, err = coord.RunClose(ctx, intent)
	}
	if err != nil {
		logger.Error("会话无法启动", zap.Error(err))
		return report.ExitUsage
	}

	report.LogSession(logger, session)
	return report.ExitCode(session.State)
}

// runPriceDiff 持续输出两个交易所之间的价差及滚动统计。
func runPriceDiff(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("price-diff", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
		buyName    = fs.String("buy", "", "买入侧交易所（取卖一价）")
		sellName   = fs.String("sell", "", "卖出侧交易所（取买一价）")
		symbol     = fs.String("symbol", "", "标的，可用币种简称（BTC）或完整合约符号")
		interval   = fs.Duration("interval", time.Second, "采样间隔")
		windowSize = fs.Int("window", 60, "滚动统计窗口大小")
		quiet      = fs.Bool("quiet", false, "不逐笔输出，仅每满一个窗口输出汇总")
	)
	_ = fs.Parse(args)

	if *buyName == "" || *sellName == "" || *symbol == "" {
		fmt.Fprintln(os.Stderr, "缺少必要参数: -buy -sell -symbol")
		fs.Usage()
		return report.ExitUsage
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return report.ExitUsage
	}
	defer func() { _ = logger.Sync() }()

	buyAdapter, err := venue.New(*buyName, cfg.Venue(*buyName), logger)
	if err != nil {
		logger.Error("初始化买入侧交易所失败", zap.Error(err))
		return report.ExitUsage
	}
	sellAdapter, err := venue.New(*sellName, cfg.Venue(*sellName), logger)
	if err != nil {
		logger.Error("初始化卖出侧交易所失败", zap.Error(err))
		return report.ExitUsage
	}

	buySymbol, err := venue.DeriveSymbol(*buyName, *symbol)
	if err != nil {
		logger.Error("派生买入侧合约符号失败", zap.Error(err))
		return report.ExitUsage
	}
	sellSymbol, err := venue.DeriveSymbol(*sellName, *symbol)
	if err != nil {
		logger.Error("派生卖出侧合约符号失败", zap.Error(err))
		return report.ExitUsage
	}

	if *windowSize <= 0 {
		*windowSize = 60
	}
	monitor := spread.NewMonitor(buyAdapter, sellAdapter, logger)
	events := monitor.Observe(ctx, buySymbol, sellSymbol, *interval)
	window := spread.NewWindow(*windowSize)

	logger.Info("开始监控价差",
		zap.String("buy_venue", *buyName),
		zap.String("sell_venue", *sellName),
		zap.String("buy_symbol", buySymbol),
		zap.String("sell_symbol", sellSymbol),
		zap.Duration("interval", *interval),
	)

	samples := 0
	for ev := range events {
		switch e := ev.(type) {
		case spread.Sample:
			window.Add(e.Spread)
			samples++
			if *quiet && samples%*windowSize != 0 {
				continue
			}
			summary := window.Summary()
			logger.Info("价差",
				zap.String("symbol", e.Symbol),
				zap.Float64("buy_ask", e.BuyAsk),
				zap.Float64("sell_bid", e.SellBid),
				zap.Float64("spread", e.Spread),
				zap.Float64("mean", summary.Mean),
				zap.Float64("min", summary.Min),
				zap.Float64("max", summary.Max),
				zap.Int("samples", summary.Count),
			)
		case spread.StaleQuote:
			logger.Warn("报价过期",
				zap.String("venue", e.Venue),
				zap.Duration("age", e.QuoteAge),
			)
		case spread.FeedLost:
			logger.Warn("行情流中断，等待重连",
				zap.String("venue", e.Venue),
				zap.Duration("retry", e.Retry),
				zap.Int("attempt", e.Attempt),
			)
		}
	}

	return report.ExitOK
}

// runEquityAlert 监控合约账户权益，穿越阈值时推送 webhook。
func runEquityAlert(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("equity-alert", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
		venueName   = fs.String("venue", "", "被监控账户所在交易所")
		threshold   = fs.Float64("threshold", 0, "权益阈值")
		direction   = fs.String("direction", string(equity.DirectionBelow), "穿越方向 above/below")
		webhook     = fs.String("webhook", "", "webhook 地址，默认取配置 alert.webhook_url")
		currency    = fs.String("currency", "", "权益币种，默认取配置 alert.currency")
		interval    = fs.Duration("interval", 0, "检查间隔，默认取配置 alert.check_interval")
		balanceType = fs.String("balance-type", "", "余额查询类型参数，默认取配置 alert.balance_type")
		triggerOnce = fs.Bool("trigger-once", false, "首次触发后退出")
	)
	_ = fs.Parse(args)

	if *venueName == "" || *threshold <= 0 {
		fmt.Fprintln(os.Stderr, "缺少必要参数: -venue -threshold")
		fs.Usage()
		return report.ExitUsage
	}

	dir, err := equity.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return report.ExitUsage
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return report.ExitUsage
	}
	defer func() { _ = logger.Sync() }()

	adapter, err := venue.New(*venueName, cfg.Venue(*venueName), logger)
	if err != nil {
		logger.Error("初始化交易所失败", zap.Error(err))
		return report.ExitUsage
	}

	opts := equity.Options{
		Venue:         *venueName,
		Currency:      cfg.Alert.Currency,
		Threshold:     *threshold,
		Direction:     dir,
		WebhookURL:    cfg.Alert.WebhookURL,
		CheckInterval: cfg.Alert.CheckInterval,
		BalanceType:   cfg.Alert.BalanceType,
		TriggerOnce:   cfg.Alert.TriggerOnce,
	}
	if *currency != "" {
		opts.Currency = *currency
	}
	if *webhook != "" {
		opts.WebhookURL = *webhook
	}
	if *interval > 0 {
		opts.CheckInterval = *interval
	}
	if *balanceType != "" {
		opts.BalanceType = *balanceType
	}
	if *triggerOnce {
		opts.TriggerOnce = true
	}

	monitor := equity.NewMonitor(adapter, opts, logger)
	if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("权益监控异常退出", zap.Error(err))
		return report.ExitFailed
	}

	logger.Info("权益监控已退出")
	return report.ExitOK
}

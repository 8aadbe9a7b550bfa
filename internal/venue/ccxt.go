package venue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"arber/internal/config"
)

// 连续行情拉取失败达到该次数后认为行情流中断，
// 由上层监控负责退避重连。
const maxStreamFailures = 3

type marketClient interface {
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// CCXT 基于 ccxt 实现 Adapter，一个实例对应一个交易所。
type CCXT struct {
	name         string
	client       marketClient
	logger       *zap.Logger
	pollInterval time.Duration

	marketsMu     sync.Mutex
	marketsLoaded bool
	markets       map[string]ccxt.MarketInterface
}

// New 按交易所标识构造 ccxt 客户端。凭证可以为空，
// 此时仅能使用公共行情接口。
func New(name string, cfg config.VenueConfig, logger *zap.Logger) (*CCXT, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	var client marketClient
	switch name {
	case NameBinanceUSDM:
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case NameBybit:
		ex := ccxt.NewBybit(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case NameBitget:
		ex := ccxt.NewBitget(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case NamePhemex:
		ex := ccxt.NewPhemex(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case NameMexc:
		ex := ccxt.NewMexc(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	default:
		return nil, fmt.Errorf("venue: 不支持的交易所 %q，可选 %v", name, SupportedVenues())
	}

	pollInterval := 500 * time.Millisecond
	if cfg.Slow {
		pollInterval = 2 * time.Second
	}

	return &CCXT{
		name:         name,
		client:       client,
		logger:       logger,
		pollInterval: pollInterval,
	}, nil
}

// Name 返回交易所标识。
func (c *CCXT) Name() string {
	return c.name
}

// StreamQuotes 以轮询方式持续产出盘口顶档快照。
// 连续失败超过阈值或遇到不可重试错误时关闭通道，
// 重连由消费方决定。
func (c *CCXT) StreamQuotes(ctx context.Context, symbol string) (<-chan Quote, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	out := make(chan Quote, 1)

	go func() {
		defer close(out)

		failures := 0
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			book, err := c.client.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(5))
			if err != nil {
				classified := classify(c.name, err)
				if !IsTransient(classified) {
					c.logger.Warn("行情流遇到不可重试错误",
						zap.String("venue", c.name),
						zap.String("symbol", symbol),
						zap.Error(classified),
					)
					return
				}
				failures++
				if failures >= maxStreamFailures {
					c.logger.Warn("行情流连续失败，关闭流",
						zap.String("venue", c.name),
						zap.String("symbol", symbol),
						zap.Int("failures", failures),
					)
					return
				}
			} else {
				failures = 0
				if quote, ok := quoteFromBook(c.name, symbol, book); ok {
					select {
					case out <- quote:
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

// PlaceOrder 提交市价单，单次尝试，不做内部重试。
func (c *CCXT) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity float64, params map[string]interface{}) (string, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var opts []ccxt.CreateOrderOptions
	if len(params) > 0 {
		opts = append(opts, ccxt.WithCreateOrderParams(params))
	}

	order, err := c.client.CreateOrder(symbol, "market", string(side), quantity, opts...)
	if err != nil {
		return "", classify(c.name, err)
	}

	orderID := derefString(order.Id)
	if orderID == "" {
		return "", fmt.Errorf("venue: %s 返回了空订单号", c.name)
	}

	c.logger.Info("已提交委托",
		zap.String("venue", c.name),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", quantity),
		zap.String("order_id", orderID),
	)

	return orderID, nil
}

// QueryOrder 查询订单成交进度。
func (c *CCXT) QueryOrder(ctx context.Context, symbol, orderID string) (OrderUpdate, error) {
	if err := ctx.Err(); err != nil {
		return OrderUpdate{}, err
	}

	order, err := c.client.FetchOrder(orderID, ccxt.WithFetchOrderSymbol(symbol))
	if err != nil {
		return OrderUpdate{}, classify(c.name, err)
	}

	return updateFromOrder(orderID, order), nil
}

// CancelOrder 撤单。订单已成交时返回 ErrAlreadyFilled，
// 以便上层把"撤不掉"与"撤失败"区分开。
func (c *CCXT) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.client.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(symbol))
	if err == nil {
		return nil
	}

	classified := classify(c.name, err)

	var rejected *RejectedError
	if errors.As(classified, &rejected) {
		if update, qErr := c.QueryOrder(ctx, symbol, orderID); qErr == nil && update.Status == StatusFilled {
			return fmt.Errorf("%w: %s", ErrAlreadyFilled, orderID)
		}
	}

	return classified
}

// FetchBalance 透传账户余额查询，供权益监控使用。
func (c *CCXT) FetchBalance(params ...interface{}) (ccxt.Balances, error) {
	balances, err := c.client.FetchBalance(params...)
	if err != nil {
		return ccxt.Balances{}, classify(c.name, err)
	}
	return balances, nil
}

// InstrumentConstraints 读取交易所对该合约的数量约束。
func (c *CCXT) InstrumentConstraints(ctx context.Context, symbol string) (Constraints, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return Constraints{}, err
	}

	c.marketsMu.Lock()
	market, ok := c.markets[symbol]
	c.marketsMu.Unlock()
	if !ok {
		return Constraints{}, &RejectedError{Venue: c.name, Reason: fmt.Sprintf("unknown symbol %s", symbol)}
	}

	constraints := Constraints{}
	if market.Limits != nil {
		if market.Limits.Amount != nil && market.Limits.Amount.Min != nil {
			constraints.MinSize = *market.Limits.Amount.Min
		}
		if market.Limits.Cost != nil && market.Limits.Cost.Min != nil {
			constraints.MinNotional = *market.Limits.Cost.Min
		}
	}
	if market.Precision != nil && market.Precision.Amount != nil {
		constraints.StepSize = stepFromPrecision(*market.Precision.Amount)
	}
	if constraints.StepSize <= 0 {
		constraints.StepSize = constraints.MinSize
	}

	return constraints, nil
}

func (c *CCXT) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	markets, err := c.client.LoadMarkets()
	if err != nil {
		return classify(c.name, err)
	}

	c.markets = markets
	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("venue", c.name))
	return nil
}

// stepFromPrecision 归一交易所的数量精度表示：
// 小于1的值本身就是最小步长，大于等于1的值是小数位数。
func stepFromPrecision(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p < 1 {
		return p
	}
	return math.Pow(10, -p)
}

func quoteFromBook(venueName, symbol string, book ccxt.OrderBook) (Quote, bool) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return Quote{}, false
	}
	bid, ask := book.Bids[0], book.Asks[0]
	if len(bid) < 2 || len(ask) < 2 {
		return Quote{}, false
	}

	observed := time.Now().UTC()
	if book.Timestamp != nil {
		observed = time.UnixMilli(*book.Timestamp).UTC()
	}

	return Quote{
		Venue:      venueName,
		Symbol:     symbol,
		Bid:        bid[0],
		BidSize:    bid[1],
		Ask:        ask[0],
		AskSize:    ask[1],
		ObservedAt: observed,
	}, true
}

func updateFromOrder(orderID string, order ccxt.Order) OrderUpdate {
	update := OrderUpdate{
		OrderID:  orderID,
		Filled:   derefFloat(order.Filled),
		AvgPrice: derefFloat(order.Average),
	}

	switch derefString(order.Status) {
	case "closed":
		update.Status = StatusFilled
	case "canceled", "cancelled", "expired":
		update.Status = StatusCancelled
	case "rejected":
		update.Status = StatusRejected
	default:
		if update.Filled > 0 {
			update.Status = StatusPartiallyFilled
		} else {
			update.Status = StatusOpen
		}
	}

	return update
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

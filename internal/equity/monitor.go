package equity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

type balanceClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// Direction 表示权益穿越阈值的方向。
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// ParseDirection 解析方向参数。
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionAbove:
		return DirectionAbove, nil
	case DirectionBelow:
		return DirectionBelow, nil
	default:
		return "", fmt.Errorf("equity: 无效的阈值方向 %q，仅支持 above/below", s)
	}
}

// AlertPayload 是触发告警时发送给 webhook 的内容。
type AlertPayload struct {
	Venue     string    `json:"venue"`
	Currency  string    `json:"currency"`
	Equity    float64   `json:"equity"`
	Threshold float64   `json:"threshold"`
	Direction Direction `json:"direction"`
	CrossedAt float64   `json:"crossed_at"`
}

// Options 控制权益监控行为。
type Options struct {
	Venue         string
	Currency      string
	Threshold     float64
	Direction     Direction
	WebhookURL    string
	CheckInterval time.Duration
	BalanceType   string
	TriggerOnce   bool
}

// Monitor 周期性拉取合约账户权益，在权益按指定方向
// 穿越阈值时向 webhook 推送告警。告警按边沿触发：
// 条件从不满足变为满足时发送一次，持续满足不会重复发送。
type Monitor struct {
	client balanceClient
	http   *http.Client
	opts   Options
	logger *zap.Logger
}

// NewMonitor 创建权益监控器。
func NewMonitor(client balanceClient, opts Options, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 30 * time.Second
	}
	return &Monitor{
		client: client,
		http:   &http.Client{Timeout: 10 * time.Second},
		opts:   opts,
		logger: logger,
	}
}

// Run 启动监控循环，直到 ctx 取消或（trigger_once 模式下）首次触发。
func (m *Monitor) Run(ctx context.Context) error {
	var params []interface{}
	if m.opts.BalanceType != "" {
		params = append(params, map[string]interface{}{"type": m.opts.BalanceType})
	}

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	// previous 为 nil 时表示尚无上一轮结果，首轮即满足也会触发。
	var previous *bool

	for {
		balances, err := m.client.FetchBalance(params...)
		if err != nil {
			m.logger.Error("获取账户余额失败",
				zap.String("venue", m.opts.Venue),
				zap.Error(err))
		} else {
			equity, err := extractEquity(balances, m.opts.Currency)
			if err != nil {
				m.logger.Error("解析账户权益失败",
					zap.String("venue", m.opts.Venue),
					zap.String("currency", m.opts.Currency),
					zap.Error(err))
			} else {
				crossed := thresholdCrossed(equity, m.opts.Threshold, m.opts.Direction)
				m.logger.Debug("权益检查",
					zap.String("venue", m.opts.Venue),
					zap.String("currency", m.opts.Currency),
					zap.Float64("equity", equity),
					zap.Float64("threshold", m.opts.Threshold),
					zap.String("direction", string(m.opts.Direction)))

				if crossed && (previous == nil || !*previous) {
					m.fire(ctx, equity)
					if m.opts.TriggerOnce {
						return nil
					}
				}
				previous = &crossed
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) fire(ctx context.Context, equity float64) {
	payload := AlertPayload{
		Venue:     m.opts.Venue,
		Currency:  strings.ToUpper(m.opts.Currency),
		Equity:    equity,
		Threshold: m.opts.Threshold,
		Direction: m.opts.Direction,
		CrossedAt: float64(time.Now().UnixMilli()) / 1000,
	}

	m.logger.Info("权益阈值已穿越",
		zap.String("venue", payload.Venue),
		zap.String("currency", payload.Currency),
		zap.Float64("equity", payload.Equity),
		zap.Float64("threshold", payload.Threshold),
		zap.String("direction", string(payload.Direction)))

	if m.opts.WebhookURL == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("序列化告警内容失败", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("构造 webhook 请求失败", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Error("推送 webhook 失败",
			zap.String("url", m.opts.WebhookURL),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		m.logger.Error("webhook 返回异常状态码",
			zap.String("url", m.opts.WebhookURL),
			zap.Int("status", resp.StatusCode))
	}
}

// extractEquity 从余额回包中提取指定币种的权益。优先读取
// 标准化的 total 字段，缺失时回退到原始 info 中的常见字段名。
func extractEquity(balances ccxt.Balances, currency string) (float64, error) {
	code := strings.ToUpper(currency)

	if balances.Total != nil {
		if total, ok := balances.Total[code]; ok && total != nil {
			return *total, nil
		}
	}

	if balances.Info != nil {
		for _, key := range []string{
			"equity",
			"totalEquity",
			"walletBalance",
			"accountEquity",
			"marginBalance",
			"totalWalletBalance",
		} {
			raw, ok := balances.Info[key]
			if !ok {
				continue
			}
			if nested, ok := raw.(map[string]interface{}); ok {
				raw = nested[code]
			}
			if v, ok := parseFloat(raw); ok {
				return v, nil
			}
		}
	}

	return 0, fmt.Errorf("equity: 无法从余额回包中提取 %s 权益", code)
}

func thresholdCrossed(equity, threshold float64, direction Direction) bool {
	if direction == DirectionAbove {
		return equity >= threshold
	}
	return equity <= threshold
}

func parseFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case *float64:
		if v != nil {
			return *v, true
		}
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

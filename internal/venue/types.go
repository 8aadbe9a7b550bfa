package venue

import (
	"context"
	"time"
)

// OrderSide 表示委托方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite 返回相反的委托方向。
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionSide 表示持仓方向。
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// OrderStatus 为订单状态的统一表示。
type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal 判断状态是否不会再发生变化。
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Quote 为单个交易所盘口顶档的不可变快照。
type Quote struct {
	Venue      string
	Symbol     string
	Bid        float64
	Ask        float64
	BidSize    float64
	AskSize    float64
	ObservedAt time.Time
}

// OrderUpdate 描述一次订单状态查询的结果。
type OrderUpdate struct {
	OrderID  string
	Filled   float64
	AvgPrice float64
	Status   OrderStatus
}

// Constraints 为交易所对单笔委托的数量约束。
type Constraints struct {
	MinSize     float64
	StepSize    float64
	MinNotional float64
}

// Adapter 抽象单个交易所的能力集：行情订阅、下单、查单与撤单。
// 交易所差异（对冲模式参数、合约符号、限频）全部封装在实现内部。
type Adapter interface {
	Name() string
	StreamQuotes(ctx context.Context, symbol string) (<-chan Quote, error)
	PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity float64, params map[string]interface{}) (string, error)
	QueryOrder(ctx context.Context, symbol, orderID string) (OrderUpdate, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	InstrumentConstraints(ctx context.Context, symbol string) (Constraints, error)
}

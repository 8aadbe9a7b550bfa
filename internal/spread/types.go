package spread

import (
	"fmt"
	"time"
)

// Event 是监控流的元素：行情样本或降级诊断。
// 诊断事件不终止流。
type Event interface {
	isEvent()
}

// Sample 为一次价差采样，买卖双方报价都足够新鲜时产出。
// Spread = (卖方买一价 − 买方卖一价) / 买方卖一价，正值代表
// 在 SellVenue 卖出高于在 BuyVenue 买入，即方向有利。
type Sample struct {
	BuyVenue  string
	SellVenue string
	Symbol    string
	BuyAsk    float64
	SellBid   float64
	BuySize   float64
	SellSize  float64
	Spread    float64
	SampledAt time.Time
}

func (Sample) isEvent() {}

func (s Sample) String() string {
	return fmt.Sprintf("%s | buy %s ask %.6f x %.4f | sell %s bid %.6f x %.4f | spread %.4f%%",
		s.Symbol, s.BuyVenue, s.BuyAsk, s.BuySize, s.SellVenue, s.SellBid, s.SellSize, s.Spread*100)
}

// StaleQuote 表示某一侧报价超过 2×采样间隔没有更新，
// 该拍不产出样本。
type StaleQuote struct {
	Venue    string
	Symbol   string
	QuoteAge time.Duration
	At       time.Time
}

func (StaleQuote) isEvent() {}

// FeedLost 表示某一侧行情流意外中断，监控会按指数退避重连。
type FeedLost struct {
	Venue   string
	Symbol  string
	At      time.Time
	Retry   time.Duration
	Attempt int
}

func (FeedLost) isEvent() {}

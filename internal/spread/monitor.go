package spread

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"arber/internal/venue"
)

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// Monitor 消费两个交易所的行情流，产出归一化的价差序列。
// 只读组件，不会提交任何委托。
type Monitor struct {
	buy    venue.Adapter
	sell   venue.Adapter
	logger *zap.Logger
}

// NewMonitor 创建价差监控。buy 一侧取卖一价，sell 一侧取买一价。
func NewMonitor(buy, sell venue.Adapter, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		buy:    buy,
		sell:   sell,
		logger: logger,
	}
}

type quoteBoard struct {
	mu       sync.Mutex
	buyQuote venue.Quote
	hasBuy   bool
	sellSide venue.Quote
	hasSell  bool
}

func (b *quoteBoard) storeBuy(q venue.Quote) {
	b.mu.Lock()
	b.buyQuote = q
	b.hasBuy = true
	b.mu.Unlock()
}

func (b *quoteBoard) storeSell(q venue.Quote) {
	b.mu.Lock()
	b.sellSide = q
	b.hasSell = true
	b.mu.Unlock()
}

func (b *quoteBoard) snapshot() (buy, sell venue.Quote, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buyQuote, b.sellSide, b.hasBuy && b.hasSell
}

// Observe 启动监控并返回事件流。买卖两侧可以使用各自的合约
// 符号。两侧订阅各自独立运行，互不阻塞；任意一侧中断都只影响
// 该侧的重连。流只在 ctx 取消后关闭。
func (m *Monitor) Observe(ctx context.Context, buySymbol, sellSymbol string, interval time.Duration) <-chan Event {
	events := make(chan Event, 16)
	board := &quoteBoard{}
	symbol := venue.BaseOf(buySymbol)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.runFeed(ctx, m.buy, buySymbol, events, board.storeBuy)
	}()
	go func() {
		defer wg.Done()
		m.runFeed(ctx, m.sell, sellSymbol, events, board.storeSell)
	}()

	go func() {
		defer close(events)
		defer wg.Wait()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		maxAge := 2 * interval

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			now := time.Now().UTC()
			buyQuote, sellQuote, ok := board.snapshot()
			if !ok {
				continue
			}

			if age := now.Sub(buyQuote.ObservedAt); age > maxAge {
				m.emit(ctx, events, StaleQuote{Venue: m.buy.Name(), Symbol: symbol, QuoteAge: age, At: now})
				continue
			}
			if age := now.Sub(sellQuote.ObservedAt); age > maxAge {
				m.emit(ctx, events, StaleQuote{Venue: m.sell.Name(), Symbol: symbol, QuoteAge: age, At: now})
				continue
			}
			if buyQuote.Ask <= 0 {
				continue
			}

			m.emit(ctx, events, Sample{
				BuyVenue:  m.buy.Name(),
				SellVenue: m.sell.Name(),
				Symbol:    symbol,
				BuyAsk:    buyQuote.Ask,
				SellBid:   sellQuote.Bid,
				BuySize:   buyQuote.AskSize,
				SellSize:  sellQuote.BidSize,
				Spread:    (sellQuote.Bid - buyQuote.Ask) / buyQuote.Ask,
				SampledAt: now,
			})
		}
	}()

	return events
}

// runFeed 维持单侧订阅，流关闭后按指数退避重连直至 ctx 取消。
func (m *Monitor) runFeed(ctx context.Context, ad venue.Adapter, symbol string, events chan<- Event, store func(venue.Quote)) {
	attempt := 0
	backoff := reconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		quotes, err := ad.StreamQuotes(ctx, symbol)
		if err == nil {
			attempt = 0
			backoff = reconnectBase
			for quote := range quotes {
				store(quote)
			}
		} else {
			m.logger.Warn("订阅行情失败",
				zap.String("venue", ad.Name()),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}

		if ctx.Err() != nil {
			return
		}

		attempt++
		m.emit(ctx, events, FeedLost{
			Venue:   ad.Name(),
			Symbol:  symbol,
			At:      time.Now().UTC(),
			Retry:   backoff,
			Attempt: attempt,
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

func (m *Monitor) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

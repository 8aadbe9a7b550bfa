package spread

import (
	"context"
	"errors"
	"testing"
	"time"

	"arber/internal/venue"
)

// feedAdapter 以固定报价驱动行情流，或在订阅时直接失败。
type feedAdapter struct {
	name     string
	bid, ask float64
	size     float64
	stale    time.Duration
	subErr   error
}

func (f *feedAdapter) Name() string { return f.name }

func (f *feedAdapter) StreamQuotes(ctx context.Context, symbol string) (<-chan venue.Quote, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}

	out := make(chan venue.Quote, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			q := venue.Quote{
				Venue:      f.name,
				Symbol:     symbol,
				Bid:        f.bid,
				Ask:        f.ask,
				BidSize:    f.size,
				AskSize:    f.size,
				ObservedAt: time.Now().UTC().Add(-f.stale),
			}
			select {
			case out <- q:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *feedAdapter) PlaceOrder(context.Context, string, venue.OrderSide, float64, map[string]interface{}) (string, error) {
	return "", errors.New("not implemented")
}

func (f *feedAdapter) QueryOrder(context.Context, string, string) (venue.OrderUpdate, error) {
	return venue.OrderUpdate{}, errors.New("not implemented")
}

func (f *feedAdapter) CancelOrder(context.Context, string, string) error {
	return errors.New("not implemented")
}

func (f *feedAdapter) InstrumentConstraints(context.Context, string) (venue.Constraints, error) {
	return venue.Constraints{}, errors.New("not implemented")
}

func TestObserve_SpreadFormula(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	buy := &feedAdapter{name: "bybit", bid: 99.5, ask: 100, size: 5}
	sell := &feedAdapter{name: "bitget", bid: 101, ask: 101.5, size: 3}

	monitor := NewMonitor(buy, sell, nil)
	events := monitor.Observe(ctx, "BTC/USDT:USDT", "BTC/USDT:USDT", 20*time.Millisecond)

	for ev := range events {
		sample, ok := ev.(Sample)
		if !ok {
			continue
		}
		if sample.BuyVenue != "bybit" || sample.SellVenue != "bitget" {
			t.Errorf("unexpected venues: %+v", sample)
		}
		if sample.Symbol != "BTC" {
			t.Errorf("expected symbol BTC, got %s", sample.Symbol)
		}
		if sample.BuyAsk != 100 || sample.SellBid != 101 {
			t.Errorf("expected buy ask 100 / sell bid 101, got %+v", sample)
		}
		want := (101.0 - 100.0) / 100.0
		if sample.Spread != want {
			t.Errorf("expected spread %v, got %v", want, sample.Spread)
		}
		cancel()
		break
	}

	// 流必须随 ctx 取消而关闭。
	for range events {
	}
}

func TestObserve_StaleQuoteSuppressesSample(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	buy := &feedAdapter{name: "bybit", bid: 99.5, ask: 100, size: 5, stale: time.Second}
	sell := &feedAdapter{name: "bitget", bid: 101, ask: 101.5, size: 3}

	monitor := NewMonitor(buy, sell, nil)
	events := monitor.Observe(ctx, "BTC/USDT:USDT", "BTC/USDT:USDT", 20*time.Millisecond)

	for ev := range events {
		switch e := ev.(type) {
		case Sample:
			t.Fatalf("expected no sample while one side is stale, got %+v", e)
		case StaleQuote:
			if e.Venue != "bybit" {
				t.Errorf("expected stale venue bybit, got %s", e.Venue)
			}
			if e.QuoteAge <= 40*time.Millisecond {
				t.Errorf("expected age above threshold, got %v", e.QuoteAge)
			}
			cancel()
		}
		if ctx.Err() != nil {
			break
		}
	}
	for range events {
	}
}

func TestObserve_FeedLostEmittedOnSubscribeFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	buy := &feedAdapter{name: "bybit", subErr: errors.New("dial refused")}
	sell := &feedAdapter{name: "bitget", bid: 101, ask: 101.5, size: 3}

	monitor := NewMonitor(buy, sell, nil)
	events := monitor.Observe(ctx, "BTC/USDT:USDT", "BTC/USDT:USDT", 20*time.Millisecond)

	for ev := range events {
		lost, ok := ev.(FeedLost)
		if !ok {
			continue
		}
		if lost.Venue != "bybit" {
			t.Errorf("expected lost venue bybit, got %s", lost.Venue)
		}
		if lost.Attempt != 1 {
			t.Errorf("expected first attempt, got %d", lost.Attempt)
		}
		if lost.Retry != time.Second {
			t.Errorf("expected base backoff 1s, got %v", lost.Retry)
		}
		cancel()
		break
	}
	for range events {
	}
}

package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"arber/internal/config"
	"arber/internal/coordinator"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	store, err := NewStore(config.JournalConfig{
		InMemory:        true,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(store, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestService_RecordAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordTransition(ctx, "s1", coordinator.StateIdle, coordinator.StateMonitoring)
	svc.RecordLeg(ctx, "s1", coordinator.LegOrder{
		Venue:     "bybit",
		Symbol:    "BTC/USDT:USDT",
		Requested: 1,
		Filled:    0.5,
		OrderID:   "42",
		Status:    coordinator.LegPartiallyFilled,
		Err:       errors.New("partial"),
	})
	svc.RecordDiagnostic(ctx, "s1", "stale_quote", map[string]interface{}{"venue": "bybit"})
	svc.RecordTransition(ctx, "s2", coordinator.StateIdle, coordinator.StateMonitoring)

	events, err := svc.ListEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events for s1, got %d", len(events))
	}

	// 倒序返回，最早的迁移在最后。
	last := events[len(events)-1]
	if last.Type != EventTransition {
		t.Errorf("expected oldest event to be transition, got %s", last.Type)
	}

	var transition struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(last.Payload, &transition); err != nil {
		t.Fatalf("unmarshal transition payload: %v", err)
	}
	if transition.From != "idle" || transition.To != "monitoring" {
		t.Errorf("unexpected transition payload: %+v", transition)
	}

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents all returned error: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 events in total, got %d", len(all))
	}
}

func TestService_RecordOutcome(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session := &coordinator.Session{
		ID: "s9",
		Intent: coordinator.Intent{
			Action: coordinator.ActionOpen,
			Symbol: "BTC",
		},
		State:     coordinator.StateRolledBack,
		StartedAt: time.Now().UTC(),
	}
	session.CompensationCost = 1.5
	svc.RecordOutcome(ctx, session)

	events, err := svc.ListEvents(ctx, "s9", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventOutcome {
		t.Fatalf("expected a single outcome event, got %+v", events)
	}

	var outcome map[string]interface{}
	if err := json.Unmarshal(events[0].Payload, &outcome); err != nil {
		t.Fatalf("unmarshal outcome payload: %v", err)
	}
	if outcome["state"] != "rolled_back" {
		t.Errorf("expected state rolled_back, got %v", outcome["state"])
	}
	if outcome["compensation_cost"] != 1.5 {
		t.Errorf("expected compensation_cost 1.5, got %v", outcome["compensation_cost"])
	}
}

func TestService_RecordSurvivesCancelledContext(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 会话截止不能阻止留痕。
	svc.RecordTransition(ctx, "s1", coordinator.StateLegsPending, coordinator.StateReconciling)

	events, err := svc.ListEvents(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected event recorded despite cancelled context, got %d", len(events))
	}
}

package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"arber/internal/config"
	"arber/internal/coordinator"
)

func TestNewStore_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	store, err := NewStore(config.JournalConfig{
		Path:         path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// 目录不存在时必须自动创建。
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected journal directory to exist: %v", err)
	}

	svc, err := NewService(store, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	svc.RecordTransition(context.Background(), "s1", coordinator.StateIdle, coordinator.StateMonitoring)

	events, err := svc.ListEvents(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the transition to be persisted, got %d events", len(events))
	}
}

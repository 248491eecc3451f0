package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestWatchFlowDispatchesWriteEvent(t *testing.T) {
	t.Parallel()
	domain := t.TempDir()
	flowID := "flow-a"
	flowDir := filepath.Join(domain, flowID)
	if err := os.Mkdir(flowDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w, err := New(domain, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.WatchFlow(flowID); err != nil {
		t.Fatalf("WatchFlow: %v", err)
	}

	ch := make(chan Event, 8)
	unsub := w.Subscribe(flowID, ch)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	w.Run(gctx, g)

	dataFile := filepath.Join(flowDir, "data")
	if err := os.WriteFile(dataFile, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.FlowID != flowID {
			t.Fatalf("FlowID = %q, want %q", ev.FlowID, flowID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write event")
	}
}

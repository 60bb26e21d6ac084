package reactor

import (
	"log/slog"
	"testing"

	"github.com/respkv/respkv-go/internal/bufpool"
	"github.com/respkv/respkv-go/internal/command"
	"github.com/respkv/respkv-go/internal/connpool"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	bufPool := bufpool.New()
	connPool := connpool.New(bufPool)
	w, err := NewWorker(0, bufPool, connPool, command.New(nil, nil), connpool.MaxBufferSize, slog.Default())
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

// TestWorkerStopIsIdempotent matches spec.md §4.8: Stop may be invoked
// from both a signal handler and an explicit shutdown path, so a second
// call must not double-close w.stopCh.
func TestWorkerStopIsIdempotent(t *testing.T) {
	w := newTestWorker(t)
	go w.Run()

	w.Stop()
	w.Stop()
}

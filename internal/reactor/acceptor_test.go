package reactor

import (
	"log/slog"
	"testing"
)

// TestAcceptorStopIsIdempotent matches spec.md §4.8: Stop may be invoked
// from both a signal handler and an explicit shutdown path, so a second
// call must not double-close a.stopCh.
func TestAcceptorStopIsIdempotent(t *testing.T) {
	w := newTestWorker(t)
	go w.Run()
	defer w.Stop()

	a, err := NewAcceptor("127.0.0.1", 0, []*Worker{w}, 0, slog.Default())
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	a.Stop()
	a.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
}

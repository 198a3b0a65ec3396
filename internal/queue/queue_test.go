package queue

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"signal-core/internal/signal"
)

func newSignal(symbol string, side signal.Side) signal.Signal {
	return signal.New(symbol, side, 0.8, decimal.NewFromInt(100), "test")
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a := newSignal("BTCUSDT", signal.SideBuy)
	b := newSignal("ETHUSDT", signal.SideBuy)
	c := newSignal("SOLUSDT", signal.SideSell)
	q.Enqueue([]signal.Signal{a, b, c})

	batch := q.DequeueBatch(2)
	if len(batch) != 2 {
		t.Fatalf("DequeueBatch(2) returned %d signals", len(batch))
	}
	if batch[0].Symbol != "BTCUSDT" || batch[1].Symbol != "ETHUSDT" {
		t.Errorf("batch out of FIFO order: %s, %s", batch[0].Symbol, batch[1].Symbol)
	}
	for _, s := range batch {
		if s.Status != signal.StatusExecuting {
			t.Errorf("dequeued signal %s status = %s, want EXECUTING", s.Symbol, s.Status)
		}
	}
	if q.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", q.Pending())
	}
}

func TestCompleteLifecycle(t *testing.T) {
	q, _ := New("")
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})
	q.DequeueBatch(1)

	got, err := q.Complete(s.ID, true)
	if err != nil {
		t.Fatalf("Complete(success) error = %v", err)
	}
	if got.Status != signal.StatusExecuted {
		t.Errorf("status = %s, want EXECUTED", got.Status)
	}
	if got.LastAttempt == nil {
		t.Errorf("LastAttempt not stamped")
	}
}

func TestMaxAttemptsEndsFailed(t *testing.T) {
	q, _ := New("")
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})

	// Fail until the attempt budget is gone.
	for i := 1; i < signal.DefaultMaxAttempts; i++ {
		q.DequeueBatch(1)
		got, err := q.Complete(s.ID, false)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
		if got.Status != signal.StatusPending {
			t.Fatalf("attempt %d: status = %s, want PENDING", i, got.Status)
		}
		if got.Attempts != i {
			t.Fatalf("attempt %d: Attempts = %d", i, got.Attempts)
		}
	}

	q.DequeueBatch(1)
	got, err := q.Complete(s.ID, false)
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("final attempt: err = %v, want ErrMaxAttempts", err)
	}
	if got.Status != signal.StatusFailed {
		t.Errorf("final status = %s, want FAILED", got.Status)
	}

	// FAILED is terminal: the signal never comes back.
	if batch := q.DequeueBatch(10); len(batch) != 0 {
		t.Errorf("failed signal re-dequeued: %v", batch)
	}
	if removed := q.CleanupTerminal(); removed != 1 {
		t.Errorf("CleanupTerminal() = %d, want 1", removed)
	}
}

func TestReleaseReturnsSignalWithoutAttempt(t *testing.T) {
	q, _ := New("")
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})
	q.DequeueBatch(1)

	q.Release(s.ID)

	snap := q.Snapshot()
	if snap[0].Status != signal.StatusPending {
		t.Errorf("status after Release = %s, want PENDING", snap[0].Status)
	}
	if snap[0].Attempts != 0 {
		t.Errorf("Attempts after Release = %d, want 0", snap[0].Attempts)
	}
	if snap[0].LastAttempt != nil {
		t.Errorf("LastAttempt stamped on Release")
	}

	// The released signal is dequeueable again.
	if batch := q.DequeueBatch(1); len(batch) != 1 || batch[0].ID != s.ID {
		t.Errorf("released signal not re-dequeued: %v", batch)
	}
}

func TestReleaseIgnoresPendingSignal(t *testing.T) {
	q, _ := New("")
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})

	q.Release(s.ID)

	if snap := q.Snapshot(); snap[0].Status != signal.StatusPending {
		t.Errorf("status = %s, want PENDING untouched", snap[0].Status)
	}
}

func TestDropRetiresSignalTerminally(t *testing.T) {
	q, _ := New("")
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})
	q.DequeueBatch(1)

	q.Drop(s.ID)

	snap := q.Snapshot()
	if snap[0].Status != signal.StatusFailed {
		t.Errorf("status after Drop = %s, want FAILED", snap[0].Status)
	}
	if snap[0].LastAttempt == nil {
		t.Errorf("LastAttempt not stamped on Drop")
	}
	if batch := q.DequeueBatch(10); len(batch) != 0 {
		t.Errorf("dropped signal re-dequeued: %v", batch)
	}
	if removed := q.CleanupTerminal(); removed != 1 {
		t.Errorf("CleanupTerminal() = %d, want 1", removed)
	}
}

func TestDropLeavesTerminalSignalsAlone(t *testing.T) {
	q, _ := New("")
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})
	q.DequeueBatch(1)
	q.Complete(s.ID, true)

	q.Drop(s.ID)

	if snap := q.Snapshot(); snap[0].Status != signal.StatusExecuted {
		t.Errorf("status = %s, want EXECUTED untouched", snap[0].Status)
	}
}

func TestCompleteUnknownSignal(t *testing.T) {
	q, _ := New("")
	if _, err := q.Complete("no-such-id", true); err == nil {
		t.Fatal("expected error for unknown signal")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	q, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a := newSignal("BTCUSDT", signal.SideBuy)
	b := newSignal("ETHUSDT", signal.SideSell)
	q.Enqueue([]signal.Signal{a, b})

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}

	before := q.Snapshot()
	after := reloaded.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("reloaded %d signals, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].ID != before[i].ID ||
			after[i].Symbol != before[i].Symbol ||
			after[i].Side != before[i].Side ||
			after[i].Status != before[i].Status ||
			after[i].Attempts != before[i].Attempts ||
			!after[i].Price.Equal(before[i].Price) {
			t.Errorf("signal %d differs after round-trip:\n before %+v\n after  %+v", i, before[i], after[i])
		}
	}
}

func TestLoadRevertsExecutingToPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	q, _ := New(path)
	s := newSignal("BTCUSDT", signal.SideBuy)
	q.Enqueue([]signal.Signal{s})
	q.DequeueBatch(1) // now EXECUTING on disk

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	snap := reloaded.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("reloaded %d signals, want 1", len(snap))
	}
	if snap[0].Status != signal.StatusPending {
		t.Errorf("recovered status = %s, want PENDING", snap[0].Status)
	}
}

func TestMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "queue.json")
	q, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := len(q.Snapshot()); got != 0 {
		t.Errorf("fresh queue has %d signals", got)
	}
}

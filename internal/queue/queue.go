// Package queue holds admitted trading signals in a durable FIFO with an
// explicit lifecycle state machine.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signal-core/internal/signal"
)

// ErrMaxAttempts marks a signal whose attempt budget is exhausted.
var ErrMaxAttempts = errors.New("max execution attempts exceeded")

// Queue is a mutex-guarded FIFO of trading signals. Every mutation rewrites
// the backing JSON file so a restart does not drop pending intents. The queue
// exclusively owns signal lifecycle transitions.
type Queue struct {
	mu      sync.Mutex
	signals []signal.Signal
	path    string // empty disables persistence (tests)
}

// New creates a queue persisted at path. Pass "" for an in-memory queue.
func New(path string) (*Queue, error) {
	q := &Queue{path: path}
	if path == "" {
		return q, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// load reads the persisted queue once at startup. Signals found EXECUTING
// revert to PENDING: a crash mid-execution must not strand an intent.
func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read queue file: %w", err)
	}
	var signals []signal.Signal
	if err := json.Unmarshal(data, &signals); err != nil {
		return fmt.Errorf("decode queue file: %w", err)
	}
	recovered := 0
	for i := range signals {
		if signals[i].Status == signal.StatusExecuting {
			signals[i].Status = signal.StatusPending
			recovered++
		}
	}
	q.signals = signals
	if len(signals) > 0 {
		log.Printf("queue: loaded %d persisted signals (%d reverted to pending)", len(signals), recovered)
	}
	return nil
}

// persist rewrites the whole queue atomically. Callers hold q.mu.
func (q *Queue) persist() {
	if q.path == "" {
		return
	}
	if err := writeJSONAtomic(q.path, q.signals); err != nil {
		log.Printf("queue: persist failed: %v", err)
	}
}

// Enqueue appends admitted signals and persists.
func (q *Queue) Enqueue(signals []signal.Signal) {
	if len(signals) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signals = append(q.signals, signals...)
	q.persist()
}

// DequeueBatch returns up to maxN pending signals in FIFO order and marks
// them EXECUTING.
func (q *Queue) DequeueBatch(maxN int) []signal.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []signal.Signal
	for i := range q.signals {
		if len(batch) >= maxN {
			break
		}
		if q.signals[i].Status != signal.StatusPending {
			continue
		}
		q.signals[i].Status = signal.StatusExecuting
		batch = append(batch, q.signals[i])
	}
	if len(batch) > 0 {
		q.persist()
	}
	return batch
}

// Complete records an execution outcome. Success moves the signal to
// EXECUTED. Failure increments the attempt counter and returns the signal to
// PENDING while attempts remain, else FAILED; the second return value is
// ErrMaxAttempts in that terminal case.
func (q *Queue) Complete(id string, success bool) (signal.Signal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.signals {
		if q.signals[i].ID != id {
			continue
		}
		s := &q.signals[i]
		now := time.Now()
		s.LastAttempt = &now
		var err error
		if success {
			s.Status = signal.StatusExecuted
		} else {
			s.Attempts++
			if s.Attempts >= s.MaxAttempts {
				s.Status = signal.StatusFailed
				err = ErrMaxAttempts
			} else {
				s.Status = signal.StatusPending
			}
		}
		q.persist()
		return *s, err
	}
	return signal.Signal{}, fmt.Errorf("queue: unknown signal %s", id)
}

// Release returns an EXECUTING signal to PENDING without recording an
// attempt, for work handed back before any submission happened.
func (q *Queue) Release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.signals {
		if q.signals[i].ID == id && q.signals[i].Status == signal.StatusExecuting {
			q.signals[i].Status = signal.StatusPending
			q.persist()
			return
		}
	}
}

// Drop retires a signal as FAILED regardless of remaining attempts, for
// intents that can never execute.
func (q *Queue) Drop(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.signals {
		if q.signals[i].ID != id || q.signals[i].Terminal() {
			continue
		}
		now := time.Now()
		q.signals[i].LastAttempt = &now
		q.signals[i].Status = signal.StatusFailed
		q.persist()
		return
	}
}

// CleanupTerminal drops EXECUTED and FAILED entries, returning how many were
// removed.
func (q *Queue) CleanupTerminal() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.signals[:0]
	removed := 0
	for _, s := range q.signals {
		if s.Terminal() {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	if removed > 0 {
		q.signals = kept
		q.persist()
	}
	return removed
}

// Pending returns the count of signals awaiting execution.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.signals {
		if s.Status == signal.StatusPending {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of every signal currently tracked, FIFO order.
func (q *Queue) Snapshot() []signal.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]signal.Signal, len(q.signals))
	copy(out, q.signals)
	return out
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename so a
// crash mid-write never leaves a torn queue file.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "queue-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

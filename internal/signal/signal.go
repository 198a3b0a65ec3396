// Package signal defines trading signals and the generator that produces
// them from market data and ML predictions.
package signal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side of a trading signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status is the lifecycle state of a signal in the queue.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusExecuted  Status = "EXECUTED"
	StatusFailed    Status = "FAILED"
)

// DefaultMaxAttempts bounds order-submission retries per signal.
const DefaultMaxAttempts = 3

// Signal is a single admitted trading intent. The queue exclusively owns
// lifecycle transitions; everyone else treats a Signal as a value.
type Signal struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Confidence  float64         `json:"confidence"`
	Price       decimal.Decimal `json:"price"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"execution_attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastAttempt *time.Time      `json:"last_attempt_time,omitempty"`
}

// New creates a pending signal with a fresh ID and the default attempt budget.
func New(symbol string, side Side, confidence float64, price decimal.Decimal, reason string) Signal {
	return Signal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Confidence:  confidence,
		Price:       price,
		Reason:      reason,
		CreatedAt:   time.Now(),
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Terminal reports whether the signal has reached a final state.
func (s Signal) Terminal() bool {
	return s.Status == StatusExecuted || s.Status == StatusFailed
}

package db

import (
	"context"
	"time"
)

// AuditEvent is one persisted bus event.
type AuditEvent struct {
	ID        int64
	Timestamp time.Time
	Topic     string
	Component string
	Action    string
	Details   string
}

// Trade records a filled order.
type Trade struct {
	ID        string
	SignalID  string
	Symbol    string
	Side      string
	Price     float64
	Qty       string
	Notional  float64
	OrderID   string
	CreatedAt time.Time
}

// Rejection records a signal turned away by the admission gate.
type Rejection struct {
	ID        int64
	SignalID  string
	Symbol    string
	Side      string
	Reason    string
	CreatedAt time.Time
}

// DailyStats aggregates per-day counters.
type DailyStats struct {
	Date             string
	SignalsGenerated int
	SignalsAdmitted  int
	SignalsRejected  int
	OrdersSubmitted  int
	OrdersFilled     int
	OrdersFailed     int
}

// InsertAuditEvent appends one audit row.
func (d *Database) InsertAuditEvent(ctx context.Context, e AuditEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO audit_events (ts, topic, component, action, details)
		VALUES (?, ?, ?, ?, ?)
	`, e.Timestamp, e.Topic, e.Component, e.Action, e.Details)
	return err
}

// InsertTrade appends one trade row.
func (d *Database) InsertTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, signal_id, symbol, side, price, qty, notional, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.SignalID, t.Symbol, t.Side, t.Price, t.Qty, t.Notional, t.OrderID, t.CreatedAt)
	return err
}

// InsertRejection appends one rejection row.
func (d *Database) InsertRejection(ctx context.Context, r Rejection) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO rejections (signal_id, symbol, side, reason, created_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, r.SignalID, r.Symbol, r.Side, r.Reason, r.CreatedAt)
	return err
}

// BumpDailyStats increments the named counter for today's row.
// column must be one of the accumulator columns; callers pass constants only.
func (d *Database) BumpDailyStats(ctx context.Context, date, column string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_stats (date, `+column+`) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET `+column+` = `+column+` + 1
	`, date)
	return err
}

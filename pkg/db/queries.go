package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// RecentAuditEvents returns the newest audit rows, newest first.
func (d *Database) RecentAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ts, topic, component, action, COALESCE(details, '')
		FROM audit_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var res []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Topic, &e.Component, &e.Action, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// RecentTrades returns the newest fills, newest first.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, signal_id, symbol, side, price, qty, COALESCE(notional, 0), COALESCE(order_id, ''), created_at
		FROM trades
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.SignalID, &t.Symbol, &t.Side, &t.Price, &t.Qty, &t.Notional, &t.OrderID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// RecentRejections returns the newest gate rejections, newest first.
func (d *Database) RecentRejections(ctx context.Context, limit int) ([]Rejection, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, signal_id, symbol, side, reason, created_at
		FROM rejections
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	var res []Rejection
	for rows.Next() {
		var r Rejection
		if err := rows.Scan(&r.ID, &r.SignalID, &r.Symbol, &r.Side, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// StatsForDate returns the counters for a single date (YYYY-MM-DD).
func (d *Database) StatsForDate(ctx context.Context, date string) (*DailyStats, error) {
	var s DailyStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, signals_generated, signals_admitted, signals_rejected,
		       orders_submitted, orders_filled, orders_failed
		FROM daily_stats WHERE date = ?
	`, date).Scan(&s.Date, &s.SignalsGenerated, &s.SignalsAdmitted, &s.SignalsRejected,
		&s.OrdersSubmitted, &s.OrdersFilled, &s.OrdersFailed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	return &s, nil
}

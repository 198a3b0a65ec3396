package db

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"signal-core/internal/events"
)

// recorderBuffer is the per-topic channel depth. The bus drops events for
// slow subscribers, so the buffer bounds how far the recorder may lag.
const recorderBuffer = 256

// auditTopics are the streams persisted to audit_events. Trade and
// rejection topics additionally land in their dedicated tables.
var auditTopics = []events.Topic{
	events.TopicSignalAdmitted,
	events.TopicSignalRejected,
	events.TopicOrderSubmitted,
	events.TopicOrderFilled,
	events.TopicOrderFailed,
	events.TopicBalanceRefresh,
	events.TopicEngineStatus,
	events.TopicError,
}

// Recorder subscribes to the event bus and persists every event it sees.
// It runs until Stop; writes that fail are logged and skipped so a wedged
// disk never stalls trading.
type Recorder struct {
	db     *Database
	bus    *events.Bus
	wg     sync.WaitGroup
	unsubs []func()
}

// NewRecorder wires a recorder to the bus. Call Start to begin persisting.
func NewRecorder(database *Database, bus *events.Bus) *Recorder {
	return &Recorder{db: database, bus: bus}
}

// Start launches one drain goroutine per topic.
func (r *Recorder) Start(ctx context.Context) {
	for _, topic := range auditTopics {
		ch, unsub := r.bus.Subscribe(topic, recorderBuffer)
		r.unsubs = append(r.unsubs, unsub)

		r.wg.Add(1)
		go r.drain(ctx, topic, ch)
	}
}

// Stop unsubscribes from the bus and waits for in-flight writes.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.wg.Wait()
}

func (r *Recorder) drain(ctx context.Context, topic events.Topic, ch <-chan events.Event) {
	defer r.wg.Done()
	for ev := range ch {
		if err := r.record(ctx, topic, ev); err != nil {
			log.Printf("[audit] record %s failed: %v", topic, err)
		}
	}
}

func (r *Recorder) record(ctx context.Context, topic events.Topic, ev events.Event) error {
	details := ""
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = string(b)
		}
	}

	if err := r.db.InsertAuditEvent(ctx, AuditEvent{
		Timestamp: ev.Timestamp,
		Topic:     string(topic),
		Component: ev.Component,
		Action:    ev.Action,
		Details:   details,
	}); err != nil {
		return err
	}

	for _, column := range statColumns[topic] {
		if err := r.db.BumpDailyStats(ctx, ev.Timestamp.Format("2006-01-02"), column); err != nil {
			log.Printf("[audit] bump %s failed: %v", column, err)
		}
	}

	switch topic {
	case events.TopicOrderFilled:
		return r.db.InsertTrade(ctx, Trade{
			ID:        detailString(ev, "trade_id"),
			SignalID:  detailString(ev, "signal_id"),
			Symbol:    detailString(ev, "symbol"),
			Side:      detailString(ev, "side"),
			Price:     detailFloat(ev, "price"),
			Qty:       detailString(ev, "qty"),
			Notional:  detailFloat(ev, "notional"),
			OrderID:   detailString(ev, "order_id"),
			CreatedAt: ev.Timestamp,
		})
	case events.TopicSignalRejected:
		return r.db.InsertRejection(ctx, Rejection{
			SignalID:  detailString(ev, "signal_id"),
			Symbol:    detailString(ev, "symbol"),
			Side:      detailString(ev, "side"),
			Reason:    detailString(ev, "reason"),
			CreatedAt: ev.Timestamp,
		})
	}
	return nil
}

// statColumns maps event topics to the daily_stats counters they bump. Every
// generated candidate ends up either admitted or rejected, so those two topics
// together account for signals_generated.
var statColumns = map[events.Topic][]string{
	events.TopicSignalAdmitted: {"signals_generated", "signals_admitted"},
	events.TopicSignalRejected: {"signals_generated", "signals_rejected"},
	events.TopicOrderSubmitted: {"orders_submitted"},
	events.TopicOrderFilled:    {"orders_filled"},
	events.TopicOrderFailed:    {"orders_failed"},
}

func detailString(ev events.Event, key string) string {
	if v, ok := ev.Details[key].(string); ok {
		return v
	}
	return ""
}

func detailFloat(ev events.Event, key string) float64 {
	switch v := ev.Details[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

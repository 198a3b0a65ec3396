// Package notify forwards important engine events to an external sink
// (Telegram by default) through a bounded queue so a slow or down sink
// never backs up the trading loop.
package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"signal-core/internal/events"
)

// Sink delivers one rendered message to the outside world.
type Sink interface {
	Send(ctx context.Context, msg string) error
}

const (
	defaultQueueSize          = 128
	defaultDropReportInterval = time.Minute
	defaultDedupeWindow       = 30 * time.Second
	sendTimeout               = 20 * time.Second
)

// Options tunes the notifier queue.
type Options struct {
	QueueSize          int           // <= 0 uses the default
	DropReportInterval time.Duration // negative disables the periodic summary
	DedupeWindow       time.Duration // negative disables dedupe
}

// Notifier drains queued events into the sink. Enqueueing never blocks:
// when the queue is full the event is dropped and counted.
type Notifier struct {
	label                string
	sink                 Sink
	queue                chan message
	stop                 chan struct{}
	done                 chan struct{}
	dropReportInterval   time.Duration
	droppedTotal         uint64
	droppedSinceReported uint64
	wg                   sync.WaitGroup
	mu                   sync.RWMutex
	closed               bool
	unsubs               []func()

	dedupeWindow time.Duration
	dedupeMu     sync.Mutex
	lastSent     map[string]time.Time
}

type message struct {
	event  string
	fields map[string]string
}

// New starts a notifier labelled with the engine instance name.
// Returns nil when sink is nil; a nil *Notifier is safe to use.
func New(label string, sink Sink, opts Options) *Notifier {
	if sink == nil {
		return nil
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	reportInterval := opts.DropReportInterval
	if reportInterval == 0 {
		reportInterval = defaultDropReportInterval
	}
	if reportInterval < 0 {
		reportInterval = 0
	}
	dedupeWindow := opts.DedupeWindow
	if dedupeWindow == 0 {
		dedupeWindow = defaultDedupeWindow
	}
	if dedupeWindow < 0 {
		dedupeWindow = 0
	}
	n := &Notifier{
		label:              label,
		sink:               sink,
		queue:              make(chan message, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: reportInterval,
		dedupeWindow:       dedupeWindow,
		lastSent:           make(map[string]time.Time),
	}
	n.wg.Add(1)
	go n.loop()
	if n.dropReportInterval > 0 {
		n.wg.Add(1)
		go n.dropReportLoop()
	}
	go func() {
		n.wg.Wait()
		close(n.done)
	}()
	return n
}

// Attach subscribes the notifier to the topics worth pushing externally.
func (n *Notifier) Attach(bus *events.Bus) {
	if n == nil {
		return
	}
	topics := []events.Topic{
		events.TopicOrderFilled,
		events.TopicOrderFailed,
		events.TopicError,
	}
	for _, topic := range topics {
		ch, unsub := bus.Subscribe(topic, cap(n.queue))
		n.unsubs = append(n.unsubs, unsub)
		n.wg.Add(1)
		go func(topic events.Topic, ch <-chan events.Event) {
			defer n.wg.Done()
			for ev := range ch {
				n.Important(string(topic), flatten(ev))
			}
		}(topic, ch)
	}
}

// Important queues a notification; drops it when the queue is full.
func (n *Notifier) Important(event string, fields map[string]string) {
	if n == nil || n.sink == nil {
		return
	}
	if n.deduped(event, fields) {
		return
	}
	msg := message{event: event, fields: cloneFields(fields)}
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	select {
	case n.queue <- msg:
		n.mu.RUnlock()
	default:
		droppedTotal := atomic.AddUint64(&n.droppedTotal, 1)
		droppedInWindow := atomic.AddUint64(&n.droppedSinceReported, 1)
		n.mu.RUnlock()
		if droppedInWindow == 1 {
			log.Printf("[notify] queue full, dropping %q (dropped_total=%d queue=%d/%d)",
				event, droppedTotal, len(n.queue), cap(n.queue))
		}
	}
}

// deduped reports whether the same event for the same symbol went out inside
// the dedupe window. Fills and failures for distinct symbols never collide.
func (n *Notifier) deduped(event string, fields map[string]string) bool {
	if n.dedupeWindow <= 0 {
		return false
	}
	key := event
	if sym, ok := fields["symbol"]; ok {
		key += "|" + sym
	}
	now := time.Now()
	n.dedupeMu.Lock()
	defer n.dedupeMu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.dedupeWindow {
		return true
	}
	n.lastSent[key] = now
	return false
}

// Close unsubscribes, flushes the queue and waits for the drain goroutines.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for _, unsub := range n.unsubs {
		unsub()
	}
	close(n.stop)
	done := n.done
	n.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.queue:
			n.send(msg)
		case <-n.stop:
			for {
				select {
				case msg := <-n.queue:
					n.send(msg)
				default:
					n.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (n *Notifier) dropReportLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.reportDroppedSummary()
		case <-n.stop:
			n.reportDroppedSummary()
			return
		}
	}
}

func (n *Notifier) reportDroppedSummary() {
	dropped := atomic.SwapUint64(&n.droppedSinceReported, 0)
	if dropped == 0 {
		return
	}
	log.Printf("[notify] dropped %d notifications since last report (total=%d)",
		dropped, atomic.LoadUint64(&n.droppedTotal))
}

func (n *Notifier) droppedStats() (total, sinceReport uint64) {
	if n == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&n.droppedTotal), atomic.LoadUint64(&n.droppedSinceReported)
}

func (n *Notifier) send(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := n.sink.Send(ctx, n.render(msg)); err != nil {
		log.Printf("[notify] send %q failed: %v", msg.event, err)
	}
}

func (n *Notifier) render(msg message) string {
	lines := []string{
		"[" + n.label + "] " + msg.event,
		"time: " + time.Now().UTC().Format(time.RFC3339),
	}
	keys := make([]string, 0, len(msg.fields))
	for k := range msg.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+msg.fields[k])
	}
	return strings.Join(lines, "\n")
}

func flatten(ev events.Event) map[string]string {
	if len(ev.Details) == 0 {
		return map[string]string{"component": ev.Component, "action": ev.Action}
	}
	out := make(map[string]string, len(ev.Details)+2)
	out["component"] = ev.Component
	out["action"] = ev.Action
	for k, v := range ev.Details {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

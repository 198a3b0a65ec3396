// Package engine runs the trading loop: refresh portfolio, generate and
// admit signals, then drain the queue through the exchange gateway. One
// dedicated worker; orders within a batch are submitted serially so
// balance-derived sizing stays consistent between consecutive orders.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"signal-core/internal/events"
	"signal-core/internal/gateway"
	"signal-core/internal/instrument"
	"signal-core/internal/portfolio"
	"signal-core/internal/predict"
	"signal-core/internal/queue"
	"signal-core/internal/risk"
	"signal-core/internal/signal"
)

const quoteCoin = "USDT"

// Config tunes the loop. Zero values fall back to defaults in New.
type Config struct {
	CycleInterval   time.Duration   // sleep between cycles
	BatchSize       int             // max signals drained per cycle
	CallTimeout     time.Duration   // per gateway call
	RiskPerTrade    decimal.Decimal // fraction of balance risked per buy
	MaxPerTrade     decimal.Decimal // absolute per-order cap in quote currency
	AllocationCap   decimal.Decimal // per-symbol cap as fraction of balance
	MinSellNotional decimal.Decimal // skip sells estimated below this
	SubmitRate      rate.Limit      // order submissions per second
	ExitConfidence  float64         // smart exit triggers at or above this
	Category        string          // exchange product category
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		CycleInterval:   10 * time.Second,
		BatchSize:       10,
		CallTimeout:     10 * time.Second,
		RiskPerTrade:    decimal.NewFromFloat(0.03),
		MaxPerTrade:     decimal.NewFromInt(20),
		AllocationCap:   decimal.NewFromFloat(0.5),
		MinSellNotional: decimal.NewFromInt(5),
		SubmitRate:      rate.Limit(2),
		ExitConfidence:  0.6,
		Category:        "spot",
	}
}

// Status is a point-in-time snapshot exposed over the status API.
type Status struct {
	Running        bool      `json:"running"`
	Paused         bool      `json:"paused"`
	CycleCount     uint64    `json:"cycle_count"`
	LastCycle      time.Time `json:"last_cycle"`
	QueuePending   int       `json:"queue_pending"`
	Generated      uint64    `json:"signals_generated"`
	Admitted       uint64    `json:"signals_admitted"`
	Rejected       uint64    `json:"signals_rejected"`
	Submitted      uint64    `json:"orders_submitted"`
	Filled         uint64    `json:"orders_filled"`
	Failed         uint64    `json:"orders_failed"`
	LastError      string    `json:"last_error,omitempty"`
	BalanceRefresh time.Time `json:"balance_refreshed"`
}

// Engine owns the loop and all registries it mutates.
type Engine struct {
	cfg       Config
	gw        gateway.Gateway
	catalog   *instrument.Catalog
	pf        *portfolio.State
	gen       *signal.Generator
	gate      *risk.Gate
	queue     *queue.Queue
	predictor predict.Predictor // may be nil, smart exit disabled
	bus       *events.Bus
	limiter   *rate.Limiter
	cooldowns *cooldownRegistry

	running atomic.Bool
	paused  atomic.Bool

	mu        sync.Mutex
	lastCycle time.Time
	lastError string

	cycleCount uint64
	generated  uint64
	admitted   uint64
	rejected   uint64
	submitted  uint64
	filled     uint64
	failed     uint64
}

// Deps collects the collaborators wired in main.
type Deps struct {
	Gateway   gateway.Gateway
	Catalog   *instrument.Catalog
	Portfolio *portfolio.State
	Generator *signal.Generator
	Queue     *queue.Queue
	Predictor predict.Predictor
	Bus       *events.Bus
	RiskCfg   risk.Config
}

// New builds an engine; the risk gate is constructed here so the engine's
// cooldown registry is its reader.
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = def.CycleInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.RiskPerTrade.IsZero() {
		cfg.RiskPerTrade = def.RiskPerTrade
	}
	if cfg.MaxPerTrade.IsZero() {
		cfg.MaxPerTrade = def.MaxPerTrade
	}
	if cfg.AllocationCap.IsZero() {
		cfg.AllocationCap = def.AllocationCap
	}
	if cfg.MinSellNotional.IsZero() {
		cfg.MinSellNotional = def.MinSellNotional
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = def.SubmitRate
	}
	if cfg.ExitConfidence <= 0 {
		cfg.ExitConfidence = def.ExitConfidence
	}
	if cfg.Category == "" {
		cfg.Category = def.Category
	}

	cooldowns := newCooldownRegistry()
	return &Engine{
		cfg:       cfg,
		gw:        deps.Gateway,
		catalog:   deps.Catalog,
		pf:        deps.Portfolio,
		gen:       deps.Generator,
		gate:      risk.NewGate(deps.RiskCfg, cooldowns),
		queue:     deps.Queue,
		predictor: deps.Predictor,
		bus:       deps.Bus,
		limiter:   rate.NewLimiter(cfg.SubmitRate, 1),
		cooldowns: cooldowns,
	}
}

// Run executes the loop until ctx is cancelled. In-flight submissions
// complete before the worker exits.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)

	log.Printf("[engine] started (cycle=%s batch=%d)", e.cfg.CycleInterval, e.cfg.BatchSize)
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[engine] stopped")
			return
		case <-ticker.C:
			if !e.running.Load() {
				return
			}
			if e.paused.Load() {
				continue
			}
			e.cycle(ctx)
		}
	}
}

// Pause suspends trading; the loop keeps ticking so Resume takes effect on
// the next cycle.
func (e *Engine) Pause()  { e.paused.Store(true) }
func (e *Engine) Resume() { e.paused.Store(false) }

// Stop clears the running flag; the worker exits at the next tick. Prefer
// cancelling the Run context for immediate shutdown.
func (e *Engine) Stop() { e.running.Store(false) }

// Snapshot returns current loop statistics.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	lastCycle, lastError := e.lastCycle, e.lastError
	e.mu.Unlock()
	return Status{
		Running:        e.running.Load(),
		Paused:         e.paused.Load(),
		CycleCount:     atomic.LoadUint64(&e.cycleCount),
		LastCycle:      lastCycle,
		QueuePending:   e.queue.Pending(),
		Generated:      atomic.LoadUint64(&e.generated),
		Admitted:       atomic.LoadUint64(&e.admitted),
		Rejected:       atomic.LoadUint64(&e.rejected),
		Submitted:      atomic.LoadUint64(&e.submitted),
		Filled:         atomic.LoadUint64(&e.filled),
		Failed:         atomic.LoadUint64(&e.failed),
		LastError:      lastError,
		BalanceRefresh: e.pf.LastRefresh(),
	}
}

// cycle runs one full iteration. Every step degrades to "retry next cycle"
// rather than halting the loop.
func (e *Engine) cycle(ctx context.Context) {
	atomic.AddUint64(&e.cycleCount, 1)
	defer func() {
		e.mu.Lock()
		e.lastCycle = time.Now()
		e.mu.Unlock()
	}()

	refreshCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	err := e.pf.Refresh(refreshCtx)
	cancel()
	if err != nil {
		e.fault("portfolio refresh", err)
		return
	}
	e.bus.Publish(events.TopicBalanceRefresh, events.Event{
		Component: "engine",
		Action:    "refresh",
		Details:   map[string]any{"free_usdt": e.pf.Free(quoteCoin).String()},
	})

	tickers, err := e.fetchTickers(ctx)
	if err != nil {
		e.fault("fetch tickers", err)
		return
	}
	e.pf.UpdatePrices(tickers)

	e.evaluateExits(ctx)
	e.admitNew(ctx, tickers)
	e.drainQueue(ctx)

	if removed := e.queue.CleanupTerminal(); removed > 0 {
		log.Printf("[engine] cleaned up %d terminal signals", removed)
	}
}

func (e *Engine) fetchTickers(ctx context.Context) ([]gateway.Ticker, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.gw.GetTickers(callCtx, e.cfg.Category)
}

// evaluateExits asks the predictor to score held positions and routes any
// triggered sell through the normal admission path.
func (e *Engine) evaluateExits(ctx context.Context) {
	if e.predictor == nil {
		return
	}
	for coin, free := range e.pf.Coins() {
		if coin == quoteCoin || free.IsZero() {
			continue
		}
		symbol := coin + quoteCoin
		price, ok := e.pf.Price(symbol)
		if !ok {
			continue
		}

		heldFor := 0.0
		if since, held := e.cooldowns.holdingSince(symbol); held {
			heldFor = time.Since(since).Hours()
		}
		pred, err := e.predictor.Predict(ctx, symbol, map[string]float64{
			"held_hours": heldFor,
		})
		if err != nil {
			continue
		}
		if pred.Signal != predict.DirectionSell || pred.Confidence < e.cfg.ExitConfidence {
			continue
		}

		sig := signal.New(symbol, signal.SideSell, pred.Confidence, price, "smart exit")
		e.admit(sig)
	}
}

// admitNew generates candidates and pushes them through the risk gate.
func (e *Engine) admitNew(ctx context.Context, tickers []gateway.Ticker) {
	candidates := e.gen.Generate(ctx, tickers, e.pf)
	atomic.AddUint64(&e.generated, uint64(len(candidates)))
	for _, sig := range candidates {
		e.admit(sig)
	}
}

func (e *Engine) admit(sig signal.Signal) {
	cons := e.catalog.Get(context.Background(), sig.Symbol)
	decision := e.gate.Admit(sig, cons, e.pf, time.Now())
	if !decision.Allowed {
		atomic.AddUint64(&e.rejected, 1)
		log.Printf("[engine] rejected %s %s: %s", sig.Side, sig.Symbol, decision.Reason)
		e.bus.Publish(events.TopicSignalRejected, events.Event{
			Component: "risk",
			Action:    "reject",
			Details: map[string]any{
				"signal_id": sig.ID,
				"symbol":    sig.Symbol,
				"side":      string(sig.Side),
				"reason":    decision.Reason,
			},
		})
		return
	}

	atomic.AddUint64(&e.admitted, 1)
	e.queue.Enqueue([]signal.Signal{sig})
	e.bus.Publish(events.TopicSignalAdmitted, events.Event{
		Component: "risk",
		Action:    "admit",
		Details: map[string]any{
			"signal_id":  sig.ID,
			"symbol":     sig.Symbol,
			"side":       string(sig.Side),
			"confidence": sig.Confidence,
			"reason":     sig.Reason,
		},
	})
}

// drainQueue executes up to BatchSize pending signals serially.
func (e *Engine) drainQueue(ctx context.Context) {
	batch := e.queue.DequeueBatch(e.cfg.BatchSize)
	for _, sig := range batch {
		if ctx.Err() != nil {
			// hand the signal back untouched; nothing was submitted
			e.queue.Release(sig.ID)
			continue
		}
		if err := e.execute(ctx, sig); err != nil {
			if isSkip(err) {
				log.Printf("[engine] skipped %s %s: %v", sig.Side, sig.Symbol, err)
				e.completeSkip(sig)
				continue
			}
			log.Printf("[engine] execute %s %s failed: %v", sig.Side, sig.Symbol, err)
			e.complete(sig, false)
			continue
		}
		e.complete(sig, true)
	}
}

// execute sizes, formats and submits a single order.
func (e *Engine) execute(ctx context.Context, sig signal.Signal) error {
	cons := e.catalog.Get(ctx, sig.Symbol)
	price, ok := e.pf.Price(sig.Symbol)
	if !ok || price.IsZero() {
		price = sig.Price
	}

	var (
		qtyStr   string
		notional decimal.Decimal
		fullExit bool
		err      error
	)
	switch sig.Side {
	case signal.SideBuy:
		balance := e.pf.Free(quoteCoin)
		effMin := e.gate.MinTradeAmount(cons)
		qtyStr, notional, err = e.buyQuantity(balance, e.pf.PositionValue(sig.Symbol), price, effMin, cons)
	case signal.SideSell:
		base := strings.TrimSuffix(sig.Symbol, quoteCoin)
		qtyStr, fullExit, err = e.sellQuantity(e.pf.Free(base), price, cons)
		if err == nil {
			q, _ := decimal.NewFromString(qtyStr)
			notional = q.Mul(price)
		}
	default:
		return skip("unknown side %q", sig.Side)
	}
	if err != nil {
		return err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req := gateway.OrderRequest{
		Category: e.cfg.Category,
		Symbol:   sig.Symbol,
		Side:     gateway.Side(gatewaySide(sig.Side)),
		Type:     gateway.OrderTypeMarket,
		Qty:      qtyStr,
		ClientID: sig.ID,
	}
	atomic.AddUint64(&e.submitted, 1)
	e.bus.Publish(events.TopicOrderSubmitted, events.Event{
		Component: "engine",
		Action:    "submit",
		Details: map[string]any{
			"signal_id": sig.ID,
			"symbol":    sig.Symbol,
			"side":      string(sig.Side),
			"qty":       qtyStr,
			"notional":  notional.StringFixed(2),
		},
	})

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	res, err := e.gw.PlaceOrder(callCtx, req)
	cancel()
	if err != nil {
		atomic.AddUint64(&e.failed, 1)
		e.publishOrderFailed(sig, qtyStr, err.Error())
		return fmt.Errorf("place order %s %s qty=%s: %w", sig.Side, sig.Symbol, qtyStr, err)
	}
	if !res.OK() {
		atomic.AddUint64(&e.failed, 1)
		e.publishOrderFailed(sig, qtyStr, res.RetMsg)
		return fmt.Errorf("order rejected %s %s qty=%s: retCode=%d %s", sig.Side, sig.Symbol, qtyStr, res.RetCode, res.RetMsg)
	}

	atomic.AddUint64(&e.filled, 1)
	log.Printf("[engine] filled %s %s qty=%s notional=%s orderID=%s",
		sig.Side, sig.Symbol, qtyStr, notional.StringFixed(2), res.OrderID)

	now := time.Now()
	switch sig.Side {
	case signal.SideBuy:
		e.cooldowns.recordBuy(sig.Symbol, now)
	case signal.SideSell:
		if fullExit {
			e.cooldowns.recordSellOut(sig.Symbol)
		}
	}

	e.bus.Publish(events.TopicOrderFilled, events.Event{
		Component: "engine",
		Action:    "fill",
		Details: map[string]any{
			"trade_id":  res.OrderID + "-" + sig.ID,
			"signal_id": sig.ID,
			"order_id":  res.OrderID,
			"symbol":    sig.Symbol,
			"side":      string(sig.Side),
			"qty":       qtyStr,
			"price":     mustFloat(price),
			"notional":  mustFloat(notional),
		},
	})

	// Refresh immediately so the next order in the batch sizes against
	// post-fill balances.
	refreshCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	if rerr := e.pf.Refresh(refreshCtx); rerr != nil {
		log.Printf("[engine] post-fill refresh failed: %v", rerr)
	}
	cancel()

	return nil
}

func (e *Engine) publishOrderFailed(sig signal.Signal, qtyStr, reason string) {
	e.bus.Publish(events.TopicOrderFailed, events.Event{
		Component: "engine",
		Action:    "fail",
		Details: map[string]any{
			"signal_id": sig.ID,
			"symbol":    sig.Symbol,
			"side":      string(sig.Side),
			"qty":       qtyStr,
			"reason":    reason,
		},
	})
}

func (e *Engine) complete(sig signal.Signal, success bool) {
	if _, err := e.queue.Complete(sig.ID, success); err != nil && err != queue.ErrMaxAttempts {
		log.Printf("[engine] complete %s: %v", sig.ID, err)
	}
}

// completeSkip retires a signal that sizing dropped. Retrying cannot help
// an untradable intent, so it goes straight to FAILED.
func (e *Engine) completeSkip(sig signal.Signal) {
	e.queue.Drop(sig.ID)
}

func (e *Engine) fault(op string, err error) {
	msg := fmt.Sprintf("%s: %v", op, err)
	log.Printf("[engine] %s (skipping cycle)", msg)
	e.mu.Lock()
	e.lastError = msg
	e.mu.Unlock()
	e.bus.Publish(events.TopicError, events.Event{
		Component: "engine",
		Action:    op,
		Details:   map[string]any{"error": err.Error()},
	})
}

// gatewaySide maps the signal side to the gateway's capitalized convention.
func gatewaySide(s signal.Side) string {
	switch s {
	case signal.SideBuy:
		return "Buy"
	case signal.SideSell:
		return "Sell"
	}
	return string(s)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

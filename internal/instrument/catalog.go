// Package instrument caches per-symbol trading constraints fetched from the
// exchange gateway.
package instrument

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-core/internal/gateway"
)

// Constraints are the effective limits an order for a symbol must satisfy.
// MaxOrderQty is already the tighter of the exchange max and the max market
// order quantity, since market orders are frequently capped lower.
type Constraints struct {
	Symbol        string
	MinOrderQty   decimal.Decimal
	MaxOrderQty   decimal.Decimal
	QtyStep       decimal.Decimal
	MinOrderAmt   decimal.Decimal
	BasePrecision decimal.Decimal
	Fallback      bool // true when these are conservative defaults
}

const defaultTTL = 5 * time.Minute

// Catalog is a TTL cache over the gateway's instrument-info operation. Lookup
// failures degrade to conservative defaults instead of failing the caller.
type Catalog struct {
	gw          gateway.Gateway
	ttl         time.Duration
	minNotional decimal.Decimal // exchange-wide absolute minimum

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	c         Constraints
	fetchedAt time.Time
}

// New creates a catalog. minNotional is the exchange-wide absolute minimum
// order value used when the instrument reports none.
func New(gw gateway.Gateway, ttl time.Duration, minNotional decimal.Decimal) *Catalog {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Catalog{
		gw:          gw,
		ttl:         ttl,
		minNotional: minNotional,
		entries:     make(map[string]entry),
	}
}

// Get returns the constraints for symbol, fetching through the gateway when
// the cached snapshot is missing or stale. On failure it returns conservative
// defaults and logs a warning; trading degrades rather than blocks on a
// metadata outage.
func (c *Catalog) Get(ctx context.Context, symbol string) Constraints {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) < c.ttl {
		return e.c
	}

	info, err := c.gw.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		log.Printf("catalog: instrument info for %s unavailable, using defaults: %v", symbol, err)
		if ok {
			// Stale beats fabricated.
			return e.c
		}
		return c.defaults(symbol)
	}

	cons := fromInfo(info, c.minNotional)
	c.mu.Lock()
	c.entries[symbol] = entry{c: cons, fetchedAt: time.Now()}
	c.mu.Unlock()
	return cons
}

// Invalidate drops the cached snapshot for symbol.
func (c *Catalog) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}

func fromInfo(info gateway.InstrumentInfo, minNotional decimal.Decimal) Constraints {
	maxQty := info.MaxOrderQty
	if info.MaxMktOrderQty.Sign() > 0 && (maxQty.Sign() <= 0 || info.MaxMktOrderQty.LessThan(maxQty)) {
		maxQty = info.MaxMktOrderQty
	}
	minAmt := info.MinOrderAmt
	if minAmt.LessThan(minNotional) {
		minAmt = minNotional
	}
	step := info.QtyStep
	if step.Sign() <= 0 {
		step = info.BasePrecision
	}
	if step.Sign() <= 0 {
		step = defaultStep
	}
	return Constraints{
		Symbol:        info.Symbol,
		MinOrderQty:   info.MinOrderQty,
		MaxOrderQty:   maxQty,
		QtyStep:       step,
		MinOrderAmt:   minAmt,
		BasePrecision: info.BasePrecision,
	}
}

var defaultStep = decimal.RequireFromString("0.00001")

func (c *Catalog) defaults(symbol string) Constraints {
	return Constraints{
		Symbol:      symbol,
		MinOrderQty: defaultStep,
		QtyStep:     defaultStep,
		MinOrderAmt: c.minNotional,
		Fallback:    true,
	}
}

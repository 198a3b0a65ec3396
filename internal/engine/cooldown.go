package engine

import (
	"sync"
	"time"
)

// cooldownRegistry tracks the last buy time per symbol. The engine is the
// sole writer; the risk gate reads through the CooldownReader interface.
type cooldownRegistry struct {
	mu       sync.RWMutex
	lastBuy  map[string]time.Time
	holdFrom map[string]time.Time
}

func newCooldownRegistry() *cooldownRegistry {
	return &cooldownRegistry{
		lastBuy:  make(map[string]time.Time),
		holdFrom: make(map[string]time.Time),
	}
}

// LastBuy reports when the symbol was last bought.
func (r *cooldownRegistry) LastBuy(symbol string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastBuy[symbol]
	return t, ok
}

// recordBuy stamps the cooldown and, on first entry, the holding timer.
func (r *cooldownRegistry) recordBuy(symbol string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastBuy[symbol] = at
	if _, held := r.holdFrom[symbol]; !held {
		r.holdFrom[symbol] = at
	}
}

// recordSellOut clears the holding timer once the position is fully exited.
func (r *cooldownRegistry) recordSellOut(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holdFrom, symbol)
}

// holdingSince reports how long the symbol has been held.
func (r *cooldownRegistry) holdingSince(symbol string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.holdFrom[symbol]
	return t, ok
}

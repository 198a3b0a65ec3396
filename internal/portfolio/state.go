// Package portfolio holds the in-memory view of wallet balances and
// per-symbol position values.
package portfolio

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-core/internal/gateway"
)

const (
	refreshAttempts = 3
	refreshBackoff  = 2 * time.Second
)

// State caches wallet balances and ticker prices. The balance map is replaced
// wholesale on a successful refresh, never partially mutated; readers always
// see either the previous or the next complete snapshot.
type State struct {
	gw gateway.Gateway

	mu        sync.RWMutex
	coins     map[string]decimal.Decimal
	prices    map[string]decimal.Decimal
	refreshed time.Time
}

func NewState(gw gateway.Gateway) *State {
	return &State{
		gw:     gw,
		coins:  make(map[string]decimal.Decimal),
		prices: make(map[string]decimal.Decimal),
	}
}

// Refresh fetches wallet balances through the gateway, retrying transient
// failures a few times with doubling backoff. Non-transient errors fail
// immediately. On persistent failure the previous snapshot is kept and the
// caller is told to proceed with stale data.
func (s *State) Refresh(ctx context.Context) error {
	var lastErr error
	backoff := refreshBackoff
	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		snap, err := s.gw.GetWalletBalance(ctx)
		if err == nil {
			s.mu.Lock()
			s.coins = snap.Coins
			s.refreshed = snap.FetchedAt
			s.mu.Unlock()
			return nil
		}
		lastErr = err
		if !gateway.IsTransient(err) {
			log.Printf("portfolio: balance refresh failed, not retrying: %v", err)
			return fmt.Errorf("refresh balance: %w", err)
		}
		if attempt < refreshAttempts {
			log.Printf("portfolio: balance refresh attempt %d/%d failed, retrying in %s: %v",
				attempt, refreshAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	log.Printf("portfolio: balance refresh exhausted %d attempts, keeping stale snapshot: %v",
		refreshAttempts, lastErr)
	return fmt.Errorf("refresh balance: %w", lastErr)
}

// UpdatePrices replaces the cached ticker prices used for position valuation.
func (s *State) UpdatePrices(tickers []gateway.Ticker) {
	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		prices[t.Symbol] = t.LastPrice
	}
	s.mu.Lock()
	s.prices = prices
	s.mu.Unlock()
}

// Free returns the free balance for a coin, zero when unknown.
func (s *State) Free(coin string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coins[coin]
}

// Coins returns a copy of the current balance map.
func (s *State) Coins() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.coins))
	for c, v := range s.coins {
		out[c] = v
	}
	return out
}

// Price returns the last known ticker price for a symbol.
func (s *State) Price(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// PositionValue returns the current notional value of the holding behind
// symbol in quote currency, zero when the base asset or price is unknown.
func (s *State) PositionValue(symbol string) decimal.Decimal {
	base := strings.TrimSuffix(symbol, "USDT")
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, ok := s.coins[base]
	if !ok || qty.Sign() <= 0 {
		return decimal.Zero
	}
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero
	}
	return qty.Mul(price)
}

// SignificantPositionCount counts non-quote holdings whose notional value
// exceeds threshold, so dust from rounding does not count against the open
// position limit.
func (s *State) SignificantPositionCount(threshold decimal.Decimal) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for coin, qty := range s.coins {
		if coin == "USDT" || qty.Sign() <= 0 {
			continue
		}
		price, ok := s.prices[coin+"USDT"]
		if !ok {
			continue
		}
		if qty.Mul(price).GreaterThan(threshold) {
			n++
		}
	}
	return n
}

// LastRefresh reports when the balance snapshot was last replaced.
func (s *State) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

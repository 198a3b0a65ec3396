package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sim is an in-memory exchange used for dry-run mode and tests. Orders fill
// immediately at the last ticker price; balances move with a configurable fee.
type Sim struct {
	mu          sync.RWMutex
	coins       map[string]decimal.Decimal
	tickers     map[string]Ticker
	instruments map[string]InstrumentInfo
	feeRate     decimal.Decimal
	orders      []OrderRequest

	// FailNext, when set, makes the next call of the named op return a
	// transient error. Used to exercise retry paths.
	FailNext map[string]int
}

// NewSim creates a simulated gateway seeded with an initial quote balance.
func NewSim(initialUSDT decimal.Decimal, feeRate decimal.Decimal) *Sim {
	return &Sim{
		coins:       map[string]decimal.Decimal{"USDT": initialUSDT},
		tickers:     make(map[string]Ticker),
		instruments: make(map[string]InstrumentInfo),
		feeRate:     feeRate,
		FailNext:    make(map[string]int),
	}
}

// SetTicker seeds or replaces market data for a symbol.
func (s *Sim) SetTicker(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	s.tickers[t.Symbol] = t
}

// SetInstrument seeds constraints for a symbol.
func (s *Sim) SetInstrument(info InstrumentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[info.Symbol] = info
}

// SetBalance overwrites a coin balance.
func (s *Sim) SetBalance(coin string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coins[coin] = amount
}

// Orders returns a copy of every accepted order, oldest first.
func (s *Sim) Orders() []OrderRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OrderRequest, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Sim) failNext(op string) bool {
	if n := s.FailNext[op]; n > 0 {
		s.FailNext[op] = n - 1
		return true
	}
	return false
}

func (s *Sim) GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext("instrument") {
		return InstrumentInfo{}, Transient("instrument", fmt.Errorf("simulated outage"))
	}
	info, ok := s.instruments[symbol]
	if !ok {
		return InstrumentInfo{}, fmt.Errorf("sim: unknown symbol %s", symbol)
	}
	return info, nil
}

func (s *Sim) GetTickers(ctx context.Context, category string) ([]Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext("tickers") {
		return nil, Transient("tickers", fmt.Errorf("simulated outage"))
	}
	out := make([]Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		out = append(out, t)
	}
	return out, nil
}

func (s *Sim) GetWalletBalance(ctx context.Context) (BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext("balance") {
		return BalanceSnapshot{}, Transient("balance", fmt.Errorf("simulated outage"))
	}
	coins := make(map[string]decimal.Decimal, len(s.coins))
	for c, v := range s.coins {
		coins[c] = v
	}
	return BalanceSnapshot{Coins: coins, FetchedAt: time.Now()}, nil
}

// PlaceOrder fills market orders against the last ticker price, moving base
// and quote balances and charging the fee on the quote leg.
func (s *Sim) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext("order") {
		return OrderResult{}, Transient("order", fmt.Errorf("simulated outage"))
	}

	t, ok := s.tickers[req.Symbol]
	if !ok {
		return OrderResult{RetCode: 10001, RetMsg: "unknown symbol"}, nil
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil || qty.Sign() <= 0 {
		return OrderResult{RetCode: 170137, RetMsg: "invalid qty"}, nil
	}

	base := strings.TrimSuffix(req.Symbol, "USDT")
	notional := qty.Mul(t.LastPrice)
	fee := notional.Mul(s.feeRate)

	switch req.Side {
	case SideBuy:
		cost := notional.Add(fee)
		if s.coins["USDT"].LessThan(cost) {
			return OrderResult{RetCode: 170131, RetMsg: "insufficient balance"}, nil
		}
		s.coins["USDT"] = s.coins["USDT"].Sub(cost)
		s.coins[base] = s.coins[base].Add(qty)
	case SideSell:
		if s.coins[base].LessThan(qty) {
			return OrderResult{RetCode: 170131, RetMsg: "insufficient balance"}, nil
		}
		s.coins[base] = s.coins[base].Sub(qty)
		s.coins["USDT"] = s.coins["USDT"].Add(notional.Sub(fee))
	default:
		return OrderResult{RetCode: 10002, RetMsg: "invalid side"}, nil
	}

	s.orders = append(s.orders, req)
	log.Printf("sim: filled %s %s qty=%s price=%s notional=%s",
		req.Side, req.Symbol, qty, t.LastPrice, notional.StringFixed(2))
	return OrderResult{RetCode: 0, RetMsg: "OK", OrderID: uuid.NewString()}, nil
}

// Package risk performs admission control on candidate trading signals.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-core/internal/instrument"
	"signal-core/internal/signal"
)

// Config holds the admission thresholds. All rejections are non-fatal: the
// signal is dropped from the batch and the reason surfaced for logging.
type Config struct {
	CooldownWindow   time.Duration   // no repeat buy inside this window
	MaxOpenPositions int             // significant positions, not dust
	AllocationCap    decimal.Decimal // per-symbol cap as fraction of balance
	AbsMinNotional   decimal.Decimal // exchange-wide API minimum order value
	MinSellNotional  decimal.Decimal // minimum estimated sale proceeds
	DustThreshold    decimal.Decimal // positions below this don't count
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		CooldownWindow:   24 * time.Hour,
		MaxOpenPositions: 10,
		AllocationCap:    decimal.RequireFromString("0.5"),
		AbsMinNotional:   decimal.NewFromInt(5),
		MinSellNotional:  decimal.NewFromInt(5),
		DustThreshold:    decimal.NewFromInt(5),
	}
}

// CooldownReader exposes the engine-owned last-buy registry.
type CooldownReader interface {
	LastBuy(symbol string) (time.Time, bool)
}

// PortfolioView is the slice of portfolio state the gate reads.
type PortfolioView interface {
	Free(coin string) decimal.Decimal
	PositionValue(symbol string) decimal.Decimal
	SignificantPositionCount(threshold decimal.Decimal) int
}

// Decision is the admission outcome for one signal.
type Decision struct {
	Allowed bool
	Reason  string
}

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Gate evaluates admission rules in a fixed order; the first failing rule
// rejects the signal.
type Gate struct {
	cfg       Config
	cooldowns CooldownReader
}

func NewGate(cfg Config, cooldowns CooldownReader) *Gate {
	return &Gate{cfg: cfg, cooldowns: cooldowns}
}

// Admit decides whether a candidate signal may enter the queue.
func (g *Gate) Admit(sig signal.Signal, cons instrument.Constraints, pf PortfolioView, now time.Time) Decision {
	switch sig.Side {
	case signal.SideBuy:
		return g.admitBuy(sig, cons, pf, now)
	case signal.SideSell:
		return g.admitSell(sig, cons, pf)
	default:
		return reject("unknown side %q", sig.Side)
	}
}

func (g *Gate) admitBuy(sig signal.Signal, cons instrument.Constraints, pf PortfolioView, now time.Time) Decision {
	// 1. Cooldown: no repeat buy of the same symbol inside the window.
	if g.cooldowns != nil {
		if last, ok := g.cooldowns.LastBuy(sig.Symbol); ok {
			if elapsed := now.Sub(last); elapsed < g.cfg.CooldownWindow {
				return reject("cooldown: bought %s ago, window %s", elapsed.Round(time.Second), g.cfg.CooldownWindow)
			}
		}
	}

	// 2. Open-position limit, counting only positions above the dust threshold.
	if n := pf.SignificantPositionCount(g.cfg.DustThreshold); n >= g.cfg.MaxOpenPositions {
		return reject("open position limit reached: %d/%d", n, g.cfg.MaxOpenPositions)
	}

	balance := pf.Free("USDT")
	minTrade := g.minTradeAmount(cons)

	// 3. Balance must cover the effective minimum trade amount.
	if balance.LessThan(minTrade) {
		return reject("insufficient balance: have %s, minimum %s", balance.StringFixed(2), minTrade.StringFixed(2))
	}

	capAmount := balance.Mul(g.cfg.AllocationCap)

	// 4. No single position may require more than half the portfolio to open.
	if minTrade.GreaterThan(capAmount) {
		return reject("minimum trade %s exceeds %s%% of balance %s",
			minTrade.StringFixed(2), g.cfg.AllocationCap.Mul(decimal.NewFromInt(100)).String(), balance.StringFixed(2))
	}

	// 5. Per-symbol allocation cap over existing exposure.
	if pf.PositionValue(sig.Symbol).Add(minTrade).GreaterThan(capAmount) {
		return reject("allocation cap: position %s + trade %s exceeds %s",
			pf.PositionValue(sig.Symbol).StringFixed(2), minTrade.StringFixed(2), capAmount.StringFixed(2))
	}

	return Decision{Allowed: true}
}

func (g *Gate) admitSell(sig signal.Signal, cons instrument.Constraints, pf PortfolioView) Decision {
	base := strings.TrimSuffix(sig.Symbol, "USDT")
	held := pf.Free(base)

	// 6a. Held quantity must be sellable at all.
	if held.LessThan(cons.MinOrderQty) {
		return reject("below minimum order quantity: held %s, minimum %s", held, cons.MinOrderQty)
	}

	// 6b. Even the full holding must clear the minimum sale proceeds.
	if proceeds := held.Mul(sig.Price); proceeds.LessThan(g.cfg.MinSellNotional) {
		return reject("estimated proceeds %s below minimum %s",
			proceeds.StringFixed(2), g.cfg.MinSellNotional.StringFixed(2))
	}

	return Decision{Allowed: true}
}

// minTradeAmount is the effective minimum order value for a symbol: the
// larger of the instrument minimum and the exchange-wide API minimum.
func (g *Gate) minTradeAmount(cons instrument.Constraints) decimal.Decimal {
	if cons.MinOrderAmt.GreaterThan(g.cfg.AbsMinNotional) {
		return cons.MinOrderAmt
	}
	return g.cfg.AbsMinNotional
}

// MinTradeAmount exposes the effective minimum for sizing in the engine.
func (g *Gate) MinTradeAmount(cons instrument.Constraints) decimal.Decimal {
	return g.minTradeAmount(cons)
}

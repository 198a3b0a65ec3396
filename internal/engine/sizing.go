package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signal-core/internal/instrument"
	"signal-core/internal/qty"
)

// skipError marks a signal sizing found untradable. Skips retire the signal
// outright; retrying would hit the same wall, unlike a gateway fault.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

func isSkip(err error) bool {
	_, ok := err.(*skipError)
	return ok
}

// buyQuantity sizes a buy order.
//
//	amount = clamp(balance * riskPerTrade, effectiveMin, min(maxPerTrade, headroom))
//	headroom = allocationCap * balance - currentPositionValue(symbol)
//
// The buy is skipped when headroom cannot fit even the effective minimum.
func (e *Engine) buyQuantity(balance, positionValue, price, effMin decimal.Decimal, cons instrument.Constraints) (string, decimal.Decimal, error) {
	if price.IsZero() {
		return "", decimal.Zero, skip("no price for %s", cons.Symbol)
	}

	headroom := e.cfg.AllocationCap.Mul(balance).Sub(positionValue)
	if headroom.LessThan(effMin) {
		return "", decimal.Zero, skip("allocation headroom %s below effective minimum %s", headroom, effMin)
	}

	amount := balance.Mul(e.cfg.RiskPerTrade)
	ceiling := e.cfg.MaxPerTrade
	if headroom.LessThan(ceiling) {
		ceiling = headroom
	}
	if amount.GreaterThan(ceiling) {
		amount = ceiling
	}
	if amount.LessThan(effMin) {
		amount = effMin
	}
	if amount.GreaterThan(balance) {
		return "", decimal.Zero, skip("balance %s cannot cover amount %s", balance, amount)
	}

	raw := amount.Div(price)
	if !cons.MaxOrderQty.IsZero() && raw.GreaterThan(cons.MaxOrderQty) {
		raw = cons.MaxOrderQty
	}

	formatted, err := qty.Format(raw, cons.QtyStep)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("format buy qty for %s: %w", cons.Symbol, err)
	}
	final, _ := decimal.NewFromString(formatted)
	if final.LessThan(cons.MinOrderQty) {
		return "", decimal.Zero, skip("sized qty %s below instrument minimum %s", formatted, cons.MinOrderQty)
	}
	return formatted, final.Mul(price), nil
}

// sellQuantity sizes a sell order: half the holding by default, the full
// holding when half is too small, skipped when even the full holding is
// below the minimum sellable notional.
func (e *Engine) sellQuantity(held, price decimal.Decimal, cons instrument.Constraints) (string, bool, error) {
	if held.IsZero() || price.IsZero() {
		return "", false, skip("nothing to sell for %s", cons.Symbol)
	}

	for _, fraction := range []decimal.Decimal{decimal.NewFromFloat(0.5), decimal.NewFromInt(1)} {
		raw := held.Mul(fraction)
		formatted, err := qty.Format(raw, cons.QtyStep)
		if err != nil {
			return "", false, fmt.Errorf("format sell qty for %s: %w", cons.Symbol, err)
		}
		final, _ := decimal.NewFromString(formatted)
		if final.LessThan(cons.MinOrderQty) {
			continue
		}
		if final.Mul(price).LessThan(e.cfg.MinSellNotional) {
			continue
		}
		full := fraction.Equal(decimal.NewFromInt(1))
		return formatted, full, nil
	}
	return "", false, skip("holding %s of %s below minimum sellable size", held, cons.Symbol)
}

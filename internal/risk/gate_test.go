package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-core/internal/instrument"
	"signal-core/internal/signal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakePortfolio struct {
	balances  map[string]decimal.Decimal
	positions map[string]decimal.Decimal
	count     int
}

func (f *fakePortfolio) Free(coin string) decimal.Decimal {
	return f.balances[coin]
}

func (f *fakePortfolio) PositionValue(symbol string) decimal.Decimal {
	return f.positions[symbol]
}

func (f *fakePortfolio) SignificantPositionCount(threshold decimal.Decimal) int {
	return f.count
}

type fakeCooldowns map[string]time.Time

func (f fakeCooldowns) LastBuy(symbol string) (time.Time, bool) {
	t, ok := f[symbol]
	return t, ok
}

func testConstraints() instrument.Constraints {
	return instrument.Constraints{
		Symbol:      "BTCUSDT",
		MinOrderQty: dec("0.001"),
		MaxOrderQty: dec("100"),
		QtyStep:     dec("0.001"),
		MinOrderAmt: dec("5"),
	}
}

func buySignal(symbol string) signal.Signal {
	return signal.New(symbol, signal.SideBuy, 0.8, dec("50000"), "test")
}

func sellSignal(symbol string, price string) signal.Signal {
	return signal.New(symbol, signal.SideSell, 0.8, dec(price), "test")
}

func TestAdmitBuyHappyPath(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	pf := &fakePortfolio{
		balances: map[string]decimal.Decimal{"USDT": dec("100")},
	}

	got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, time.Now())
	if !got.Allowed {
		t.Fatalf("expected admission, rejected: %s", got.Reason)
	}
}

func TestCooldownRejectsRepeatBuy(t *testing.T) {
	now := time.Now()
	gate := NewGate(DefaultConfig(), fakeCooldowns{
		"BTCUSDT": now.Add(-1 * time.Hour), // bought 1h ago, 24h window
	})
	pf := &fakePortfolio{balances: map[string]decimal.Decimal{"USDT": dec("100")}}

	got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, now)
	if got.Allowed {
		t.Fatal("expected cooldown rejection")
	}
	if !strings.Contains(got.Reason, "cooldown") {
		t.Errorf("reason = %q, want cooldown", got.Reason)
	}

	// Outside the window the same buy is admitted again.
	later := now.Add(25 * time.Hour)
	if got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, later); !got.Allowed {
		t.Errorf("expected admission after window, rejected: %s", got.Reason)
	}
}

func TestOpenPositionLimit(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	pf := &fakePortfolio{
		balances: map[string]decimal.Decimal{"USDT": dec("1000")},
		count:    10,
	}

	got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, time.Now())
	if got.Allowed {
		t.Fatal("expected position-limit rejection")
	}
	if !strings.Contains(got.Reason, "position limit") {
		t.Errorf("reason = %q, want position limit", got.Reason)
	}
}

func TestInsufficientBalance(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	pf := &fakePortfolio{balances: map[string]decimal.Decimal{"USDT": dec("4.99")}}

	got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, time.Now())
	if got.Allowed {
		t.Fatal("expected balance rejection")
	}
	if !strings.Contains(got.Reason, "insufficient balance") {
		t.Errorf("reason = %q, want insufficient balance", got.Reason)
	}
}

func TestMinTradeExceedsHalfBalance(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	// minimum trade is $5; balance $9 means the cap is $4.50
	pf := &fakePortfolio{balances: map[string]decimal.Decimal{"USDT": dec("9")}}

	got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, time.Now())
	if got.Allowed {
		t.Fatal("expected half-balance rejection")
	}
}

func TestPerSymbolAllocationCap(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	pf := &fakePortfolio{
		balances: map[string]decimal.Decimal{"USDT": dec("100")},
		positions: map[string]decimal.Decimal{
			"BTCUSDT": dec("47"), // 47 + 5 > 50
		},
	}

	got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, time.Now())
	if got.Allowed {
		t.Fatal("expected allocation-cap rejection")
	}
	if !strings.Contains(got.Reason, "allocation cap") {
		t.Errorf("reason = %q, want allocation cap", got.Reason)
	}

	// Just inside the cap is fine: 44 + 5 <= 50.
	pf.positions["BTCUSDT"] = dec("44")
	if got := gate.Admit(buySignal("BTCUSDT"), testConstraints(), pf, time.Now()); !got.Allowed {
		t.Errorf("expected admission inside cap, rejected: %s", got.Reason)
	}
}

func TestSellBelowMinimumOrderQuantity(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	pf := &fakePortfolio{
		balances: map[string]decimal.Decimal{"BTC": dec("0.0009")},
	}

	got := gate.Admit(sellSignal("BTCUSDT", "50000"), testConstraints(), pf, time.Now())
	if got.Allowed {
		t.Fatal("expected minimum-quantity rejection")
	}
	if !strings.Contains(got.Reason, "below minimum order quantity") {
		t.Errorf("reason = %q, want below minimum order quantity", got.Reason)
	}
}

func TestSellBelowMinimumProceeds(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	// 0.002 BTC at $2000 is $4, under the $5 floor.
	pf := &fakePortfolio{
		balances: map[string]decimal.Decimal{"BTC": dec("0.002")},
	}

	got := gate.Admit(sellSignal("BTCUSDT", "2000"), testConstraints(), pf, time.Now())
	if got.Allowed {
		t.Fatal("expected proceeds rejection")
	}
	if !strings.Contains(got.Reason, "proceeds") {
		t.Errorf("reason = %q, want proceeds", got.Reason)
	}
}

func TestSellHappyPath(t *testing.T) {
	gate := NewGate(DefaultConfig(), fakeCooldowns{})
	pf := &fakePortfolio{
		balances: map[string]decimal.Decimal{"BTC": dec("0.01")},
	}

	got := gate.Admit(sellSignal("BTCUSDT", "50000"), testConstraints(), pf, time.Now())
	if !got.Allowed {
		t.Fatalf("expected admission, rejected: %s", got.Reason)
	}
}

func TestMinTradeAmountPrefersInstrumentMinimum(t *testing.T) {
	gate := NewGate(DefaultConfig(), nil)

	cons := testConstraints()
	cons.MinOrderAmt = dec("12")
	if got := gate.MinTradeAmount(cons); !got.Equal(dec("12")) {
		t.Errorf("MinTradeAmount = %s, want 12", got)
	}

	cons.MinOrderAmt = dec("1")
	if got := gate.MinTradeAmount(cons); !got.Equal(dec("5")) {
		t.Errorf("MinTradeAmount = %s, want exchange floor 5", got)
	}
}

package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-core/internal/gateway"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seededSim() *gateway.Sim {
	sim := gateway.NewSim(dec("1000"), decimal.Zero)
	sim.SetInstrument(gateway.InstrumentInfo{
		Symbol:         "BTCUSDT",
		MinOrderQty:    dec("0.001"),
		MaxOrderQty:    dec("100"),
		MaxMktOrderQty: dec("10"),
		QtyStep:        dec("0.001"),
		MinOrderAmt:    dec("1"),
		BasePrecision:  dec("0.000001"),
	})
	return sim
}

func TestGetCachesConstraints(t *testing.T) {
	sim := seededSim()
	cat := New(sim, time.Minute, dec("5"))

	cons := cat.Get(context.Background(), "BTCUSDT")
	if cons.Fallback {
		t.Fatal("expected real constraints, got fallback defaults")
	}
	if !cons.MaxOrderQty.Equal(dec("10")) {
		t.Errorf("MaxOrderQty = %s, want market-order cap 10", cons.MaxOrderQty)
	}
	if !cons.MinOrderAmt.Equal(dec("5")) {
		t.Errorf("MinOrderAmt = %s, want exchange floor 5", cons.MinOrderAmt)
	}

	// Subsequent lookups inside the TTL never touch the gateway.
	sim.FailNext["instrument"] = 1
	again := cat.Get(context.Background(), "BTCUSDT")
	if again.Fallback {
		t.Fatal("cached lookup hit the gateway")
	}
}

func TestGetFallsBackToDefaults(t *testing.T) {
	sim := seededSim()
	cat := New(sim, time.Minute, dec("5"))

	cons := cat.Get(context.Background(), "UNKNOWNUSDT")
	if !cons.Fallback {
		t.Fatal("expected fallback defaults for unknown symbol")
	}
	if !cons.MinOrderAmt.Equal(dec("5")) {
		t.Errorf("fallback MinOrderAmt = %s, want 5", cons.MinOrderAmt)
	}
	if cons.QtyStep.Sign() <= 0 {
		t.Error("fallback QtyStep must be positive")
	}
}

func TestGetPrefersStaleOverFallback(t *testing.T) {
	sim := seededSim()
	cat := New(sim, time.Nanosecond, dec("5"))

	first := cat.Get(context.Background(), "BTCUSDT")
	if first.Fallback {
		t.Fatal("seed fetch failed")
	}

	time.Sleep(time.Millisecond)
	sim.FailNext["instrument"] = 1
	stale := cat.Get(context.Background(), "BTCUSDT")
	if stale.Fallback {
		t.Fatal("wanted the stale snapshot, got fabricated defaults")
	}
	if !stale.MaxOrderQty.Equal(first.MaxOrderQty) {
		t.Errorf("stale MaxOrderQty = %s, want %s", stale.MaxOrderQty, first.MaxOrderQty)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	sim := seededSim()
	cat := New(sim, time.Minute, dec("5"))
	cat.Get(context.Background(), "BTCUSDT")

	cat.Invalidate("BTCUSDT")
	sim.FailNext["instrument"] = 1
	cons := cat.Get(context.Background(), "BTCUSDT")
	if !cons.Fallback {
		t.Fatal("expected a refetch after Invalidate")
	}
}

func TestStepFallsBackToBasePrecision(t *testing.T) {
	sim := gateway.NewSim(dec("1000"), decimal.Zero)
	sim.SetInstrument(gateway.InstrumentInfo{
		Symbol:        "DOGEUSDT",
		MinOrderQty:   dec("1"),
		MaxOrderQty:   dec("1000000"),
		BasePrecision: dec("0.01"),
	})
	cat := New(sim, time.Minute, dec("5"))

	cons := cat.Get(context.Background(), "DOGEUSDT")
	if !cons.QtyStep.Equal(dec("0.01")) {
		t.Errorf("QtyStep = %s, want base precision 0.01", cons.QtyStep)
	}
}

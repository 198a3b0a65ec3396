package signal

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"signal-core/internal/gateway"
	"signal-core/internal/predict"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubPredictor struct {
	preds map[string]predict.Prediction
	err   error
}

func (s *stubPredictor) Predict(ctx context.Context, symbol string, features map[string]float64) (predict.Prediction, error) {
	if s.err != nil {
		return predict.Prediction{}, s.err
	}
	p, ok := s.preds[symbol]
	if !ok {
		return predict.Prediction{Signal: predict.DirectionHold}, nil
	}
	return p, nil
}

type stubBalances map[string]decimal.Decimal

func (s stubBalances) Free(coin string) decimal.Decimal { return s[coin] }

func ticker(symbol, price, change string) gateway.Ticker {
	return gateway.Ticker{
		Symbol:       symbol,
		LastPrice:    dec(price),
		Change24hPct: dec(change),
		Volume24h:    dec("1000000"),
	}
}

func TestGenerateSortsByConfidence(t *testing.T) {
	pred := &stubPredictor{preds: map[string]predict.Prediction{
		"BTCUSDT": {Signal: predict.DirectionBuy, Confidence: 0.6},
		"ETHUSDT": {Signal: predict.DirectionBuy, Confidence: 0.8},
		"SOLUSDT": {Signal: predict.DirectionBuy, Confidence: 0.8},
	}}
	gen := NewGenerator(DefaultGeneratorConfig(), pred)

	tickers := []gateway.Ticker{
		ticker("BTCUSDT", "50000", "0"),
		ticker("SOLUSDT", "150", "0"),
		ticker("ETHUSDT", "3000", "0"),
	}
	got := gen.Generate(context.Background(), tickers, stubBalances{})
	if len(got) != 3 {
		t.Fatalf("got %d signals, want 3", len(got))
	}
	// Confidence descending, symbol breaks the tie.
	want := []string{"ETHUSDT", "SOLUSDT", "BTCUSDT"}
	for i, sym := range want {
		if got[i].Symbol != sym {
			t.Errorf("signal %d = %s, want %s", i, got[i].Symbol, sym)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	pred := &stubPredictor{preds: map[string]predict.Prediction{
		"BTCUSDT": {Signal: predict.DirectionBuy, Confidence: 0.7},
		"ETHUSDT": {Signal: predict.DirectionBuy, Confidence: 0.7},
	}}
	gen := NewGenerator(DefaultGeneratorConfig(), pred)
	tickers := []gateway.Ticker{
		ticker("ETHUSDT", "3000", "0"),
		ticker("BTCUSDT", "50000", "0"),
	}

	first := gen.Generate(context.Background(), tickers, stubBalances{})
	for i := 0; i < 10; i++ {
		again := gen.Generate(context.Background(), tickers, stubBalances{})
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d signals, want %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j].Symbol != first[j].Symbol || again[j].Side != first[j].Side {
				t.Fatalf("run %d signal %d = %s %s, want %s %s",
					i, j, again[j].Symbol, again[j].Side, first[j].Symbol, first[j].Side)
			}
		}
	}
}

func TestGenerateFiltersSymbols(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.ExcludeSymbols = []string{"DOGEUSDT"}
	pred := &stubPredictor{preds: map[string]predict.Prediction{
		"BTCUSDT":  {Signal: predict.DirectionBuy, Confidence: 0.7},
		"DOGEUSDT": {Signal: predict.DirectionBuy, Confidence: 0.9},
	}}
	gen := NewGenerator(cfg, pred)

	tickers := []gateway.Ticker{
		ticker("BTCUSDT", "50000", "0"),
		ticker("DOGEUSDT", "0.1", "0"),
		ticker("ETHBTC", "0.05", "0"), // not a USDT pair
	}
	got := gen.Generate(context.Background(), tickers, stubBalances{})
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Fatalf("got %+v, want only BTCUSDT", got)
	}
}

func TestGenerateOnlySymbolsWhitelist(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.OnlySymbols = []string{"ETHUSDT"}
	pred := &stubPredictor{preds: map[string]predict.Prediction{
		"BTCUSDT": {Signal: predict.DirectionBuy, Confidence: 0.7},
		"ETHUSDT": {Signal: predict.DirectionBuy, Confidence: 0.7},
	}}
	gen := NewGenerator(cfg, pred)

	tickers := []gateway.Ticker{
		ticker("BTCUSDT", "50000", "0"),
		ticker("ETHUSDT", "3000", "0"),
	}
	got := gen.Generate(context.Background(), tickers, stubBalances{})
	if len(got) != 1 || got[0].Symbol != "ETHUSDT" {
		t.Fatalf("got %+v, want only ETHUSDT", got)
	}
}

func TestGenerateSellRequiresHolding(t *testing.T) {
	pred := &stubPredictor{preds: map[string]predict.Prediction{
		"BTCUSDT": {Signal: predict.DirectionSell, Confidence: 0.8},
		"SOLUSDT": {Signal: predict.DirectionSell, Confidence: 0.8},
	}}
	gen := NewGenerator(DefaultGeneratorConfig(), pred)

	tickers := []gateway.Ticker{
		ticker("BTCUSDT", "50000", "0"),
		ticker("SOLUSDT", "150", "0"),
	}
	got := gen.Generate(context.Background(), tickers, stubBalances{"SOL": dec("2")})
	if len(got) != 1 || got[0].Symbol != "SOLUSDT" || got[0].Side != SideSell {
		t.Fatalf("got %+v, want a single SOLUSDT sell", got)
	}
}

func TestGenerateMomentumFallback(t *testing.T) {
	gen := NewGenerator(DefaultGeneratorConfig(), &stubPredictor{err: errors.New("worker down")})

	tickers := []gateway.Ticker{
		ticker("BTCUSDT", "50000", "0.02"),   // +2%, buy
		ticker("SOLUSDT", "150", "-0.03"),    // -3%, sell but nothing held
		ticker("ADAUSDT", "0.5", "0.0001"),   // flat, no candidate
	}
	got := gen.Generate(context.Background(), tickers, stubBalances{})
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if got[0].Symbol != "BTCUSDT" || got[0].Side != SideBuy {
		t.Errorf("got %s %s, want BTCUSDT BUY", got[0].Symbol, got[0].Side)
	}
	if got[0].Confidence > 0.7 {
		t.Errorf("fallback confidence = %v, want capped at 0.7", got[0].Confidence)
	}
}

func TestGenerateNilPredictorUsesMomentum(t *testing.T) {
	gen := NewGenerator(DefaultGeneratorConfig(), nil)

	got := gen.Generate(context.Background(), []gateway.Ticker{
		ticker("SOLUSDT", "150", "-0.03"),
	}, stubBalances{"SOL": dec("2")})
	if len(got) != 1 || got[0].Side != SideSell {
		t.Fatalf("got %+v, want a SOLUSDT sell", got)
	}
}

func TestGenerateHonorsMaxCandidates(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.MaxCandidates = 2
	preds := map[string]predict.Prediction{
		"BTCUSDT": {Signal: predict.DirectionBuy, Confidence: 0.9},
		"ETHUSDT": {Signal: predict.DirectionBuy, Confidence: 0.8},
		"SOLUSDT": {Signal: predict.DirectionBuy, Confidence: 0.7},
	}
	gen := NewGenerator(cfg, &stubPredictor{preds: preds})

	tickers := []gateway.Ticker{
		ticker("BTCUSDT", "50000", "0"),
		ticker("ETHUSDT", "3000", "0"),
		ticker("SOLUSDT", "150", "0"),
	}
	got := gen.Generate(context.Background(), tickers, stubBalances{})
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	// Keeps the highest-confidence candidates.
	if got[0].Symbol != "BTCUSDT" || got[1].Symbol != "ETHUSDT" {
		t.Errorf("kept %s, %s; want BTCUSDT, ETHUSDT", got[0].Symbol, got[1].Symbol)
	}
}

func TestCombineMLScalesByAccuracy(t *testing.T) {
	cases := []struct {
		name string
		pred predict.Prediction
		want float64
	}{
		{"unknown accuracy passes through", predict.Prediction{Confidence: 0.6}, 0.6},
		{"strong accuracy boosts", predict.Prediction{Confidence: 0.5, Accuracy: 0.7}, 0.7},
		{"weak accuracy dampens", predict.Prediction{Confidence: 0.6, Accuracy: 0.25}, 0.3},
		{"capped below certainty", predict.Prediction{Confidence: 0.9, Accuracy: 0.9}, 0.95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := combineML(tc.pred)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("combineML = %v, want %v", got, tc.want)
			}
		})
	}
}

package signal

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"signal-core/internal/gateway"
	"signal-core/internal/predict"
)

// Balances is the slice of portfolio state the generator needs: sell signals
// require a non-zero base-asset balance.
type Balances interface {
	Free(coin string) decimal.Decimal
}

// GeneratorConfig tunes candidate production.
type GeneratorConfig struct {
	MinConfidence  float64  // floor below which candidates are discarded
	MaxCandidates  int      // cap per cycle to bound downstream work
	ExcludeSymbols []string // symbols never traded
	OnlySymbols    []string // when set, nothing outside this list trades
	// Momentum thresholds for the technical fallback, as 24h fractional
	// change. A move beyond MomentumBuy (or below -MomentumSell) triggers
	// a fallback candidate.
	MomentumBuy  float64
	MomentumSell float64
}

// DefaultGeneratorConfig mirrors production tuning.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinConfidence: 0.3,
		MaxCandidates: 30,
		MomentumBuy:   0.001,
		MomentumSell:  0.001,
	}
}

// Generator turns a market snapshot plus ML predictions into candidate
// signals. Output is deterministic for identical inputs: no randomness,
// sorted by confidence descending with symbol as the tie-break.
type Generator struct {
	cfg       GeneratorConfig
	predictor predict.Predictor // optional; nil means fallback only
	excluded  map[string]bool
	only      map[string]bool
}

func NewGenerator(cfg GeneratorConfig, predictor predict.Predictor) *Generator {
	excluded := make(map[string]bool, len(cfg.ExcludeSymbols))
	for _, s := range cfg.ExcludeSymbols {
		excluded[s] = true
	}
	var only map[string]bool
	if len(cfg.OnlySymbols) > 0 {
		only = make(map[string]bool, len(cfg.OnlySymbols))
		for _, s := range cfg.OnlySymbols {
			only[s] = true
		}
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultGeneratorConfig().MaxCandidates
	}
	return &Generator{cfg: cfg, predictor: predictor, excluded: excluded, only: only}
}

// Generate scans the ticker snapshot and emits at most MaxCandidates signals
// whose combined confidence clears the configured floor.
func (g *Generator) Generate(ctx context.Context, tickers []gateway.Ticker, balances Balances) []Signal {
	var out []Signal
	for _, t := range tickers {
		if !g.eligible(t) {
			continue
		}
		if sig, ok := g.analyze(ctx, t, balances); ok {
			out = append(out, sig)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Symbol < out[j].Symbol
	})
	if len(out) > g.cfg.MaxCandidates {
		out = out[:g.cfg.MaxCandidates]
	}
	return out
}

func (g *Generator) eligible(t gateway.Ticker) bool {
	if !strings.HasSuffix(t.Symbol, "USDT") || t.Symbol == "USDT" {
		return false
	}
	if g.excluded[t.Symbol] {
		return false
	}
	if g.only != nil && !g.only[t.Symbol] {
		return false
	}
	return t.LastPrice.Sign() > 0
}

// analyze combines the ML prediction with a momentum fallback. ML confidence
// is scaled by historical per-symbol accuracy; fallback confidence is scaled
// down. No candidate exceeds confidence 1.0.
func (g *Generator) analyze(ctx context.Context, t gateway.Ticker, balances Balances) (Signal, bool) {
	change, _ := t.Change24hPct.Float64()

	if g.predictor != nil {
		pred, err := g.predictor.Predict(ctx, t.Symbol, map[string]float64{
			"last_price": mustFloat(t.LastPrice),
			"change_24h": change,
			"volume_24h": mustFloat(t.Volume24h),
		})
		if err == nil && pred.Signal != predict.DirectionHold && pred.Confidence > 0 {
			conf := combineML(pred)
			if conf >= g.cfg.MinConfidence {
				side := Side(pred.Signal)
				if side == SideSell && !g.canSell(t.Symbol, balances) {
					return Signal{}, false
				}
				reason := "ml prediction"
				if pred.Accuracy > 0 {
					reason = "ml prediction, accuracy " + trimFloat(pred.Accuracy)
				}
				return New(t.Symbol, side, conf, t.LastPrice, reason), true
			}
			return Signal{}, false
		}
		if err != nil {
			log.Printf("signalgen: predictor unavailable for %s, using momentum fallback: %v", t.Symbol, err)
		}
	}

	// Technical fallback: 24h momentum with scaled-down confidence.
	switch {
	case change > g.cfg.MomentumBuy:
		conf := math.Min(0.7, math.Abs(change)*50)
		if conf < g.cfg.MinConfidence {
			return Signal{}, false
		}
		return New(t.Symbol, SideBuy, conf, t.LastPrice, "momentum, 24h change "+trimFloat(change)), true
	case change < -g.cfg.MomentumSell:
		if !g.canSell(t.Symbol, balances) {
			return Signal{}, false
		}
		conf := math.Min(0.7, math.Abs(change)*50)
		if conf < g.cfg.MinConfidence {
			return Signal{}, false
		}
		return New(t.Symbol, SideSell, conf, t.LastPrice, "momentum, 24h change "+trimFloat(change)), true
	}
	return Signal{}, false
}

func (g *Generator) canSell(symbol string, balances Balances) bool {
	if balances == nil {
		return false
	}
	base := strings.TrimSuffix(symbol, "USDT")
	return balances.Free(base).Sign() > 0
}

// combineML scales the model's confidence by its historical accuracy when
// known. Unknown accuracy is treated as coin-flip, which leaves the raw
// confidence untouched. Capped below 1.0.
func combineML(p predict.Prediction) float64 {
	acc := p.Accuracy
	if acc <= 0 {
		acc = 0.5
	}
	conf := p.Confidence * (acc / 0.5)
	return math.Min(conf, 0.95)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func trimFloat(f float64) string {
	return decimal.NewFromFloat(f).Round(4).String()
}

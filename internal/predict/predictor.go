// Package predict wraps the external ML predictor. The core never inspects
// the model; it only consumes the output contract.
package predict

import "context"

// Direction is the predicted action for a symbol.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Prediction is the opaque collaborator's output for one symbol. Accuracy is
// the historical per-symbol hit rate when known, zero otherwise.
type Prediction struct {
	Signal     Direction `json:"signal"`
	Confidence float64   `json:"confidence"`
	Accuracy   float64   `json:"accuracy,omitempty"`
}

// Predictor scores one symbol from its current market features. Callers treat
// any error as "no prediction available" and fall back to technical analysis.
type Predictor interface {
	Predict(ctx context.Context, symbol string, features map[string]float64) (Prediction, error)
}

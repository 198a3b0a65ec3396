package predict

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the core talk to the prediction worker without generated
// stubs; the worker contract is a JSON message pair.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() { encoding.RegisterCodec(jsonCodec{}) }

const predictMethod = "/predictor.Predictor/Predict"

// WorkerClient sends market features to the external ML worker over gRPC.
type WorkerClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

type predictRequest struct {
	Symbol   string             `json:"symbol"`
	Features map[string]float64 `json:"features"`
}

// NewWorkerClient connects to the prediction worker at addr.
func NewWorkerClient(addr string) (*WorkerClient, error) {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, err
	}
	return &WorkerClient{conn: conn, timeout: 2 * time.Second}, nil
}

func (w *WorkerClient) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Predict forwards features to the worker and decodes its verdict. The call
// is bounded so a stalled worker cannot stall a trading cycle.
func (w *WorkerClient) Predict(ctx context.Context, symbol string, features map[string]float64) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req := predictRequest{Symbol: symbol, Features: features}
	var resp Prediction
	if err := w.conn.Invoke(ctx, predictMethod, &req, &resp); err != nil {
		return Prediction{}, err
	}
	if resp.Signal == "" {
		resp.Signal = DirectionHold
	}
	return resp, nil
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderType supported by the spot engine.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// InstrumentInfo carries the trading constraints for one symbol, decoded once
// at the gateway boundary. Zero-valued fields mean the exchange did not report
// a limit.
type InstrumentInfo struct {
	Symbol         string
	MinOrderQty    decimal.Decimal
	MaxOrderQty    decimal.Decimal
	MaxMktOrderQty decimal.Decimal
	QtyStep        decimal.Decimal
	MinOrderAmt    decimal.Decimal
	BasePrecision  decimal.Decimal
}

// Ticker is a point-in-time market snapshot for one symbol.
type Ticker struct {
	Symbol       string
	LastPrice    decimal.Decimal
	Change24hPct decimal.Decimal // fractional, 0.015 = +1.5%
	Volume24h    decimal.Decimal
	UpdatedAt    time.Time
}

// BalanceSnapshot maps coin to free wallet balance.
type BalanceSnapshot struct {
	Coins     map[string]decimal.Decimal
	FetchedAt time.Time
}

// OrderRequest is a fully sized, exchange-legal order submission.
type OrderRequest struct {
	Category string // "spot"
	Symbol   string
	Side     Side
	Type     OrderType
	Qty      string // already step-aligned and formatted
	Price    decimal.Decimal
	ClientID string
}

// OrderResult is the decoded exchange response to a submission.
type OrderResult struct {
	RetCode int
	RetMsg  string
	OrderID string
}

// OK reports whether the exchange accepted the order.
func (r OrderResult) OK() bool { return r.RetCode == 0 }

// Gateway abstracts the exchange REST surface this core consumes. Every call
// is synchronous with a bounded timeout carried by ctx; transport failures are
// returned wrapped in TransientError.
type Gateway interface {
	GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error)
	GetTickers(ctx context.Context, category string) ([]Ticker, error)
	GetWalletBalance(ctx context.Context) (BalanceSnapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// TransientError marks a gateway failure that should be retried on a later
// cycle rather than counted as a hard fault.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway: transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError, keeping nil nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

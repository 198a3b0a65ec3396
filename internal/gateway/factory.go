package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FactoryConfig selects and configures the gateway implementation.
type FactoryConfig struct {
	Venue          string // "bybit" or "sim"
	APIKey         string
	APISecret      string
	Testnet        bool
	DryRun         bool
	InitialBalance decimal.Decimal // sim only
	FeeRate        decimal.Decimal // sim only
}

// New creates the Gateway for the configured venue. DryRun always yields
// the simulator regardless of venue.
func New(cfg FactoryConfig) (Gateway, error) {
	if cfg.DryRun || cfg.Venue == "sim" {
		return NewSim(cfg.InitialBalance, cfg.FeeRate), nil
	}

	switch cfg.Venue {
	case "bybit":
		return NewBybit(BybitConfig{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Testnet:   cfg.Testnet,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", cfg.Venue)
	}
}

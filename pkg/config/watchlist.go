package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Watchlist is the optional YAML overlay for symbol selection and momentum
// thresholds. Missing fields keep their built-in defaults.
type Watchlist struct {
	ExcludeSymbols []string `yaml:"exclude_symbols"`
	OnlySymbols    []string `yaml:"only_symbols"`
	MomentumBuy    float64  `yaml:"momentum_buy"`
	MomentumSell   float64  `yaml:"momentum_sell"`
}

// LoadWatchlist reads the overlay; an empty path returns a zero value.
func LoadWatchlist(path string) (Watchlist, error) {
	var w Watchlist
	if path == "" {
		return w, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("read watchlist: %w", err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("parse watchlist: %w", err)
	}
	return w, nil
}

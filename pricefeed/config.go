package pricefeed

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/inter"
)

// Source kinds.
const (
	KindStatic = "static"
	KindRandom = "random"
	KindHTTP   = "http"
)

// Config selects and configures a price source.
type Config struct {
	Kind string `yaml:"kind"`
	// Prices maps "BASE/QUOTE" symbols to prices for static and random sources.
	Prices    map[string]float64 `yaml:"prices"`
	Deviation float64            `yaml:"deviation"`
	Seed      int64              `yaml:"seed"`
	HTTP      HTTPConfig         `yaml:"http"`
}

// DefaultConfig returns a random source around a few well known feeds.
func DefaultConfig() Config {
	return Config{
		Kind: KindRandom,
		Prices: map[string]float64{
			"BTC/USD": 38573.26,
			"ETH/USD": 2175.12,
			"FLR/USD": 0.02042,
		},
		Deviation: 0.005,
		HTTP:      DefaultHTTPConfig(),
	}
}

// ParseSymbol parses "BASE/QUOTE" into a feed name.
func ParseSymbol(symbol string) (inter.FeedName, error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return inter.FeedName{}, fmt.Errorf("feed symbol %q is not BASE/QUOTE", symbol)
	}
	return inter.NewFeedName(base, quote)
}

func parsePrices(prices map[string]float64) (map[inter.FeedName]float64, error) {
	res := make(map[inter.FeedName]float64, len(prices))
	for symbol, p := range prices {
		name, err := ParseSymbol(symbol)
		if err != nil {
			return nil, err
		}
		res[name] = p
	}
	return res, nil
}

// New creates the source cfg describes.
func New(cfg Config, log logrus.FieldLogger) (Source, error) {
	switch cfg.Kind {
	case KindStatic, KindRandom:
		prices, err := parsePrices(cfg.Prices)
		if err != nil {
			return nil, err
		}
		if cfg.Kind == KindStatic {
			return NewStatic(prices), nil
		}
		return NewRandom(prices, cfg.Deviation, cfg.Seed), nil
	case KindHTTP:
		return NewHTTP(cfg.HTTP, log)
	}
	return nil, fmt.Errorf("unknown price source %q", cfg.Kind)
}

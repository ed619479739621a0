// Package pricefeed provides the values a data provider commits to. A Source
// returns one value per feed in the canonical order of the round's reward
// epoch, scaled to the feed's decimals.
package pricefeed

import (
	"context"
	"math"

	"github.com/rony4d/go-ftso-provider/inter"
)

// Source supplies feed values for a voting round. A nil entry means the
// source has no value for that feed.
type Source interface {
	Name() string
	GetValues(ctx context.Context, round inter.VotingRoundID, feeds []inter.Feed) ([]*int32, error)
}

// Scale converts a price to the integer representation of a feed with the
// given decimals. It returns nil for prices that do not fit.
func Scale(price float64, decimals int8) *int32 {
	v := math.Round(price * math.Pow10(int(decimals)))
	if math.IsNaN(v) || v <= math.MinInt32 || v > math.MaxInt32 {
		return nil
	}
	res := int32(v)
	return &res
}

// Static serves fixed prices. Feeds without a price get no value.
type Static struct {
	prices map[inter.FeedName]float64
}

// NewStatic creates a static source.
func NewStatic(prices map[inter.FeedName]float64) *Static {
	cp := make(map[inter.FeedName]float64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Static{prices: cp}
}

// Name implements Source.
func (s *Static) Name() string { return "static" }

// GetValues implements Source.
func (s *Static) GetValues(_ context.Context, _ inter.VotingRoundID, feeds []inter.Feed) ([]*int32, error) {
	res := make([]*int32, len(feeds))
	for i, f := range feeds {
		if p, ok := s.prices[f.Name]; ok {
			res[i] = Scale(p, f.Decimals)
		}
	}
	return res, nil
}

package pricefeed

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rony4d/go-ftso-provider/inter"
)

// Random wraps base prices with a uniform relative deviation. It stands in
// for a market data source on fake networks.
type Random struct {
	base      map[inter.FeedName]float64
	deviation float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random source deviating at most deviation (0.01 = 1%)
// from base. The same seed yields the same sequence of values.
func NewRandom(base map[inter.FeedName]float64, deviation float64, seed int64) *Random {
	return &Random{
		base:      NewStatic(base).prices,
		deviation: deviation,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Name implements Source.
func (r *Random) Name() string { return "random" }

// GetValues implements Source.
func (r *Random) GetValues(_ context.Context, _ inter.VotingRoundID, feeds []inter.Feed) ([]*int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*int32, len(feeds))
	for i, f := range feeds {
		p, ok := r.base[f.Name]
		if !ok {
			continue
		}
		res[i] = Scale(p*(1+r.deviation*(2*r.rng.Float64()-1)), f.Decimals)
	}
	return res, nil
}

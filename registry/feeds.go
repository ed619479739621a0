package registry

import (
	"math/big"
	"sort"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
)

type feedRank struct {
	feed      inter.Feed
	inflation bool
	value     *big.Int
}

// canonicalFeedOrder fixes the order of feeds in every price vector of a
// reward epoch. Inflation feeds come first. Within each group feeds are sorted
// by total community offer amount, descending, then by name.
func canonicalFeedOrder(offers []*contracts.RewardsOffered, inflation []*contracts.InflationRewardsOffered) []inter.Feed {
	ranks := make(map[inter.FeedName]*feedRank)
	for _, o := range inflation {
		for i, name := range o.FeedNames {
			if _, ok := ranks[name]; ok {
				continue
			}
			ranks[name] = &feedRank{
				feed:      inter.Feed{Name: name, Decimals: o.Decimals[i]},
				inflation: true,
				value:     new(big.Int),
			}
		}
	}
	for _, o := range offers {
		r, ok := ranks[o.FeedName]
		if !ok {
			r = &feedRank{feed: inter.Feed{Name: o.FeedName, Decimals: o.Decimals}, value: new(big.Int)}
			ranks[o.FeedName] = r
		}
		r.value.Add(r.value, o.Amount)
	}

	sorted := make([]*feedRank, 0, len(ranks))
	for _, r := range ranks {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.inflation != b.inflation {
			return a.inflation
		}
		if c := a.value.Cmp(b.value); c != 0 {
			return c > 0
		}
		return a.feed.Name.Less(b.feed.Name)
	})

	feeds := make([]inter.Feed, len(sorted))
	for i, r := range sorted {
		feeds[i] = r.feed
	}
	return feeds
}

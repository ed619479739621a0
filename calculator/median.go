package calculator

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/inter"
)

// ValueWithDecimals is a feed value as it appears in results. An empty value
// means no voter revealed a value for the feed.
type ValueWithDecimals struct {
	IsEmpty  bool  `json:"isEmpty"`
	Value    int32 `json:"value"`
	Decimals int8  `json:"decimals"`
}

// VoterValue is one revealed value with the median voting weight of its voter.
type VoterValue struct {
	Voter  common.Address `json:"voter"`
	Weight *big.Int       `json:"weight"`
	Value  int32          `json:"value"`
}

// MedianData holds the weighted statistics of one feed.
type MedianData struct {
	FinalMedianPrice    ValueWithDecimals `json:"finalMedianPrice"`
	Quartile1Price      ValueWithDecimals `json:"quartile1Price"`
	Quartile3Price      ValueWithDecimals `json:"quartile3Price"`
	ParticipatingWeight *big.Int          `json:"participatingWeight"`
}

// MedianCalculationResult is the outcome of one feed in one voting round.
// VotersWeightsAndValues is sorted by value, ties by voter address.
type MedianCalculationResult struct {
	VotingRoundID          inter.VotingRoundID `json:"votingRoundId"`
	Feed                   inter.Feed          `json:"feed"`
	VotersWeightsAndValues []VoterValue        `json:"votersWeightsAndValues"`
	Data                   MedianData          `json:"data"`
}

// IsEmpty reports whether nobody revealed a value for the feed.
func (r *MedianCalculationResult) IsEmpty() bool {
	return r.Data.FinalMedianPrice.IsEmpty
}

// CalculateMedian computes the weighted median and quartiles of values. The
// input slice is not modified. Voters with zero weight do not move the
// statistics but stay in the result.
func CalculateMedian(round inter.VotingRoundID, feed inter.Feed, values []VoterValue) MedianCalculationResult {
	sorted := append([]VoterValue(nil), values...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value < sorted[j].Value
		}
		return bytes.Compare(sorted[i].Voter[:], sorted[j].Voter[:]) < 0
	})

	total := new(big.Int)
	for _, v := range sorted {
		total.Add(total, v.Weight)
	}
	res := MedianCalculationResult{
		VotingRoundID:          round,
		Feed:                   feed,
		VotersWeightsAndValues: sorted,
		Data: MedianData{
			FinalMedianPrice:    ValueWithDecimals{IsEmpty: true, Decimals: feed.Decimals},
			Quartile1Price:      ValueWithDecimals{IsEmpty: true, Decimals: feed.Decimals},
			Quartile3Price:      ValueWithDecimals{IsEmpty: true, Decimals: feed.Decimals},
			ParticipatingWeight: total,
		},
	}
	if total.Sign() == 0 {
		return res
	}
	res.Data.Quartile1Price = valueAt(feed, weightedQuantile(sorted, total, 1, 4))
	res.Data.FinalMedianPrice = valueAt(feed, weightedQuantile(sorted, total, 1, 2))
	res.Data.Quartile3Price = valueAt(feed, weightedQuantile(sorted, total, 3, 4))
	return res
}

func valueAt(feed inter.Feed, v int32) ValueWithDecimals {
	return ValueWithDecimals{Value: v, Decimals: feed.Decimals}
}

// weightedQuantile returns the value at which the cumulative weight first
// reaches num/den of total. When it lands exactly on the boundary between two
// entries the result is the floor of their average.
func weightedQuantile(sorted []VoterValue, total *big.Int, num, den int64) int32 {
	target := new(big.Int).Mul(total, big.NewInt(num))
	cum := new(big.Int)
	scaled := new(big.Int)
	for i, v := range sorted {
		cum.Add(cum, v.Weight)
		scaled.Mul(cum, big.NewInt(den))
		switch scaled.Cmp(target) {
		case 1:
			return v.Value
		case 0:
			next := nextWeighted(sorted, i)
			if next < 0 {
				return v.Value
			}
			// arithmetic shift floors negative sums too
			return int32((int64(v.Value) + int64(sorted[next].Value)) >> 1)
		}
	}
	return sorted[len(sorted)-1].Value
}

// nextWeighted finds the first entry after i that carries weight.
func nextWeighted(sorted []VoterValue, i int) int {
	for j := i + 1; j < len(sorted); j++ {
		if sorted[j].Weight.Sign() > 0 {
			return j
		}
	}
	return -1
}

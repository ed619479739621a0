// Package calculator computes the results of a voting round: the weighted
// median of every feed, the combined round random and the Merkle tree the
// result is signed and finalized under.
package calculator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/datamanager"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/merkle"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/protocol"
)

var (
	randomLeafArgs = inter.NewArguments("uint32", "uint256", "bool")
	feedLeafArgs   = inter.NewArguments("uint32", "bytes8", "int32", "uint16", "int8")
)

// RoundResult is everything computed for one voting round.
type RoundResult struct {
	VotingRoundID inter.VotingRoundID       `json:"votingRoundId"`
	MerkleRoot    common.Hash               `json:"merkleRoot"`
	Random        RandomResult              `json:"random"`
	Medians       []MedianCalculationResult `json:"medians"`
	Tree          *merkle.Tree              `json:"-"`
}

// Calculator turns assembled round data into results.
type Calculator struct {
	rules protocol.Rules
	log   logrus.FieldLogger
}

// New creates a calculator.
func New(rules protocol.Rules, log logrus.FieldLogger) *Calculator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Calculator{rules: rules, log: log.WithField("module", "calculator")}
}

// CalculateMedians computes one result per feed in canonical order.
func CalculateMedians(data *datamanager.DataForCalculations) []MedianCalculationResult {
	res := make([]MedianCalculationResult, len(data.FeedOrder))
	for i, feed := range data.FeedOrder {
		var values []VoterValue
		for _, voter := range data.OrderedSubmitAddresses {
			reveal, ok := data.ValidEligibleReveals[voter]
			if !ok || i >= len(reveal.Values) || reveal.Values[i].IsEmpty {
				continue
			}
			weight := data.VoterMedianVotingWeights[voter]
			if weight == nil {
				weight = new(big.Int)
			}
			values = append(values, VoterValue{Voter: voter, Weight: weight, Value: reveal.Values[i].Value})
		}
		res[i] = CalculateMedian(data.VotingRoundID, feed, values)
	}
	return res
}

// CalculateResults computes medians, the round random and the result tree.
func (c *Calculator) CalculateResults(data *datamanager.DataForCalculations) (*RoundResult, error) {
	medians := CalculateMedians(data)
	random := CalculateRandom(data, c.rules.Protocol.MinSecureRevealers)

	leaves := make([]common.Hash, 0, len(medians)+1)
	leaf, err := RandomLeaf(data.VotingRoundID, random)
	if err != nil {
		return nil, err
	}
	leaves = append(leaves, leaf)

	totalWeight := new(big.Int)
	for _, w := range data.VoterMedianVotingWeights {
		totalWeight.Add(totalWeight, w)
	}
	for i := range medians {
		m := &medians[i]
		if m.IsEmpty() {
			continue
		}
		leaf, err := FeedLeaf(m, TurnoutBIPS(m.Data.ParticipatingWeight, totalWeight))
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}

	tree := merkle.New(leaves)
	root, _ := tree.Root()

	c.log.WithFields(logrus.Fields{
		"round":   data.VotingRoundID,
		"root":    root,
		"secure":  random.IsSecure,
		"feeds":   len(leaves) - 1,
		"reveals": len(data.ValidEligibleReveals),
	}).Info("Calculated voting round results")
	metrics.LastResultRound.Set(float64(data.VotingRoundID))
	if random.IsSecure {
		metrics.SecureRandom.Set(1)
	} else {
		metrics.SecureRandom.Set(0)
	}

	return &RoundResult{
		VotingRoundID: data.VotingRoundID,
		MerkleRoot:    root,
		Random:        random,
		Medians:       medians,
		Tree:          tree,
	}, nil
}

// TurnoutBIPS is the participating share of total weight in basis points.
func TurnoutBIPS(participating, total *big.Int) uint16 {
	if total.Sign() == 0 {
		return 0
	}
	bips := new(big.Int).Mul(participating, big.NewInt(int64(protocol.TotalBIPS)))
	bips.Quo(bips, total)
	if bips.Cmp(big.NewInt(int64(protocol.TotalBIPS))) > 0 {
		return uint16(protocol.TotalBIPS)
	}
	return uint16(bips.Uint64())
}

// RandomLeaf hashes abi.encode(uint32 round, uint256 random, bool secure).
func RandomLeaf(round inter.VotingRoundID, random RandomResult) (common.Hash, error) {
	packed, err := randomLeafArgs.Pack(uint32(round), random.Random, random.IsSecure)
	if err != nil {
		return common.Hash{}, fmt.Errorf("random leaf: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// FeedLeaf hashes abi.encode(uint32 round, bytes8 feed, int32 value,
// uint16 turnoutBIPS, int8 decimals) of a non-empty median.
func FeedLeaf(m *MedianCalculationResult, turnoutBIPS uint16) (common.Hash, error) {
	packed, err := feedLeafArgs.Pack(
		uint32(m.VotingRoundID),
		[inter.FeedNameLength]byte(m.Feed.Name),
		m.Data.FinalMedianPrice.Value,
		turnoutBIPS,
		m.Feed.Decimals,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("feed leaf %s: %w", m.Feed.Name, err)
	}
	return crypto.Keccak256Hash(packed), nil
}

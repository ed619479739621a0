package rewards

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/datamanager"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/merkle"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
)

// ErrDataNotAvailable means some voting round of the reward epoch is not
// fully indexed yet.
var ErrDataNotAvailable = errors.New("reward epoch data not available")

// RoundData loads the settled data of a voting round.
// *datamanager.DataManager implements it.
type RoundData interface {
	GetDataForRewardCalculation(ctx context.Context, round inter.VotingRoundID, benchingWindow uint32) (ledger.Response[*datamanager.DataForRewardCalculation], error)
}

// RewardEpochs resolves reward epoch snapshots. *registry.Registry implements it.
type RewardEpochs interface {
	GetRewardEpochByID(ctx context.Context, id inter.RewardEpochID) (*registry.RewardEpoch, error)
}

// EpochResult holds the merged claims of a reward epoch.
type EpochResult struct {
	RewardEpochID inter.RewardEpochID `json:"rewardEpochId"`
	Offers        []Offer             `json:"offers"`
	Claims        []Claim             `json:"claims"`
	Tree          *ClaimTree          `json:"-"`
}

// RewardEpochCalculator computes the claims of whole reward epochs.
type RewardEpochCalculator struct {
	data        RoundData
	epochs      RewardEpochs
	rules       protocol.Rules
	parallelism int
	log         logrus.FieldLogger
}

// NewRewardEpochCalculator creates a calculator loading up to parallelism
// voting rounds at once.
func NewRewardEpochCalculator(data RoundData, epochs RewardEpochs, rules protocol.Rules, parallelism int, log logrus.FieldLogger) *RewardEpochCalculator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &RewardEpochCalculator{
		data:        data,
		epochs:      epochs,
		rules:       rules,
		parallelism: parallelism,
		log:         log.WithField("module", "rewards"),
	}
}

// CalculateEpochClaims calculates, merges and checks the claims of every
// voting round of reward epoch id, from its start up to the start of the
// next reward epoch. Rounds are only accepted with OK status.
func (c *RewardEpochCalculator) CalculateEpochClaims(ctx context.Context, id inter.RewardEpochID) (*EpochResult, error) {
	epoch, err := c.epochs.GetRewardEpochByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// the epoch lasts until the next one starts, which may be late
	next, err := c.epochs.GetRewardEpochByID(ctx, id+1)
	switch {
	case errors.Is(err, registry.ErrEpochNotFound):
		return nil, fmt.Errorf("%w: reward epoch %d has not started", ErrDataNotAvailable, id+1)
	case err != nil:
		return nil, err
	}
	start, end := epoch.StartVotingRoundID(), next.StartVotingRoundID()
	if end <= start {
		return nil, fmt.Errorf("%w: reward epoch %d starts at round %d, before reward epoch %d at %d",
			registry.ErrCriticalInconsistency, id+1, end, id, start)
	}
	duration := uint32(end - start)
	offers := OffersForRewardEpoch(epoch, c.rules.Rewards)

	perRound := make([][]Claim, duration)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i := uint32(0); i < duration; i++ {
		i := i
		g.Go(func() error {
			claims, err := c.roundClaims(gctx, start+inter.VotingRoundID(i), start, duration, offers)
			perRound[i] = claims
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Claim
	for _, claims := range perRound {
		all = append(all, claims...)
	}
	merged := MergeClaims(all, c.rules.Rewards.BurnAddress)
	if err := AssertConservation(offers, merged); err != nil {
		metrics.ConservationViolations.Inc()
		c.log.WithFields(logrus.Fields{
			"epoch": id,
			"err":   err,
		}).Error("Reward claims do not add up to the offers")
		return nil, err
	}
	for _, claim := range merged {
		metrics.ClaimsGenerated.WithLabelValues(claim.Kind.String()).Inc()
	}

	tree := NewClaimTree(merged)
	root, _ := tree.Root()
	c.log.WithFields(logrus.Fields{
		"epoch":  id,
		"claims": len(merged),
		"root":   root,
	}).Info("Calculated reward epoch claims")
	return &EpochResult{RewardEpochID: id, Offers: offers, Claims: merged, Tree: tree}, nil
}

func (c *RewardEpochCalculator) roundClaims(ctx context.Context, round, start inter.VotingRoundID, duration uint32, offers []Offer) ([]Claim, error) {
	res, err := c.data.GetDataForRewardCalculation(ctx, round, 0)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}
	if res.Status != ledger.OK {
		return nil, fmt.Errorf("%w: round %d is %s", ErrDataNotAvailable, round, res.Status)
	}
	data := res.Data

	in := &RoundInput{
		VotingRoundID: round,
		Offers:        make([]Offer, len(offers)),
		Medians:       calculator.CalculateMedians(data.DataForCalculations),
		VoterWeights:  data.VoterWeights,
		Offenders:     data.RevealOffenders.Sorted(),
	}
	for i, o := range offers {
		in.Offers[i] = OfferForVotingRound(o, round, start, duration)
	}
	if fin := data.FirstSuccessfulFinalization; fin != nil {
		finalizer := fin.SubmitAddress
		in.Finalizer = &finalizer
		in.Signers = RewardedSigners(data)
	}
	claims, err := CalculateClaims(c.rules.Rewards, in)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}
	return claims, nil
}

// RewardedSigners returns the identities of the eligible voters that signed
// the finalized Merkle root no later than the first successful finalization,
// in signing policy order.
func RewardedSigners(data *datamanager.DataForRewardCalculation) []common.Address {
	fin := data.FirstSuccessfulFinalization
	if fin == nil || fin.Message == nil || fin.Message.Message == nil {
		return nil
	}
	type signer struct {
		identity common.Address
		index    int
	}
	var signers []signer
	for _, s := range data.Signatures[fin.Message.Message.Hash()] {
		if s.Timestamp > fin.Timestamp {
			continue
		}
		if identity, ok := data.RewardEpoch.VoterForSigner(s.Signer); ok {
			signers = append(signers, signer{identity, s.Index})
		}
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i].index < signers[j].index })

	res := make([]common.Address, len(signers))
	for i, s := range signers {
		res[i] = s.identity
	}
	return res
}

// ClaimTree is the Merkle tree over the fixed and weighted claims of a reward
// epoch. Residual penalties are not claimable and not in the tree.
type ClaimTree struct {
	tree   *merkle.Tree
	claims []Claim
}

// ClaimWithProof is a claim with the proof the claim contract verifies.
type ClaimWithProof struct {
	MerkleProof []common.Hash `json:"merkleProof"`
	Body        Claim         `json:"body"`
}

// NewClaimTree builds the tree of merged claims.
func NewClaimTree(merged []Claim) *ClaimTree {
	t := &ClaimTree{}
	var leaves []common.Hash
	for _, c := range merged {
		if c.Kind == Penalty {
			continue
		}
		t.claims = append(t.claims, c)
		leaves = append(leaves, c.Hash())
	}
	t.tree = merkle.New(leaves)
	return t
}

// Root returns the Merkle root, false if there is nothing to claim.
func (t *ClaimTree) Root() (common.Hash, bool) {
	return t.tree.Root()
}

// ClaimsWithProof returns the claims of beneficiary with their proofs.
func (t *ClaimTree) ClaimsWithProof(beneficiary common.Address) ([]ClaimWithProof, error) {
	var res []ClaimWithProof
	for _, c := range t.claims {
		if c.Beneficiary != beneficiary {
			continue
		}
		proof, err := t.tree.Proof(c.Hash())
		if err != nil {
			return nil, err
		}
		res = append(res, ClaimWithProof{MerkleProof: proof, Body: c})
	}
	return res, nil
}

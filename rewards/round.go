package rewards

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
)

// RoundInput is everything the claims of one voting round depend on.
type RoundInput struct {
	VotingRoundID inter.VotingRoundID
	// Offers are the per round offers, see OfferForVotingRound.
	Offers []Offer
	// Medians holds one result per feed of the reward epoch.
	Medians []calculator.MedianCalculationResult
	// Signers are the identity addresses of the rewarded signers in payout
	// order. The first one receives the rounding remainder.
	Signers []common.Address
	// Finalizer is the sender of the first successful finalization, nil if
	// the round was not finalized in its rewarded window.
	Finalizer *common.Address
	// VoterWeights maps submit addresses to voter registrations.
	VoterWeights map[common.Address]*registry.VoterWeights
	// Offenders are the submit addresses that committed without a valid reveal.
	Offenders []common.Address
}

// CalculateClaims produces the unmerged claims of one voting round. Each
// offer is split into a signing share, a finalization share and the median
// share, which is the remainder. A round without a finalizer pays the whole
// offer to the median share. Penalties for offenders are added on top as
// Penalty claims. Fixed and weighted claims always add up to the offers.
func CalculateClaims(rules protocol.RewardRules, in *RoundInput) ([]Claim, error) {
	medians := make(map[inter.FeedName]*calculator.MedianCalculationResult, len(in.Medians))
	for i := range in.Medians {
		medians[in.Medians[i].Feed.Name] = &in.Medians[i]
	}
	totalWeight := new(big.Int)
	for _, w := range in.VoterWeights {
		totalWeight.Add(totalWeight, w.CappedDelegationWeight)
	}

	var claims []Claim
	for _, offer := range in.Offers {
		if offer.Amount.Sign() == 0 {
			continue
		}
		median, ok := medians[offer.Feed.Name]
		if !ok {
			return nil, fmt.Errorf("no median for offered feed %s in round %d", offer.Feed.Name, in.VotingRoundID)
		}

		forMedian := new(big.Int).Set(offer.Amount)
		if in.Finalizer != nil {
			forSigning := bipsOf(offer.Amount, rules.SigningBIPS)
			forFinalization := bipsOf(offer.Amount, rules.FinalizationBIPS)
			forMedian.Sub(forMedian, forSigning).Sub(forMedian, forFinalization)
			claims = append(claims, splitEvenly(offer.withAmount(forSigning), in.Signers)...)
			claims = append(claims, splitEvenly(offer.withAmount(forFinalization), []common.Address{*in.Finalizer})...)
		}

		medianOffer := offer.withAmount(forMedian)
		if offer.MinRewardedTurnoutBIPS > 0 &&
			calculator.TurnoutBIPS(median.Data.ParticipatingWeight, totalWeight) < offer.MinRewardedTurnoutBIPS {
			if forMedian.Sign() > 0 {
				claims = append(claims, backClaim(medianOffer, forMedian))
			}
			continue
		}
		claims = append(claims, MedianClaims(medianOffer, median, in.VoterWeights)...)
	}

	penalties, err := Penalties(rules, in.Offers, in.Offenders, in.VoterWeights)
	if err != nil {
		return nil, err
	}
	return append(claims, penalties...), nil
}

// splitEvenly pays an offer in equal fixed shares with the remainder going
// to the first beneficiary. Without beneficiaries the offer is claimed back.
func splitEvenly(offer Offer, beneficiaries []common.Address) []Claim {
	if offer.Amount.Sign() == 0 {
		return nil
	}
	if len(beneficiaries) == 0 {
		return []Claim{backClaim(offer, offer.Amount)}
	}
	share, rem := new(big.Int).QuoRem(offer.Amount, big.NewInt(int64(len(beneficiaries))), new(big.Int))
	var res []Claim
	for i, b := range beneficiaries {
		amount := new(big.Int).Set(share)
		if i == 0 {
			amount.Add(amount, rem)
		}
		if amount.Sign() > 0 {
			res = append(res, newClaim(offer, b, amount, Fixed))
		}
	}
	return res
}

// Penalties charges every offender its weight share of every offer times
// the missed reveal multiplier. Penalties go to the offender's identity.
func Penalties(rules protocol.RewardRules, offers []Offer, offenders []common.Address, weights map[common.Address]*registry.VoterWeights) ([]Claim, error) {
	if len(offenders) == 0 {
		return nil, nil
	}
	total := new(big.Int)
	for _, w := range weights {
		total.Add(total, w.CappedDelegationWeight)
	}
	if total.Sign() == 0 {
		return nil, nil
	}
	multiplier := new(big.Int).SetUint64(rules.MissedRevealPenaltyMultiplier)
	var res []Claim
	for _, offender := range offenders {
		voter, ok := weights[offender]
		if !ok {
			return nil, fmt.Errorf("%w: no weight for offender %s", registry.ErrCriticalInconsistency, offender)
		}
		for _, offer := range offers {
			amount := new(big.Int).Mul(offer.Amount, voter.CappedDelegationWeight)
			amount.Quo(amount, total)
			amount.Mul(amount, multiplier)
			if amount.Sign() > 0 {
				res = append(res, newClaim(offer, voter.Identity, amount, Penalty))
			}
		}
	}
	return res, nil
}

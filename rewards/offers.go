package rewards

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
)

// NativeCurrency is the currency address of inflation rewards.
var NativeCurrency = common.Address{}

// Offer is a reward offer for a single feed, either for a whole reward epoch
// or, after OfferForVotingRound, for one voting round. Band parameters are
// resolved against the reward rules, so a zero field on the offered event
// means the network default.
type Offer struct {
	RewardEpochID inter.RewardEpochID `json:"rewardEpochId"`
	// VotingRoundID is zero for reward epoch offers.
	VotingRoundID inter.VotingRoundID `json:"votingRoundId"`
	Feed          inter.Feed          `json:"feed"`
	Amount        *big.Int            `json:"amount"`
	Currency      common.Address      `json:"currency"`
	ClaimBack     common.Address      `json:"claimBack"`
	IsInflation   bool                `json:"isInflation"`

	MinRewardedTurnoutBIPS uint16           `json:"minRewardedTurnoutBips"`
	IqrSharePPM            uint64           `json:"iqrSharePpm"`
	PctSharePPM            uint64           `json:"pctSharePpm"`
	ElasticBandWidthPPM    uint64           `json:"elasticBandWidthPpm"`
	LeadProviders          []common.Address `json:"leadProviders"`
	RewardBeltPPM          uint64           `json:"rewardBeltPpm"`
}

// OffersForRewardEpoch lists the per feed offers of a reward epoch:
// community offers as they are, inflation offers split evenly among their
// feeds with the remainder going to the first feed. Undistributed inflation
// is claimed back to the burn address.
func OffersForRewardEpoch(epoch *registry.RewardEpoch, rules protocol.RewardRules) []Offer {
	decimals := make(map[inter.FeedName]int8)
	for _, f := range epoch.CanonicalFeedOrder() {
		decimals[f.Name] = f.Decimals
	}

	var res []Offer
	for _, o := range epoch.InflationOffers() {
		res = append(res, splitInflationOffer(o, rules)...)
	}
	for _, o := range epoch.RewardOffers() {
		res = append(res, communityOffer(o, decimals[o.FeedName], rules))
	}
	return res
}

func communityOffer(o *contracts.RewardsOffered, decimals int8, rules protocol.RewardRules) Offer {
	offer := Offer{
		RewardEpochID:          o.RewardEpochID,
		Feed:                   inter.Feed{Name: o.FeedName, Decimals: decimals},
		Amount:                 new(big.Int).Set(o.Amount),
		Currency:               o.CurrencyAddress,
		ClaimBack:              o.ClaimBackAddress,
		MinRewardedTurnoutBIPS: o.MinRewardedTurnoutBIPS,
		LeadProviders:          append([]common.Address(nil), o.LeadProviders...),
	}
	offer.resolveBands(rules, o.PrimaryBandRewardSharePPM, o.SecondaryBandWidthPPM, o.RewardBeltPPM)
	return offer
}

func splitInflationOffer(o *contracts.InflationRewardsOffered, rules protocol.RewardRules) []Offer {
	n := len(o.FeedNames)
	if n == 0 {
		return nil
	}
	share, rem := new(big.Int).QuoRem(o.Amount, big.NewInt(int64(n)), new(big.Int))
	res := make([]Offer, n)
	for i, name := range o.FeedNames {
		amount := new(big.Int).Set(share)
		if i == 0 {
			amount.Add(amount, rem)
		}
		res[i] = Offer{
			RewardEpochID:          o.RewardEpochID,
			Feed:                   inter.Feed{Name: name, Decimals: o.Decimals[i]},
			Amount:                 amount,
			Currency:               NativeCurrency,
			ClaimBack:              rules.BurnAddress,
			IsInflation:            true,
			MinRewardedTurnoutBIPS: o.MinRewardedTurnoutBIPS,
		}
		var width uint32
		if i < len(o.SecondaryBandWidthPPMs) {
			width = o.SecondaryBandWidthPPMs[i]
		}
		res[i].resolveBands(rules, o.PrimaryBandRewardSharePPM, width, 0)
	}
	return res
}

func (o *Offer) resolveBands(rules protocol.RewardRules, primaryPPM, widthPPM, beltPPM uint32) {
	o.IqrSharePPM, o.PctSharePPM = rules.IqrSharePPM, rules.PctSharePPM
	if primaryPPM != 0 && uint64(primaryPPM) <= protocol.TotalPPM {
		o.IqrSharePPM = uint64(primaryPPM)
		o.PctSharePPM = protocol.TotalPPM - o.IqrSharePPM
	}
	o.ElasticBandWidthPPM = rules.ElasticBandWidthPPM
	if widthPPM != 0 {
		o.ElasticBandWidthPPM = uint64(widthPPM)
	}
	o.RewardBeltPPM = rules.DefaultRewardBeltPPM
	if beltPPM != 0 {
		o.RewardBeltPPM = uint64(beltPPM)
	}
}

// OfferForVotingRound returns the share of an epoch offer paid out in round.
// The amount is divided evenly among the rounds of the reward epoch and the
// first amount%duration rounds get one more.
func OfferForVotingRound(offer Offer, round, epochStart inter.VotingRoundID, duration uint32) Offer {
	share, rem := new(big.Int).QuoRem(offer.Amount, big.NewInt(int64(duration)), new(big.Int))
	if rem.Cmp(big.NewInt(int64(round-epochStart))) > 0 {
		share.Add(share, big.NewInt(1))
	}
	res := offer
	res.VotingRoundID = round
	res.Amount = share
	return res
}

// withAmount copies the offer with a different amount.
func (o Offer) withAmount(amount *big.Int) Offer {
	o.Amount = amount
	return o
}

// bipsOf returns amount*bips/10000.
func bipsOf(amount *big.Int, bips uint64) *big.Int {
	res := new(big.Int).Mul(amount, new(big.Int).SetUint64(bips))
	return res.Quo(res, big.NewInt(protocol.TotalBIPS))
}

package rewards

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
)

var randomSelectArgs = inter.NewArguments("bytes8", "uint256", "address")

// RandomSelect decides whether a voter sitting exactly on an IQR boundary is
// inside the band: keccak(abi.encode(bytes8 feed, uint256 round, address voter)) is odd.
func RandomSelect(feed inter.FeedName, round inter.VotingRoundID, voter common.Address) bool {
	packed, err := randomSelectArgs.Pack([inter.FeedNameLength]byte(feed), new(big.Int).SetUint64(uint64(round)), voter)
	if err != nil {
		panic(err)
	}
	h := crypto.Keccak256(packed)
	return h[len(h)-1]&1 == 1
}

type voterRecord struct {
	submit   common.Address
	weight   *big.Int
	iqr      bool
	pct      bool
	eligible bool
}

// leadBand returns the closed range of values eligible for the offer: the
// median of the values lead providers revealed plus minus the reward belt,
// with the lower end clamped to zero. Lead providers are named by submit
// address. ok is false when no lead provider revealed a value.
func leadBand(offer *Offer, median *calculator.MedianCalculationResult) (low, high int64, ok bool) {
	if len(offer.LeadProviders) == 0 {
		return 0, 0, false
	}
	lead := make(map[common.Address]bool, len(offer.LeadProviders))
	for _, a := range offer.LeadProviders {
		lead[a] = true
	}
	var values []int64
	for _, v := range median.VotersWeightsAndValues {
		if lead[v.Voter] {
			values = append(values, int64(v.Value))
		}
	}
	if len(values) == 0 {
		return 0, 0, false
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	mid := values[len(values)/2]
	belt := mulPPM(abs(mid), offer.RewardBeltPPM)
	return max(mid-belt, 0), mid + belt, true
}

// MedianClaims distributes a per round offer among the voters close to the
// feed median. Voters inside the interquartile range and voters inside the
// elastic band around the median share the offer by weight. Each voter's
// delegation fee is paid as a fixed claim and the rest as a weighted claim,
// both to the voter's identity address. When nobody qualifies the whole
// amount is claimed back.
func MedianClaims(offer Offer, median *calculator.MedianCalculationResult, weights map[common.Address]*registry.VoterWeights) []Claim {
	if offer.Amount.Sign() == 0 {
		return nil
	}
	if median.IsEmpty() {
		return []Claim{backClaim(offer, offer.Amount)}
	}
	q1 := median.Data.Quartile1Price.Value
	q3 := median.Data.Quartile3Price.Value
	m := int64(median.Data.FinalMedianPrice.Value)
	band := mulPPM(abs(m), offer.ElasticBandWidthPPM)
	lowPCT, highPCT := m-band, m+band
	lowLead, highLead, hasLead := leadBand(&offer, median)

	records := make([]*voterRecord, 0, len(median.VotersWeightsAndValues))
	for _, v := range median.VotersWeightsAndValues {
		if _, ok := weights[v.Voter]; !ok {
			continue
		}
		value := int64(v.Value)
		records = append(records, &voterRecord{
			submit: v.Voter,
			weight: new(big.Int).Set(v.Weight),
			iqr: (v.Value > q1 && v.Value < q3) ||
				((v.Value == q1 || v.Value == q3) && RandomSelect(offer.Feed.Name, offer.VotingRoundID, v.Voter)),
			pct:      value > lowPCT && value < highPCT,
			eligible: !hasLead || (value >= lowLead && value <= highLead),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].submit[:], records[j].submit[:]) < 0
	})

	iqrSum, pctSum := new(big.Int), new(big.Int)
	for _, r := range records {
		if !r.eligible {
			continue
		}
		if r.iqr {
			iqrSum.Add(iqrSum, r.weight)
		}
		if r.pct {
			pctSum.Add(pctSum, r.weight)
		}
	}

	iqrShare := new(big.Int).SetUint64(offer.IqrSharePPM)
	pctShare := new(big.Int).SetUint64(offer.PctSharePPM)
	total := new(big.Int)
	for _, r := range records {
		w := new(big.Int)
		switch {
		case !r.eligible:
		case pctSum.Sign() == 0:
			if r.iqr {
				w.Set(r.weight)
			}
		default:
			if r.iqr {
				w.Add(w, new(big.Int).Mul(new(big.Int).Mul(iqrShare, r.weight), pctSum))
			}
			if r.pct {
				w.Add(w, new(big.Int).Mul(new(big.Int).Mul(pctShare, r.weight), iqrSum))
			}
		}
		r.weight = w
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return []Claim{backClaim(offer, offer.Amount)}
	}

	var claims []Claim
	available := new(big.Int).Set(offer.Amount)
	availableWeight := total
	for _, r := range records {
		if r.weight.Sign() == 0 {
			continue
		}
		// double declining balance, the last voter takes what is left
		reward := new(big.Int).Mul(r.weight, available)
		reward.Quo(reward, availableWeight)
		available.Sub(available, reward)
		availableWeight.Sub(availableWeight, r.weight)
		claims = append(claims, voterClaims(offer, weights[r.submit], reward)...)
	}
	return claims
}

// voterClaims splits a voter's reward into the delegation fee and the part
// shared with delegators.
func voterClaims(offer Offer, voter *registry.VoterWeights, reward *big.Int) []Claim {
	fee := bipsOf(reward, uint64(voter.FeeBIPS))
	rest := new(big.Int).Sub(reward, fee)
	var res []Claim
	if fee.Sign() > 0 {
		res = append(res, newClaim(offer, voter.Identity, fee, Fixed))
	}
	if rest.Sign() > 0 {
		res = append(res, newClaim(offer, voter.Identity, rest, Weighted))
	}
	return res
}

func newClaim(offer Offer, beneficiary common.Address, amount *big.Int, kind ClaimKind) Claim {
	return Claim{
		VotingRoundID: offer.VotingRoundID,
		RewardEpochID: offer.RewardEpochID,
		Beneficiary:   beneficiary,
		Currency:      offer.Currency,
		Amount:        amount,
		Kind:          kind,
	}
}

func backClaim(offer Offer, amount *big.Int) Claim {
	return newClaim(offer, offer.ClaimBack, new(big.Int).Set(amount), Fixed)
}

func mulPPM(v int64, ppm uint64) int64 {
	res := new(big.Int).Mul(big.NewInt(v), new(big.Int).SetUint64(ppm))
	return res.Quo(res, big.NewInt(protocol.TotalPPM)).Int64()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Package rewards turns the results of the voting rounds of a reward epoch
// into reward claims: median closeness rewards, signing and finalization
// rewards and penalties for missed reveals. Claims of a reward epoch are
// merged per beneficiary and currency and published as a Merkle tree.
package rewards

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-ftso-provider/inter"
)

// ErrConservationViolation means the claims of a currency do not add up to
// the offered amount. The reward epoch calculation is aborted.
var ErrConservationViolation = errors.New("reward conservation violated")

// ClaimKind tells the claim contract how to pay out an amount.
type ClaimKind uint8

const (
	// Fixed claims are paid to the beneficiary directly.
	Fixed ClaimKind = iota
	// Weighted claims are shared by the beneficiary with its delegators.
	Weighted
	// Penalty claims are deducted from the beneficiary's other claims.
	Penalty
)

func (k ClaimKind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case Weighted:
		return "weighted"
	case Penalty:
		return "penalty"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k ClaimKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ClaimKind) UnmarshalText(input []byte) error {
	for _, kind := range []ClaimKind{Fixed, Weighted, Penalty} {
		if string(input) == kind.String() {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown claim kind %q", input)
}

// Claim is an amount of currency owed to a beneficiary.
type Claim struct {
	VotingRoundID inter.VotingRoundID `json:"votingRoundId"`
	RewardEpochID inter.RewardEpochID `json:"rewardEpochId"`
	Beneficiary   common.Address      `json:"beneficiary"`
	Currency      common.Address      `json:"currency"`
	Amount        *big.Int            `json:"amount"`
	Kind          ClaimKind           `json:"kind"`
}

var claimLeafArgs = inter.NewArguments("uint24", "address", "address", "uint256", "uint8")

// Hash is the Merkle leaf of the claim:
// keccak(abi.encode(uint24 epoch, address beneficiary, address currency, uint256 amount, uint8 kind)).
func (c Claim) Hash() common.Hash {
	packed, err := claimLeafArgs.Pack(
		new(big.Int).SetUint64(uint64(c.RewardEpochID)),
		c.Beneficiary,
		c.Currency,
		c.Amount,
		uint8(c.Kind),
	)
	if err != nil {
		// static argument types, Pack cannot fail for well-typed values
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

type claimKey struct {
	beneficiary common.Address
	currency    common.Address
}

type mergedClaims struct {
	fixed, weighted, penalty *big.Int
}

// MergeClaims sums claims by beneficiary, currency and kind. Penalties are
// taken from the fixed claim first and the weighted claim second, never
// below zero. The amount taken is paid to burn as a fixed claim, and any
// penalty left over stays as a Penalty claim. Merged claims carry the
// latest voting round of the input and are sorted by beneficiary, currency
// and kind.
func MergeClaims(claims []Claim, burn common.Address) []Claim {
	if len(claims) == 0 {
		return nil
	}
	epoch := claims[0].RewardEpochID
	var round inter.VotingRoundID
	groups := make(map[claimKey]*mergedClaims)
	for _, c := range claims {
		round = max(round, c.VotingRoundID)
		k := claimKey{c.Beneficiary, c.Currency}
		g, ok := groups[k]
		if !ok {
			g = &mergedClaims{new(big.Int), new(big.Int), new(big.Int)}
			groups[k] = g
		}
		switch c.Kind {
		case Fixed:
			g.fixed.Add(g.fixed, c.Amount)
		case Weighted:
			g.weighted.Add(g.weighted, c.Amount)
		case Penalty:
			g.penalty.Add(g.penalty, c.Amount)
		}
	}

	burnt := make(map[common.Address]*big.Int)
	for k, g := range groups {
		if g.penalty.Sign() == 0 {
			continue
		}
		taken := new(big.Int).Set(g.penalty)
		deduct(g.fixed, g.penalty)
		deduct(g.weighted, g.penalty)
		taken.Sub(taken, g.penalty)
		if taken.Sign() == 0 {
			continue
		}
		if b, ok := burnt[k.currency]; ok {
			b.Add(b, taken)
		} else {
			burnt[k.currency] = taken
		}
	}
	for currency, amount := range burnt {
		k := claimKey{burn, currency}
		g, ok := groups[k]
		if !ok {
			g = &mergedClaims{new(big.Int), new(big.Int), new(big.Int)}
			groups[k] = g
		}
		g.fixed.Add(g.fixed, amount)
	}

	res := make([]Claim, 0, len(groups))
	for k, g := range groups {
		for kind, amount := range map[ClaimKind]*big.Int{Fixed: g.fixed, Weighted: g.weighted, Penalty: g.penalty} {
			if amount.Sign() == 0 {
				continue
			}
			res = append(res, Claim{
				VotingRoundID: round,
				RewardEpochID: epoch,
				Beneficiary:   k.beneficiary,
				Currency:      k.currency,
				Amount:        amount,
				Kind:          kind,
			})
		}
	}
	SortClaims(res)
	return res
}

// deduct moves as much of penalty as possible out of amount.
func deduct(amount, penalty *big.Int) {
	if amount.Cmp(penalty) >= 0 {
		amount.Sub(amount, penalty)
		penalty.SetUint64(0)
		return
	}
	penalty.Sub(penalty, amount)
	amount.SetUint64(0)
}

// SortClaims orders claims by beneficiary, currency and kind.
func SortClaims(claims []Claim) {
	sort.Slice(claims, func(i, j int) bool {
		a, b := &claims[i], &claims[j]
		if c := bytes.Compare(a.Beneficiary[:], b.Beneficiary[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a.Currency[:], b.Currency[:]); c != 0 {
			return c < 0
		}
		return a.Kind < b.Kind
	})
}

// AssertConservation checks that fixed and weighted claims pay out exactly
// the offered amount of every currency. Penalty claims are not counted.
func AssertConservation(offers []Offer, claims []Claim) error {
	offered := make(map[common.Address]*big.Int)
	for _, o := range offers {
		addTo(offered, o.Currency, o.Amount)
	}
	claimed := make(map[common.Address]*big.Int)
	for _, c := range claims {
		if c.Kind == Penalty {
			continue
		}
		addTo(claimed, c.Currency, c.Amount)
	}
	for currency, amount := range offered {
		if amount.Sign() == 0 {
			delete(offered, currency)
		}
	}
	if len(offered) != len(claimed) {
		return fmt.Errorf("%w: %d offered currencies, %d claimed", ErrConservationViolation, len(offered), len(claimed))
	}
	for currency, amount := range offered {
		got, ok := claimed[currency]
		if !ok || got.Cmp(amount) != 0 {
			return fmt.Errorf("%w: currency %s offered %s, claimed %v", ErrConservationViolation, currency, amount, got)
		}
	}
	return nil
}

func addTo(totals map[common.Address]*big.Int, currency common.Address, amount *big.Int) {
	if t, ok := totals[currency]; ok {
		t.Add(t, amount)
		return
	}
	totals[currency] = new(big.Int).Set(amount)
}

package rewards

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/protocol"
)

var burn = protocol.DefaultRewardRules().BurnAddress

func claim(beneficiary common.Address, cur common.Address, amount int64, kind ClaimKind) Claim {
	return Claim{RewardEpochID: 1, Beneficiary: beneficiary, Currency: cur, Amount: big.NewInt(amount), Kind: kind}
}

func TestMergeClaims(t *testing.T) {
	a, b := identity(0), identity(1)
	other := common.HexToAddress("0xfee")
	claims := []Claim{
		claim(a, currency, 60, Fixed),
		claim(a, currency, 40, Fixed),
		claim(a, currency, 50, Weighted),
		claim(a, currency, 120, Penalty),
		claim(b, currency, 10, Fixed),
		claim(b, currency, 30, Penalty),
		claim(b, other, 5, Weighted),
	}
	claims[3].VotingRoundID = 17

	merged := MergeClaims(claims, burn)
	got := make(map[common.Address]map[common.Address]map[ClaimKind]int64)
	for _, c := range merged {
		require.Equal(t, inter.VotingRoundID(17), c.VotingRoundID)
		require.Equal(t, inter.RewardEpochID(1), c.RewardEpochID)
		require.Positive(t, c.Amount.Sign())
		if got[c.Beneficiary] == nil {
			got[c.Beneficiary] = make(map[common.Address]map[ClaimKind]int64)
		}
		if got[c.Beneficiary][c.Currency] == nil {
			got[c.Beneficiary][c.Currency] = make(map[ClaimKind]int64)
		}
		got[c.Beneficiary][c.Currency][c.Kind] = c.Amount.Int64()
	}

	// fixed first, then weighted
	require.Equal(t, map[ClaimKind]int64{Weighted: 30}, got[a][currency])
	// 10 taken, 20 left over
	require.Equal(t, map[ClaimKind]int64{Penalty: 20}, got[b][currency])
	require.Equal(t, map[ClaimKind]int64{Weighted: 5}, got[b][other])
	require.Equal(t, map[ClaimKind]int64{Fixed: 130}, got[burn][currency])
	require.Len(t, merged, 4)

	// input untouched
	require.Equal(t, int64(60), claims[0].Amount.Int64())
	require.Equal(t, int64(120), claims[3].Amount.Int64())
}

func TestMergeClaimsSorted(t *testing.T) {
	merged := MergeClaims([]Claim{
		claim(identity(2), currency, 1, Weighted),
		claim(identity(1), currency, 1, Weighted),
		claim(identity(1), currency, 1, Fixed),
	}, burn)
	require.Len(t, merged, 3)
	require.Equal(t, identity(1), merged[0].Beneficiary)
	require.Equal(t, Fixed, merged[0].Kind)
	require.Equal(t, Weighted, merged[1].Kind)
	require.Equal(t, identity(2), merged[2].Beneficiary)
	require.Nil(t, MergeClaims(nil, burn))
}

func TestAssertConservation(t *testing.T) {
	offers := []Offer{testOffer(100), testOffer(50)}
	for _, tt := range []struct {
		name   string
		claims []Claim
		ok     bool
	}{
		{"exact", []Claim{claim(identity(0), currency, 140, Fixed), claim(identity(1), currency, 10, Weighted)}, true},
		{"penalties ignored", []Claim{claim(identity(0), currency, 150, Fixed), claim(identity(0), currency, 9, Penalty)}, true},
		{"short", []Claim{claim(identity(0), currency, 149, Fixed)}, false},
		{"wrong currency", []Claim{claim(identity(0), currency, 150, Fixed), claim(identity(0), burn, 1, Fixed)}, false},
		{"nothing claimed", nil, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertConservation(offers, tt.claims)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrConservationViolation)
			}
		})
	}
}

func TestClaimHash(t *testing.T) {
	c := claim(identity(0), currency, 100, Fixed)
	require.Equal(t, c.Hash(), claim(identity(0), currency, 100, Fixed).Hash())
	w := c
	w.Kind = Weighted
	require.NotEqual(t, c.Hash(), w.Hash())
	e := c
	e.RewardEpochID = 2
	require.NotEqual(t, c.Hash(), e.Hash())
}

func TestCalculateClaimsSplit(t *testing.T) {
	rules := protocol.DefaultRewardRules()
	finalizer := common.HexToAddress("0xf1")
	m := median(10, 20, 30, 40)
	base := RoundInput{
		VotingRoundID: 5,
		Offers:        []Offer{testOffer(10003)},
		Medians:       []calculator.MedianCalculationResult{m},
		VoterWeights:  voters(4, 0),
	}

	t.Run("finalized", func(t *testing.T) {
		in := base
		in.Finalizer = &finalizer
		in.Signers = []common.Address{identity(3), identity(0), identity(1)}
		claims, err := CalculateClaims(rules, &in)
		require.NoError(t, err)
		require.NoError(t, AssertConservation(in.Offers, claims))
		got := amounts(claims)
		// 1000 for signing split in three, the first takes the remainder
		require.Equal(t, int64(334), got[identity(3)][Fixed])
		require.Equal(t, int64(333), got[identity(0)][Fixed])
		require.Equal(t, int64(1000), got[finalizer][Fixed])
		// median share 8003 goes to the IQR voters 1 and 2
		require.Equal(t, int64(8003+333), got[identity(1)][Weighted]+got[identity(2)][Weighted]+got[identity(1)][Fixed])
	})

	t.Run("no signers", func(t *testing.T) {
		in := base
		in.Finalizer = &finalizer
		claims, err := CalculateClaims(rules, &in)
		require.NoError(t, err)
		require.NoError(t, AssertConservation(in.Offers, claims))
		require.Equal(t, int64(1000), amounts(claims)[claimer][Fixed])
	})

	t.Run("not finalized", func(t *testing.T) {
		claims, err := CalculateClaims(rules, &base)
		require.NoError(t, err)
		got := amounts(claims)
		require.NotContains(t, got, claimer)
		require.Equal(t, int64(10003), got[identity(1)][Weighted]+got[identity(2)][Weighted])
	})

	t.Run("low turnout", func(t *testing.T) {
		in := base
		in.Offers = []Offer{testOffer(10003)}
		in.Offers[0].MinRewardedTurnoutBIPS = 9000
		in.VoterWeights = voters(5, 0) // the fifth voter did not reveal
		claims, err := CalculateClaims(rules, &in)
		require.NoError(t, err)
		require.Len(t, claims, 1)
		require.Equal(t, claimer, claims[0].Beneficiary)
	})

	t.Run("penalty", func(t *testing.T) {
		in := base
		in.Offenders = []common.Address{submit(3)}
		claims, err := CalculateClaims(rules, &in)
		require.NoError(t, err)
		// 10003 * 100 / 400 * 10
		require.Equal(t, int64(25000), amounts(claims)[identity(3)][Penalty])
		require.NoError(t, AssertConservation(in.Offers, claims))
	})

	t.Run("unknown offender", func(t *testing.T) {
		in := base
		in.Offenders = []common.Address{submit(9)}
		_, err := CalculateClaims(rules, &in)
		require.Error(t, err)
	})

	t.Run("missing median", func(t *testing.T) {
		in := base
		in.Medians = nil
		_, err := CalculateClaims(rules, &in)
		require.Error(t, err)
	})
}

func TestConservationProperty(t *testing.T) {
	rules := protocol.DefaultRewardRules()
	currencies := []common.Address{currency, NativeCurrency, common.HexToAddress("0xabc")}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "voters")
		weights := voters(n, uint16(rapid.IntRange(0, 10000).Draw(t, "fee")))
		values := make([]calculator.VoterValue, 0, n)
		for i := 0; i < n; i++ {
			w := rapid.Int64Range(0, 1_000_000).Draw(t, "weight")
			weights[submit(i)].CappedDelegationWeight = big.NewInt(w)
			if rapid.Bool().Draw(t, "revealed") {
				values = append(values, calculator.VoterValue{
					Voter:  submit(i),
					Weight: big.NewInt(w),
					Value:  rapid.Int32Range(-1000, 100000).Draw(t, "value"),
				})
			}
		}
		in := &RoundInput{
			VotingRoundID: 5,
			Medians:       []calculator.MedianCalculationResult{calculator.CalculateMedian(5, btc, values)},
			VoterWeights:  weights,
		}
		for i, k := 0, rapid.IntRange(1, 4).Draw(t, "offers"); i < k; i++ {
			o := testOffer(rapid.Int64Range(0, 1<<50).Draw(t, "amount"))
			o.Currency = rapid.SampledFrom(currencies).Draw(t, "currency")
			o.ElasticBandWidthPPM = uint64(rapid.IntRange(0, 1_000_000).Draw(t, "width"))
			o.MinRewardedTurnoutBIPS = uint16(rapid.IntRange(0, 10000).Draw(t, "turnout"))
			in.Offers = append(in.Offers, o)
		}
		if rapid.Bool().Draw(t, "finalized") {
			f := common.HexToAddress("0xf1")
			in.Finalizer = &f
			for i := 0; i < n; i++ {
				if rapid.Bool().Draw(t, "signed") {
					in.Signers = append(in.Signers, identity(i))
				}
			}
		}
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "offender") {
				in.Offenders = append(in.Offenders, submit(i))
			}
		}

		claims, err := CalculateClaims(rules, in)
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if err := AssertConservation(in.Offers, claims); err != nil {
			t.Fatalf("round claims: %v", err)
		}
		merged := MergeClaims(claims, rules.BurnAddress)
		if err := AssertConservation(in.Offers, merged); err != nil {
			t.Fatalf("merged claims: %v", err)
		}
		for _, c := range merged {
			if c.Amount.Sign() <= 0 {
				t.Fatalf("non positive merged claim %+v", c)
			}
		}
	})
}

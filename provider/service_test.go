package provider_test

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/datamanager"
	"github.com/rony4d/go-ftso-provider/integration"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/merkle"
	"github.com/rony4d/go-ftso-provider/pricefeed"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/provider"
	"github.com/rony4d/go-ftso-provider/registry"
	"github.com/rony4d/go-ftso-provider/rewards"
)

var (
	btc = inter.MustFeedName("BTC", "USDT")
	eth = inter.MustFeedName("ETH", "USDT")
	flr = inter.MustFeedName("FLR", "USDT")

	samplePrices = map[inter.FeedName]float64{btc: 38573.26, eth: 2175.12, flr: 0.02042}
)

type fixture struct {
	net      *integration.FakeNet
	registry *registry.Registry
	manager  *datamanager.DataManager
	rewards  *rewards.RewardEpochCalculator
	log      *logrus.Logger
}

// newFixture sets up reward epoch 1 (rounds 10..19) with n voters and an
// inflation offer over BTC, ETH and FLR.
func newFixture(t *testing.T, n int) *fixture {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	rules := protocol.FakeNetRules()
	net := integration.NewFakeNet(rules, integration.FakeVoters(n))
	require.NoError(t, net.SetupRewardEpoch(1, nil, []*contracts.InflationRewardsOffered{{
		FeedNames:              []inter.FeedName{btc, eth, flr},
		Decimals:               []int8{2, 2, 5},
		Amount:                 big.NewInt(3000000),
		SecondaryBandWidthPPMs: []uint32{10000, 10000, 10000},
	}}))
	client := ledger.NewIndexerClient(net.Store, net.Codec, rules, log)
	reg, err := registry.New(registry.DefaultConfig(), client, rules.Epochs, log)
	require.NoError(t, err)
	manager := datamanager.New(client, reg, rules, log)
	return &fixture{
		net:      net,
		registry: reg,
		manager:  manager,
		rewards:  rewards.NewRewardEpochCalculator(manager, reg, rules, 2, log),
		log:      log,
	}
}

func (f *fixture) service(t *testing.T, source pricefeed.Source) *provider.Service {
	s, err := provider.NewService(provider.DefaultConfig(), f.net.Rules, f.registry, f.manager, f.rewards, source, f.log)
	require.NoError(t, err)
	return s
}

func (f *fixture) services(t *testing.T) []*provider.Service {
	res := make([]*provider.Service, len(f.net.Voters))
	for i := range res {
		res[i] = f.service(t, pricefeed.NewStatic(samplePrices))
	}
	return res
}

// commit asks every service for a commit of round and sends it on chain
// one second into the round.
func (f *fixture) commit(t *testing.T, services []*provider.Service, round inter.VotingRoundID) {
	ts := f.net.Rules.Epochs.VotingRoundStart(round) + 1
	for i, v := range f.net.Voters {
		c, err := services[i].GetCommitData(context.Background(), round, v.Submit)
		require.NoError(t, err)
		require.NoError(t, f.net.SubmitTx(contracts.MethodSubmit1, v.Submit, ts, true, fsp.PayloadMessage{
			ProtocolID:    f.net.Rules.Protocol.ProtocolID,
			VotingRoundID: round,
			Payload:       c.Encode(),
		}))
	}
}

// reveal sends the reveals of round for every voter not in skip.
func (f *fixture) reveal(t *testing.T, services []*provider.Service, round inter.VotingRoundID, skip int) {
	ts := f.net.Rules.Epochs.VotingRoundStart(round+1) + 2
	for i, v := range f.net.Voters {
		if i < skip {
			continue
		}
		r, err := services[i].GetRevealData(context.Background(), round)
		require.NoError(t, err)
		require.NoError(t, f.net.SubmitTx(contracts.MethodSubmit2, v.Submit, ts, true, fsp.PayloadMessage{
			ProtocolID:    f.net.Rules.Protocol.ProtocolID,
			VotingRoundID: round,
			Payload:       r.Encode(),
		}))
	}
}

func (f *fixture) settle(round inter.VotingRoundID) {
	f.net.Advance(f.net.Rules.Epochs.RevealDeadline(round+1) + 1)
}

func TestCommitMatchesReveal(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1)
	s := f.service(t, pricefeed.NewStatic(samplePrices))
	ctx := context.Background()
	submit := common.HexToAddress("0x5eed")

	commit, err := s.GetCommitData(ctx, 10, submit)
	require.NoError(err)
	reveal, err := s.GetRevealData(ctx, 10)
	require.NoError(err)
	require.Equal(inter.CommitHash(submit, reveal.Random, reveal.EncodedValues), commit.CommitHash)

	epoch, err := f.registry.GetRewardEpoch(ctx, 10)
	require.NoError(err)
	values, err := inter.DecodeValues(reveal.EncodedValues, epoch.CanonicalFeedOrder())
	require.NoError(err)
	require.Len(values, 3)
	require.Equal(int32(3857326), values[0].Value)
	require.Equal(int32(2042), values[2].Value)

	// a second commit replaces the reveal
	again, err := s.GetCommitData(ctx, 10, submit)
	require.NoError(err)
	require.NotEqual(commit.CommitHash, again.CommitHash)
	next, err := s.GetRevealData(ctx, 10)
	require.NoError(err)
	require.Equal(again.CommitHash, next.CommitHash(submit))

	_, err = s.GetRevealData(ctx, 11)
	require.ErrorIs(err, provider.ErrNoReveal)
}

func TestCommitUnknownRewardEpoch(t *testing.T) {
	f := newFixture(t, 1)
	s := f.service(t, pricefeed.NewStatic(samplePrices))
	_, err := s.GetCommitData(context.Background(), 25, common.HexToAddress("0x5eed"))
	require.ErrorIs(t, err, registry.ErrEpochNotFound)
}

func TestResultsSamePrices(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 10)
	services := f.services(t)
	ctx := context.Background()
	const round = 10

	f.commit(t, services, round)
	f.reveal(t, services, round, 0)

	_, err := services[0].GetResultData(ctx, round)
	require.ErrorIs(err, provider.ErrNotReady)

	f.settle(round)
	roots := make(map[common.Hash]struct{})
	for _, s := range services {
		res, err := s.GetResultData(ctx, round)
		require.NoError(err)
		require.Equal(ledger.OK, res.Status)
		require.Equal(inter.VotingRoundID(round), res.Result.VotingRoundID)
		require.True(res.Result.Random.IsSecure)
		roots[res.Result.MerkleRoot] = struct{}{}

		require.Len(res.Result.Medians, 3)
		require.Equal(int32(3857326), res.Result.Medians[0].Data.FinalMedianPrice.Value)
		require.Equal(int32(217512), res.Result.Medians[1].Data.FinalMedianPrice.Value)
	}
	require.Len(roots, 1)

	// cached results are shared
	a, _ := services[0].GetResultData(ctx, round)
	b, _ := services[0].GetResultData(ctx, round)
	require.Same(a, b)
}

func TestResultBenching(t *testing.T) {
	for _, tt := range []struct {
		name       string
		voters     int
		missed     int
		lastSecure bool
	}{
		{"no missed reveals", 10, 0, true},
		{"minority benched", 10, 3, true},
		{"fewer than two non-benched revealers", 5, 4, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			f := newFixture(t, tt.voters)
			services := f.services(t)
			ctx := context.Background()
			const round = 11

			f.commit(t, services, round)
			f.commit(t, services, round+1)
			f.reveal(t, services, round, tt.missed)
			f.settle(round)
			for _, s := range services {
				res, err := s.GetResultData(ctx, round)
				require.NoError(err)
				require.Equal(tt.missed == 0, res.Result.Random.IsSecure)
			}

			f.reveal(t, services, round+1, 0)
			f.settle(round + 1)
			for _, s := range services {
				res, err := s.GetResultData(ctx, round+1)
				require.NoError(err)
				require.Equal(tt.lastSecure, res.Result.Random.IsSecure)
			}
		})
	}
}

func TestRewardClaimsWithProof(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4)
	s := f.service(t, pricefeed.NewStatic(samplePrices))
	ctx := context.Background()
	v := f.net.Voters
	epochs := f.net.Rules.Epochs
	values := func(i int) []*int32 {
		return []*int32{pricefeed.Scale(38573.26, 2), pricefeed.Scale(2175.12, 2), pricefeed.Scale(0.02042, 5)}
	}
	for round := inter.VotingRoundID(10); round < 20; round++ {
		require.NoError(f.net.Vote(round, values))
	}
	// reward epoch 1 ends where reward epoch 2 starts
	_, err := s.GetRewardClaimsWithProof(ctx, 1, v[0].Identity)
	require.ErrorIs(err, rewards.ErrDataNotAvailable)
	require.NoError(f.net.SetupRewardEpoch(2, nil, nil))

	f.net.Advance(epochs.VotingRoundEnd(19))
	_, err = s.GetRewardClaimsWithProof(ctx, 1, v[0].Identity)
	require.ErrorIs(err, rewards.ErrDataNotAvailable)

	f.net.Advance(epochs.VotingRoundEnd(20))
	claims, err := s.GetRewardClaimsWithProof(ctx, 1, v[0].Identity)
	require.NoError(err)
	require.NotEmpty(claims)

	res, err := s.GetRewardEpochClaims(ctx, 1)
	require.NoError(err)
	root, ok := res.Tree.Root()
	require.True(ok)
	for _, c := range claims {
		require.Equal(v[0].Identity, c.Body.Beneficiary)
		require.True(merkle.Verify(c.Body.Hash(), c.MerkleProof, root))
	}

	again, err := s.GetRewardEpochClaims(ctx, 1)
	require.NoError(err)
	require.Same(res, again)

	none, err := s.GetRewardClaimsWithProof(ctx, 1, common.HexToAddress("0xdead"))
	require.NoError(err)
	require.Empty(none)
}

// gatedClaims holds every calculation until release is closed and fails
// calculations whose context is done by then.
type gatedClaims struct {
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func (g *gatedClaims) CalculateEpochClaims(ctx context.Context, id inter.RewardEpochID) (*rewards.EpochResult, error) {
	atomic.AddInt32(&g.calls, 1)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &rewards.EpochResult{RewardEpochID: id}, nil
}

func TestRewardEpochClaimsOutliveCanceledCaller(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1)
	claims := &gatedClaims{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s, err := provider.NewService(provider.DefaultConfig(), f.net.Rules, f.registry, f.manager, claims, pricefeed.NewStatic(samplePrices), f.log)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.GetRewardEpochClaims(ctx, 1)
		errc <- err
	}()
	<-claims.entered
	cancel()
	require.ErrorIs(<-errc, context.Canceled)
	close(claims.release)

	// the calculation started for the canceled caller completes and is cached
	res, err := s.GetRewardEpochClaims(context.Background(), 1)
	require.NoError(err)
	require.Equal(inter.RewardEpochID(1), res.RewardEpochID)
	require.Equal(int32(1), atomic.LoadInt32(&claims.calls))
}

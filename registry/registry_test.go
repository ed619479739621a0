package registry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/protocol"
)

var (
	btc = inter.MustFeedName("BTC", "USD")
	eth = inter.MustFeedName("ETH", "USD")
	flr = inter.MustFeedName("FLR", "USD")
	xrp = inter.MustFeedName("XRP", "USD")
)

func addr(kind, i byte) common.Address {
	var a common.Address
	a[0] = kind
	a[19] = i
	return a
}

// testEvents builds a consistent setup of reward epoch id with n voters.
// Voter i has identity 0x01..i, signer 0x02..i, submit 0x03..i,
// submitSignatures 0x04..i and delegation 0x05..i.
func testEvents(id inter.RewardEpochID, n int) *ledger.RewardEpochEvents {
	ev := &ledger.RewardEpochEvents{
		PreviousRewardEpochStarted: &contracts.RewardEpochStarted{RewardEpochID: id - 1, StartVotingRoundID: inter.VotingRoundID(id-1) * 10},
		RandomAcquisitionStarted:   &contracts.RandomAcquisitionStarted{RewardEpochID: id},
		VotePowerBlockSelected:     &contracts.VotePowerBlockSelected{RewardEpochID: id, VotePowerBlock: 123},
		SigningPolicyInitialized: &contracts.SigningPolicyInitialized{
			RewardEpochID:      id,
			StartVotingRoundID: inter.VotingRoundID(id) * 10,
			Threshold:          uint16(n * 50),
			Seed:               big.NewInt(int64(id)),
		},
		RewardOffers: []*contracts.RewardsOffered{
			{RewardEpochID: id, FeedName: eth, Decimals: 3, Amount: big.NewInt(500)},
			{RewardEpochID: id, FeedName: xrp, Decimals: 5, Amount: big.NewInt(700)},
			{RewardEpochID: id, FeedName: btc, Decimals: 2, Amount: big.NewInt(100)},
		},
		InflationOffers: []*contracts.InflationRewardsOffered{{
			RewardEpochID:          id,
			FeedNames:              []inter.FeedName{flr, btc},
			Decimals:               []int8{7, 2},
			Amount:                 big.NewInt(10000),
			SecondaryBandWidthPPMs: []uint32{10000, 10000},
		}},
	}
	for i := 1; i <= n; i++ {
		b := byte(i)
		ev.SigningPolicyInitialized.Voters = append(ev.SigningPolicyInitialized.Voters, addr(2, b))
		ev.SigningPolicyInitialized.Weights = append(ev.SigningPolicyInitialized.Weights, uint16(100*i))
		ev.VoterRegistered = append(ev.VoterRegistered, &contracts.VoterRegistered{
			Voter:                   addr(1, b),
			RewardEpochID:           id,
			SigningPolicyAddress:    addr(2, b),
			SubmitAddress:           addr(3, b),
			SubmitSignaturesAddress: addr(4, b),
			RegistrationWeight:      big.NewInt(int64(i)),
		})
		ev.VoterRegistrationInfo = append(ev.VoterRegistrationInfo, &contracts.VoterRegistrationInfo{
			Voter:             addr(1, b),
			RewardEpochID:     id,
			DelegationAddress: addr(5, b),
			DelegationFeeBIPS: uint16(100 * i),
			WNatWeight:        big.NewInt(int64(2000 * i)),
			WNatCappedWeight:  big.NewInt(int64(1000 * i)),
		})
	}
	return ev
}

func TestNewRewardEpoch(t *testing.T) {
	require := require.New(t)
	e, err := NewRewardEpoch(testEvents(3, 3))
	require.NoError(err)

	require.Equal(inter.RewardEpochID(3), e.ID())
	require.Equal(inter.VotingRoundID(30), e.StartVotingRoundID())
	require.Equal(uint64(123), e.VotePowerBlock())
	require.Equal(uint64(600), e.TotalSigningWeight())
	require.Equal([]common.Address{addr(3, 1), addr(3, 2), addr(3, 3)}, e.OrderedSubmitAddresses())

	require.True(e.IsEligibleSubmitAddress(addr(3, 2)))
	require.False(e.IsEligibleSubmitAddress(addr(1, 2)))
	require.True(e.IsEligibleSigner(addr(2, 3)))
	require.False(e.IsEligibleSigner(addr(3, 3)))

	w, ok := e.MedianVotingWeight(addr(3, 2))
	require.True(ok)
	require.Equal(int64(2000), w.Int64())
	w.SetInt64(0) // callers get a copy
	w, _ = e.MedianVotingWeight(addr(3, 2))
	require.Equal(int64(2000), w.Int64())

	voter, ok := e.VoterForSigner(addr(2, 1))
	require.True(ok)
	require.Equal(addr(1, 1), voter)
	index, ok := e.SignerIndex(addr(2, 3))
	require.True(ok)
	require.Equal(2, index)
	weight, ok := e.SignerWeight(addr(2, 3))
	require.True(ok)
	require.Equal(uint16(300), weight)
	_, ok = e.VoterForSigner(addr(4, 1))
	require.False(ok)
	capped, ok := e.DelegationCappedWeight(addr(5, 1))
	require.True(ok)
	require.Equal(int64(1000), capped.Int64())

	weights := e.VoterWeights()
	require.Len(weights, 3)
	require.Equal(addr(1, 2), weights[addr(3, 2)].Identity)
	require.Equal(uint16(200), weights[addr(3, 2)].FeeBIPS)
	require.Equal(int64(4000), weights[addr(3, 2)].DelegationWeight.Int64())

	hash, err := e.SigningPolicy().Hash()
	require.NoError(err)
	require.Equal(hash, e.SigningPolicyHash())
	require.Len(e.RewardOffers(), 3)
}

// TestCanonicalFeedOrder checks that inflation feeds come first and that the
// rest are sorted by offered value, then by name.
func TestCanonicalFeedOrder(t *testing.T) {
	e, err := NewRewardEpoch(testEvents(1, 1))
	require.NoError(t, err)
	require.Equal(t, []inter.Feed{
		{Name: btc, Decimals: 2}, // inflation, community value 100
		{Name: flr, Decimals: 7}, // inflation, no community value
		{Name: xrp, Decimals: 5},
		{Name: eth, Decimals: 3},
	}, e.CanonicalFeedOrder())

	// equal values fall back to name order
	ev := testEvents(1, 1)
	ev.InflationOffers = nil
	ev.RewardOffers[0].Amount = big.NewInt(700)
	e, err = NewRewardEpoch(ev)
	require.NoError(t, err)
	require.Equal(t, []inter.Feed{
		{Name: eth, Decimals: 3},
		{Name: xrp, Decimals: 5},
		{Name: btc, Decimals: 2},
	}, e.CanonicalFeedOrder())
}

func TestNewRewardEpochInconsistencies(t *testing.T) {
	for _, tt := range []struct {
		name   string
		modify func(ev *ledger.RewardEpochEvents)
		want   error
	}{
		{"previous epoch", func(ev *ledger.RewardEpochEvents) { ev.PreviousRewardEpochStarted.RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"random acquisition", func(ev *ledger.RewardEpochEvents) { ev.RandomAcquisitionStarted.RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"reward offer", func(ev *ledger.RewardEpochEvents) { ev.RewardOffers[1].RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"inflation offer", func(ev *ledger.RewardEpochEvents) { ev.InflationOffers[0].RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"vote power block", func(ev *ledger.RewardEpochEvents) { ev.VotePowerBlockSelected.RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"voter registered", func(ev *ledger.RewardEpochEvents) { ev.VoterRegistered[0].RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"registration info", func(ev *ledger.RewardEpochEvents) { ev.VoterRegistrationInfo[1].RewardEpochID = 5 }, ErrCriticalInconsistency},
		{"unregistered signer", func(ev *ledger.RewardEpochEvents) { ev.VoterRegistered = ev.VoterRegistered[1:] }, ErrCriticalInconsistency},
		{"signer without info", func(ev *ledger.RewardEpochEvents) { ev.VoterRegistrationInfo = ev.VoterRegistrationInfo[:1] }, ErrCriticalInconsistency},
		{"missing events", func(ev *ledger.RewardEpochEvents) { ev.VotePowerBlockSelected = nil }, ErrEpochNotFound},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ev := testEvents(2, 2)
			tt.modify(ev)
			_, err := NewRewardEpoch(ev)
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

type fakeSource struct {
	mu     sync.Mutex
	events map[inter.RewardEpochID]*ledger.RewardEpochEvents
	calls  int32
}

func (s *fakeSource) GetEndOfRewardEpochEvents(_ context.Context, id inter.RewardEpochID) (ledger.Response[*ledger.RewardEpochEvents], error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ledger.Response[*ledger.RewardEpochEvents]{Status: ledger.NotOK}, nil
	}
	return ledger.Response[*ledger.RewardEpochEvents]{Status: ledger.OK, Data: ev}, nil
}

// gatedSource holds every query until release is closed and fails queries
// whose context is done by then.
type gatedSource struct {
	EventSource
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSource) GetEndOfRewardEpochEvents(ctx context.Context, id inter.RewardEpochID) (ledger.Response[*ledger.RewardEpochEvents], error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	if err := ctx.Err(); err != nil {
		return ledger.Response[*ledger.RewardEpochEvents]{}, err
	}
	return s.EventSource.GetEndOfRewardEpochEvents(ctx, id)
}

func newTestRegistry(t *testing.T, size int, source EventSource) *Registry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	epochs := protocol.EpochSettings{
		FirstVotingRoundStartSec:          1000,
		VotingEpochDurationSec:            20,
		RewardEpochDurationInVotingEpochs: 10,
		RevealDeadlineSec:                 10,
	}
	r, err := New(Config{HistorySize: size}, source, epochs, log)
	require.NoError(t, err)
	return r
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{events: map[inter.RewardEpochID]*ledger.RewardEpochEvents{
		1: testEvents(1, 2),
		2: testEvents(2, 2),
		3: testEvents(3, 2),
	}}
	// epoch 2 started two rounds late
	source.events[2].SigningPolicyInitialized.StartVotingRoundID = 22

	t.Run("resolve rounds", func(t *testing.T) {
		require := require.New(t)
		r := newTestRegistry(t, 4, source)
		for _, tt := range []struct {
			round inter.VotingRoundID
			want  inter.RewardEpochID
		}{
			{10, 1}, {19, 1}, {20, 1}, {21, 1}, {22, 2}, {29, 2}, {30, 3},
		} {
			e, err := r.GetRewardEpoch(ctx, tt.round)
			require.NoError(err)
			require.Equal(tt.want, e.ID(), "round %d", tt.round)
		}

		_, err := r.GetRewardEpoch(ctx, 45)
		require.ErrorIs(err, ErrEpochNotFound)
	})

	t.Run("cache and retire", func(t *testing.T) {
		require := require.New(t)
		atomic.StoreInt32(&source.calls, 0)
		r := newTestRegistry(t, 2, source)

		a, err := r.GetRewardEpochByID(ctx, 1)
		require.NoError(err)
		b, err := r.GetRewardEpochByID(ctx, 1)
		require.NoError(err)
		require.Same(a, b)
		require.Equal(int32(1), atomic.LoadInt32(&source.calls))

		_, err = r.GetRewardEpochByID(ctx, 2)
		require.NoError(err)
		_, err = r.GetRewardEpochByID(ctx, 3)
		require.NoError(err)
		// the cache holds two epochs, the oldest was evicted
		require.False(r.Cached(1))
		require.True(r.Cached(2))

		r.RetireBefore(3)
		require.False(r.Cached(2))
		require.True(r.Cached(3))
		r.Retire(3)
		require.False(r.Cached(3))
	})

	t.Run("single flight", func(t *testing.T) {
		atomic.StoreInt32(&source.calls, 0)
		r := newTestRegistry(t, 4, source)
		var wg sync.WaitGroup
		results := make([]*RewardEpoch, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e, err := r.GetRewardEpochByID(ctx, 3)
				if err == nil {
					results[i] = e
				}
			}(i)
		}
		wg.Wait()
		for _, e := range results {
			require.Same(t, results[0], e)
		}
		require.LessOrEqual(t, atomic.LoadInt32(&source.calls), int32(len(results)))
	})

	t.Run("canceled caller", func(t *testing.T) {
		gated := &gatedSource{EventSource: source, entered: make(chan struct{}, 1), release: make(chan struct{})}
		r := newTestRegistry(t, 4, gated)
		cctx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() {
			_, err := r.GetRewardEpochByID(cctx, 1)
			errc <- err
		}()
		<-gated.entered
		cancel()
		require.ErrorIs(t, <-errc, context.Canceled)

		// the shared build outlives the caller that started it
		close(gated.release)
		e, err := r.GetRewardEpochByID(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, inter.RewardEpochID(1), e.ID())
		require.True(t, r.Cached(1))
	})

	t.Run("inconsistent", func(t *testing.T) {
		bad := testEvents(4, 2)
		bad.VoterRegistered = nil
		r := newTestRegistry(t, 4, &fakeSource{events: map[inter.RewardEpochID]*ledger.RewardEpochEvents{4: bad}})
		_, err := r.GetRewardEpochByID(ctx, 4)
		require.ErrorIs(t, err, ErrCriticalInconsistency)
		require.False(t, r.Cached(4))
	})
}

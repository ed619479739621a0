package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/rewards"
)

type fakeJobs struct {
	ready     inter.VotingRoundID
	settled   map[inter.RewardEpochID]bool
	resultErr error
	rounds    []inter.VotingRoundID
	epochs    []inter.RewardEpochID
}

func (j *fakeJobs) GetResultData(_ context.Context, round inter.VotingRoundID) (*ResultData, error) {
	if j.resultErr != nil {
		return nil, j.resultErr
	}
	if round > j.ready {
		return nil, fmt.Errorf("%w: round %d", ErrNotReady, round)
	}
	j.rounds = append(j.rounds, round)
	return &ResultData{Status: ledger.OK, Result: &calculator.RoundResult{VotingRoundID: round}}, nil
}

func (j *fakeJobs) GetRewardEpochClaims(_ context.Context, id inter.RewardEpochID) (*rewards.EpochResult, error) {
	j.epochs = append(j.epochs, id)
	if !j.settled[id] {
		return nil, fmt.Errorf("%w: epoch %d", rewards.ErrDataNotAvailable, id)
	}
	return &rewards.EpochResult{RewardEpochID: id, Tree: rewards.NewClaimTree(nil)}, nil
}

type fakeRetirer struct {
	before []inter.RewardEpochID
}

func (r *fakeRetirer) RetireBefore(id inter.RewardEpochID) {
	r.before = append(r.before, id)
}

func newTestScheduler(jobs Jobs) (*Scheduler, *fakeRetirer) {
	retirer := &fakeRetirer{}
	rules := protocol.FakeNetRules()
	return NewScheduler(DefaultSchedulerConfig(), jobs, retirer, rules, nil), retirer
}

func TestSchedulerResults(t *testing.T) {
	require := require.New(t)
	jobs := &fakeJobs{ready: 10}
	s, _ := newTestScheduler(jobs)
	ctx := context.Background()

	require.NoError(s.Tick(ctx, 1))
	require.Empty(jobs.rounds)

	require.NoError(s.Tick(ctx, 12))
	require.Equal([]inter.VotingRoundID{10}, jobs.rounds)

	// round 11 is not indexed yet and is retried on the next tick
	require.NoError(s.Tick(ctx, 13))
	require.Equal([]inter.VotingRoundID{10}, jobs.rounds)
	jobs.ready = 20
	require.NoError(s.Tick(ctx, 14))
	require.Equal([]inter.VotingRoundID{10, 11, 12}, jobs.rounds)

	// a long gap is not caught up round by round; round 28 is not indexed yet
	jobs.ready = 25
	require.NoError(s.Tick(ctx, 30))
	require.Equal([]inter.VotingRoundID{10, 11, 12}, jobs.rounds)

	// the unready round is picked up on a later tick
	jobs.ready = 40
	require.NoError(s.Tick(ctx, 31))
	require.Equal([]inter.VotingRoundID{10, 11, 12, 28, 29}, jobs.rounds)

	jobs.resultErr = errors.New("boom")
	require.Error(s.Tick(ctx, 32))
}

func TestSchedulerRewards(t *testing.T) {
	require := require.New(t)
	jobs := &fakeJobs{ready: 1000, settled: map[inter.RewardEpochID]bool{}}
	s, retirer := newTestScheduler(jobs)
	ctx := context.Background()

	// the last round of epoch 1 is 19; its window closes at the start of round 21
	for round := inter.VotingRoundID(15); round <= 20; round++ {
		require.NoError(s.Tick(ctx, round))
	}
	require.Empty(jobs.epochs)

	require.NoError(s.Tick(ctx, 21))
	require.Equal([]inter.RewardEpochID{1}, jobs.epochs)
	require.Equal([]inter.RewardEpochID{1}, s.Pending())

	jobs.settled[1] = true
	require.NoError(s.Tick(ctx, 22))
	require.Empty(s.Pending())
	require.Equal([]inter.RewardEpochID{1, 1}, jobs.epochs)

	// epoch 0 is never rewarded
	s2, _ := newTestScheduler(&fakeJobs{ready: 1000})
	require.NoError(s2.Tick(ctx, 11))
	require.Empty(s2.Pending())

	// snapshots older than the previous epoch are dropped
	require.NoError(s.Tick(ctx, 32))
	require.Equal(inter.RewardEpochID(2), retirer.before[len(retirer.before)-1])
}

func TestSchedulerRetireKeepsPending(t *testing.T) {
	jobs := &fakeJobs{ready: 1000, settled: map[inter.RewardEpochID]bool{}}
	s, retirer := newTestScheduler(jobs)
	require.NoError(t, s.Tick(context.Background(), 21))
	require.NoError(t, s.Tick(context.Background(), 42))
	require.Equal(t, []inter.RewardEpochID{1}, s.Pending())
	require.Equal(t, inter.RewardEpochID(1), retirer.before[len(retirer.before)-1])
}

func TestSchedulerRun(t *testing.T) {
	jobs := &fakeJobs{ready: 1000}
	s, _ := newTestScheduler(jobs)
	rules := protocol.FakeNetRules()
	s.SetClock(func() time.Time {
		return time.Unix(int64(rules.Epochs.VotingRoundStart(12)), 0)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
	require.Equal(t, []inter.VotingRoundID{10}, jobs.rounds)
}

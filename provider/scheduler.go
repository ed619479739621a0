package provider

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
	"github.com/rony4d/go-ftso-provider/rewards"
)

// maxCatchUp bounds the number of past rounds a single tick computes.
const maxCatchUp = 10

// Jobs is the work the scheduler drives. *Service implements it.
type Jobs interface {
	GetResultData(ctx context.Context, round inter.VotingRoundID) (*ResultData, error)
	GetRewardEpochClaims(ctx context.Context, id inter.RewardEpochID) (*rewards.EpochResult, error)
}

// Retirer drops reward epoch snapshots. *registry.Registry implements it.
type Retirer interface {
	RetireBefore(id inter.RewardEpochID)
}

// SchedulerConfig configures the per round loop.
type SchedulerConfig struct {
	// TickDelay is waited after every round start so the indexer can catch up.
	TickDelay time.Duration `yaml:"tickDelay"`
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{TickDelay: 2 * time.Second}
}

// Scheduler computes round results and reward claims once per voting round.
// Ticks run sequentially; a round whose data is not available is retried on
// the next tick.
type Scheduler struct {
	cfg     SchedulerConfig
	jobs    Jobs
	retirer Retirer
	rules   protocol.Rules
	now     func() time.Time

	next    inter.VotingRoundID
	pending map[inter.RewardEpochID]struct{}
	log     logrus.FieldLogger
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, jobs Jobs, retirer Retirer, rules protocol.Rules, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cfg:     cfg,
		jobs:    jobs,
		retirer: retirer,
		rules:   rules,
		now:     time.Now,
		pending: make(map[inter.RewardEpochID]struct{}),
		log:     log.WithField("module", "scheduler"),
	}
}

// SetClock replaces the wall clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Pending returns the reward epochs whose claims are still to be calculated.
func (s *Scheduler) Pending() []inter.RewardEpochID {
	res := make([]inter.RewardEpochID, 0, len(s.pending))
	for id := range s.pending {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Tick processes the rounds settled by the start of voting round current:
// results of round current-2 and earlier unprocessed rounds, then the claims
// of every reward epoch whose last rewarded round has settled.
func (s *Scheduler) Tick(ctx context.Context, current inter.VotingRoundID) error {
	if current < 2 {
		return nil
	}
	target := current - 2
	if s.next == 0 || s.next > target+1 || s.next+maxCatchUp <= target {
		s.next = target
	}
	for ; s.next <= target; s.next++ {
		res, err := s.jobs.GetResultData(ctx, s.next)
		switch {
		case errors.Is(err, ErrNotReady):
			metrics.RoundsProcessed.WithLabelValues("not_ready").Inc()
			s.log.WithField("round", s.next).Debug("Round data not indexed yet")
			return nil
		case err != nil:
			metrics.RoundsProcessed.WithLabelValues("error").Inc()
			return err
		}
		metrics.RoundsProcessed.WithLabelValues("ok").Inc()
		s.log.WithFields(logrus.Fields{
			"round":  s.next,
			"status": res.Status,
			"root":   res.Result.MerkleRoot,
			"secure": res.Result.Random.IsSecure,
		}).Info("Round result ready")
	}

	s.queueRewards(current)
	s.calculateRewards(ctx)
	s.retire(target)
	return nil
}

// queueRewards marks the reward epoch ending with the newest round whose
// signing and finalization window has closed.
func (s *Scheduler) queueRewards(current inter.VotingRoundID) {
	lag := 2 + inter.VotingRoundID(s.rules.Protocol.AdditionalRewardedFinalizationWindows)
	if current < lag {
		return
	}
	rewarded := current - lag
	epochs := s.rules.Epochs
	id, err := epochs.RewardEpochForVotingRound(rewarded)
	if err != nil {
		return
	}
	nextID, err := epochs.RewardEpochForVotingRound(rewarded + 1)
	if err != nil || nextID == id || id == 0 {
		return
	}
	s.pending[id] = struct{}{}
}

func (s *Scheduler) calculateRewards(ctx context.Context) {
	for _, id := range s.Pending() {
		res, err := s.jobs.GetRewardEpochClaims(ctx, id)
		switch {
		case errors.Is(err, rewards.ErrDataNotAvailable), errors.Is(err, registry.ErrEpochNotFound):
			s.log.WithField("rewardEpoch", id).WithError(err).Debug("Reward epoch not settled yet")
			continue
		case errors.Is(err, rewards.ErrConservationViolation), errors.Is(err, registry.ErrCriticalInconsistency):
			// deterministic, retrying cannot help
			delete(s.pending, id)
			s.log.WithField("rewardEpoch", id).WithError(err).Error("Reward calculation failed")
			continue
		case err != nil:
			s.log.WithField("rewardEpoch", id).WithError(err).Warn("Reward calculation failed, will retry")
			continue
		}
		delete(s.pending, id)
		root, _ := res.Tree.Root()
		s.log.WithFields(logrus.Fields{
			"rewardEpoch": id,
			"claims":      len(res.Claims),
			"root":        root,
		}).Info("Reward claims ready")
	}
}

// retire drops reward epochs older than the previous epoch of round, keeping
// any epoch with pending claims.
func (s *Scheduler) retire(round inter.VotingRoundID) {
	id, err := s.rules.Epochs.RewardEpochForVotingRound(round)
	if err != nil || id < 2 {
		return
	}
	keep := id - 1
	for p := range s.pending {
		if p < keep {
			keep = p
		}
	}
	s.retirer.RetireBefore(keep)
}

// Run ticks at every voting round start until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	epochs := s.rules.Epochs
	for {
		now := s.now()
		nextStart := epochs.FirstVotingRoundStartSec
		if round, err := epochs.VotingRoundForTime(uint64(now.Unix())); err == nil {
			if err := s.Tick(ctx, round); err != nil {
				s.log.WithField("round", round).WithError(err).Error("Scheduler tick failed")
			}
			nextStart = epochs.VotingRoundStart(round + 1)
		}
		timer := time.NewTimer(time.Unix(int64(nextStart), 0).Sub(s.now()) + s.cfg.TickDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

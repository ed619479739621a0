// Package registry builds and caches the per reward epoch snapshots every
// voting round calculation is validated against.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/protocol"
)

// EventSource provides the events that define a reward epoch.
// *ledger.IndexerClient implements it.
type EventSource interface {
	GetEndOfRewardEpochEvents(ctx context.Context, id inter.RewardEpochID) (ledger.Response[*ledger.RewardEpochEvents], error)
}

// Config bounds the registry's memory.
type Config struct {
	// HistorySize is the number of reward epoch snapshots kept in memory.
	HistorySize int `yaml:"historySize"`
}

// DefaultConfig keeps the current, the previous and the next reward epoch plus
// one spare for reward calculations running late.
func DefaultConfig() Config {
	return Config{HistorySize: 4}
}

// Registry resolves voting rounds to reward epoch snapshots. It is safe for
// concurrent use; concurrent requests for the same epoch share one build.
type Registry struct {
	source EventSource
	epochs protocol.EpochSettings
	cache  *lru.Cache
	builds singleflight.Group
	log    logrus.FieldLogger
}

// New creates a registry reading from source.
func New(cfg Config, source EventSource, epochs protocol.EpochSettings, log logrus.FieldLogger) (*Registry, error) {
	if cfg.HistorySize <= 0 {
		return nil, fmt.Errorf("history size must be positive, got %d", cfg.HistorySize)
	}
	cache, err := lru.New(cfg.HistorySize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		source: source,
		epochs: epochs,
		cache:  cache,
		log:    log.WithField("module", "registry"),
	}, nil
}

// GetRewardEpoch returns the snapshot of the reward epoch voting round id
// belongs to. A reward epoch whose start was delayed past its scheduled
// first round does not cover the rounds before its signing policy start;
// those still belong to the previous epoch.
func (r *Registry) GetRewardEpoch(ctx context.Context, round inter.VotingRoundID) (*RewardEpoch, error) {
	id, err := r.epochs.RewardEpochForVotingRound(round)
	if err != nil {
		return nil, err
	}
	epoch, err := r.GetRewardEpochByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if round < epoch.StartVotingRoundID() && id > 0 {
		return r.GetRewardEpochByID(ctx, id-1)
	}
	return epoch, nil
}

// GetRewardEpochByID returns the snapshot of reward epoch id, building it on
// first use.
func (r *Registry) GetRewardEpochByID(ctx context.Context, id inter.RewardEpochID) (*RewardEpoch, error) {
	if v, ok := r.cache.Get(id); ok {
		return v.(*RewardEpoch), nil
	}
	// the build is shared, so one caller giving up must not fail the others
	build := context.WithoutCancel(ctx)
	ch := r.builds.DoChan(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		if v, ok := r.cache.Get(id); ok {
			return v, nil
		}
		epoch, err := r.build(build, id)
		if err != nil {
			return nil, err
		}
		r.cache.Add(id, epoch)
		metrics.CachedRewardEpochs.Set(float64(r.cache.Len()))
		return epoch, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RewardEpoch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) build(ctx context.Context, id inter.RewardEpochID) (*RewardEpoch, error) {
	res, err := r.source.GetEndOfRewardEpochEvents(ctx, id)
	if err != nil {
		metrics.RewardEpochBuilds.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reward epoch %d events: %w", id, err)
	}
	if res.Status != ledger.OK {
		metrics.RewardEpochBuilds.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: reward epoch %d", ErrEpochNotFound, id)
	}
	epoch, err := NewRewardEpoch(res.Data)
	switch {
	case errors.Is(err, ErrCriticalInconsistency):
		metrics.RewardEpochBuilds.WithLabelValues("inconsistent").Inc()
		r.log.WithFields(logrus.Fields{
			"rewardEpoch": id,
		}).WithError(err).Error("Indexed reward epoch events are inconsistent")
		return nil, err
	case err != nil:
		metrics.RewardEpochBuilds.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RewardEpochBuilds.WithLabelValues("ok").Inc()
	r.log.WithFields(logrus.Fields{
		"rewardEpoch": id,
		"startRound":  epoch.StartVotingRoundID(),
		"voters":      len(epoch.orderedSubmitAddresses),
		"weight":      epoch.TotalSigningWeight(),
		"feeds":       len(epoch.feeds),
		"block":       epoch.VotePowerBlock(),
	}).Info("Reward epoch loaded")
	return epoch, nil
}

// Retire drops the snapshot of reward epoch id.
func (r *Registry) Retire(id inter.RewardEpochID) {
	r.cache.Remove(id)
	metrics.CachedRewardEpochs.Set(float64(r.cache.Len()))
}

// RetireBefore drops the snapshots of all reward epochs older than id.
func (r *Registry) RetireBefore(id inter.RewardEpochID) {
	for _, k := range r.cache.Keys() {
		if k.(inter.RewardEpochID) < id {
			r.cache.Remove(k)
		}
	}
	metrics.CachedRewardEpochs.Set(float64(r.cache.Len()))
}

// Cached reports whether the snapshot of reward epoch id is in memory.
func (r *Registry) Cached(id inter.RewardEpochID) bool {
	return r.cache.Contains(id)
}

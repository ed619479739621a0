// Package provider serves a voter's side of the FTSO protocol: it prepares
// commits and reveals from a price source, computes round results and
// reward claims on demand, and exposes them over HTTP.
package provider

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/datamanager"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/pricefeed"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
	"github.com/rony4d/go-ftso-provider/rewards"
)

var (
	// ErrNotReady means the indexer does not cover the voting round yet.
	ErrNotReady = errors.New("voting round data not available")
	// ErrNoReveal means no commit was prepared for the voting round.
	ErrNoReveal = errors.New("no commit prepared for voting round")
)

// Config bounds the service caches and sets the live data timeout.
type Config struct {
	// VotingRoundHistorySize is the number of rounds whose reveals and
	// results are kept.
	VotingRoundHistorySize int `yaml:"votingRoundHistorySize"`
	// RewardEpochHistorySize is the number of reward epochs whose claims are kept.
	RewardEpochHistorySize int `yaml:"rewardEpochHistorySize"`
	// IndexerTopTimeoutSec lets results be computed from partial data once
	// the indexer lags this many seconds behind the reveal window. Zero
	// waits for complete data.
	IndexerTopTimeoutSec uint64 `yaml:"indexerTopTimeoutSec"`
	// RewardParallelism is the number of voting rounds loaded at once
	// while calculating reward claims.
	RewardParallelism int `yaml:"rewardParallelism"`
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		VotingRoundHistorySize: 10000,
		RewardEpochHistorySize: 4,
		IndexerTopTimeoutSec:   0,
		RewardParallelism:      4,
	}
}

// RewardEpochs resolves the reward epoch of a voting round.
type RewardEpochs interface {
	GetRewardEpoch(ctx context.Context, round inter.VotingRoundID) (*registry.RewardEpoch, error)
}

// RoundData loads the data a round result is computed from.
type RoundData interface {
	GetDataForCalculations(ctx context.Context, round inter.VotingRoundID, benchingWindow uint32, timeoutSec uint64) (ledger.Response[*datamanager.DataForCalculations], error)
}

// EpochClaims calculates the claims of a reward epoch.
type EpochClaims interface {
	CalculateEpochClaims(ctx context.Context, id inter.RewardEpochID) (*rewards.EpochResult, error)
}

// ResultData is a computed round result with the status of the data it was
// computed from.
type ResultData struct {
	Status ledger.BlockAssuranceResult `json:"status"`
	Result *calculator.RoundResult     `json:"result"`
}

// Service implements the provider operations. It is safe for concurrent use.
type Service struct {
	cfg          Config
	rules        protocol.Rules
	epochs       RewardEpochs
	data         RoundData
	calc         *calculator.Calculator
	claims       EpochClaims
	source       pricefeed.Source
	reveals      *lru.Cache
	results      *lru.Cache
	epochResults *lru.Cache
	builds       singleflight.Group
	log          logrus.FieldLogger
}

// NewService creates a provider service.
func NewService(cfg Config, rules protocol.Rules, epochs RewardEpochs, data RoundData, claims EpochClaims, source pricefeed.Source, log logrus.FieldLogger) (*Service, error) {
	if cfg.VotingRoundHistorySize <= 0 || cfg.RewardEpochHistorySize <= 0 {
		return nil, fmt.Errorf("history sizes must be positive, got %d rounds and %d epochs",
			cfg.VotingRoundHistorySize, cfg.RewardEpochHistorySize)
	}
	reveals, err := lru.New(cfg.VotingRoundHistorySize)
	if err != nil {
		return nil, err
	}
	results, err := lru.New(cfg.VotingRoundHistorySize)
	if err != nil {
		return nil, err
	}
	epochResults, err := lru.New(cfg.RewardEpochHistorySize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		cfg:          cfg,
		rules:        rules,
		epochs:       epochs,
		data:         data,
		calc:         calculator.New(rules, log),
		claims:       claims,
		source:       source,
		reveals:      reveals,
		results:      results,
		epochResults: epochResults,
		log:          log.WithField("module", "provider"),
	}, nil
}

// GetCommitData prepares a fresh reveal for round and returns the commit
// opening to it for submitAddress. A later call for the same round replaces
// the stored reveal, matching the chain's last commit wins rule.
func (s *Service) GetCommitData(ctx context.Context, round inter.VotingRoundID, submitAddress common.Address) (inter.CommitData, error) {
	epoch, err := s.epochs.GetRewardEpoch(ctx, round)
	if err != nil {
		return inter.CommitData{}, err
	}
	feeds := epoch.CanonicalFeedOrder()
	values, err := s.source.GetValues(ctx, round, feeds)
	if err != nil {
		return inter.CommitData{}, fmt.Errorf("%s prices for round %d: %w", s.source.Name(), round, err)
	}
	if len(values) != len(feeds) {
		return inter.CommitData{}, fmt.Errorf("%s returned %d values for %d feeds", s.source.Name(), len(values), len(feeds))
	}
	encoded, err := inter.EncodeValues(values)
	if err != nil {
		return inter.CommitData{}, err
	}
	var random common.Hash
	if _, err := rand.Read(random[:]); err != nil {
		return inter.CommitData{}, fmt.Errorf("reveal random: %w", err)
	}
	reveal := inter.RevealData{Random: random, EncodedValues: encoded}
	s.reveals.Add(round, reveal)

	commit := inter.CommitData{CommitHash: reveal.CommitHash(submitAddress)}
	s.log.WithFields(logrus.Fields{
		"round":  round,
		"feeds":  len(feeds),
		"submit": submitAddress,
	}).Debug("Prepared commit")
	return commit, nil
}

// GetRevealData returns the reveal prepared for round by GetCommitData.
func (s *Service) GetRevealData(_ context.Context, round inter.VotingRoundID) (inter.RevealData, error) {
	v, ok := s.reveals.Get(round)
	if !ok {
		return inter.RevealData{}, fmt.Errorf("%w %d", ErrNoReveal, round)
	}
	return v.(inter.RevealData), nil
}

// GetResultData computes the result of round. Results from complete data
// are cached; results from TimeoutOK data are recomputed on every call.
func (s *Service) GetResultData(ctx context.Context, round inter.VotingRoundID) (*ResultData, error) {
	if v, ok := s.results.Get(round); ok {
		return v.(*ResultData), nil
	}
	build := context.WithoutCancel(ctx)
	v, err := s.shared(ctx, "result/"+strconv.FormatUint(uint64(round), 10), func() (interface{}, error) {
		if v, ok := s.results.Get(round); ok {
			return v, nil
		}
		res, err := s.data.GetDataForCalculations(build, round, s.rules.Protocol.RandomBenchingWindow, s.cfg.IndexerTopTimeoutSec)
		if err != nil {
			return nil, err
		}
		if !res.Status.Usable() {
			return nil, fmt.Errorf("%w: round %d", ErrNotReady, round)
		}
		result, err := s.calc.CalculateResults(res.Data)
		if err != nil {
			return nil, err
		}
		data := &ResultData{Status: res.Status, Result: result}
		if res.Status == ledger.OK {
			s.results.Add(round, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResultData), nil
}

// GetRewardEpochClaims calculates, or returns the cached, claims of reward
// epoch id.
func (s *Service) GetRewardEpochClaims(ctx context.Context, id inter.RewardEpochID) (*rewards.EpochResult, error) {
	if v, ok := s.epochResults.Get(id); ok {
		return v.(*rewards.EpochResult), nil
	}
	build := context.WithoutCancel(ctx)
	v, err := s.shared(ctx, "claims/"+strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		if v, ok := s.epochResults.Get(id); ok {
			return v, nil
		}
		res, err := s.claims.CalculateEpochClaims(build, id)
		if err != nil {
			return nil, err
		}
		s.epochResults.Add(id, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rewards.EpochResult), nil
}

// shared runs fn once per key for all concurrent callers. fn must not depend
// on ctx, which only bounds how long this caller waits for the result.
func (s *Service) shared(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case res := <-s.builds.DoChan(key, fn):
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRewardClaimsWithProof returns the claims of beneficiary in reward epoch
// id with their Merkle proofs.
func (s *Service) GetRewardClaimsWithProof(ctx context.Context, id inter.RewardEpochID, beneficiary common.Address) ([]rewards.ClaimWithProof, error) {
	res, err := s.GetRewardEpochClaims(ctx, id)
	if err != nil {
		return nil, err
	}
	return res.Tree.ClaimsWithProof(beneficiary)
}

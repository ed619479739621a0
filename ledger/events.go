package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/metrics"
)

// RewardEpochEvents are the events emitted toward the end of reward epoch
// id-1 that together define reward epoch id.
type RewardEpochEvents struct {
	PreviousRewardEpochStarted *contracts.RewardEpochStarted
	RandomAcquisitionStarted   *contracts.RandomAcquisitionStarted
	VotePowerBlockSelected     *contracts.VotePowerBlockSelected
	SigningPolicyInitialized   *contracts.SigningPolicyInitialized
	RewardOffers               []*contracts.RewardsOffered
	InflationOffers            []*contracts.InflationRewardsOffered
	VoterRegistered            []*contracts.VoterRegistered
	VoterRegistrationInfo      []*contracts.VoterRegistrationInfo
}

// decoded is an event with the block timestamp of its log.
type decoded[T any] struct {
	value T
	ts    uint64
}

// findEvents loads the logs of one event type since sinceSec and decodes them.
// Logs that fail to decode are logged and skipped.
func findEvents[T any](ctx context.Context, c *IndexerClient, emitter common.Address, name string, sinceSec uint64,
	decode func([]common.Hash, []byte) (T, error)) ([]decoded[T], error) {
	logs, err := c.store.FindEvents(ctx, emitter, c.codec.EventTopic(name), sinceSec)
	if err != nil {
		return nil, fmt.Errorf("%s events: %w", name, err)
	}
	res := make([]decoded[T], 0, len(logs))
	for _, l := range logs {
		v, err := decode(l.Topics, l.Data)
		if err != nil {
			c.skipEvent(name, l, err)
			continue
		}
		res = append(res, decoded[T]{value: v, ts: l.Timestamp})
	}
	return res, nil
}

func (c *IndexerClient) skipEvent(name string, l Event, err error) {
	metrics.SkippedMessages.WithLabelValues("decode").Inc()
	c.log.WithFields(logrus.Fields{
		"event": name,
		"tx":    l.TransactionHash.Hex(),
		"block": l.BlockNumber,
	}).WithError(err).Warn("Skipping malformed event")
}

// GetStartOfRewardEpochEvents returns the RewardEpochStarted event of reward
// epoch id. The status is NotOK until the event is indexed.
func (c *IndexerClient) GetStartOfRewardEpochEvents(ctx context.Context, id inter.RewardEpochID) (Response[*contracts.RewardEpochStarted], error) {
	var res Response[*contracts.RewardEpochStarted]
	res.Status = NotOK
	started, err := findEvents(ctx, c, c.rules.Contracts.FlareSystemsManager, contracts.EventRewardEpochStarted,
		c.rules.Epochs.ExpectedRewardEpochStartSec(id), c.codec.DecodeRewardEpochStarted)
	if err != nil {
		return res, err
	}
	for _, e := range started {
		if e.value.RewardEpochID == id {
			res.Status = OK
			res.Data = e.value
		}
	}
	return res, nil
}

// GetEndOfRewardEpochEvents collects the events that define reward epoch id.
// They are selected by time, anchored on the signing policy of id:
//   - the previous epoch start is the last RewardEpochStarted not after the policy;
//   - random acquisition and vote power block are the last ones between that start and the policy;
//   - offers are all offers between the previous start and the random acquisition;
//   - registrations are all registrations between the random acquisition and the policy.
//
// Identifiers are not cross-checked here; that is the registry's job. The
// status is NotOK while any mandatory event is missing.
func (c *IndexerClient) GetEndOfRewardEpochEvents(ctx context.Context, id inter.RewardEpochID) (Response[*RewardEpochEvents], error) {
	res := Response[*RewardEpochEvents]{Status: NotOK}
	var since uint64
	if id > 0 {
		since = c.rules.Epochs.ExpectedRewardEpochStartSec(id - 1)
	}
	addr := c.rules.Contracts

	policies, err := findEvents(ctx, c, addr.Relay, contracts.EventSigningPolicyInitialized, since, c.codec.DecodeSigningPolicyInitialized)
	if err != nil {
		return res, err
	}
	var policy *decoded[*contracts.SigningPolicyInitialized]
	for i := range policies {
		if policies[i].value.RewardEpochID == id {
			policy = &policies[i]
		}
	}
	if policy == nil {
		return res, nil
	}

	started, err := findEvents(ctx, c, addr.FlareSystemsManager, contracts.EventRewardEpochStarted, since, c.codec.DecodeRewardEpochStarted)
	if err != nil {
		return res, err
	}
	prev := lastBetween(started, 0, policy.ts)
	if prev == nil {
		return res, nil
	}

	acquisitions, err := findEvents(ctx, c, addr.FlareSystemsManager, contracts.EventRandomAcquisitionStarted, prev.ts, c.codec.DecodeRandomAcquisitionStarted)
	if err != nil {
		return res, err
	}
	acquisition := lastBetween(acquisitions, prev.ts, policy.ts)
	if acquisition == nil {
		return res, nil
	}

	vpBlocks, err := findEvents(ctx, c, addr.FlareSystemsManager, contracts.EventVotePowerBlockSelected, prev.ts, c.codec.DecodeVotePowerBlockSelected)
	if err != nil {
		return res, err
	}
	vpBlock := lastBetween(vpBlocks, prev.ts, policy.ts)
	if vpBlock == nil {
		return res, nil
	}

	offers, err := findEvents(ctx, c, addr.RewardOfferManager, contracts.EventRewardsOffered, prev.ts, c.codec.DecodeRewardsOffered)
	if err != nil {
		return res, err
	}
	inflation, err := findEvents(ctx, c, addr.RewardOfferManager, contracts.EventInflationRewardsOffered, prev.ts, c.codec.DecodeInflationRewardsOffered)
	if err != nil {
		return res, err
	}
	registered, err := findEvents(ctx, c, addr.VoterRegistry, contracts.EventVoterRegistered, acquisition.ts, c.codec.DecodeVoterRegistered)
	if err != nil {
		return res, err
	}
	infos, err := findEvents(ctx, c, addr.FlareSystemsCalculator, contracts.EventVoterRegistrationInfo, acquisition.ts, c.codec.DecodeVoterRegistrationInfo)
	if err != nil {
		return res, err
	}

	res.Status = OK
	res.Data = &RewardEpochEvents{
		PreviousRewardEpochStarted: prev.value,
		RandomAcquisitionStarted:   acquisition.value,
		VotePowerBlockSelected:     vpBlock.value,
		SigningPolicyInitialized:   policy.value,
		RewardOffers:               allBetween(offers, prev.ts, acquisition.ts),
		InflationOffers:            allBetween(inflation, prev.ts, acquisition.ts),
		VoterRegistered:            allBetween(registered, acquisition.ts, policy.ts),
		VoterRegistrationInfo:      allBetween(infos, acquisition.ts, policy.ts),
	}
	return res, nil
}

func lastBetween[T any](events []decoded[T], fromSec, toSec uint64) *decoded[T] {
	var last *decoded[T]
	for i := range events {
		if events[i].ts >= fromSec && events[i].ts <= toSec {
			last = &events[i]
		}
	}
	return last
}

func allBetween[T any](events []decoded[T], fromSec, toSec uint64) []T {
	var res []T
	for _, e := range events {
		if e.ts >= fromSec && e.ts <= toSec {
			res = append(res, e.value)
		}
	}
	return res
}

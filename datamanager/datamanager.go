// Package datamanager reconstructs the commits, reveals, signatures and
// finalizations of a voting round from indexed chain data and validates them
// against the round's reward epoch.
package datamanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
)

// Indexer is the part of the ledger the data manager reads.
// *ledger.IndexerClient implements it.
type Indexer interface {
	GetSubmissionDataInRange(ctx context.Context, method string, fromSec, toSec, timeoutSec uint64) (ledger.Response[[]ledger.SubmissionData], error)
	GetFinalizationDataInRange(ctx context.Context, fromSec, toSec uint64) (ledger.Response[[]ledger.FinalizationData], error)
}

// RewardEpochs resolves voting rounds to reward epoch snapshots.
// *registry.Registry implements it.
type RewardEpochs interface {
	GetRewardEpoch(ctx context.Context, round inter.VotingRoundID) (*registry.RewardEpoch, error)
}

// DataManager assembles per round calculation inputs.
type DataManager struct {
	indexer Indexer
	epochs  RewardEpochs
	rules   protocol.Rules
	log     logrus.FieldLogger
}

// New creates a data manager.
func New(indexer Indexer, epochs RewardEpochs, rules protocol.Rules, log logrus.FieldLogger) *DataManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DataManager{
		indexer: indexer,
		epochs:  epochs,
		rules:   rules,
		log:     log.WithField("module", "datamanager"),
	}
}

type roundSubmissions map[inter.VotingRoundID][]ledger.SubmissionData

type commitRevealMappings struct {
	commits roundSubmissions
	reveals roundSubmissions
}

// GetDataForCalculations returns the validated commits and reveals of round
// together with the reveal offenders of the benchingWindow rounds before it.
// A positive timeoutSec lets the calculation proceed with TimeoutOK status
// once the reveal window is timeoutSec seconds overdue.
func (m *DataManager) GetDataForCalculations(ctx context.Context, round inter.VotingRoundID, benchingWindow uint32, timeoutSec uint64) (ledger.Response[*DataForCalculations], error) {
	var res ledger.Response[*DataForCalculations]
	first := m.windowStart(round, benchingWindow)
	mappings, status, err := m.commitRevealMappings(ctx, first, round, timeoutSec)
	if err != nil {
		return res, err
	}
	if status == ledger.NotOK || (status == ledger.TimeoutOK && timeoutSec == 0) {
		m.log.WithFields(logrus.Fields{
			"from":   first,
			"to":     round,
			"status": status,
		}).Warn("No commit reveal data for voting round range")
		res.Status = status
		return res, nil
	}

	epoch, err := m.epochs.GetRewardEpoch(ctx, round)
	if errors.Is(err, registry.ErrEpochNotFound) {
		m.log.WithField("round", round).Warn("No reward epoch for voting round")
		res.Status = ledger.NotOK
		return res, nil
	}
	if err != nil {
		return res, err
	}

	commits, reveals := m.lastCommitsAndReveals(mappings.commits[round], mappings.reveals[round], epoch.CanonicalFeedOrder())
	data := m.partialData(round, commits, reveals, epoch)
	data.RandomGenerationBenchingWindow = benchingWindow
	data.BenchingWindowRevealOffenders, err = m.benchingWindowRevealOffenders(ctx, first, round, mappings)
	if err != nil {
		return res, err
	}
	m.log.WithFields(logrus.Fields{
		"round":     round,
		"commits":   len(commits),
		"reveals":   len(data.ValidEligibleReveals),
		"offenders": len(data.RevealOffenders),
		"benched":   len(data.BenchingWindowRevealOffenders),
	}).Debug("Assembled voting round data")

	res.Status = status
	res.Data = data
	return res, nil
}

// GetDataForRewardCalculation extends GetDataForCalculations with the
// signatures and finalizations submitted for round in its rewarded window.
// Rewards are calculated on settled data only, so anything but OK is
// returned without data.
func (m *DataManager) GetDataForRewardCalculation(ctx context.Context, round inter.VotingRoundID, benchingWindow uint32) (ledger.Response[*DataForRewardCalculation], error) {
	var res ledger.Response[*DataForRewardCalculation]
	calc, err := m.GetDataForCalculations(ctx, round, benchingWindow, 0)
	if err != nil {
		return res, err
	}
	if calc.Status != ledger.OK {
		res.Status = calc.Status
		return res, nil
	}

	epochs := m.rules.Epochs
	from := epochs.RevealDeadline(round+1) + 1
	to := epochs.VotingRoundEnd(round + 1 + inter.VotingRoundID(m.rules.Protocol.AdditionalRewardedFinalizationWindows))
	sigs, err := m.indexer.GetSubmissionDataInRange(ctx, contracts.MethodSubmitSignatures, from, to, 0)
	if err != nil {
		return res, err
	}
	if sigs.Status != ledger.OK {
		res.Status = sigs.Status
		return res, nil
	}
	fins, err := m.indexer.GetFinalizationDataInRange(ctx, from, to)
	if err != nil {
		return res, err
	}
	if fins.Status != ledger.OK {
		res.Status = fins.Status
		return res, nil
	}

	epoch := calc.Data.RewardEpoch
	signatures, err := m.extractSignatures(round, epoch, sigs.Data)
	if err != nil {
		return res, err
	}
	finalizations := m.extractFinalizations(round, epoch, fins.Data)
	data := &DataForRewardCalculation{
		DataForCalculations: calc.Data,
		Signatures:          signatures,
		Finalizations:       finalizations,
		VoterWeights:        epoch.VoterWeights(),
	}
	for i := range finalizations {
		if finalizations[i].SuccessfulOnChain {
			data.FirstSuccessfulFinalization = &finalizations[i]
			break
		}
	}
	res.Status = ledger.OK
	res.Data = data
	return res, nil
}

// windowStart is the first round of the benching window, clamped to the
// first reward epoch.
func (m *DataManager) windowStart(round inter.VotingRoundID, window uint32) inter.VotingRoundID {
	lowest := m.rules.Epochs.FirstRewardEpochStartVotingRoundID
	if uint64(round) < uint64(lowest)+uint64(window) {
		return lowest
	}
	return round - inter.VotingRoundID(window)
}

// commitRevealMappings loads commits of rounds [first, last] and their
// reveals, which land in the following rounds before the reveal deadline.
func (m *DataManager) commitRevealMappings(ctx context.Context, first, last inter.VotingRoundID, timeoutSec uint64) (*commitRevealMappings, ledger.BlockAssuranceResult, error) {
	epochs := m.rules.Epochs
	commits, err := m.indexer.GetSubmissionDataInRange(ctx, contracts.MethodSubmit1,
		epochs.VotingRoundStart(first), epochs.VotingRoundEnd(last), 0)
	if err != nil {
		return nil, ledger.NotOK, fmt.Errorf("commits: %w", err)
	}
	if commits.Status != ledger.OK {
		return nil, ledger.NotOK, nil
	}
	reveals, err := m.indexer.GetSubmissionDataInRange(ctx, contracts.MethodSubmit2,
		epochs.VotingRoundStart(first+1), epochs.RevealDeadline(last+1), timeoutSec)
	if err != nil {
		return nil, ledger.NotOK, fmt.Errorf("reveals: %w", err)
	}
	if reveals.Status == ledger.NotOK {
		return nil, ledger.NotOK, nil
	}
	if reveals.Status == ledger.TimeoutOK {
		m.log.WithField("round", last).Warn("Reveal window not fully indexed, using data seen before timeout")
	}
	return &commitRevealMappings{
		commits: m.byRound(commits.Data, 0),
		reveals: m.byRound(m.filterLateReveals(reveals.Data), 1),
	}, reveals.Status, nil
}

// byRound groups submissions by the voting round they refer to. Reveals
// (offset 1) are sent in the round after the one they reveal.
func (m *DataManager) byRound(subs []ledger.SubmissionData, offset inter.VotingRoundID) roundSubmissions {
	res := make(roundSubmissions)
	for _, s := range subs {
		if s.VotingRoundIDFromTimestamp < offset {
			continue
		}
		round := s.VotingRoundIDFromTimestamp - offset
		res[round] = append(res[round], s)
	}
	for _, list := range res {
		sortSubmissions(list)
	}
	return res
}

func (m *DataManager) filterLateReveals(reveals []ledger.SubmissionData) []ledger.SubmissionData {
	res := make([]ledger.SubmissionData, 0, len(reveals))
	for _, r := range reveals {
		if r.RelativeTimestamp >= m.rules.Epochs.RevealDeadlineSec {
			metrics.SkippedMessages.WithLabelValues("late_reveal").Inc()
			continue
		}
		res = append(res, r)
	}
	return res
}

// lastCommitsAndReveals keeps the last FTSO commit and reveal of every
// submit address. Submissions must be in chain order.
func (m *DataManager) lastCommitsAndReveals(commitSubs, revealSubs []ledger.SubmissionData, feeds []inter.Feed) (map[common.Address]inter.CommitData, map[common.Address]inter.RevealData) {
	commits := make(map[common.Address]inter.CommitData)
	for _, s := range commitSubs {
		for _, msg := range s.Messages {
			if msg.ProtocolID != m.rules.Protocol.ProtocolID || msg.VotingRoundID != s.VotingRoundIDFromTimestamp {
				continue
			}
			commit, err := inter.DecodeCommit(msg.Payload)
			if err != nil {
				m.skipMessage("Unparsable commit message", s.SubmitAddress, err)
				continue
			}
			commits[s.SubmitAddress] = commit
		}
	}
	reveals := make(map[common.Address]inter.RevealData)
	for _, s := range revealSubs {
		for _, msg := range s.Messages {
			if msg.ProtocolID != m.rules.Protocol.ProtocolID || msg.VotingRoundID+1 != s.VotingRoundIDFromTimestamp {
				continue
			}
			reveal, err := inter.DecodeReveal(msg.Payload, feeds)
			if err != nil {
				m.skipMessage("Unparsable reveal message", s.SubmitAddress, err)
				continue
			}
			reveals[s.SubmitAddress] = reveal
		}
	}
	return commits, reveals
}

func (m *DataManager) skipMessage(msg string, from common.Address, err error) {
	metrics.SkippedMessages.WithLabelValues("decode").Inc()
	m.log.WithField("from", from.Hex()).WithError(err).Warn(msg)
}

func (m *DataManager) partialData(round inter.VotingRoundID, commits map[common.Address]inter.CommitData, reveals map[common.Address]inter.RevealData, epoch *registry.RewardEpoch) *DataForCalculations {
	eligibleCommits := make(map[common.Address]inter.CommitData, len(commits))
	for addr, c := range commits {
		if !epoch.IsEligibleSubmitAddress(addr) {
			metrics.SkippedMessages.WithLabelValues("not_eligible").Inc()
			m.log.WithFields(logrus.Fields{"round": round, "from": addr.Hex()}).Warn("Non-eligible commit")
			continue
		}
		eligibleCommits[addr] = c
	}
	eligibleReveals := make(map[common.Address]inter.RevealData, len(reveals))
	for addr, r := range reveals {
		if !epoch.IsEligibleSubmitAddress(addr) {
			metrics.SkippedMessages.WithLabelValues("not_eligible").Inc()
			m.log.WithFields(logrus.Fields{"round": round, "from": addr.Hex()}).Warn("Non-eligible reveal")
			continue
		}
		eligibleReveals[addr] = r
	}

	ordered := epoch.OrderedSubmitAddresses()
	weights := make(map[common.Address]*big.Int, len(ordered))
	for _, addr := range ordered {
		w, _ := epoch.MedianVotingWeight(addr)
		weights[addr] = w
	}
	return &DataForCalculations{
		VotingRoundID:            round,
		OrderedSubmitAddresses:   ordered,
		ValidEligibleReveals:     m.validReveals(round, eligibleCommits, eligibleReveals),
		RevealOffenders:          revealOffenders(eligibleCommits, eligibleReveals),
		VoterMedianVotingWeights: weights,
		FeedOrder:                epoch.CanonicalFeedOrder(),
		RewardEpoch:              epoch,
	}
}

// validReveals keeps the reveals that open the voter's commit.
func (m *DataManager) validReveals(round inter.VotingRoundID, commits map[common.Address]inter.CommitData, reveals map[common.Address]inter.RevealData) map[common.Address]inter.RevealData {
	res := make(map[common.Address]inter.RevealData, len(reveals))
	for addr, reveal := range reveals {
		commit, ok := commits[addr]
		if !ok {
			m.log.WithFields(logrus.Fields{"round": round, "from": addr.Hex()}).Debug("Reveal without commit")
			continue
		}
		if hash := reveal.CommitHash(addr); hash != commit.CommitHash {
			metrics.SkippedMessages.WithLabelValues("invalid_reveal").Inc()
			m.log.WithFields(logrus.Fields{
				"round":  round,
				"from":   addr.Hex(),
				"commit": commit.CommitHash.Hex(),
				"reveal": hash.Hex(),
			}).Warn("Reveal does not match commit")
			continue
		}
		res[addr] = reveal
	}
	return res
}

// revealOffenders returns the committers without a reveal opening their commit.
func revealOffenders(commits map[common.Address]inter.CommitData, reveals map[common.Address]inter.RevealData) AddressSet {
	res := make(AddressSet)
	for addr, commit := range commits {
		reveal, ok := reveals[addr]
		if !ok || reveal.CommitHash(addr) != commit.CommitHash {
			res.Add(addr)
		}
	}
	return res
}

// benchingWindowRevealOffenders collects reveal offenders of rounds
// [first, round). Eligibility is not considered.
func (m *DataManager) benchingWindowRevealOffenders(ctx context.Context, first, round inter.VotingRoundID, mappings *commitRevealMappings) (AddressSet, error) {
	res := make(AddressSet)
	for i := first; i < round; i++ {
		commitSubs := mappings.commits[i]
		if len(commitSubs) == 0 {
			continue
		}
		epoch, err := m.epochs.GetRewardEpoch(ctx, i)
		if errors.Is(err, registry.ErrEpochNotFound) {
			m.log.WithField("round", i).Warn("No reward epoch for benching window round, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		commits, reveals := m.lastCommitsAndReveals(commitSubs, mappings.reveals[i], epoch.CanonicalFeedOrder())
		for addr := range revealOffenders(commits, reveals) {
			res.Add(addr)
		}
	}
	return res, nil
}

// extractSignatures keeps the last signature of every eligible signer per
// signed message of round.
func (m *DataManager) extractSignatures(round inter.VotingRoundID, epoch *registry.RewardEpoch, subs []ledger.SubmissionData) (map[common.Hash][]SignatureSubmission, error) {
	sortSubmissions(subs)
	protocolID := m.rules.Protocol.ProtocolID
	bySigner := make(map[common.Hash]map[common.Address]SignatureSubmission)
	for _, s := range subs {
		for _, msg := range s.Messages {
			if msg.ProtocolID != protocolID {
				continue
			}
			payload, err := fsp.DecodeSignaturePayload(msg.Payload)
			if err != nil {
				m.skipMessage("Unparsable signature message", s.SubmitAddress, err)
				continue
			}
			if payload.Message.VotingRoundID != round || payload.Message.ProtocolID != protocolID {
				continue
			}
			hash := payload.Message.Hash()
			signer, err := payload.Signature.RecoverSigner(hash)
			if err != nil {
				m.skipMessage("Unrecoverable signature", s.SubmitAddress, err)
				continue
			}
			if !epoch.IsEligibleSigner(signer) {
				metrics.SkippedMessages.WithLabelValues("not_eligible").Inc()
				continue
			}
			weight, wok := epoch.SignerWeight(signer)
			index, iok := epoch.SignerIndex(signer)
			if !wok || !iok {
				return nil, fmt.Errorf("%w: signer %s has no signing weight or index", registry.ErrCriticalInconsistency, signer.Hex())
			}
			if bySigner[hash] == nil {
				bySigner[hash] = make(map[common.Address]SignatureSubmission)
			}
			bySigner[hash][signer] = SignatureSubmission{
				SubmitAddress:     s.SubmitAddress,
				BlockNumber:       s.BlockNumber,
				TransactionIndex:  s.TransactionIndex,
				Timestamp:         s.Timestamp,
				RelativeTimestamp: s.RelativeTimestamp,
				Payload:           payload,
				MessageHash:       hash,
				Signer:            signer,
				Weight:            weight,
				Index:             index,
			}
		}
	}
	res := make(map[common.Hash][]SignatureSubmission, len(bySigner))
	for hash, signers := range bySigner {
		list := make([]SignatureSubmission, 0, len(signers))
		for _, s := range signers {
			list = append(list, s)
		}
		sortChronologically(list)
		res[hash] = list
	}
	return res, nil
}

// extractFinalizations keeps the relays of round that the relay contract
// would accept.
func (m *DataManager) extractFinalizations(round inter.VotingRoundID, epoch *registry.RewardEpoch, fins []ledger.FinalizationData) []ParsedFinalization {
	protocolID := m.rules.Protocol.ProtocolID
	res := make([]ParsedFinalization, 0, len(fins))
	for _, f := range fins {
		_, data, err := contracts.SplitCalldata(f.Calldata)
		if err != nil {
			continue
		}
		relay, err := fsp.DecodeRelayMessage(data)
		if err != nil {
			m.skipMessage("Unparsable finalization", f.SubmitAddress, err)
			continue
		}
		if relay.Message.ProtocolID != protocolID || relay.Message.VotingRoundID != round ||
			relay.SigningPolicy.RewardEpochID != epoch.ID() {
			continue
		}
		log := m.log.WithFields(logrus.Fields{
			"round": round,
			"from":  f.SubmitAddress.Hex(),
			"block": f.BlockNumber,
		})
		hash, err := relay.SigningPolicy.Hash()
		if err == nil && hash != epoch.SigningPolicyHash() {
			err = fmt.Errorf("signing policy hash %s, want %s", hash.Hex(), epoch.SigningPolicyHash().Hex())
		}
		if err == nil {
			err = relay.Verify()
		}
		if err != nil {
			metrics.SkippedMessages.WithLabelValues("not_finalizable").Inc()
			log.WithError(err).Warn("Non-finalizable finalization")
			continue
		}
		res = append(res, ParsedFinalization{FinalizationData: f, Message: relay})
	}
	sortChronologically(res)
	return res
}

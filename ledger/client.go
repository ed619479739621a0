package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/protocol"
)

// BlockAssuranceResult tells whether the indexer covers a requested range.
type BlockAssuranceResult int

const (
	// OK means the indexer covers the whole range.
	OK BlockAssuranceResult = iota
	// NotOK means the data is incomplete and must not be used.
	NotOK
	// TimeoutOK means the range end is not indexed yet, but the caller's
	// timeout has passed and the data seen so far is accepted as final.
	TimeoutOK
)

func (r BlockAssuranceResult) String() string {
	switch r {
	case OK:
		return "OK"
	case NotOK:
		return "NOT_OK"
	case TimeoutOK:
		return "TIMEOUT_OK"
	default:
		return fmt.Sprintf("BlockAssuranceResult(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r BlockAssuranceResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Usable reports whether data of this status may be consumed.
func (r BlockAssuranceResult) Usable() bool {
	return r == OK || r == TimeoutOK
}

// Response pairs a query result with its availability status. Data is the
// zero value when Status is NotOK.
type Response[T any] struct {
	Status BlockAssuranceResult `json:"status"`
	Data   T                    `json:"data"`
}

// SubmissionData is a successful submit1, submit2 or submitSignatures
// transaction with its calldata split into protocol messages.
type SubmissionData struct {
	SubmitAddress              common.Address       `json:"submitAddress"`
	BlockNumber                idx.Block            `json:"blockNumber"`
	TransactionIndex           uint32               `json:"transactionIndex"`
	Timestamp                  uint64               `json:"timestamp"`
	VotingRoundIDFromTimestamp inter.VotingRoundID  `json:"votingRoundIdFromTimestamp"`
	RelativeTimestamp          uint64               `json:"relativeTimestamp"`
	Messages                   []fsp.PayloadMessage `json:"messages"`
}

// FinalizationData is a relay transaction. Calldata includes the selector.
type FinalizationData struct {
	SubmitAddress              common.Address      `json:"submitAddress"`
	BlockNumber                idx.Block           `json:"blockNumber"`
	TransactionIndex           uint32              `json:"transactionIndex"`
	Timestamp                  uint64              `json:"timestamp"`
	VotingRoundIDFromTimestamp inter.VotingRoundID `json:"votingRoundIdFromTimestamp"`
	RelativeTimestamp          uint64              `json:"relativeTimestamp"`
	Calldata                   []byte              `json:"calldata"`
	SuccessfulOnChain          bool                `json:"successfulOnChain"`
}

// IndexerClient answers the provider's queries against a Store. Every range
// query reports whether the indexer has fully caught up with the range.
type IndexerClient struct {
	store Store
	codec *contracts.Codec
	rules protocol.Rules
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewIndexerClient creates a client reading the contracts of rules from store.
func NewIndexerClient(store Store, codec *contracts.Codec, rules protocol.Rules, log logrus.FieldLogger) *IndexerClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &IndexerClient{
		store: store,
		codec: codec,
		rules: rules,
		now:   time.Now,
		log:   log.WithField("module", "indexer"),
	}
}

// SetClock replaces the wall clock used for timeout decisions.
func (c *IndexerClient) SetClock(now func() time.Time) {
	c.now = now
}

// Rules returns the network rules the client was built with.
func (c *IndexerClient) Rules() protocol.Rules {
	return c.rules
}

// Codec returns the contract codec used to decode events.
func (c *IndexerClient) Codec() *contracts.Codec {
	return c.codec
}

// ensureRange decides the availability of [fromSec, toSec]. A zero
// timeoutSec disables the timeout path.
func (c *IndexerClient) ensureRange(ctx context.Context, fromSec, toSec, timeoutSec uint64) (BlockAssuranceResult, error) {
	lowest, highest, err := c.store.IndexedRange(ctx)
	if err != nil {
		return NotOK, fmt.Errorf("indexed range: %w", err)
	}
	metrics.IndexerHighestTimestamp.Set(float64(highest))
	if lowest > fromSec {
		return NotOK, nil
	}
	if highest >= toSec {
		return OK, nil
	}
	if timeoutSec > 0 && uint64(c.now().Unix()) > toSec+timeoutSec {
		return TimeoutOK, nil
	}
	return NotOK, nil
}

func (c *IndexerClient) methodContract(method string) (common.Address, error) {
	switch method {
	case contracts.MethodSubmit1, contracts.MethodSubmit2, contracts.MethodSubmitSignatures:
		return c.rules.Contracts.Submission, nil
	case contracts.MethodRelay:
		return c.rules.Contracts.Relay, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported method %q", method)
	}
}

// GetSubmissionDataInRange returns the successful transactions calling method
// on the Submission contract within [fromSec, toSec]. Transactions whose
// calldata does not split into payload messages are logged and skipped.
func (c *IndexerClient) GetSubmissionDataInRange(ctx context.Context, method string, fromSec, toSec, timeoutSec uint64) (Response[[]SubmissionData], error) {
	var res Response[[]SubmissionData]
	status, err := c.ensureRange(ctx, fromSec, toSec, timeoutSec)
	if err != nil {
		return res, err
	}
	metrics.DataAvailability.WithLabelValues(method, status.String()).Inc()
	res.Status = status
	if !status.Usable() {
		return res, nil
	}
	to, err := c.methodContract(method)
	if err != nil {
		return res, err
	}
	txs, err := c.store.FindTransactions(ctx, to, c.codec.MethodSelector(method), fromSec, toSec)
	if err != nil {
		return Response[[]SubmissionData]{Status: NotOK}, fmt.Errorf("%s transactions: %w", method, err)
	}
	data := make([]SubmissionData, 0, len(txs))
	for _, tx := range txs {
		if !tx.Status {
			continue
		}
		_, payload, err := contracts.SplitCalldata(tx.Input)
		if err == nil {
			var msgs []fsp.PayloadMessage
			msgs, err = fsp.DecodePayloadMessages(payload)
			if err == nil {
				sub, terr := c.submission(tx)
				if terr != nil {
					err = terr
				} else {
					sub.Messages = msgs
					data = append(data, sub)
					continue
				}
			}
		}
		metrics.SkippedMessages.WithLabelValues("decode").Inc()
		c.log.WithFields(logrus.Fields{
			"method": method,
			"tx":     tx.Hash.Hex(),
			"from":   tx.From.Hex(),
		}).WithError(err).Warn("Skipping malformed submission")
	}
	res.Data = data
	return res, nil
}

func (c *IndexerClient) submission(tx Transaction) (SubmissionData, error) {
	round, err := c.rules.Epochs.VotingRoundForTime(tx.Timestamp)
	if err != nil {
		return SubmissionData{}, err
	}
	return SubmissionData{
		SubmitAddress:              tx.From,
		BlockNumber:                tx.BlockNumber,
		TransactionIndex:           tx.TransactionIndex,
		Timestamp:                  tx.Timestamp,
		VotingRoundIDFromTimestamp: round,
		RelativeTimestamp:          tx.Timestamp - c.rules.Epochs.VotingRoundStart(round),
	}, nil
}

// GetFinalizationDataInRange returns all relay transactions within
// [fromSec, toSec], reverted ones included. There is no timeout path.
func (c *IndexerClient) GetFinalizationDataInRange(ctx context.Context, fromSec, toSec uint64) (Response[[]FinalizationData], error) {
	var res Response[[]FinalizationData]
	status, err := c.ensureRange(ctx, fromSec, toSec, 0)
	if err != nil {
		return res, err
	}
	metrics.DataAvailability.WithLabelValues(contracts.MethodRelay, status.String()).Inc()
	res.Status = status
	if !status.Usable() {
		return res, nil
	}
	txs, err := c.store.FindTransactions(ctx, c.rules.Contracts.Relay, c.codec.MethodSelector(contracts.MethodRelay), fromSec, toSec)
	if err != nil {
		return Response[[]FinalizationData]{Status: NotOK}, fmt.Errorf("relay transactions: %w", err)
	}
	data := make([]FinalizationData, 0, len(txs))
	for _, tx := range txs {
		sub, err := c.submission(tx)
		if err != nil {
			c.log.WithField("tx", tx.Hash.Hex()).WithError(err).Warn("Skipping finalization")
			continue
		}
		data = append(data, FinalizationData{
			SubmitAddress:              sub.SubmitAddress,
			BlockNumber:                sub.BlockNumber,
			TransactionIndex:           sub.TransactionIndex,
			Timestamp:                  sub.Timestamp,
			VotingRoundIDFromTimestamp: sub.VotingRoundIDFromTimestamp,
			RelativeTimestamp:          sub.RelativeTimestamp,
			Calldata:                   common.CopyBytes(tx.Input),
			SuccessfulOnChain:          tx.Status,
		})
	}
	res.Data = data
	return res, nil
}

package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/protocol"
)

var (
	codec = contracts.MustNewCodec()
	rules = protocol.FakeNetRules()
	start = rules.Epochs.FirstVotingRoundStartSec
)

func newTestClient(store Store, now uint64) *IndexerClient {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	c := NewIndexerClient(store, codec, rules, log)
	c.SetClock(func() time.Time { return time.Unix(int64(now), 0) })
	return c
}

func submitTx(method string, from common.Address, ts uint64, txIndex uint32, msgs ...fsp.PayloadMessage) Transaction {
	payload, err := fsp.EncodePayloadMessages(msgs)
	if err != nil {
		panic(err)
	}
	to := rules.Contracts.Submission
	if method == contracts.MethodRelay {
		to = rules.Contracts.Relay
	}
	return Transaction{
		Hash:             common.BytesToHash(append(from.Bytes(), byte(txIndex), byte(ts))),
		BlockNumber:      1000,
		TransactionIndex: txIndex,
		Timestamp:        ts,
		From:             from,
		To:               to,
		Input:            codec.Calldata(method, payload),
		Status:           true,
	}
}

func TestBlockAssurance(t *testing.T) {
	for _, tt := range []struct {
		name            string
		lowest, highest uint64
		now             uint64
		timeout         uint64
		want            BlockAssuranceResult
	}{
		{"covered", start, start + 100, start + 100, 0, OK},
		{"exact bounds", start + 10, start + 50, start + 50, 0, OK},
		{"start missing", start + 11, start + 100, start + 100, 0, NotOK},
		{"start missing with timeout", start + 11, start + 40, start + 1000, 5, NotOK},
		{"end missing", start, start + 49, start + 50, 0, NotOK},
		{"end missing before timeout", start, start + 49, start + 55, 5, NotOK},
		{"end missing after timeout", start, start + 49, start + 56, 5, TimeoutOK},
	} {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			store.SetIndexedRange(tt.lowest, tt.highest)
			c := newTestClient(store, tt.now)

			res, err := c.GetSubmissionDataInRange(context.Background(), contracts.MethodSubmit2, start+10, start+50, tt.timeout)
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Status)
			if tt.want == NotOK {
				require.Nil(t, res.Data)
			} else {
				require.NotNil(t, res.Data)
			}
		})
	}
}

func TestSubmissionData(t *testing.T) {
	require := require.New(t)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")
	msg := fsp.PayloadMessage{ProtocolID: protocol.FTSOProtocolID, VotingRoundID: 3, Payload: []byte{1, 2, 3}}
	other := fsp.PayloadMessage{ProtocolID: 200, VotingRoundID: 3, Payload: []byte{9}}

	reverted := submitTx(contracts.MethodSubmit1, bob, start+61, 1, msg)
	reverted.Status = false
	malformed := submitTx(contracts.MethodSubmit1, bob, start+62, 2)
	malformed.Input = append(malformed.Input, 0x64, 0, 0)
	wrongMethod := submitTx(contracts.MethodSubmit2, bob, start+63, 3, msg)

	store := NewMemoryStore()
	store.AddTransactions(
		submitTx(contracts.MethodSubmit1, alice, start+65, 0, msg, other),
		reverted,
		malformed,
		wrongMethod,
		submitTx(contracts.MethodSubmit1, bob, start+200, 4, msg), // outside the range
	)
	store.SetIndexedRange(start, start+200)
	c := newTestClient(store, start+200)

	res, err := c.GetSubmissionDataInRange(context.Background(), contracts.MethodSubmit1, start+60, start+79, 0)
	require.NoError(err)
	require.Equal(OK, res.Status)
	require.Len(res.Data, 1)

	got := res.Data[0]
	require.Equal(alice, got.SubmitAddress)
	require.Equal(inter.VotingRoundID(3), got.VotingRoundIDFromTimestamp)
	require.Equal(uint64(5), got.RelativeTimestamp)
	require.Equal([]fsp.PayloadMessage{msg, other}, got.Messages)
}

func TestFinalizationData(t *testing.T) {
	require := require.New(t)
	relayer := common.HexToAddress("0xf1")

	ok := submitTx(contracts.MethodRelay, relayer, start+41, 0)
	ok.Input = codec.Calldata(contracts.MethodRelay, []byte{1, 2, 3})
	failed := ok
	failed.TransactionIndex = 1
	failed.Status = false

	store := NewMemoryStore()
	store.AddTransactions(failed, ok)
	store.SetIndexedRange(start, start+100)
	c := newTestClient(store, start+100)

	res, err := c.GetFinalizationDataInRange(context.Background(), start+40, start+59)
	require.NoError(err)
	require.Equal(OK, res.Status)
	require.Len(res.Data, 2)
	require.True(res.Data[0].SuccessfulOnChain)
	require.False(res.Data[1].SuccessfulOnChain)
	require.Equal(ok.Input, res.Data[0].Calldata)
	require.Equal(inter.VotingRoundID(2), res.Data[0].VotingRoundIDFromTimestamp)

	// the range end is not indexed yet and relays have no timeout
	res, err = c.GetFinalizationDataInRange(context.Background(), start+40, start+500)
	require.NoError(err)
	require.Equal(NotOK, res.Status)
}

func TestMemoryStoreOrder(t *testing.T) {
	store := NewMemoryStore()
	a := submitTx(contracts.MethodSubmit1, common.HexToAddress("0x1"), start, 5)
	b := submitTx(contracts.MethodSubmit1, common.HexToAddress("0x2"), start, 2)
	b.BlockNumber = a.BlockNumber + 1
	c := submitTx(contracts.MethodSubmit1, common.HexToAddress("0x3"), start, 1)
	store.AddTransactions(b, a, c)

	txs, err := store.FindTransactions(context.Background(), rules.Contracts.Submission, codec.MethodSelector(contracts.MethodSubmit1), start, start)
	require.NoError(t, err)
	require.Equal(t, []Transaction{c, a, b}, txs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.FindTransactions(ctx, rules.Contracts.Submission, codec.MethodSelector(contracts.MethodSubmit1), start, start)
	require.ErrorIs(t, err, context.Canceled)
}

// epochLogs appends the events of one reward epoch setup to store.
type epochLogs struct {
	t     *testing.T
	store *MemoryStore
	block uint64
}

func (l *epochLogs) add(emitter common.Address, ts uint64, topics []common.Hash, data []byte, err error) {
	require.NoError(l.t, err)
	l.block++
	l.store.AddEvents(Event{
		Address:     emitter,
		Topics:      topics,
		Data:        data,
		BlockNumber: idx.Block(l.block),
		Timestamp:   ts,
	})
}

func TestRewardEpochEvents(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := NewMemoryStore()
	l := &epochLogs{t: t, store: store}
	addr := rules.Contracts
	epochLen := rules.Epochs.RewardEpochDurationInVotingEpochs * rules.Epochs.VotingEpochDurationSec
	e1 := rules.Epochs.ExpectedRewardEpochStartSec(1)
	voter := common.HexToAddress("0x1000000000000000000000000000000000000001")
	btc := inter.MustFeedName("BTC", "USD")

	topics, data, err := codec.EncodeRewardEpochStarted(&contracts.RewardEpochStarted{RewardEpochID: 1, StartVotingRoundID: 10, Timestamp: e1})
	l.add(addr.FlareSystemsManager, e1, topics, data, err)

	// an offer made before the epoch the setup belongs to
	topics, data, err = codec.EncodeRewardsOffered(&contracts.RewardsOffered{RewardEpochID: 1, FeedName: btc, Amount: big.NewInt(5)})
	l.add(addr.RewardOfferManager, e1-1, topics, data, err)

	topics, data, err = codec.EncodeRewardsOffered(&contracts.RewardsOffered{RewardEpochID: 2, FeedName: btc, Amount: big.NewInt(1000)})
	l.add(addr.RewardOfferManager, e1+10, topics, data, err)
	topics, data, err = codec.EncodeInflationRewardsOffered(&contracts.InflationRewardsOffered{
		RewardEpochID: 2, FeedNames: []inter.FeedName{btc}, Decimals: []int8{2}, Amount: big.NewInt(2000), SecondaryBandWidthPPMs: []uint32{5000},
	})
	l.add(addr.RewardOfferManager, e1+10, topics, data, err)

	acq := e1 + epochLen/2
	topics, data, err = codec.EncodeRandomAcquisitionStarted(&contracts.RandomAcquisitionStarted{RewardEpochID: 2, Timestamp: acq})
	l.add(addr.FlareSystemsManager, acq, topics, data, err)
	// offers after the random acquisition belong to the next epoch
	topics, data, err = codec.EncodeRewardsOffered(&contracts.RewardsOffered{RewardEpochID: 3, FeedName: btc, Amount: big.NewInt(7)})
	l.add(addr.RewardOfferManager, acq+1, topics, data, err)

	topics, data, err = codec.EncodeVotePowerBlockSelected(&contracts.VotePowerBlockSelected{RewardEpochID: 2, VotePowerBlock: 77, Timestamp: acq + 2})
	l.add(addr.FlareSystemsManager, acq+2, topics, data, err)
	topics, data, err = codec.EncodeVoterRegistered(&contracts.VoterRegistered{
		Voter: voter, RewardEpochID: 2, SigningPolicyAddress: voter, SubmitAddress: voter, SubmitSignaturesAddress: voter, RegistrationWeight: big.NewInt(1),
	})
	l.add(addr.VoterRegistry, acq+3, topics, data, err)
	topics, data, err = codec.EncodeVoterRegistrationInfo(&contracts.VoterRegistrationInfo{
		Voter: voter, RewardEpochID: 2, DelegationAddress: voter, WNatWeight: big.NewInt(1), WNatCappedWeight: big.NewInt(1),
	})
	l.add(addr.FlareSystemsCalculator, acq+3, topics, data, err)

	c := newTestClient(store, acq+100)

	// nothing defines epoch 2 before its signing policy is indexed
	res, err := c.GetEndOfRewardEpochEvents(ctx, 2)
	require.NoError(err)
	require.Equal(NotOK, res.Status)

	topics, data, err = codec.EncodeSigningPolicyInitialized(&contracts.SigningPolicyInitialized{
		RewardEpochID: 2, StartVotingRoundID: 20, Threshold: 1, Seed: big.NewInt(1),
		Voters: []common.Address{voter}, Weights: []uint16{1}, Timestamp: acq + 4,
	})
	l.add(addr.Relay, acq+4, topics, data, err)
	// a malformed log is skipped
	l.add(addr.VoterRegistry, acq+4, []common.Hash{codec.EventTopic(contracts.EventVoterRegistered)}, []byte{1}, nil)

	res, err = c.GetEndOfRewardEpochEvents(ctx, 2)
	require.NoError(err)
	require.Equal(OK, res.Status)
	ev := res.Data
	require.Equal(inter.RewardEpochID(1), ev.PreviousRewardEpochStarted.RewardEpochID)
	require.Equal(uint64(77), ev.VotePowerBlockSelected.VotePowerBlock)
	require.Equal(inter.RewardEpochID(2), ev.SigningPolicyInitialized.RewardEpochID)
	require.Len(ev.RewardOffers, 1)
	require.Equal(int64(1000), ev.RewardOffers[0].Amount.Int64())
	require.Len(ev.InflationOffers, 1)
	require.Len(ev.VoterRegistered, 1)
	require.Len(ev.VoterRegistrationInfo, 1)

	started, err := c.GetStartOfRewardEpochEvents(ctx, 1)
	require.NoError(err)
	require.Equal(OK, started.Status)
	require.Equal(inter.VotingRoundID(10), started.Data.StartVotingRoundID)

	started, err = c.GetStartOfRewardEpochEvents(ctx, 2)
	require.NoError(err)
	require.Equal(NotOK, started.Status)
}

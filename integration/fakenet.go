package integration

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/protocol"
)

// FakeKey returns a deterministic secp256k1 key for fake voter n.
// The same n always yields the same key.
func FakeKey(n int) *ecdsa.PrivateKey {
	seed := make([]byte, 8)
	binary.BigEndian.PutUint64(seed, uint64(n))
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("ftso fake key"), seed))
	if err != nil {
		panic(err)
	}
	return key
}

func fakeAddress(role string, n int) common.Address {
	seed := make([]byte, 8)
	binary.BigEndian.PutUint64(seed, uint64(n))
	return common.BytesToAddress(crypto.Keccak256([]byte(role), seed))
}

// FakeVoter is a voter of a fake network with all of its protocol addresses.
type FakeVoter struct {
	Identity         common.Address
	Submit           common.Address
	SubmitSignatures common.Address
	Delegation       common.Address
	Signer           common.Address
	SigningKey       *ecdsa.PrivateKey

	// Weight is the capped delegation weight used for medians and rewards.
	Weight  *big.Int
	FeeBIPS uint16
}

// FakeVoters creates n voters with equal weights and a 10% fee.
func FakeVoters(n int) []*FakeVoter {
	voters := make([]*FakeVoter, n)
	for i := range voters {
		key := FakeKey(i)
		voters[i] = &FakeVoter{
			Identity:         fakeAddress("identity", i),
			Submit:           fakeAddress("submit", i),
			SubmitSignatures: fakeAddress("submitSignatures", i),
			Delegation:       fakeAddress("delegation", i),
			Signer:           crypto.PubkeyToAddress(key.PublicKey),
			SigningKey:       key,
			Weight:           big.NewInt(1000),
			FeeBIPS:          1000,
		}
	}
	return voters
}

// FakeNet writes the chain activity of a fake FTSO network into an in-memory
// ledger store: reward epoch setup events and the commit, reveal, signature
// and relay transactions of voters.
type FakeNet struct {
	Rules  protocol.Rules
	Codec  *contracts.Codec
	Store  *ledger.MemoryStore
	Voters []*FakeVoter

	policies map[inter.RewardEpochID]*fsp.SigningPolicy
	started  map[inter.RewardEpochID]bool
	starts   map[inter.RewardEpochID]inter.VotingRoundID
	block    idx.Block
}

// NewFakeNet creates a fake network with an empty store.
func NewFakeNet(rules protocol.Rules, voters []*FakeVoter) *FakeNet {
	return &FakeNet{
		Rules:    rules,
		Codec:    contracts.MustNewCodec(),
		Store:    ledger.NewMemoryStore(),
		Voters:   voters,
		policies: make(map[inter.RewardEpochID]*fsp.SigningPolicy),
		started:  make(map[inter.RewardEpochID]bool),
		starts:   make(map[inter.RewardEpochID]inter.VotingRoundID),
	}
}

// SigningPolicy returns the signing policy of reward epoch id once set up.
func (n *FakeNet) SigningPolicy(id inter.RewardEpochID) *fsp.SigningPolicy {
	return n.policies[id]
}

func (n *FakeNet) nextBlock() idx.Block {
	n.block++
	return n.block
}

func (n *FakeNet) emit(emitter common.Address, ts uint64, topics []common.Hash, data []byte, err error) error {
	if err != nil {
		return err
	}
	block := n.nextBlock()
	n.Store.AddEvents(ledger.Event{
		Address:         emitter,
		Topics:          topics,
		Data:            data,
		BlockNumber:     block,
		Timestamp:       ts,
		TransactionHash: common.BytesToHash(block.Bytes()),
	})
	return nil
}

// StartRoundOf returns the first voting round of reward epoch id: the one
// it was set up with, or the expected one.
func (n *FakeNet) StartRoundOf(id inter.RewardEpochID) inter.VotingRoundID {
	if start, ok := n.starts[id]; ok {
		return start
	}
	return n.Rules.Epochs.ExpectedFirstVotingRoundForRewardEpoch(id)
}

// StartRewardEpoch emits RewardEpochStarted for id at the start of its first
// voting round.
func (n *FakeNet) StartRewardEpoch(id inter.RewardEpochID) error {
	if n.started[id] {
		return nil
	}
	start := n.StartRoundOf(id)
	ts := n.Rules.Epochs.VotingRoundStart(start)
	topics, data, err := n.Codec.EncodeRewardEpochStarted(&contracts.RewardEpochStarted{
		RewardEpochID:      id,
		StartVotingRoundID: start,
		Timestamp:          ts,
	})
	if err := n.emit(n.Rules.Contracts.FlareSystemsManager, ts, topics, data, err); err != nil {
		return err
	}
	n.started[id] = true
	return nil
}

// SetupRewardEpoch emits, during reward epoch id-1, every event defining
// reward epoch id, followed by the start of id. Offers get id filled in.
func (n *FakeNet) SetupRewardEpoch(id inter.RewardEpochID, offers []*contracts.RewardsOffered, inflation []*contracts.InflationRewardsOffered) error {
	return n.SetupDelayedRewardEpoch(id, n.Rules.Epochs.ExpectedFirstVotingRoundForRewardEpoch(id), offers, inflation)
}

// SetupDelayedRewardEpoch is SetupRewardEpoch for a reward epoch whose
// signing policy starts at round start, which may be later than expected.
func (n *FakeNet) SetupDelayedRewardEpoch(id inter.RewardEpochID, start inter.VotingRoundID, offers []*contracts.RewardsOffered, inflation []*contracts.InflationRewardsOffered) error {
	if id == 0 {
		return fmt.Errorf("reward epoch 0 has no setup phase")
	}
	epochs := n.Rules.Epochs
	if expected := epochs.ExpectedFirstVotingRoundForRewardEpoch(id); start < expected {
		return fmt.Errorf("reward epoch %d cannot start at round %d, before the expected round %d", id, start, expected)
	}
	if n.started[id] {
		return fmt.Errorf("reward epoch %d already started", id)
	}
	if err := n.StartRewardEpoch(id - 1); err != nil {
		return err
	}
	if start <= n.StartRoundOf(id-1) {
		return fmt.Errorf("reward epoch %d cannot start at round %d, reward epoch %d starts at %d", id, start, id-1, n.StartRoundOf(id-1))
	}
	n.starts[id] = start
	s := epochs.VotingRoundStart(n.StartRoundOf(id - 1))
	d := epochs.VotingRoundStart(start) - s
	addrs := n.Rules.Contracts

	for _, o := range offers {
		o.RewardEpochID = id
		topics, data, err := n.Codec.EncodeRewardsOffered(o)
		if err := n.emit(addrs.RewardOfferManager, s+d/4, topics, data, err); err != nil {
			return err
		}
	}
	for _, o := range inflation {
		o.RewardEpochID = id
		topics, data, err := n.Codec.EncodeInflationRewardsOffered(o)
		if err := n.emit(addrs.RewardOfferManager, s+d/4, topics, data, err); err != nil {
			return err
		}
	}
	topics, data, err := n.Codec.EncodeRandomAcquisitionStarted(&contracts.RandomAcquisitionStarted{RewardEpochID: id, Timestamp: s + d/2})
	if err := n.emit(addrs.FlareSystemsManager, s+d/2, topics, data, err); err != nil {
		return err
	}
	topics, data, err = n.Codec.EncodeVotePowerBlockSelected(&contracts.VotePowerBlockSelected{
		RewardEpochID:  id,
		VotePowerBlock: uint64(n.block),
		Timestamp:      s + d/2,
	})
	if err := n.emit(addrs.FlareSystemsManager, s+d/2, topics, data, err); err != nil {
		return err
	}

	total := new(big.Int)
	for _, v := range n.Voters {
		total.Add(total, v.Weight)
		topics, data, err := n.Codec.EncodeVoterRegistered(&contracts.VoterRegistered{
			Voter:                   v.Identity,
			RewardEpochID:           id,
			SigningPolicyAddress:    v.Signer,
			SubmitAddress:           v.Submit,
			SubmitSignaturesAddress: v.SubmitSignatures,
			RegistrationWeight:      new(big.Int).Set(v.Weight),
		})
		if err := n.emit(addrs.VoterRegistry, s+d/2+1, topics, data, err); err != nil {
			return err
		}
		topics, data, err = n.Codec.EncodeVoterRegistrationInfo(&contracts.VoterRegistrationInfo{
			Voter:             v.Identity,
			RewardEpochID:     id,
			DelegationAddress: v.Delegation,
			DelegationFeeBIPS: v.FeeBIPS,
			WNatWeight:        new(big.Int).Set(v.Weight),
			WNatCappedWeight:  new(big.Int).Set(v.Weight),
		})
		if err := n.emit(addrs.FlareSystemsCalculator, s+d/2+1, topics, data, err); err != nil {
			return err
		}
	}

	policy := &fsp.SigningPolicy{
		RewardEpochID:      id,
		StartVotingRoundID: start,
		Seed:               new(big.Int).SetUint64(uint64(id)),
	}
	var signingTotal uint64
	for _, v := range n.Voters {
		w := uint16(new(big.Int).Div(new(big.Int).Mul(v.Weight, big.NewInt(1<<15)), total).Uint64())
		policy.Voters = append(policy.Voters, v.Signer)
		policy.Weights = append(policy.Weights, w)
		signingTotal += uint64(w)
	}
	policy.Threshold = uint16(signingTotal / 2)
	enc, err := policy.Encode()
	if err != nil {
		return err
	}
	topics, data, err = n.Codec.EncodeSigningPolicyInitialized(&contracts.SigningPolicyInitialized{
		RewardEpochID:      id,
		StartVotingRoundID: policy.StartVotingRoundID,
		Threshold:          policy.Threshold,
		Seed:               policy.Seed,
		Voters:             policy.Voters,
		Weights:            policy.Weights,
		SigningPolicyBytes: enc,
		Timestamp:          s + 3*d/4,
	})
	if err := n.emit(addrs.Relay, s+3*d/4, topics, data, err); err != nil {
		return err
	}
	n.policies[id] = policy
	return n.StartRewardEpoch(id)
}

// SubmitTx records a transaction calling method with the given payload messages.
func (n *FakeNet) SubmitTx(method string, from common.Address, ts uint64, success bool, msgs ...fsp.PayloadMessage) error {
	payload, err := fsp.EncodePayloadMessages(msgs)
	if err != nil {
		return err
	}
	return n.rawTx(method, from, ts, success, n.Codec.Calldata(method, payload))
}

func (n *FakeNet) rawTx(method string, from common.Address, ts uint64, success bool, input []byte) error {
	to := n.Rules.Contracts.Submission
	if method == contracts.MethodRelay {
		to = n.Rules.Contracts.Relay
	}
	block := n.nextBlock()
	n.Store.AddTransactions(ledger.Transaction{
		Hash:        crypto.Keccak256Hash(block.Bytes(), from[:]),
		BlockNumber: block,
		Timestamp:   ts,
		From:        from,
		To:          to,
		Input:       input,
		Status:      success,
	})
	return nil
}

// FakeRandom is the deterministic reveal random of a voter in a round.
func FakeRandom(v *FakeVoter, round inter.VotingRoundID) common.Hash {
	return crypto.Keccak256Hash([]byte("random"), v.Submit[:], round.Bytes())
}

// Commit sends the commit of v for round one second into the round and
// returns the reveal that opens it.
func (n *FakeNet) Commit(v *FakeVoter, round inter.VotingRoundID, values []*int32) (inter.RevealData, error) {
	encoded, err := inter.EncodeValues(values)
	if err != nil {
		return inter.RevealData{}, err
	}
	reveal := inter.RevealData{Random: FakeRandom(v, round), EncodedValues: encoded}
	commit := inter.CommitData{CommitHash: reveal.CommitHash(v.Submit)}
	err = n.SubmitTx(contracts.MethodSubmit1, v.Submit, n.Rules.Epochs.VotingRoundStart(round)+1, true, fsp.PayloadMessage{
		ProtocolID:    n.Rules.Protocol.ProtocolID,
		VotingRoundID: round,
		Payload:       commit.Encode(),
	})
	return reveal, err
}

// Reveal sends reveal for round offsetSec seconds into the following round.
func (n *FakeNet) Reveal(v *FakeVoter, round inter.VotingRoundID, reveal inter.RevealData, offsetSec uint64) error {
	return n.SubmitTx(contracts.MethodSubmit2, v.Submit, n.Rules.Epochs.VotingRoundStart(round+1)+offsetSec, true, fsp.PayloadMessage{
		ProtocolID:    n.Rules.Protocol.ProtocolID,
		VotingRoundID: round,
		Payload:       reveal.Encode(),
	})
}

// Sign sends v's signature over msg at ts.
func (n *FakeNet) Sign(v *FakeVoter, msg fsp.ProtocolMessageMerkleRoot, ts uint64) error {
	sig, err := fsp.SignMessageHash(msg.Hash(), v.SigningKey)
	if err != nil {
		return err
	}
	payload := fsp.SignaturePayload{Type: fsp.SignaturePayloadType, Message: msg, Signature: sig}
	return n.SubmitTx(contracts.MethodSubmitSignatures, v.SubmitSignatures, ts, true, fsp.PayloadMessage{
		ProtocolID:    msg.ProtocolID,
		VotingRoundID: msg.VotingRoundID,
		Payload:       payload.Encode(),
	})
}

// Finalize sends a relay of msg signed by signers under the signing policy of
// reward epoch id. Only one relay per message succeeds on chain; success
// tells which.
func (n *FakeNet) Finalize(from common.Address, id inter.RewardEpochID, msg fsp.ProtocolMessageMerkleRoot, signers []*FakeVoter, ts uint64, success bool) error {
	policy := n.policies[id]
	if policy == nil {
		return fmt.Errorf("reward epoch %d is not set up", id)
	}
	index := make(map[common.Address]int, len(policy.Voters))
	for i, v := range policy.Voters {
		index[v] = i
	}
	relay := &fsp.RelayMessage{SigningPolicy: policy, Message: &msg}
	for _, v := range signers {
		i, ok := index[v.Signer]
		if !ok {
			return fmt.Errorf("voter %s is not in the signing policy", v.Identity.Hex())
		}
		sig, err := fsp.SignMessageHash(msg.Hash(), v.SigningKey)
		if err != nil {
			return err
		}
		relay.Signatures = append(relay.Signatures, fsp.IndexedSignature{Signature: sig, Index: uint16(i)})
	}
	sort.Slice(relay.Signatures, func(i, j int) bool {
		return relay.Signatures[i].Index < relay.Signatures[j].Index
	})
	data, err := relay.Encode()
	if err != nil {
		return err
	}
	return n.rawTx(contracts.MethodRelay, from, ts, success, n.Codec.Calldata(contracts.MethodRelay, data))
}

// Advance marks everything up to ts as indexed.
func (n *FakeNet) Advance(ts uint64) {
	n.Store.Advance(ts)
}

// Vote commits values(i) for every voter i in round and reveals one second
// into the following round. Voters whose index is in silent commit without
// revealing.
func (n *FakeNet) Vote(round inter.VotingRoundID, values func(i int) []*int32, silent ...int) error {
	skip := make(map[int]bool, len(silent))
	for _, i := range silent {
		skip[i] = true
	}
	reveals := make([]inter.RevealData, len(n.Voters))
	for i, v := range n.Voters {
		r, err := n.Commit(v, round, values(i))
		if err != nil {
			return err
		}
		reveals[i] = r
	}
	for i, v := range n.Voters {
		if skip[i] {
			continue
		}
		if err := n.Reveal(v, round, reveals[i], 1); err != nil {
			return err
		}
	}
	return nil
}

// SignAndFinalize has signers sign msg one after another right after the
// reveal deadline of the following round, then relays it from relayer.
// It returns the timestamp of the relay.
func (n *FakeNet) SignAndFinalize(id inter.RewardEpochID, msg fsp.ProtocolMessageMerkleRoot, signers []*FakeVoter, relayer common.Address) (uint64, error) {
	ts := n.Rules.Epochs.RevealDeadline(msg.VotingRoundID+1) + 1
	for _, v := range signers {
		if err := n.Sign(v, msg, ts); err != nil {
			return 0, err
		}
		ts++
	}
	return ts, n.Finalize(relayer, id, msg, signers, ts, true)
}

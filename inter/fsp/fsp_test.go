package fsp

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/inter"
)

func testKeys(t *testing.T, n int) ([]*ecdsa.PrivateKey, []common.Address) {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	addrs := make([]common.Address, n)
	for i := range keys {
		key, err := crypto.ToECDSA(crypto.Keccak256([]byte{byte(i + 1)}))
		require.NoError(t, err)
		keys[i] = key
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return keys, addrs
}

// TestPayloadMessages checks that concatenated messages split back losslessly
// and that a truncated tail is reported as a decode failure.
func TestPayloadMessages(t *testing.T) {
	require := require.New(t)

	msgs := []PayloadMessage{
		{ProtocolID: 100, VotingRoundID: 7, Payload: common.FromHex("0xdeadbeef")},
		{ProtocolID: 200, VotingRoundID: 8, Payload: []byte{}},
	}
	enc, err := EncodePayloadMessages(msgs)
	require.NoError(err)
	require.Len(enc, 7+4+7)

	got, err := DecodePayloadMessages(enc)
	require.NoError(err)
	require.Len(got, 2)
	require.Equal(msgs[0], got[0])
	require.Equal(uint8(200), got[1].ProtocolID)
	require.Empty(got[1].Payload)

	// Case: the second message has no payload, so dropping a byte cuts its header.
	_, err = DecodePayloadMessages(enc[:len(enc)-1])
	require.True(errors.Is(err, inter.ErrDecode))
	// Case: the first payload is cut short.
	_, err = DecodePayloadMessages(enc[:9])
	require.True(errors.Is(err, inter.ErrDecode))

	empty, err := DecodePayloadMessages(nil)
	require.NoError(err)
	require.Empty(empty)
}

// TestSignature covers signing, recovery and the hex text codec.
func TestSignature(t *testing.T) {
	require := require.New(t)
	keys, addrs := testKeys(t, 2)

	msg := ProtocolMessageMerkleRoot{ProtocolID: 100, VotingRoundID: 42, IsSecureRandom: true, MerkleRoot: common.HexToHash("0x01")}
	sig, err := SignMessageHash(msg.Hash(), keys[0])
	require.NoError(err)
	require.Contains([]uint8{27, 28}, sig.V)

	signer, err := sig.RecoverSigner(msg.Hash())
	require.NoError(err)
	require.Equal(addrs[0], signer)

	other := msg
	other.IsSecureRandom = false
	signer, err = sig.RecoverSigner(other.Hash())
	require.NoError(err)
	require.NotEqual(addrs[0], signer)

	// Case: hex round trip through JSON.
	{
		raw, err := json.Marshal(sig)
		require.NoError(err)
		var back ECDSASignature
		require.NoError(json.Unmarshal(raw, &back))
		require.Equal(sig, back)
	}

	// Case: wrong length and bad v.
	{
		_, err := SignatureFromBytes(make([]byte, 10))
		require.True(errors.Is(err, inter.ErrDecode))
		bad := sig
		bad.V = 5
		_, err = bad.RecoverSigner(msg.Hash())
		require.True(errors.Is(err, ErrInvalidSignature))
	}
}

// TestSignaturePayload checks the submitSignatures payload layout.
func TestSignaturePayload(t *testing.T) {
	require := require.New(t)
	keys, _ := testKeys(t, 1)

	msg := ProtocolMessageMerkleRoot{ProtocolID: 100, VotingRoundID: 3, MerkleRoot: common.HexToHash("0xabc")}
	sig, err := SignMessageHash(msg.Hash(), keys[0])
	require.NoError(err)

	p := SignaturePayload{Message: msg, Signature: sig, UnsignedMessage: []byte{9, 9}}
	enc := p.Encode()
	require.Len(enc, 1+ProtocolMessageLength+SignatureLength+2)

	got, err := DecodeSignaturePayload(enc)
	require.NoError(err)
	require.Equal(p, got)

	enc[0] = 1
	_, err = DecodeSignaturePayload(enc)
	require.True(errors.Is(err, inter.ErrDecode))
}

func newPolicy(addrs []common.Address, weights []uint16, threshold uint16) *SigningPolicy {
	return &SigningPolicy{
		RewardEpochID:      5,
		StartVotingRoundID: 1000,
		Threshold:          threshold,
		Seed:               big.NewInt(123456789),
		Voters:             addrs,
		Weights:            weights,
	}
}

// TestSigningPolicy checks the policy codec and that the hash commits to every field.
func TestSigningPolicy(t *testing.T) {
	require := require.New(t)
	_, addrs := testKeys(t, 3)

	p := newPolicy(addrs, []uint16{100, 200, 300}, 300)
	require.Equal(uint64(600), p.TotalWeight())

	enc, err := p.Encode()
	require.NoError(err)
	require.Len(enc, 43+3*22)

	got, err := DecodeSigningPolicy(enc)
	require.NoError(err)
	require.Equal(p, got)

	h1, err := p.Hash()
	require.NoError(err)
	p2 := newPolicy(addrs, []uint16{100, 200, 301}, 300)
	h2, err := p2.Hash()
	require.NoError(err)
	require.NotEqual(h1, h2)

	_, err = DecodeSigningPolicy(append(enc, 0))
	require.True(errors.Is(err, inter.ErrDecode))
	_, err = newPolicy(addrs, []uint16{1}, 0).Encode()
	require.Error(err)
}

// TestRelayMessage checks relay encoding and the finalizability rules.
func TestRelayMessage(t *testing.T) {
	keys, addrs := testKeys(t, 3)
	policy := newPolicy(addrs, []uint16{100, 200, 300}, 300)
	msg := &ProtocolMessageMerkleRoot{ProtocolID: 100, VotingRoundID: 1001, MerkleRoot: common.HexToHash("0x77")}

	sign := func(i int) IndexedSignature {
		sig, err := SignMessageHash(msg.Hash(), keys[i])
		require.NoError(t, err)
		return IndexedSignature{Signature: sig, Index: uint16(i)}
	}

	t.Run("round trip and verify", func(t *testing.T) {
		require := require.New(t)
		relay := &RelayMessage{SigningPolicy: policy, Message: msg, Signatures: []IndexedSignature{sign(0), sign(2)}}
		enc, err := relay.Encode()
		require.NoError(err)

		got, err := DecodeRelayMessage(enc)
		require.NoError(err)
		require.Equal(relay, got)
		require.NoError(got.Verify())
	})

	t.Run("below threshold", func(t *testing.T) {
		relay := &RelayMessage{SigningPolicy: policy, Message: msg, Signatures: []IndexedSignature{sign(2)}}
		require.True(t, errors.Is(relay.Verify(), ErrNotFinalizable))
	})

	t.Run("wrong index", func(t *testing.T) {
		s := sign(2)
		s.Index = 1
		relay := &RelayMessage{SigningPolicy: policy, Message: msg, Signatures: []IndexedSignature{sign(0), s}}
		require.True(t, errors.Is(relay.Verify(), ErrNotFinalizable))
	})

	t.Run("unordered indices", func(t *testing.T) {
		relay := &RelayMessage{SigningPolicy: policy, Message: msg, Signatures: []IndexedSignature{sign(2), sign(1)}}
		require.True(t, errors.Is(relay.Verify(), ErrNotFinalizable))
	})

	t.Run("truncated", func(t *testing.T) {
		relay := &RelayMessage{SigningPolicy: policy, Message: msg, Signatures: []IndexedSignature{sign(0)}}
		enc, err := relay.Encode()
		require.NoError(t, err)
		_, err = DecodeRelayMessage(enc[:len(enc)-3])
		require.True(t, errors.Is(err, inter.ErrDecode))
	})
}

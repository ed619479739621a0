package fsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/rony4d/go-ftso-provider/utils/fast"
)

// ErrNotFinalizable is returned by Verify when a relay message would be
// rejected by the relay contract.
var ErrNotFinalizable = errors.New("relay message is not finalizable")

// IndexedSignature is a signature together with the signer's position in the
// signing policy.
type IndexedSignature struct {
	Signature ECDSASignature `json:"signature"`
	Index     uint16         `json:"index"`
}

// RelayMessage is the calldata of a relay (finalization) transaction without
// its 4 byte selector.
type RelayMessage struct {
	SigningPolicy *SigningPolicy             `json:"signingPolicy"`
	Message       *ProtocolMessageMerkleRoot `json:"message"`
	Signatures    []IndexedSignature         `json:"signatures"`
}

// Encode serializes the message. Only protocol message relays are supported.
func (m *RelayMessage) Encode() ([]byte, error) {
	if m.SigningPolicy == nil || m.Message == nil {
		return nil, errors.New("relay message needs a signing policy and a protocol message")
	}
	if len(m.Signatures) > math.MaxUint16 {
		return nil, fmt.Errorf("too many signatures: %d", len(m.Signatures))
	}
	policy, err := m.SigningPolicy.Encode()
	if err != nil {
		return nil, err
	}
	w := fast.NewWriter(make([]byte, 0, len(policy)+ProtocolMessageLength+2+len(m.Signatures)*(SignatureLength+2)))
	w.Write(policy)
	w.Write(m.Message.Encode())
	w.WriteUint16(uint16(len(m.Signatures)))
	for _, s := range m.Signatures {
		w.Write(s.Signature.Bytes())
		w.WriteUint16(s.Index)
	}
	return w.Bytes(), nil
}

// DecodeRelayMessage parses relay calldata (selector already stripped).
func DecodeRelayMessage(data []byte) (*RelayMessage, error) {
	r := fast.NewReader(data)
	policy, err := readSigningPolicy(r)
	if err != nil {
		return nil, err
	}
	msg, err := readProtocolMessage(r)
	if err != nil {
		return nil, err
	}
	count, err := r.ReadUint16()
	if err != nil {
		return nil, decodeErr("relay message", err)
	}
	sigs := make([]IndexedSignature, count)
	for i := range sigs {
		sig, err := readSignature(r)
		if err != nil {
			return nil, err
		}
		index, err := r.ReadUint16()
		if err != nil {
			return nil, decodeErr("relay message", err)
		}
		sigs[i] = IndexedSignature{Signature: sig, Index: index}
	}
	if !r.Empty() {
		return nil, decodeErr("relay message", fmt.Errorf("%d trailing bytes", r.Remaining()))
	}
	return &RelayMessage{SigningPolicy: policy, Message: &msg, Signatures: sigs}, nil
}

// Verify checks the message the way the relay contract does: signature
// indices strictly increase, every signature recovers to the voter at its
// index, and the signed weight exceeds the policy threshold.
func (m *RelayMessage) Verify() error {
	if m.SigningPolicy == nil || m.Message == nil {
		return fmt.Errorf("%w: incomplete message", ErrNotFinalizable)
	}
	hash := m.Message.Hash()
	var weight uint64
	for i, s := range m.Signatures {
		if i > 0 && s.Index <= m.Signatures[i-1].Index {
			return fmt.Errorf("%w: signature indices not increasing at %d", ErrNotFinalizable, i)
		}
		if int(s.Index) >= len(m.SigningPolicy.Voters) {
			return fmt.Errorf("%w: signature index %d out of range", ErrNotFinalizable, s.Index)
		}
		signer, err := s.Signature.RecoverSigner(hash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotFinalizable, err)
		}
		if signer != m.SigningPolicy.Voters[s.Index] {
			return fmt.Errorf("%w: signature %d is not from voter %s", ErrNotFinalizable, i, m.SigningPolicy.Voters[s.Index].Hex())
		}
		weight += uint64(m.SigningPolicy.Weights[s.Index])
	}
	if weight <= uint64(m.SigningPolicy.Threshold) {
		return fmt.Errorf("%w: signed weight %d does not exceed threshold %d", ErrNotFinalizable, weight, m.SigningPolicy.Threshold)
	}
	return nil
}

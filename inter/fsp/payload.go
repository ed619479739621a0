// Package fsp implements the binary codecs of the Flare Systems Protocol
// messages the provider reads from and writes to the chain.
//
// All formats are flat concatenations of big-endian fixed-width fields:
//   - PayloadMessage:             protocolId(1) votingRoundId(4) length(2) payload(length)
//   - ProtocolMessageMerkleRoot:  protocolId(1) votingRoundId(4) isSecureRandom(1) merkleRoot(32)
//   - ECDSASignature:             v(1) r(32) s(32)
//   - SignaturePayload:           type(1) message(38) signature(65) unsignedMessage(rest)
//   - SigningPolicy:              voters(2) rewardEpochId(3) startVotingRoundId(4) threshold(2) seed(32) [address(20) weight(2)]*
//   - RelayMessage:               signingPolicy message(38) count(2) [signature(65) index(2)]*
package fsp

import (
	"fmt"
	"math"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/utils/fast"
)

// PayloadMessage is one protocol message inside submit1/submit2/submitSignatures
// calldata. Several messages for different protocols may be concatenated.
type PayloadMessage struct {
	ProtocolID    uint8               `json:"protocolId"`
	VotingRoundID inter.VotingRoundID `json:"votingRoundId"`
	Payload       []byte              `json:"payload"`
}

// Encode serializes a single message.
func (m PayloadMessage) Encode() ([]byte, error) {
	if len(m.Payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload of %d bytes does not fit the length prefix", len(m.Payload))
	}
	w := fast.NewWriter(make([]byte, 0, 7+len(m.Payload)))
	w.WriteUint8(m.ProtocolID)
	w.WriteUint32(uint32(m.VotingRoundID))
	w.WriteUint16(uint16(len(m.Payload)))
	w.Write(m.Payload)
	return w.Bytes(), nil
}

// EncodePayloadMessages concatenates the encodings of msgs.
func EncodePayloadMessages(msgs []PayloadMessage) ([]byte, error) {
	var out []byte
	for _, m := range msgs {
		enc, err := m.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// DecodePayloadMessages splits concatenated messages.
func DecodePayloadMessages(data []byte) ([]PayloadMessage, error) {
	r := fast.NewReader(data)
	var msgs []PayloadMessage
	for !r.Empty() {
		protocolID, err := r.ReadByte()
		if err != nil {
			return nil, decodeErr("payload message", err)
		}
		round, err := r.ReadUint32()
		if err != nil {
			return nil, decodeErr("payload message", err)
		}
		length, err := r.ReadUint16()
		if err != nil {
			return nil, decodeErr("payload message", err)
		}
		payload, err := r.Next(int(length))
		if err != nil {
			return nil, decodeErr("payload message", err)
		}
		msgs = append(msgs, PayloadMessage{
			ProtocolID:    protocolID,
			VotingRoundID: inter.VotingRoundID(round),
			Payload:       append([]byte(nil), payload...),
		})
	}
	return msgs, nil
}

func decodeErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", inter.ErrDecode, what, err)
}

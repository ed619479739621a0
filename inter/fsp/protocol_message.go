package fsp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/utils/fast"
)

// ProtocolMessageLength is the encoded size of a ProtocolMessageMerkleRoot.
const ProtocolMessageLength = 1 + 4 + 1 + common.HashLength

// ProtocolMessageMerkleRoot is what signers sign and what relay finalizes: the
// Merkle root of one protocol's results for a voting round.
type ProtocolMessageMerkleRoot struct {
	ProtocolID     uint8               `json:"protocolId"`
	VotingRoundID  inter.VotingRoundID `json:"votingRoundId"`
	IsSecureRandom bool                `json:"isSecureRandom"`
	MerkleRoot     common.Hash         `json:"merkleRoot"`
}

// Encode serializes the message into its fixed 38 bytes.
func (m ProtocolMessageMerkleRoot) Encode() []byte {
	w := fast.NewWriter(make([]byte, 0, ProtocolMessageLength))
	w.WriteUint8(m.ProtocolID)
	w.WriteUint32(uint32(m.VotingRoundID))
	if m.IsSecureRandom {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
	w.Write(m.MerkleRoot[:])
	return w.Bytes()
}

// Hash is the digest signers sign.
func (m ProtocolMessageMerkleRoot) Hash() common.Hash {
	return crypto.Keccak256Hash(m.Encode())
}

// DecodeProtocolMessageMerkleRoot parses exactly ProtocolMessageLength bytes.
func DecodeProtocolMessageMerkleRoot(data []byte) (ProtocolMessageMerkleRoot, error) {
	if len(data) != ProtocolMessageLength {
		return ProtocolMessageMerkleRoot{}, decodeErr("protocol message", fast.ErrShortBuffer)
	}
	return readProtocolMessage(fast.NewReader(data))
}

func readProtocolMessage(r *fast.Reader) (ProtocolMessageMerkleRoot, error) {
	var m ProtocolMessageMerkleRoot
	protocolID, err := r.ReadByte()
	if err != nil {
		return m, decodeErr("protocol message", err)
	}
	round, err := r.ReadUint32()
	if err != nil {
		return m, decodeErr("protocol message", err)
	}
	secure, err := r.ReadByte()
	if err != nil {
		return m, decodeErr("protocol message", err)
	}
	if secure > 1 {
		return m, decodeErr("protocol message", errInvalidBool)
	}
	root, err := r.Next(common.HashLength)
	if err != nil {
		return m, decodeErr("protocol message", err)
	}
	m.ProtocolID = protocolID
	m.VotingRoundID = inter.VotingRoundID(round)
	m.IsSecureRandom = secure == 1
	m.MerkleRoot = common.BytesToHash(root)
	return m, nil
}

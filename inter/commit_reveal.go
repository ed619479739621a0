package inter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// commitArgs is abi.encode(address voter, uint256 random, bytes encodedValues).
var commitArgs = NewArguments("address", "uint256", "bytes")

// CommitData is the payload of an FTSO commit message.
type CommitData struct {
	CommitHash common.Hash `json:"commitHash"`
}

// RevealData is the payload of an FTSO reveal message: the random nonce
// followed by the encoded price vector. Values is filled by DecodeReveal.
type RevealData struct {
	Random        common.Hash `json:"random"`
	EncodedValues []byte      `json:"encodedValues"`
	Values        []FeedValue `json:"values,omitempty"`
}

// CommitHash computes keccak256(abi.encode(voter, random, encodedValues)).
func CommitHash(voter common.Address, random common.Hash, encodedValues []byte) common.Hash {
	packed, err := commitArgs.Pack(voter, new(big.Int).SetBytes(random[:]), encodedValues)
	if err != nil {
		// static argument types, Pack cannot fail for well-typed values
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// Encode returns the commit payload bytes.
func (c CommitData) Encode() []byte {
	return common.CopyBytes(c.CommitHash[:])
}

// DecodeCommit parses a commit payload. It must be exactly one hash.
func DecodeCommit(payload []byte) (CommitData, error) {
	if len(payload) != common.HashLength {
		return CommitData{}, fmt.Errorf("%w: commit payload has %d bytes, want %d", ErrDecode, len(payload), common.HashLength)
	}
	return CommitData{CommitHash: common.BytesToHash(payload)}, nil
}

// Encode returns random || encodedValues.
func (r RevealData) Encode() []byte {
	out := make([]byte, 0, common.HashLength+len(r.EncodedValues))
	out = append(out, r.Random[:]...)
	return append(out, r.EncodedValues...)
}

// CommitHash recomputes the commitment this reveal opens for voter.
func (r RevealData) CommitHash(voter common.Address) common.Hash {
	return CommitHash(voter, r.Random, r.EncodedValues)
}

// DecodeReveal parses a reveal payload and decodes its values against the
// canonical feed order of the reward epoch.
func DecodeReveal(payload []byte, feeds []Feed) (RevealData, error) {
	if len(payload) < common.HashLength {
		return RevealData{}, fmt.Errorf("%w: reveal payload has %d bytes", ErrDecode, len(payload))
	}
	encoded := common.CopyBytes(payload[common.HashLength:])
	values, err := DecodeValues(encoded, feeds)
	if err != nil {
		return RevealData{}, err
	}
	return RevealData{
		Random:        common.BytesToHash(payload[:common.HashLength]),
		EncodedValues: encoded,
		Values:        values,
	}, nil
}

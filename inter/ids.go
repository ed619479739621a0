// Package inter holds the protocol primitives shared by every component of the
// provider: voting round and reward epoch identifiers, feed identifiers, the
// price vector codec and the FTSO commit/reveal payloads.
//
// Nothing in this package performs I/O. Every decoder treats its input as
// untrusted chain data and reports ErrDecode instead of panicking.
package inter

import (
	"errors"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
)

// ErrDecode marks a malformed protocol payload. Callers skip the offending
// message and keep processing the batch.
var ErrDecode = errors.New("malformed payload")

type (
	// VotingRoundID numbers the commit-reveal cycles since epoch zero.
	VotingRoundID uint32

	// RewardEpochID numbers the fixed-length sequences of voting rounds that
	// share one signing policy and voter weight snapshot.
	RewardEpochID uint32
)

// Bytes gets the byte representation of the index.
func (id VotingRoundID) Bytes() []byte {
	return bigendian.Uint32ToBytes(uint32(id))
}

// Bytes gets the byte representation of the index.
func (id RewardEpochID) Bytes() []byte {
	return bigendian.Uint32ToBytes(uint32(id))
}

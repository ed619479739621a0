package datamanager

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/registry"
)

// AddressSet is a set of submit addresses.
type AddressSet map[common.Address]struct{}

// Add inserts addr.
func (s AddressSet) Add(addr common.Address) {
	s[addr] = struct{}{}
}

// Has reports whether addr is in the set.
func (s AddressSet) Has(addr common.Address) bool {
	_, ok := s[addr]
	return ok
}

// Sorted returns the members in ascending byte order.
func (s AddressSet) Sorted() []common.Address {
	res := make([]common.Address, 0, len(s))
	for addr := range s {
		res = append(res, addr)
	}
	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i][:], res[j][:]) < 0
	})
	return res
}

// DataForCalculations is everything the result calculation of one voting
// round needs. It is built fresh on every call and never shared.
type DataForCalculations struct {
	VotingRoundID inter.VotingRoundID

	// OrderedSubmitAddresses lists the eligible voters in signing policy order.
	OrderedSubmitAddresses []common.Address

	// ValidEligibleReveals holds the reveals of eligible voters that open
	// their last commit.
	ValidEligibleReveals map[common.Address]inter.RevealData

	// RevealOffenders are eligible voters that committed in this round
	// without a matching reveal.
	RevealOffenders AddressSet

	// VoterMedianVotingWeights is the capped delegation weight of every
	// eligible voter.
	VoterMedianVotingWeights map[common.Address]*big.Int

	FeedOrder []inter.Feed

	RandomGenerationBenchingWindow uint32

	// BenchingWindowRevealOffenders are voters, eligible or not, that failed
	// to reveal in any of the previous RandomGenerationBenchingWindow rounds.
	BenchingWindowRevealOffenders AddressSet

	RewardEpoch *registry.RewardEpoch
}

// SignatureSubmission is a signature over an FTSO protocol message by an
// eligible signer.
type SignatureSubmission struct {
	SubmitAddress     common.Address
	BlockNumber       idx.Block
	TransactionIndex  uint32
	Timestamp         uint64
	RelativeTimestamp uint64

	Payload     fsp.SignaturePayload
	MessageHash common.Hash
	Signer      common.Address
	Weight      uint16
	Index       int
}

// ParsedFinalization is a relay transaction for the round that would pass
// the relay contract's checks.
type ParsedFinalization struct {
	ledger.FinalizationData
	Message *fsp.RelayMessage
}

// DataForRewardCalculation extends DataForCalculations with the signing and
// finalization activity of the rewarded window after the round.
type DataForRewardCalculation struct {
	*DataForCalculations

	// Signatures maps a protocol message hash to the last signature of every
	// eligible signer, in chain order.
	Signatures map[common.Hash][]SignatureSubmission

	// Finalizations lists every finalizable relay of the round in chain
	// order, reverted ones included.
	Finalizations []ParsedFinalization

	// FirstSuccessfulFinalization is the relay executed on chain, nil if none.
	FirstSuccessfulFinalization *ParsedFinalization

	// VoterWeights maps submit addresses onto the voters' weights.
	VoterWeights map[common.Address]*registry.VoterWeights
}

type chainOrdered interface {
	position() (idx.Block, uint32)
}

func (s SignatureSubmission) position() (idx.Block, uint32) {
	return s.BlockNumber, s.TransactionIndex
}

func (f ParsedFinalization) position() (idx.Block, uint32) {
	return f.BlockNumber, f.TransactionIndex
}

// sortChronologically sorts by block number, then transaction index.
func sortChronologically[T chainOrdered](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		bi, ti := items[i].position()
		bj, tj := items[j].position()
		return before(bi, ti, bj, tj)
	})
}

func sortSubmissions(subs []ledger.SubmissionData) {
	sort.SliceStable(subs, func(i, j int) bool {
		return before(subs[i].BlockNumber, subs[i].TransactionIndex, subs[j].BlockNumber, subs[j].TransactionIndex)
	})
}

func before(bi idx.Block, ti uint32, bj idx.Block, tj uint32) bool {
	if bi != bj {
		return bi < bj
	}
	return ti < tj
}

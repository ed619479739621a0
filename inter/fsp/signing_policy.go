package fsp

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/utils/fast"
)

var errUnknownType = errors.New("unknown payload type")

// SigningPolicy is the reward epoch's authoritative list of signers, their
// normalized weights and the finalization threshold.
type SigningPolicy struct {
	RewardEpochID      inter.RewardEpochID `json:"rewardEpochId"`
	StartVotingRoundID inter.VotingRoundID `json:"startVotingRoundId"`
	Threshold          uint16              `json:"threshold"`
	Seed               *big.Int            `json:"seed"`
	Voters             []common.Address    `json:"voters"`
	Weights            []uint16            `json:"weights"`
}

// TotalWeight sums the normalized weights.
func (p *SigningPolicy) TotalWeight() uint64 {
	var total uint64
	for _, w := range p.Weights {
		total += uint64(w)
	}
	return total
}

// Encode serializes the policy in the layout the relay contract hashes.
func (p *SigningPolicy) Encode() ([]byte, error) {
	if len(p.Voters) != len(p.Weights) {
		return nil, fmt.Errorf("signing policy has %d voters and %d weights", len(p.Voters), len(p.Weights))
	}
	if len(p.Voters) > math.MaxUint16 {
		return nil, fmt.Errorf("signing policy has too many voters: %d", len(p.Voters))
	}
	if p.RewardEpochID >= 1<<24 {
		return nil, fmt.Errorf("reward epoch id %d exceeds 24 bits", p.RewardEpochID)
	}
	seed := p.Seed
	if seed == nil {
		seed = new(big.Int)
	}
	if seed.Sign() < 0 || seed.BitLen() > 256 {
		return nil, fmt.Errorf("signing policy seed out of range")
	}
	w := fast.NewWriter(make([]byte, 0, 43+22*len(p.Voters)))
	w.WriteUint16(uint16(len(p.Voters)))
	w.WriteUint24(uint32(p.RewardEpochID))
	w.WriteUint32(uint32(p.StartVotingRoundID))
	w.WriteUint16(p.Threshold)
	w.Write(common.LeftPadBytes(seed.Bytes(), 32))
	for i, voter := range p.Voters {
		w.Write(voter[:])
		w.WriteUint16(p.Weights[i])
	}
	return w.Bytes(), nil
}

// Hash is keccak256 of the encoded policy.
func (p *SigningPolicy) Hash() (common.Hash, error) {
	enc, err := p.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// DecodeSigningPolicy parses an encoded policy that spans all of data.
func DecodeSigningPolicy(data []byte) (*SigningPolicy, error) {
	r := fast.NewReader(data)
	p, err := readSigningPolicy(r)
	if err != nil {
		return nil, err
	}
	if !r.Empty() {
		return nil, decodeErr("signing policy", fmt.Errorf("%d trailing bytes", r.Remaining()))
	}
	return p, nil
}

func readSigningPolicy(r *fast.Reader) (*SigningPolicy, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, decodeErr("signing policy", err)
	}
	epoch, err := r.ReadUint24()
	if err != nil {
		return nil, decodeErr("signing policy", err)
	}
	start, err := r.ReadUint32()
	if err != nil {
		return nil, decodeErr("signing policy", err)
	}
	threshold, err := r.ReadUint16()
	if err != nil {
		return nil, decodeErr("signing policy", err)
	}
	seed, err := r.Next(32)
	if err != nil {
		return nil, decodeErr("signing policy", err)
	}
	p := &SigningPolicy{
		RewardEpochID:      inter.RewardEpochID(epoch),
		StartVotingRoundID: inter.VotingRoundID(start),
		Threshold:          threshold,
		Seed:               new(big.Int).SetBytes(seed),
		Voters:             make([]common.Address, count),
		Weights:            make([]uint16, count),
	}
	for i := 0; i < int(count); i++ {
		addr, err := r.Next(common.AddressLength)
		if err != nil {
			return nil, decodeErr("signing policy", err)
		}
		weight, err := r.ReadUint16()
		if err != nil {
			return nil, decodeErr("signing policy", err)
		}
		p.Voters[i] = common.BytesToAddress(addr)
		p.Weights[i] = weight
	}
	return p, nil
}

package registry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/ledger"
)

var (
	// ErrEpochNotFound means the events defining the reward epoch are not
	// indexed yet. It is a normal state for the current and future epochs.
	ErrEpochNotFound = errors.New("reward epoch not found")

	// ErrCriticalInconsistency means the indexed events contradict each
	// other. It indicates indexer corruption and is reported to the operator.
	ErrCriticalInconsistency = errors.New("critical inconsistency")
)

// VoterRegistration joins the two registration events of one voter.
type VoterRegistration struct {
	Registered *contracts.VoterRegistered
	Info       *contracts.VoterRegistrationInfo
}

// VoterWeights is the reward-relevant view of a registered voter.
type VoterWeights struct {
	Identity               common.Address
	SubmitAddress          common.Address
	SigningAddress         common.Address
	DelegationAddress      common.Address
	DelegationWeight       *big.Int
	CappedDelegationWeight *big.Int
	FeeBIPS                uint16
	NodeIDs                [][20]byte
	NodeWeights            []*big.Int
}

// RewardEpoch is an immutable snapshot of everything the protocol fixes for
// one reward epoch: signing policy, voter registrations and weights, reward
// offers and the canonical feed order. All accessors return copies or values
// the caller must not modify.
type RewardEpoch struct {
	id             inter.RewardEpochID
	policyEvent    *contracts.SigningPolicyInitialized
	policyHash     common.Hash
	votePowerBlock uint64

	rewardOffers    []*contracts.RewardsOffered
	inflationOffers []*contracts.InflationRewardsOffered
	feeds           []inter.Feed

	signingToVoter           map[common.Address]common.Address
	submitToVoter            map[common.Address]common.Address
	delegationToCappedWeight map[common.Address]*big.Int
	submitToCappedWeight     map[common.Address]*big.Int
	submitToRegistration     map[common.Address]*VoterRegistration
	signerToWeight           map[common.Address]uint16
	signerToIndex            map[common.Address]int
	orderedSubmitAddresses   []common.Address
	totalSigningWeight       uint64
}

func inconsistent(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCriticalInconsistency, fmt.Sprintf(format, args...))
}

// NewRewardEpoch validates the events of a reward epoch setup and builds the
// snapshot. Every event must carry the signing policy's reward epoch id, and
// every signing policy voter must be fully registered.
func NewRewardEpoch(ev *ledger.RewardEpochEvents) (*RewardEpoch, error) {
	if ev == nil || ev.SigningPolicyInitialized == nil || ev.PreviousRewardEpochStarted == nil ||
		ev.RandomAcquisitionStarted == nil || ev.VotePowerBlockSelected == nil {
		return nil, fmt.Errorf("%w: incomplete reward epoch events", ErrEpochNotFound)
	}
	id := ev.SigningPolicyInitialized.RewardEpochID

	if ev.PreviousRewardEpochStarted.RewardEpochID+1 != id {
		return nil, inconsistent("previous reward epoch started id %d does not precede %d", ev.PreviousRewardEpochStarted.RewardEpochID, id)
	}
	if ev.RandomAcquisitionStarted.RewardEpochID != id {
		return nil, inconsistent("random acquisition reward epoch id %d, want %d", ev.RandomAcquisitionStarted.RewardEpochID, id)
	}
	for _, o := range ev.RewardOffers {
		if o.RewardEpochID != id {
			return nil, inconsistent("reward offer for %s has reward epoch id %d, want %d", o.FeedName.Symbol(), o.RewardEpochID, id)
		}
	}
	for _, o := range ev.InflationOffers {
		if o.RewardEpochID != id {
			return nil, inconsistent("inflation offer reward epoch id %d, want %d", o.RewardEpochID, id)
		}
	}
	if ev.VotePowerBlockSelected.RewardEpochID != id {
		return nil, inconsistent("vote power block reward epoch id %d, want %d", ev.VotePowerBlockSelected.RewardEpochID, id)
	}
	for _, r := range ev.VoterRegistered {
		if r.RewardEpochID != id {
			return nil, inconsistent("voter registration of %s has reward epoch id %d, want %d", r.Voter.Hex(), r.RewardEpochID, id)
		}
	}
	for _, r := range ev.VoterRegistrationInfo {
		if r.RewardEpochID != id {
			return nil, inconsistent("voter registration info of %s has reward epoch id %d, want %d", r.Voter.Hex(), r.RewardEpochID, id)
		}
	}

	policy := ev.SigningPolicyInitialized.Policy()
	policyHash, err := policy.Hash()
	if err != nil {
		return nil, inconsistent("signing policy: %v", err)
	}

	e := &RewardEpoch{
		id:                       id,
		policyEvent:              ev.SigningPolicyInitialized,
		policyHash:               policyHash,
		votePowerBlock:           ev.VotePowerBlockSelected.VotePowerBlock,
		rewardOffers:             ev.RewardOffers,
		inflationOffers:          ev.InflationOffers,
		feeds:                    canonicalFeedOrder(ev.RewardOffers, ev.InflationOffers),
		signingToVoter:           make(map[common.Address]common.Address),
		submitToVoter:            make(map[common.Address]common.Address),
		delegationToCappedWeight: make(map[common.Address]*big.Int),
		submitToCappedWeight:     make(map[common.Address]*big.Int),
		submitToRegistration:     make(map[common.Address]*VoterRegistration),
		signerToWeight:           make(map[common.Address]uint16),
		signerToIndex:            make(map[common.Address]int),
	}

	infos := make(map[common.Address]*contracts.VoterRegistrationInfo, len(ev.VoterRegistrationInfo))
	for _, info := range ev.VoterRegistrationInfo {
		infos[info.Voter] = info
	}
	signerToRegistration := make(map[common.Address]*VoterRegistration, len(ev.VoterRegistered))
	for _, r := range ev.VoterRegistered {
		info, ok := infos[r.Voter]
		if !ok {
			continue
		}
		signerToRegistration[r.SigningPolicyAddress] = &VoterRegistration{Registered: r, Info: info}
	}

	for i, signer := range policy.Voters {
		weight := policy.Weights[i]
		reg, ok := signerToRegistration[signer]
		if !ok {
			return nil, inconsistent("signing policy voter %s has no voter registration", signer.Hex())
		}
		voter := reg.Registered.Voter
		e.totalSigningWeight += uint64(weight)
		e.signerToIndex[signer] = i
		e.signingToVoter[signer] = voter
		e.delegationToCappedWeight[reg.Info.DelegationAddress] = reg.Info.WNatCappedWeight
		e.submitToVoter[reg.Registered.SubmitAddress] = voter
		e.submitToCappedWeight[reg.Registered.SubmitAddress] = reg.Info.WNatCappedWeight
		e.submitToRegistration[reg.Registered.SubmitAddress] = reg
		e.orderedSubmitAddresses = append(e.orderedSubmitAddresses, reg.Registered.SubmitAddress)
		e.signerToWeight[signer] = weight
	}
	return e, nil
}

// ID returns the reward epoch id.
func (e *RewardEpoch) ID() inter.RewardEpochID { return e.id }

// StartVotingRoundID returns the first voting round the signing policy applies to.
func (e *RewardEpoch) StartVotingRoundID() inter.VotingRoundID {
	return e.policyEvent.StartVotingRoundID
}

// VotePowerBlock returns the block at which voter weights were taken.
func (e *RewardEpoch) VotePowerBlock() uint64 { return e.votePowerBlock }

// SigningPolicy returns a copy of the signing policy.
func (e *RewardEpoch) SigningPolicy() *fsp.SigningPolicy {
	return e.policyEvent.Policy()
}

// SigningPolicyHash returns the hash relay messages must reference.
func (e *RewardEpoch) SigningPolicyHash() common.Hash { return e.policyHash }

// CanonicalFeedOrder returns a copy of the feed order of this epoch's price vectors.
func (e *RewardEpoch) CanonicalFeedOrder() []inter.Feed {
	return append([]inter.Feed(nil), e.feeds...)
}

// RewardOffers returns the community offers. The slice must not be modified.
func (e *RewardEpoch) RewardOffers() []*contracts.RewardsOffered { return e.rewardOffers }

// InflationOffers returns the inflation offers. The slice must not be modified.
func (e *RewardEpoch) InflationOffers() []*contracts.InflationRewardsOffered {
	return e.inflationOffers
}

// IsEligibleSubmitAddress reports whether submitAddress belongs to a voter of
// the signing policy.
func (e *RewardEpoch) IsEligibleSubmitAddress(submitAddress common.Address) bool {
	_, ok := e.submitToVoter[submitAddress]
	return ok
}

// IsEligibleSigner reports whether signer is in the signing policy.
func (e *RewardEpoch) IsEligibleSigner(signer common.Address) bool {
	_, ok := e.signingToVoter[signer]
	return ok
}

// MedianVotingWeight returns the capped delegation weight of a submit address.
func (e *RewardEpoch) MedianVotingWeight(submitAddress common.Address) (*big.Int, bool) {
	w, ok := e.submitToCappedWeight[submitAddress]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(w), true
}

// VoterForSigner maps a signing policy address onto the voter identity.
func (e *RewardEpoch) VoterForSigner(signer common.Address) (common.Address, bool) {
	v, ok := e.signingToVoter[signer]
	return v, ok
}

// SignerWeight returns the normalized signing policy weight of signer.
func (e *RewardEpoch) SignerWeight(signer common.Address) (uint16, bool) {
	w, ok := e.signerToWeight[signer]
	return w, ok
}

// SignerIndex returns the position of signer in the signing policy.
func (e *RewardEpoch) SignerIndex(signer common.Address) (int, bool) {
	i, ok := e.signerToIndex[signer]
	return i, ok
}

// DelegationCappedWeight returns the capped weight registered for a delegation address.
func (e *RewardEpoch) DelegationCappedWeight(delegation common.Address) (*big.Int, bool) {
	w, ok := e.delegationToCappedWeight[delegation]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(w), true
}

// TotalSigningWeight sums the signing policy weights.
func (e *RewardEpoch) TotalSigningWeight() uint64 { return e.totalSigningWeight }

// OrderedSubmitAddresses returns submit addresses in signing policy order.
func (e *RewardEpoch) OrderedSubmitAddresses() []common.Address {
	return append([]common.Address(nil), e.orderedSubmitAddresses...)
}

// VoterWeights returns a fresh map from submit address to voter weights.
func (e *RewardEpoch) VoterWeights() map[common.Address]*VoterWeights {
	res := make(map[common.Address]*VoterWeights, len(e.orderedSubmitAddresses))
	for _, submit := range e.orderedSubmitAddresses {
		reg := e.submitToRegistration[submit]
		res[submit] = &VoterWeights{
			Identity:               reg.Registered.Voter,
			SubmitAddress:          submit,
			SigningAddress:         reg.Registered.SigningPolicyAddress,
			DelegationAddress:      reg.Info.DelegationAddress,
			DelegationWeight:       new(big.Int).Set(reg.Info.WNatWeight),
			CappedDelegationWeight: new(big.Int).Set(reg.Info.WNatCappedWeight),
			FeeBIPS:                reg.Info.DelegationFeeBIPS,
			NodeIDs:                append([][20]byte(nil), reg.Info.NodeIDs...),
			NodeWeights:            append([]*big.Int(nil), reg.Info.NodeWeights...),
		}
	}
	return res
}

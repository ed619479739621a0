package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/utils/fast"
)

// ErrUnexpectedEvent is returned when a log's topic0 does not match the
// event being decoded.
var ErrUnexpectedEvent = errors.New("unexpected event")

// RewardEpochStarted is emitted by FlareSystemsManager when a reward epoch begins.
type RewardEpochStarted struct {
	RewardEpochID      inter.RewardEpochID
	StartVotingRoundID inter.VotingRoundID
	Timestamp          uint64
}

// RandomAcquisitionStarted is emitted when the next reward epoch's setup begins.
type RandomAcquisitionStarted struct {
	RewardEpochID inter.RewardEpochID
	Timestamp     uint64
}

// VotePowerBlockSelected is emitted once the vote power block of the next
// reward epoch is fixed.
type VotePowerBlockSelected struct {
	RewardEpochID  inter.RewardEpochID
	VotePowerBlock uint64
	Timestamp      uint64
}

// SigningPolicyInitialized is emitted by Relay with the signing policy of a
// reward epoch.
type SigningPolicyInitialized struct {
	RewardEpochID      inter.RewardEpochID
	StartVotingRoundID inter.VotingRoundID
	Threshold          uint16
	Seed               *big.Int
	Voters             []common.Address
	Weights            []uint16
	SigningPolicyBytes []byte
	Timestamp          uint64
}

// Policy converts the event into the signing policy relay messages carry.
func (e *SigningPolicyInitialized) Policy() *fsp.SigningPolicy {
	return &fsp.SigningPolicy{
		RewardEpochID:      e.RewardEpochID,
		StartVotingRoundID: e.StartVotingRoundID,
		Threshold:          e.Threshold,
		Seed:               new(big.Int).Set(e.Seed),
		Voters:             append([]common.Address(nil), e.Voters...),
		Weights:            append([]uint16(nil), e.Weights...),
	}
}

// VoterRegistered is emitted by VoterRegistry for every voter admitted to a
// reward epoch. Voter is the identity address.
type VoterRegistered struct {
	Voter                   common.Address
	RewardEpochID           inter.RewardEpochID
	SigningPolicyAddress    common.Address
	SubmitAddress           common.Address
	SubmitSignaturesAddress common.Address
	PublicKeyPart1          common.Hash
	PublicKeyPart2          common.Hash
	RegistrationWeight      *big.Int
}

// VoterRegistrationInfo is emitted by FlareSystemsCalculator with the
// delegation data of a registered voter.
type VoterRegistrationInfo struct {
	Voter             common.Address
	RewardEpochID     inter.RewardEpochID
	DelegationAddress common.Address
	DelegationFeeBIPS uint16
	WNatWeight        *big.Int
	WNatCappedWeight  *big.Int
	NodeIDs           [][20]byte
	NodeWeights       []*big.Int
}

// RewardsOffered is a community reward offer for a single feed.
type RewardsOffered struct {
	RewardEpochID             inter.RewardEpochID
	FeedName                  inter.FeedName
	Decimals                  int8
	Amount                    *big.Int
	MinRewardedTurnoutBIPS    uint16
	PrimaryBandRewardSharePPM uint32
	SecondaryBandWidthPPM     uint32
	ClaimBackAddress          common.Address
	CurrencyAddress           common.Address
	LeadProviders             []common.Address
	RewardBeltPPM             uint32
}

// InflationRewardsOffered is the inflation reward offer shared by a list of feeds.
type InflationRewardsOffered struct {
	RewardEpochID             inter.RewardEpochID
	FeedNames                 []inter.FeedName
	Decimals                  []int8
	Amount                    *big.Int
	MinRewardedTurnoutBIPS    uint16
	PrimaryBandRewardSharePPM uint32
	SecondaryBandWidthPPMs    []uint32
	Mode                      uint16
}

// DecodeRewardEpochStarted decodes a RewardEpochStarted log.
func (c *Codec) DecodeRewardEpochStarted(topics []common.Hash, data []byte) (*RewardEpochStarted, error) {
	f, err := c.unpack(EventRewardEpochStarted, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventRewardEpochStarted}
	e := &RewardEpochStarted{
		RewardEpochID:      inter.RewardEpochID(r.uint24("rewardEpochId")),
		StartVotingRoundID: inter.VotingRoundID(r.uint32("startVotingRoundId")),
		Timestamp:          r.uint64("timestamp"),
	}
	return e, r.err
}

// EncodeRewardEpochStarted builds the log topics and data of e.
func (c *Codec) EncodeRewardEpochStarted(e *RewardEpochStarted) ([]common.Hash, []byte, error) {
	return c.pack(EventRewardEpochStarted, fields{
		"rewardEpochId":      epochArg(e.RewardEpochID),
		"startVotingRoundId": uint32(e.StartVotingRoundID),
		"timestamp":          e.Timestamp,
	})
}

// DecodeRandomAcquisitionStarted decodes a RandomAcquisitionStarted log.
func (c *Codec) DecodeRandomAcquisitionStarted(topics []common.Hash, data []byte) (*RandomAcquisitionStarted, error) {
	f, err := c.unpack(EventRandomAcquisitionStarted, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventRandomAcquisitionStarted}
	e := &RandomAcquisitionStarted{
		RewardEpochID: inter.RewardEpochID(r.uint24("rewardEpochId")),
		Timestamp:     r.uint64("timestamp"),
	}
	return e, r.err
}

// EncodeRandomAcquisitionStarted builds the log topics and data of e.
func (c *Codec) EncodeRandomAcquisitionStarted(e *RandomAcquisitionStarted) ([]common.Hash, []byte, error) {
	return c.pack(EventRandomAcquisitionStarted, fields{
		"rewardEpochId": epochArg(e.RewardEpochID),
		"timestamp":     e.Timestamp,
	})
}

// DecodeVotePowerBlockSelected decodes a VotePowerBlockSelected log.
func (c *Codec) DecodeVotePowerBlockSelected(topics []common.Hash, data []byte) (*VotePowerBlockSelected, error) {
	f, err := c.unpack(EventVotePowerBlockSelected, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventVotePowerBlockSelected}
	e := &VotePowerBlockSelected{
		RewardEpochID:  inter.RewardEpochID(r.uint24("rewardEpochId")),
		VotePowerBlock: r.uint64("votePowerBlock"),
		Timestamp:      r.uint64("timestamp"),
	}
	return e, r.err
}

// EncodeVotePowerBlockSelected builds the log topics and data of e.
func (c *Codec) EncodeVotePowerBlockSelected(e *VotePowerBlockSelected) ([]common.Hash, []byte, error) {
	return c.pack(EventVotePowerBlockSelected, fields{
		"rewardEpochId":  epochArg(e.RewardEpochID),
		"votePowerBlock": e.VotePowerBlock,
		"timestamp":      e.Timestamp,
	})
}

// DecodeSigningPolicyInitialized decodes a SigningPolicyInitialized log.
func (c *Codec) DecodeSigningPolicyInitialized(topics []common.Hash, data []byte) (*SigningPolicyInitialized, error) {
	f, err := c.unpack(EventSigningPolicyInitialized, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventSigningPolicyInitialized}
	e := &SigningPolicyInitialized{
		RewardEpochID:      inter.RewardEpochID(r.uint24("rewardEpochId")),
		StartVotingRoundID: inter.VotingRoundID(r.uint32("startVotingRoundId")),
		Threshold:          r.uint16("threshold"),
		Seed:               r.bigInt("seed"),
		Voters:             r.addresses("voters"),
		SigningPolicyBytes: r.bytes("signingPolicyBytes"),
		Timestamp:          r.uint64("timestamp"),
	}
	if w, ok := f["weights"].([]uint16); ok {
		e.Weights = w
	} else {
		r.mismatch("weights", f["weights"])
	}
	if r.err == nil && len(e.Voters) != len(e.Weights) {
		r.err = fmt.Errorf("%s: %d voters and %d weights", EventSigningPolicyInitialized, len(e.Voters), len(e.Weights))
	}
	return e, r.err
}

// EncodeSigningPolicyInitialized builds the log topics and data of e.
// SigningPolicyBytes is filled from the policy encoding when empty.
func (c *Codec) EncodeSigningPolicyInitialized(e *SigningPolicyInitialized) ([]common.Hash, []byte, error) {
	raw := e.SigningPolicyBytes
	if len(raw) == 0 {
		var err error
		if raw, err = e.Policy().Encode(); err != nil {
			return nil, nil, err
		}
	}
	return c.pack(EventSigningPolicyInitialized, fields{
		"rewardEpochId":      epochArg(e.RewardEpochID),
		"startVotingRoundId": uint32(e.StartVotingRoundID),
		"threshold":          e.Threshold,
		"seed":               e.Seed,
		"voters":             e.Voters,
		"weights":            e.Weights,
		"signingPolicyBytes": raw,
		"timestamp":          e.Timestamp,
	})
}

// DecodeVoterRegistered decodes a VoterRegistered log.
func (c *Codec) DecodeVoterRegistered(topics []common.Hash, data []byte) (*VoterRegistered, error) {
	f, err := c.unpack(EventVoterRegistered, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventVoterRegistered}
	e := &VoterRegistered{
		Voter:                   r.address("voter"),
		RewardEpochID:           inter.RewardEpochID(r.uint24("rewardEpochId")),
		SigningPolicyAddress:    r.address("signingPolicyAddress"),
		SubmitAddress:           r.address("submitAddress"),
		SubmitSignaturesAddress: r.address("submitSignaturesAddress"),
		PublicKeyPart1:          r.bytes32("publicKeyPart1"),
		PublicKeyPart2:          r.bytes32("publicKeyPart2"),
		RegistrationWeight:      r.bigInt("registrationWeight"),
	}
	return e, r.err
}

// EncodeVoterRegistered builds the log topics and data of e.
func (c *Codec) EncodeVoterRegistered(e *VoterRegistered) ([]common.Hash, []byte, error) {
	return c.pack(EventVoterRegistered, fields{
		"voter":                   e.Voter,
		"rewardEpochId":           epochArg(e.RewardEpochID),
		"signingPolicyAddress":    e.SigningPolicyAddress,
		"submitAddress":           e.SubmitAddress,
		"submitSignaturesAddress": e.SubmitSignaturesAddress,
		"publicKeyPart1":          [32]byte(e.PublicKeyPart1),
		"publicKeyPart2":          [32]byte(e.PublicKeyPart2),
		"registrationWeight":      e.RegistrationWeight,
	})
}

// DecodeVoterRegistrationInfo decodes a VoterRegistrationInfo log.
func (c *Codec) DecodeVoterRegistrationInfo(topics []common.Hash, data []byte) (*VoterRegistrationInfo, error) {
	f, err := c.unpack(EventVoterRegistrationInfo, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventVoterRegistrationInfo}
	e := &VoterRegistrationInfo{
		Voter:             r.address("voter"),
		RewardEpochID:     inter.RewardEpochID(r.uint24("rewardEpochId")),
		DelegationAddress: r.address("delegationAddress"),
		DelegationFeeBIPS: r.uint16("delegationFeeBIPS"),
		WNatWeight:        r.bigInt("wNatWeight"),
		WNatCappedWeight:  r.bigInt("wNatCappedWeight"),
	}
	if ids, ok := f["nodeIds"].([][20]byte); ok {
		e.NodeIDs = ids
	} else {
		r.mismatch("nodeIds", f["nodeIds"])
	}
	if w, ok := f["nodeWeights"].([]*big.Int); ok {
		e.NodeWeights = w
	} else {
		r.mismatch("nodeWeights", f["nodeWeights"])
	}
	return e, r.err
}

// EncodeVoterRegistrationInfo builds the log topics and data of e.
func (c *Codec) EncodeVoterRegistrationInfo(e *VoterRegistrationInfo) ([]common.Hash, []byte, error) {
	nodeIDs := e.NodeIDs
	if nodeIDs == nil {
		nodeIDs = [][20]byte{}
	}
	nodeWeights := e.NodeWeights
	if nodeWeights == nil {
		nodeWeights = []*big.Int{}
	}
	return c.pack(EventVoterRegistrationInfo, fields{
		"voter":             e.Voter,
		"rewardEpochId":     epochArg(e.RewardEpochID),
		"delegationAddress": e.DelegationAddress,
		"delegationFeeBIPS": e.DelegationFeeBIPS,
		"wNatWeight":        e.WNatWeight,
		"wNatCappedWeight":  e.WNatCappedWeight,
		"nodeIds":           nodeIDs,
		"nodeWeights":       nodeWeights,
	})
}

// DecodeRewardsOffered decodes a RewardsOffered log.
func (c *Codec) DecodeRewardsOffered(topics []common.Hash, data []byte) (*RewardsOffered, error) {
	f, err := c.unpack(EventRewardsOffered, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventRewardsOffered}
	e := &RewardsOffered{
		RewardEpochID:             inter.RewardEpochID(r.uint24("rewardEpochId")),
		FeedName:                  inter.FeedName(r.bytes8("feedName")),
		Decimals:                  r.int8("decimals"),
		Amount:                    r.bigInt("amount"),
		MinRewardedTurnoutBIPS:    r.uint16("minRewardedTurnoutBIPS"),
		PrimaryBandRewardSharePPM: r.uint24("primaryBandRewardSharePPM"),
		SecondaryBandWidthPPM:     r.uint24("secondaryBandWidthPPM"),
		ClaimBackAddress:          r.address("claimBackAddress"),
		CurrencyAddress:           r.address("currencyAddress"),
		LeadProviders:             r.addresses("leadProviders"),
		RewardBeltPPM:             r.uint24("rewardBeltPPM"),
	}
	return e, r.err
}

// EncodeRewardsOffered builds the log topics and data of e.
func (c *Codec) EncodeRewardsOffered(e *RewardsOffered) ([]common.Hash, []byte, error) {
	leads := e.LeadProviders
	if leads == nil {
		leads = []common.Address{}
	}
	return c.pack(EventRewardsOffered, fields{
		"rewardEpochId":             epochArg(e.RewardEpochID),
		"feedName":                  [8]byte(e.FeedName),
		"decimals":                  e.Decimals,
		"amount":                    e.Amount,
		"minRewardedTurnoutBIPS":    e.MinRewardedTurnoutBIPS,
		"primaryBandRewardSharePPM": new(big.Int).SetUint64(uint64(e.PrimaryBandRewardSharePPM)),
		"secondaryBandWidthPPM":     new(big.Int).SetUint64(uint64(e.SecondaryBandWidthPPM)),
		"claimBackAddress":          e.ClaimBackAddress,
		"currencyAddress":           e.CurrencyAddress,
		"leadProviders":             leads,
		"rewardBeltPPM":             new(big.Int).SetUint64(uint64(e.RewardBeltPPM)),
	})
}

// DecodeInflationRewardsOffered decodes an InflationRewardsOffered log. The
// packed feed names, decimals and band widths must describe the same number
// of feeds.
func (c *Codec) DecodeInflationRewardsOffered(topics []common.Hash, data []byte) (*InflationRewardsOffered, error) {
	f, err := c.unpack(EventInflationRewardsOffered, topics, data)
	if err != nil {
		return nil, err
	}
	r := &reader{f: f, ev: EventInflationRewardsOffered}
	e := &InflationRewardsOffered{
		RewardEpochID:             inter.RewardEpochID(r.uint24("rewardEpochId")),
		Amount:                    r.bigInt("amount"),
		MinRewardedTurnoutBIPS:    r.uint16("minRewardedTurnoutBIPS"),
		PrimaryBandRewardSharePPM: r.uint24("primaryBandRewardSharePPM"),
		Mode:                      r.uint16("mode"),
	}
	names := r.bytes("feedNames")
	decimals := r.bytes("decimals")
	widths := r.bytes("secondaryBandWidthPPMs")
	if r.err != nil {
		return nil, r.err
	}
	if len(names)%inter.FeedNameLength != 0 {
		return nil, fmt.Errorf("%w: feed names must be a multiple of %d bytes", inter.ErrDecode, inter.FeedNameLength)
	}
	if len(widths)%3 != 0 {
		return nil, fmt.Errorf("%w: secondary band widths must be a multiple of 3 bytes", inter.ErrDecode)
	}
	count := len(names) / inter.FeedNameLength
	if len(widths)/3 != count || len(decimals) != count {
		return nil, fmt.Errorf("%w: %d feed names, %d decimals and %d band widths", inter.ErrDecode, count, len(decimals), len(widths)/3)
	}
	wr := fast.NewReader(widths)
	for i := 0; i < count; i++ {
		var name inter.FeedName
		copy(name[:], names[i*inter.FeedNameLength:])
		e.FeedNames = append(e.FeedNames, name)
		e.Decimals = append(e.Decimals, int8(decimals[i]))
		w, err := wr.ReadUint24()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", inter.ErrDecode, err)
		}
		e.SecondaryBandWidthPPMs = append(e.SecondaryBandWidthPPMs, w)
	}
	return e, nil
}

// EncodeInflationRewardsOffered builds the log topics and data of e.
func (c *Codec) EncodeInflationRewardsOffered(e *InflationRewardsOffered) ([]common.Hash, []byte, error) {
	if len(e.Decimals) != len(e.FeedNames) || len(e.SecondaryBandWidthPPMs) != len(e.FeedNames) {
		return nil, nil, fmt.Errorf("%s: feed names, decimals and band widths differ in length", EventInflationRewardsOffered)
	}
	names := fast.NewWriter(make([]byte, 0, len(e.FeedNames)*inter.FeedNameLength))
	decimals := fast.NewWriter(make([]byte, 0, len(e.Decimals)))
	widths := fast.NewWriter(make([]byte, 0, 3*len(e.SecondaryBandWidthPPMs)))
	for i, name := range e.FeedNames {
		names.Write(name[:])
		decimals.WriteUint8(uint8(e.Decimals[i]))
		widths.WriteUint24(e.SecondaryBandWidthPPMs[i])
	}
	return c.pack(EventInflationRewardsOffered, fields{
		"rewardEpochId":             epochArg(e.RewardEpochID),
		"feedNames":                 names.Bytes(),
		"decimals":                  decimals.Bytes(),
		"amount":                    e.Amount,
		"minRewardedTurnoutBIPS":    e.MinRewardedTurnoutBIPS,
		"primaryBandRewardSharePPM": new(big.Int).SetUint64(uint64(e.PrimaryBandRewardSharePPM)),
		"secondaryBandWidthPPMs":    widths.Bytes(),
		"mode":                      e.Mode,
	})
}

func epochArg(id inter.RewardEpochID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

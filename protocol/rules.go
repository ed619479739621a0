// Package protocol defines the network rules the FTSO provider runs under.
//
// This package provides:
//   - Network identification constants (MainNet, TestNet, FakeNet)
//   - The epoch schedule (EpochSettings) mapping time to voting rounds and reward epochs
//   - Protocol parameters (protocol id, benching window, finalization windows)
//   - Reward parameters (bips shares, band widths, penalty multiplier, burn address)
//   - Addresses of the protocol contracts whose transactions and events are read
//
// The Rules type is the central configuration structure every component
// receives; nothing here is read from global state.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Network identification constants
const (
	// MainNetworkID is the chain ID of the Flare mainnet.
	MainNetworkID uint64 = 14

	// TestNetworkID is the chain ID of the Coston2 testnet.
	TestNetworkID uint64 = 114

	// FakeNetworkID is the chain ID used by local fake networks and tests.
	FakeNetworkID uint64 = 0xfa3

	// FTSOProtocolID identifies FTSO messages inside submission payloads.
	FTSOProtocolID uint8 = 100
)

// Rules describes the complete configuration of an FTSO network deployment.
type Rules struct {
	Name      string `yaml:"name" json:"name"`           // Network name identifier (e.g., "main", "test", "fake")
	NetworkID uint64 `yaml:"networkId" json:"networkId"` // Chain ID

	// Epochs - the global voting round / reward epoch schedule
	Epochs EpochSettings `yaml:"epochs" json:"epochs"`

	// Protocol - commit/reveal and finalization parameters
	Protocol ProtocolRules `yaml:"protocol" json:"protocol"`

	// Rewards - reward split and claim parameters
	Rewards RewardRules `yaml:"rewards" json:"rewards"`

	// Contracts - addresses the indexed transactions and events come from
	Contracts ContractAddresses `yaml:"contracts" json:"contracts"`
}

// ProtocolRules holds the commit/reveal protocol parameters.
type ProtocolRules struct {
	// ProtocolID is the id FTSO messages carry in submission payloads.
	ProtocolID uint8 `yaml:"protocolId" json:"protocolId"`

	// RandomBenchingWindow is the number of previous rounds in which a failed
	// reveal excludes a voter from contributing to a secure random.
	RandomBenchingWindow uint32 `yaml:"randomBenchingWindow" json:"randomBenchingWindow"`

	// AdditionalRewardedFinalizationWindows extends the rewarded signature and
	// finalization window by this many voting rounds past round N+1.
	AdditionalRewardedFinalizationWindows uint32 `yaml:"additionalRewardedFinalizationWindows" json:"additionalRewardedFinalizationWindows"`

	// MinSecureRevealers is the number of non-benched valid revealers
	// required for the round random to be secure.
	MinSecureRevealers int `yaml:"minSecureRevealers" json:"minSecureRevealers"`
}

// RewardRules holds the parameters of the reward claim calculation.
type RewardRules struct {
	// SigningBIPS is the share of each offer paid to signers.
	SigningBIPS uint64 `yaml:"signingBips" json:"signingBips"`

	// FinalizationBIPS is the share of each offer paid to the finalizer.
	FinalizationBIPS uint64 `yaml:"finalizationBips" json:"finalizationBips"`

	// IqrSharePPM and PctSharePPM weight the IQR and PCT bands against each other.
	IqrSharePPM uint64 `yaml:"iqrSharePpm" json:"iqrSharePpm"`
	PctSharePPM uint64 `yaml:"pctSharePpm" json:"pctSharePpm"`

	// ElasticBandWidthPPM is the default PCT band half width relative to the median.
	ElasticBandWidthPPM uint64 `yaml:"elasticBandWidthPpm" json:"elasticBandWidthPpm"`

	// DefaultRewardBeltPPM is the lead provider band half width used by
	// inflation offers, which do not carry their own.
	DefaultRewardBeltPPM uint64 `yaml:"defaultRewardBeltPpm" json:"defaultRewardBeltPpm"`

	// MissedRevealPenaltyMultiplier scales the penalty of a voter who
	// committed without a valid reveal.
	MissedRevealPenaltyMultiplier uint64 `yaml:"missedRevealPenaltyMultiplier" json:"missedRevealPenaltyMultiplier"`

	// BurnAddress receives every penalized amount.
	BurnAddress common.Address `yaml:"burnAddress" json:"burnAddress"`
}

// ContractAddresses lists the protocol contracts the provider observes.
type ContractAddresses struct {
	Submission             common.Address `yaml:"submission" json:"submission"`
	Relay                  common.Address `yaml:"relay" json:"relay"`
	FlareSystemsManager    common.Address `yaml:"flareSystemsManager" json:"flareSystemsManager"`
	VoterRegistry          common.Address `yaml:"voterRegistry" json:"voterRegistry"`
	FlareSystemsCalculator common.Address `yaml:"flareSystemsCalculator" json:"flareSystemsCalculator"`
	RewardOfferManager     common.Address `yaml:"rewardOfferManager" json:"rewardOfferManager"`
}

// MainNetRules returns the configuration rules for the Flare mainnet.
// Contract addresses are deployment specific and come from configuration.
func MainNetRules() Rules {
	return Rules{
		Name:      "main",
		NetworkID: MainNetworkID,
		Epochs: EpochSettings{
			FirstVotingRoundStartSec:           1658430000,
			VotingEpochDurationSec:             90,
			FirstRewardEpochStartVotingRoundID: 0,
			RewardEpochDurationInVotingEpochs:  3360, // 3.5 days
			RevealDeadlineSec:                  45,
		},
		Protocol: DefaultProtocolRules(),
		Rewards:  DefaultRewardRules(),
	}
}

// TestNetRules returns the configuration rules for the Coston2 testnet.
// Reward epochs are shorter than on mainnet.
func TestNetRules() Rules {
	rules := MainNetRules()
	rules.Name = "test"
	rules.NetworkID = TestNetworkID
	rules.Epochs.RewardEpochDurationInVotingEpochs = 240 // 6 hours
	return rules
}

// FakeNetRules returns the configuration rules for fake/local networks.
// Fake networks use accelerated parameters for faster testing:
//   - 20 second voting rounds with a 10 second reveal deadline
//   - 10 voting rounds per reward epoch
//   - a short benching window
//   - fixed, well known contract addresses
func FakeNetRules() Rules {
	protocol := DefaultProtocolRules()
	protocol.RandomBenchingWindow = 10
	return Rules{
		Name:      "fake",
		NetworkID: FakeNetworkID,
		Epochs: EpochSettings{
			FirstVotingRoundStartSec:           1700000000,
			VotingEpochDurationSec:             20,
			FirstRewardEpochStartVotingRoundID: 0,
			RewardEpochDurationInVotingEpochs:  10,
			RevealDeadlineSec:                  10,
		},
		Protocol:  protocol,
		Rewards:   DefaultRewardRules(),
		Contracts: FakeContractAddresses(),
	}
}

// DefaultProtocolRules returns the protocol parameters shared by all networks.
func DefaultProtocolRules() ProtocolRules {
	return ProtocolRules{
		ProtocolID:                            FTSOProtocolID,
		RandomBenchingWindow:                  20,
		AdditionalRewardedFinalizationWindows: 0,
		MinSecureRevealers:                    2,
	}
}

// DefaultRewardRules returns the reward parameters shared by all networks.
func DefaultRewardRules() RewardRules {
	return RewardRules{
		SigningBIPS:                   1000,   // 10% of each offer to signers
		FinalizationBIPS:              1000,   // 10% to the finalizer
		IqrSharePPM:                   700000, // 70% weight on the IQR band
		PctSharePPM:                   300000, // 30% weight on the PCT band
		ElasticBandWidthPPM:           50000,  // +-5% around the median
		DefaultRewardBeltPPM:          500000, // +-50% around the lead providers' median
		MissedRevealPenaltyMultiplier: 10,
		BurnAddress:                   common.Address{},
	}
}

// FakeContractAddresses returns the contract addresses used by fake networks.
func FakeContractAddresses() ContractAddresses {
	return ContractAddresses{
		Submission:             common.HexToAddress("0x000000000000000000000000000000000000f5f1"),
		Relay:                  common.HexToAddress("0x000000000000000000000000000000000000f5f2"),
		FlareSystemsManager:    common.HexToAddress("0x000000000000000000000000000000000000f5f3"),
		VoterRegistry:          common.HexToAddress("0x000000000000000000000000000000000000f5f4"),
		FlareSystemsCalculator: common.HexToAddress("0x000000000000000000000000000000000000f5f5"),
		RewardOfferManager:     common.HexToAddress("0x000000000000000000000000000000000000f5f6"),
	}
}

// Validate checks that the rules are complete enough to run a provider.
func (r Rules) Validate() error {
	if err := r.Epochs.Validate(); err != nil {
		return err
	}
	if r.Rewards.SigningBIPS+r.Rewards.FinalizationBIPS > TotalBIPS {
		return fmt.Errorf("signing and finalization shares exceed %d bips", TotalBIPS)
	}
	if r.Rewards.IqrSharePPM+r.Rewards.PctSharePPM != TotalPPM {
		return fmt.Errorf("IQR and PCT shares must add up to %d ppm", TotalPPM)
	}
	if r.Protocol.MinSecureRevealers < 1 {
		return errors.New("minimum secure revealers must be positive")
	}
	zero := common.Address{}
	if r.Contracts.Submission == zero || r.Contracts.Relay == zero ||
		r.Contracts.FlareSystemsManager == zero || r.Contracts.VoterRegistry == zero ||
		r.Contracts.FlareSystemsCalculator == zero || r.Contracts.RewardOfferManager == zero {
		return fmt.Errorf("network %q: protocol contract addresses are not configured", r.Name)
	}
	return nil
}

const (
	// TotalBIPS is 100% in basis points.
	TotalBIPS = 10000
	// TotalPPM is 100% in parts per million.
	TotalPPM = 1000000
)

// String returns a JSON representation of Rules for debugging and logging.
func (r Rules) String() string {
	b, _ := json.Marshal(&r)
	return string(b)
}

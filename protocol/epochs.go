package protocol

import (
	"errors"
	"fmt"

	"github.com/rony4d/go-ftso-provider/inter"
)

// ErrInvalidEpochInput is returned for timestamps before epoch zero, voting
// rounds before the first reward epoch, and unusable epoch settings.
var ErrInvalidEpochInput = errors.New("invalid epoch input")

// EpochSettings is the fixed global schedule that maps wall-clock time to
// voting rounds and reward epochs. All times are unix seconds.
type EpochSettings struct {
	// FirstVotingRoundStartSec is the start time of voting round 0.
	FirstVotingRoundStartSec uint64 `yaml:"firstVotingRoundStartSec" json:"firstVotingRoundStartSec"`

	// VotingEpochDurationSec is the length of one voting round.
	VotingEpochDurationSec uint64 `yaml:"votingEpochDurationSec" json:"votingEpochDurationSec"`

	// FirstRewardEpochStartVotingRoundID is the first voting round of reward epoch 0.
	FirstRewardEpochStartVotingRoundID inter.VotingRoundID `yaml:"firstRewardEpochStartVotingRoundId" json:"firstRewardEpochStartVotingRoundId"`

	// RewardEpochDurationInVotingEpochs is the number of voting rounds per reward epoch.
	RewardEpochDurationInVotingEpochs uint64 `yaml:"rewardEpochDurationInVotingEpochs" json:"rewardEpochDurationInVotingEpochs"`

	// RevealDeadlineSec is the offset from round start after which reveals
	// for the previous round are no longer accepted.
	RevealDeadlineSec uint64 `yaml:"revealDeadlineSec" json:"revealDeadlineSec"`
}

// Validate checks that the settings describe a usable schedule.
func (s EpochSettings) Validate() error {
	if s.VotingEpochDurationSec == 0 {
		return fmt.Errorf("%w: zero voting epoch duration", ErrInvalidEpochInput)
	}
	if s.RewardEpochDurationInVotingEpochs == 0 {
		return fmt.Errorf("%w: zero reward epoch duration", ErrInvalidEpochInput)
	}
	if s.RevealDeadlineSec == 0 || s.RevealDeadlineSec >= s.VotingEpochDurationSec {
		return fmt.Errorf("%w: reveal deadline %ds must lie inside the %ds voting epoch",
			ErrInvalidEpochInput, s.RevealDeadlineSec, s.VotingEpochDurationSec)
	}
	return nil
}

// VotingRoundForTime returns the voting round containing unix time t.
func (s EpochSettings) VotingRoundForTime(t uint64) (inter.VotingRoundID, error) {
	if t < s.FirstVotingRoundStartSec {
		return 0, fmt.Errorf("%w: time %d is before epoch zero (%d)", ErrInvalidEpochInput, t, s.FirstVotingRoundStartSec)
	}
	return inter.VotingRoundID((t - s.FirstVotingRoundStartSec) / s.VotingEpochDurationSec), nil
}

// VotingRoundStart returns the first second of the round.
func (s EpochSettings) VotingRoundStart(id inter.VotingRoundID) uint64 {
	return s.FirstVotingRoundStartSec + uint64(id)*s.VotingEpochDurationSec
}

// VotingRoundEnd returns the last second of the round (inclusive).
func (s EpochSettings) VotingRoundEnd(id inter.VotingRoundID) uint64 {
	return s.VotingRoundStart(id+1) - 1
}

// RevealDeadline returns the last moment reveals for round id-1 are accepted
// within round id.
func (s EpochSettings) RevealDeadline(id inter.VotingRoundID) uint64 {
	return s.VotingRoundStart(id) + s.RevealDeadlineSec
}

// RelativeTime returns the offset of t from the start of its voting round.
func (s EpochSettings) RelativeTime(t uint64) (uint64, error) {
	id, err := s.VotingRoundForTime(t)
	if err != nil {
		return 0, err
	}
	return t - s.VotingRoundStart(id), nil
}

// RewardEpochForVotingRound maps a voting round onto its reward epoch.
func (s EpochSettings) RewardEpochForVotingRound(id inter.VotingRoundID) (inter.RewardEpochID, error) {
	if id < s.FirstRewardEpochStartVotingRoundID {
		return 0, fmt.Errorf("%w: voting round %d is before the first reward epoch (%d)",
			ErrInvalidEpochInput, id, s.FirstRewardEpochStartVotingRoundID)
	}
	return inter.RewardEpochID(uint64(id-s.FirstRewardEpochStartVotingRoundID) / s.RewardEpochDurationInVotingEpochs), nil
}

// RewardEpochForTime maps a unix time onto its reward epoch.
func (s EpochSettings) RewardEpochForTime(t uint64) (inter.RewardEpochID, error) {
	round, err := s.VotingRoundForTime(t)
	if err != nil {
		return 0, err
	}
	return s.RewardEpochForVotingRound(round)
}

// ExpectedFirstVotingRoundForRewardEpoch is the scheduled start round of a
// reward epoch. The actual start may be later if the epoch switch is delayed.
func (s EpochSettings) ExpectedFirstVotingRoundForRewardEpoch(id inter.RewardEpochID) inter.VotingRoundID {
	return s.FirstRewardEpochStartVotingRoundID + inter.VotingRoundID(uint64(id)*s.RewardEpochDurationInVotingEpochs)
}

// ExpectedRewardEpochStartSec is the scheduled start time of a reward epoch.
func (s EpochSettings) ExpectedRewardEpochStartSec(id inter.RewardEpochID) uint64 {
	return s.VotingRoundStart(s.ExpectedFirstVotingRoundForRewardEpoch(id))
}

package integration

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/registry"
)

func TestSetupDelayedRewardEpoch(t *testing.T) {
	require := require.New(t)
	rules := protocol.FakeNetRules()
	net := NewFakeNet(rules, FakeVoters(2))

	require.Error(net.SetupDelayedRewardEpoch(1, 9, nil, nil))
	require.NoError(net.SetupDelayedRewardEpoch(1, 12, nil, nil))
	require.Error(net.SetupRewardEpoch(1, nil, nil))
	require.NoError(net.SetupRewardEpoch(2, nil, nil))

	require.Equal(inter.VotingRoundID(12), net.StartRoundOf(1))
	require.Equal(inter.VotingRoundID(12), net.SigningPolicy(1).StartVotingRoundID)
	require.Equal(inter.VotingRoundID(20), net.StartRoundOf(2))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	client := ledger.NewIndexerClient(net.Store, net.Codec, rules, log)
	reg, err := registry.New(registry.DefaultConfig(), client, rules.Epochs, log)
	require.NoError(err)
	ctx := context.Background()

	// rounds before the late start still belong to reward epoch 0
	_, err = reg.GetRewardEpoch(ctx, 11)
	require.ErrorIs(err, registry.ErrEpochNotFound)
	for round, want := range map[inter.VotingRoundID]inter.RewardEpochID{12: 1, 19: 1, 20: 2} {
		e, err := reg.GetRewardEpoch(ctx, round)
		require.NoError(err)
		require.Equal(want, e.ID(), "round %d", round)
	}
}

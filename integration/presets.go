package integration

import (
	"fmt"
	"sort"
	"time"

	"github.com/rony4d/go-ftso-provider/pricefeed"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/provider"
	"github.com/rony4d/go-ftso-provider/registry"
)

// Presets bundle the network rules with the provider settings that suit
// them, so operators can select a network by name (--network=test) instead of
// configuring the epoch schedule and cache sizes by hand.
//
// Usage:
//
//	preset, err := integration.GetPresetByName("fake")
//	if err != nil {
//	    return err
//	}
//	rules := preset.Rules

// PresetConfig is everything that differs between networks.
type PresetConfig struct {
	Name      string                   // network name, matches Rules.Name
	Rules     protocol.Rules           // epoch schedule, protocol and reward parameters
	Registry  registry.Config          // reward epoch snapshots kept in memory
	Provider  provider.Config          // round and claim cache sizes, live data timeout
	Scheduler provider.SchedulerConfig // per round loop
	PriceFeed pricefeed.Config         // where commits take their prices from
}

// MainPreset returns the settings for the Flare mainnet. Prices come from a
// price provider service next to the provider.
func MainPreset() PresetConfig {
	feed := pricefeed.DefaultConfig()
	feed.Kind = pricefeed.KindHTTP
	return PresetConfig{
		Name:      "main",
		Rules:     protocol.MainNetRules(),
		Registry:  registry.DefaultConfig(),
		Provider:  provider.DefaultConfig(),
		Scheduler: provider.DefaultSchedulerConfig(),
		PriceFeed: feed,
	}
}

// TestPreset returns the settings for the Coston2 testnet. Reward epochs are
// short, so reward calculations keep fewer rounds in flight.
func TestPreset() PresetConfig {
	cfg := MainPreset()
	cfg.Name = "test"
	cfg.Rules = protocol.TestNetRules()
	cfg.Provider.RewardParallelism = 2
	cfg.Provider.IndexerTopTimeoutSec = 20
	return cfg
}

// FakePreset returns the settings for a local fake network with random
// prices. Voting rounds are 20 seconds long, so the scheduler ticks sooner.
func FakePreset() PresetConfig {
	cfg := MainPreset()
	cfg.Name = "fake"
	cfg.Rules = protocol.FakeNetRules()
	cfg.Provider.VotingRoundHistorySize = 1000
	cfg.Provider.RewardParallelism = 1
	cfg.Scheduler.TickDelay = 500 * time.Millisecond
	cfg.PriceFeed = pricefeed.DefaultConfig()
	return cfg
}

var presets = map[string]func() PresetConfig{
	"main": MainPreset,
	"test": TestPreset,
	"fake": FakePreset,
}

// PresetNames lists the known presets in alphabetical order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPresetByName looks up a preset by its network name.
func GetPresetByName(name string) (PresetConfig, error) {
	preset, ok := presets[name]
	if !ok {
		return PresetConfig{}, fmt.Errorf("unknown network preset: %q (valid: %v)", name, PresetNames())
	}
	return preset(), nil
}

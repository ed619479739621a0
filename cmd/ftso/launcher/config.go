// This file maps the CLI context and the YAML config file onto the Config
// struct the node is built from.

package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"

	"github.com/rony4d/go-ftso-provider/integration"
	"github.com/rony4d/go-ftso-provider/ledger/pgstore"
	"github.com/rony4d/go-ftso-provider/pricefeed"
	"github.com/rony4d/go-ftso-provider/protocol"
	"github.com/rony4d/go-ftso-provider/provider"
	"github.com/rony4d/go-ftso-provider/registry"
)

// Config aggregates every subsystem's configuration the launcher needs.
type Config struct {
	Network   string                `yaml:"network"`
	Rules     protocol.Rules        `yaml:"rules"`
	Logging   LoggingConfig         `yaml:"logging"`
	Indexer   IndexerConfig         `yaml:"indexer"`
	Registry  registry.Config       `yaml:"registry"`
	Provider  provider.Config       `yaml:"provider"`
	Server    provider.ServerConfig `yaml:"server"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	PriceFeed pricefeed.Config      `yaml:"priceFeed"`
}

type LoggingConfig struct {
	Verbosity int    `yaml:"verbosity"`
	Format    string `yaml:"format"`
	Color     bool   `yaml:"color"`
	SentryDSN string `yaml:"sentryDsn"`
}

type IndexerConfig struct {
	DB         pgstore.Config `yaml:"db"`
	InitSchema bool           `yaml:"initSchema"`
}

type SchedulerConfig struct {
	Enabled                  bool `yaml:"enabled"`
	provider.SchedulerConfig `yaml:",inline"`
}

// -----------------------------------------------------------------------------
// Default config + builders
// -----------------------------------------------------------------------------

// configForNetwork starts from the preset of the network and fills the rest
// from the launcher defaults in defaults.go.
func configForNetwork(network string) (Config, error) {
	preset, err := integration.GetPresetByName(network)
	if err != nil {
		return Config{}, err
	}
	d := DefaultConfig()
	db := pgstore.DefaultConfig()
	db.URL = d.Indexer.URL
	return Config{
		Network: preset.Name,
		Rules:   preset.Rules,
		Logging: LoggingConfig{
			Verbosity: d.Logging.Verbosity,
			Format:    d.Logging.Format,
			Color:     d.Logging.Color,
		},
		Indexer:   IndexerConfig{DB: db, InitSchema: d.Indexer.InitSchema},
		Registry:  preset.Registry,
		Provider:  preset.Provider,
		Server:    provider.ServerConfig{ListenAddr: d.Server.ListenAddr, EnableCORS: d.Server.EnableCORS},
		Scheduler: SchedulerConfig{Enabled: d.Scheduler.Enabled, SchedulerConfig: preset.Scheduler},
		PriceFeed: preset.PriceFeed,
	}, nil
}

// MakeAllConfigs merges the network preset, the optional config file and the
// CLI flag overrides into a single config struct, in that order. The result
// is not validated, see Config.Validate.
func MakeAllConfigs(ctx *cli.Context) (Config, error) {
	var file []byte
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if file, err = os.ReadFile(path); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	network, err := selectNetwork(ctx, file)
	if err != nil {
		return Config{}, err
	}
	cfg, err := configForNetwork(network)
	if err != nil {
		return Config{}, err
	}
	if file != nil {
		if err := loadConfigFile(file, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", ctx.GlobalString("config"), err)
		}
	}

	applyCLIOverrides(ctx, &cfg)
	return cfg, nil
}

// Validate checks the merged configuration before anything is started.
func (c *Config) Validate() error {
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if c.Indexer.DB.URL == "" {
		return errors.New("indexer database URL is not configured (--db.url or DATABASE_URL)")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Config-file / CLI wiring
// -----------------------------------------------------------------------------

// selectNetwork picks the preset: the --network flag wins over the network
// named in the config file.
func selectNetwork(ctx *cli.Context, file []byte) (string, error) {
	if ctx.GlobalIsSet("network") || file == nil {
		return ctx.GlobalString("network"), nil
	}
	var head struct {
		Network string `yaml:"network"`
	}
	if err := yaml.Unmarshal(file, &head); err != nil {
		return "", fmt.Errorf("failed to parse config file: %w", err)
	}
	if head.Network == "" {
		return ctx.GlobalString("network"), nil
	}
	return head.Network, nil
}

// loadConfigFile decodes YAML over cfg. Keys missing from the file keep
// their preset values and unknown keys are rejected.
func loadConfigFile(file []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(file))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyCLIOverrides(ctx *cli.Context, cfg *Config) {
	if ctx.GlobalIsSet("log.format") {
		cfg.Logging.Format = ctx.GlobalString("log.format")
	}
	if ctx.GlobalIsSet("log.verbosity") {
		cfg.Logging.Verbosity = ctx.GlobalInt("log.verbosity")
	}
	if ctx.GlobalIsSet("log.color") {
		cfg.Logging.Color = ctx.GlobalBool("log.color")
	}
	if ctx.GlobalIsSet("sentry.dsn") {
		cfg.Logging.SentryDSN = ctx.GlobalString("sentry.dsn")
	}

	if ctx.GlobalIsSet("db.url") {
		cfg.Indexer.DB.URL = ctx.GlobalString("db.url")
	}
	if ctx.GlobalIsSet("db.maxconns") {
		cfg.Indexer.DB.MaxConnections = ctx.GlobalInt("db.maxconns")
	}
	if ctx.GlobalIsSet("db.maxidle") {
		cfg.Indexer.DB.MaxIdle = ctx.GlobalInt("db.maxidle")
	}
	if ctx.GlobalIsSet("db.connlifetime") {
		cfg.Indexer.DB.ConnMaxLife = ctx.GlobalDuration("db.connlifetime")
	}
	if ctx.GlobalIsSet("db.initschema") {
		cfg.Indexer.InitSchema = ctx.GlobalBool("db.initschema")
	}
	if ctx.GlobalIsSet("indexer.timeout") {
		cfg.Provider.IndexerTopTimeoutSec = ctx.GlobalUint64("indexer.timeout")
	}

	if ctx.GlobalIsSet("protocol.benchingwindow") {
		cfg.Rules.Protocol.RandomBenchingWindow = uint32(ctx.GlobalUint("protocol.benchingwindow"))
	}
	if ctx.GlobalIsSet("protocol.minrevealers") {
		cfg.Rules.Protocol.MinSecureRevealers = ctx.GlobalInt("protocol.minrevealers")
	}
	if ctx.GlobalIsSet("protocol.finalizationwindows") {
		cfg.Rules.Protocol.AdditionalRewardedFinalizationWindows = uint32(ctx.GlobalUint("protocol.finalizationwindows"))
	}

	if ctx.GlobalIsSet("http.addr") {
		cfg.Server.ListenAddr = ctx.GlobalString("http.addr")
	}
	if ctx.GlobalIsSet("http.cors") {
		cfg.Server.EnableCORS = ctx.GlobalBool("http.cors")
	}
	if ctx.GlobalIsSet("pricefeed.kind") {
		cfg.PriceFeed.Kind = strings.ToLower(ctx.GlobalString("pricefeed.kind"))
	}
	if ctx.GlobalIsSet("pricefeed.url") {
		cfg.PriceFeed.HTTP.URL = ctx.GlobalString("pricefeed.url")
	}
	if ctx.GlobalIsSet("pricefeed.rps") {
		cfg.PriceFeed.HTTP.RequestsPerSecond = ctx.GlobalFloat64("pricefeed.rps")
	}
	if ctx.GlobalIsSet("cache.rounds") {
		cfg.Provider.VotingRoundHistorySize = ctx.GlobalInt("cache.rounds")
	}
	if ctx.GlobalIsSet("cache.epochs") {
		cfg.Registry.HistorySize = ctx.GlobalInt("cache.epochs")
		cfg.Provider.RewardEpochHistorySize = ctx.GlobalInt("cache.epochs")
	}
	if ctx.GlobalIsSet("rewards.parallelism") {
		cfg.Provider.RewardParallelism = ctx.GlobalInt("rewards.parallelism")
	}
	if ctx.GlobalIsSet("scheduler") {
		cfg.Scheduler.Enabled = ctx.GlobalBool("scheduler")
	}
	if ctx.GlobalIsSet("scheduler.delay") {
		cfg.Scheduler.TickDelay = ctx.GlobalDuration("scheduler.delay")
	}
}

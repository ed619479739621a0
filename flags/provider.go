package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// ProviderFlags configure the HTTP API, the price source and the caches.
func ProviderFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:   "http.addr",
			Usage:  "HTTP API listening address",
			Value:  ":3100",
			EnvVar: "FTSO_HTTP_ADDR",
		},
		cli.BoolFlag{
			Name:  "http.cors",
			Usage: "Allow cross-origin requests to the HTTP API",
		},
		cli.StringFlag{
			Name:  "pricefeed.kind",
			Usage: "Price source (static|random|http)",
		},
		cli.StringFlag{
			Name:   "pricefeed.url",
			Usage:  "Base URL of the price provider service",
			EnvVar: "PRICE_PROVIDER_URL",
		},
		cli.Float64Flag{
			Name:  "pricefeed.rps",
			Usage: "Maximum requests per second to the price provider (0 disables the limit)",
		},
		cli.IntFlag{
			Name:  "cache.rounds",
			Usage: "Voting rounds of reveals and results kept in memory",
		},
		cli.IntFlag{
			Name:  "cache.epochs",
			Usage: "Reward epochs kept in memory",
		},
		cli.IntFlag{
			Name:  "rewards.parallelism",
			Usage: "Voting rounds processed concurrently by a reward calculation",
		},
		cli.BoolFlag{
			Name:  "scheduler",
			Usage: "Precompute round results and reward claims in the background",
		},
		cli.DurationFlag{
			Name:  "scheduler.delay",
			Usage: "Delay after each voting round start before the scheduler runs",
			Value: 2 * time.Second,
		},
	}
}

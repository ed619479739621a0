package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// IndexerFlags configure access to the indexer database.
func IndexerFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:   "db.url",
			Usage:  "PostgreSQL connection string of the indexer database",
			EnvVar: "DATABASE_URL",
		},
		cli.IntFlag{
			Name:  "db.maxconns",
			Usage: "Maximum open database connections",
			Value: 10,
		},
		cli.IntFlag{
			Name:  "db.maxidle",
			Usage: "Maximum idle database connections",
			Value: 5,
		},
		cli.DurationFlag{
			Name:  "db.connlifetime",
			Usage: "Maximum lifetime of a database connection",
			Value: time.Hour,
		},
		cli.BoolFlag{
			Name:  "db.initschema",
			Usage: "Create the indexer tables if they do not exist",
		},
		cli.Uint64Flag{
			Name:  "indexer.timeout",
			Usage: "Seconds past a range end after which a lagging indexer is accepted (0 disables)",
		},
	}
}

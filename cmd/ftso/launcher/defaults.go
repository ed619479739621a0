package launcher

// Defaults bundles the baseline values the launcher uses for everything the
// network presets do not cover, before config files and flags override them.

type Defaults struct {
	Logging   LoggingDefaults
	Indexer   IndexerDefaults
	Server    ServerDefaults
	Scheduler SchedulerDefaults
}

// LoggingDefaults controls the logrus output of every module.
type LoggingDefaults struct {
	Verbosity int    //	0=fatal .. 5=trace; 3 logs round progress, 4 adds one line per request.
	Format    string //	text for terminals, json for log shippers.
	Color     bool   //	Force ANSI colors in text output even when stdout is not a terminal.
}

// IndexerDefaults describes where indexed transactions and events are read from.
type IndexerDefaults struct {
	URL        string //	PostgreSQL DSN of the indexer database; normally supplied through DATABASE_URL.
	InitSchema bool   //	Create the indexer tables on startup; only useful against an empty database.
}

// ServerDefaults configures the provider HTTP API the protocol client polls.
type ServerDefaults struct {
	ListenAddr string //	Interface and port of the API; the protocol client expects 3100.
	EnableCORS bool   //	Allow browser dashboards on other origins to read results.
}

// SchedulerDefaults configures background precomputation.
type SchedulerDefaults struct {
	Enabled bool //	Compute round results and reward claims ahead of requests.
}

// DefaultConfig returns the launcher defaults.
func DefaultConfig() Defaults {
	return Defaults{
		Logging: LoggingDefaults{
			Verbosity: 3,
			Format:    "text",
			Color:     false,
		},
		Indexer: IndexerDefaults{
			URL:        "",
			InitSchema: false,
		},
		Server: ServerDefaults{
			ListenAddr: ":3100",
			EnableCORS: false,
		},
		Scheduler: SchedulerDefaults{
			Enabled: true,
		},
	}
}

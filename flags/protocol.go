package flags

import (
	"gopkg.in/urfave/cli.v1"
)

// ProtocolFlags override individual protocol rules of the selected network.
func ProtocolFlags() []cli.Flag {
	return []cli.Flag{
		cli.UintFlag{
			Name:  "protocol.benchingwindow",
			Usage: "Voting rounds a failed reveal excludes a voter from the secure random",
		},
		cli.IntFlag{
			Name:  "protocol.minrevealers",
			Usage: "Non-benched revealers required for a secure random",
		},
		cli.UintFlag{
			Name:  "protocol.finalizationwindows",
			Usage: "Additional voting rounds in which signatures and finalizations are rewarded",
		},
	}
}

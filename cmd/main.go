package main

import (
	"fmt"
	"os"

	"github.com/rony4d/go-ftso-provider/cmd/ftso/launcher"
)

func main() {

	// Run until interrupted; the launcher only returns on shutdown or error.
	if err := launcher.Launch(os.Args); err != nil {

		// Report the issue so the operator sees it
		fmt.Fprintln(os.Stderr, "Error:", err)

		// Exit with a non-zero status code to indicate failure
		os.Exit(1)
	}
}

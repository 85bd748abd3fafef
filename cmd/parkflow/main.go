// Command parkflow polls a car park occupancy feed and serves the latest
// state of every car park.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/parkflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

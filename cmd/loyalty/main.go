// Command loyalty runs and inspects the loyalty points ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/loyalty/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loyalty:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

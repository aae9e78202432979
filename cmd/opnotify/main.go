// Command opnotify records confirmed block operations and waits for
// transactions and priority operations to reach a confirmation level.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/opnotify/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

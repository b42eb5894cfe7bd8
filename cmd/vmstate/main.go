// Command vmstate replays VM runtime trace events into interval state
// histories and serves them for query.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/vmstate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// Command mercury serves Jupyter notebooks as dashboards.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mercury/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

package main

import (
	"os"

	"github.com/maxkimambo/taskgraph/cmd"
	"github.com/maxkimambo/taskgraph/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		// engine errors carry context and troubleshooting steps worth printing
		os.Stderr.WriteString(errors.FormatForCLI(err))
		os.Exit(1)
	}
}

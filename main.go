package main

import (
	"os"

	"github.com/radresearch/caseagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

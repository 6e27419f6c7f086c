package main

import (
	"os"

	"github.com/conneroisu/tally/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

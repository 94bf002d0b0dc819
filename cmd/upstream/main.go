package main

import (
	"os"

	"github.com/abramin/upstream/cmd/upstream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"nexus/cmd/nexus/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

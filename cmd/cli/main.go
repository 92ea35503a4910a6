// Package main is the entry point for the procplane CLI.
// The CLI is the developer terminal tool for interacting with the procplane API.
package main

import (
	"os"

	"procplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

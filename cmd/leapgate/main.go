// Package main provides the leapgate CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/leapgate/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}

// Package main provides the entry point for the runcoach CLI.
package main

import (
	"fmt"
	"os"

	"github.com/ent0n29/runcoach/cmd/runcoach/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

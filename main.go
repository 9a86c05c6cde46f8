// Package main is the entry point for tapcheck.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/tapcheck/cmd"
	"firestige.xyz/tapcheck/internal/source"
)

func main() {
	// Forked sources re-execute this binary; serve and exit in that case.
	source.RunHelper()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

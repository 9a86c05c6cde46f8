package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/tapcheck/internal/source"
)

// helperCmd is the entry point of forked-source helper processes. main runs
// the helper before cobra sees the command line, so reaching RunE means the
// command was typed by hand.
var helperCmd = &cobra.Command{
	Use:    "helper",
	Short:  "Internal: blocking-read helper for forked sources",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("helper must be started by a forked source (%s unset)", source.HelperEnv)
	},
}

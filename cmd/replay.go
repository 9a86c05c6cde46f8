package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/tapcheck/internal/config"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Check a scenario against a recorded capture",
	Long: `Replay a pcap file through the reader instead of a live interface. Reactive
actions still run, but the frames they produce are dropped.

Examples:
  tapcheck replay -s arp-ping.yml session.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context(), cfg, replayScenarioFile, args[0], cmd.OutOrStdout())
	},
}

var replayScenarioFile string

func init() {
	replayCmd.Flags().StringVarP(&replayScenarioFile, "scenario", "s", "", "scenario file (required)")
	replayCmd.MarkFlagRequired("scenario")
}

func runReplay(ctx context.Context, c *config.Config, scenarioPath, pcapPath string, w io.Writer) error {
	replay := *c
	replay.Source = config.SourceConfig{
		Type:       config.SourcePcap,
		PcapFile:   pcapPath,
		BufferSize: c.Source.BufferSize,
	}
	if err := replay.Source.Validate(&replay.Interface); err != nil {
		return err
	}
	return runScenario(ctx, &replay, scenarioPath, w)
}

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/tapcheck/internal/config"
	"firestige.xyz/tapcheck/internal/expect"
	"firestige.xyz/tapcheck/internal/log"
	"firestige.xyz/tapcheck/internal/scenario"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario file",
	Long: `Parse and compile a scenario without opening any interface.

Addresses missing from reply actions are taken from the interface section of
the config, as they would be in a real run.

Examples:
  tapcheck validate -s arp-ping.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cfg, validateScenarioFile, cmd.OutOrStdout())
	},
}

var validateScenarioFile string

func init() {
	validateCmd.Flags().StringVarP(&validateScenarioFile, "scenario", "s", "",
		"scenario file to validate (required)")
	validateCmd.MarkFlagRequired("scenario")
}

func runValidate(c *config.Config, path string, w io.Writer) error {
	sc, err := scenario.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}
	addrs, err := c.Interface.Addresses()
	if err != nil {
		return err
	}
	es, err := scenario.Compile(sc, scenario.Env{
		Sender: expect.SenderFunc(func([]byte) error { return nil }),
		MAC:    addrs.MAC,
		Local:  addrs.Local,
		Logger: log.GetLogger(),
	})
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}

	frames, err := sc.Frames()
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}

	fmt.Fprintf(w, "VALID: Scenario %q, %d expectation(s), %d injected frame(s)\n",
		sc.Name, len(es), len(frames))
	for _, e := range es {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}

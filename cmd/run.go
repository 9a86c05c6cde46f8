package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/tapcheck/internal/config"
	"firestige.xyz/tapcheck/internal/log"
	"firestige.xyz/tapcheck/internal/metrics"
	"firestige.xyz/tapcheck/internal/scenario"
)

var errUnsatisfied = errors.New("expectations not satisfied")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario against the configured interface",
	Long: `Open the interface from the config file, inject the scenario's frames and
wait until every bounded expectation is satisfied, the interface goes idle
for the configured timeout, or an unexpected packet arrives.

Examples:
  tapcheck run -c tapcheck.yml -s arp-ping.yml
  TAPCHECK_SOURCE_STRATEGY=forked tapcheck run -s arp-ping.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScenario(cmd.Context(), cfg, runScenarioFile, cmd.OutOrStdout())
	},
}

var runScenarioFile string

func init() {
	runCmd.Flags().StringVarP(&runScenarioFile, "scenario", "s", "", "scenario file (required)")
	runCmd.MarkFlagRequired("scenario")
}

func runScenario(ctx context.Context, c *config.Config, scenarioPath string, w io.Writer) error {
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Metrics.Enabled {
		srv := metrics.NewServer(c.Metrics.Listen, c.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	r, err := openSession(c, sc)
	if err != nil {
		return err
	}
	return runSession(ctx, sc.Name, r, w)
}

// runSession runs r once, reports to w and closes r.
func runSession(ctx context.Context, name string, r Runner, w io.Writer) (err error) {
	defer func() {
		if cerr := r.Close(); cerr != nil {
			log.GetLogger().WithError(cerr).Warn("session close failed")
		}
	}()
	if name == "" {
		name = "scenario"
	}

	res, err := r.Run(ctx)
	if res != nil {
		for _, u := range res.Unsatisfied {
			fmt.Fprintf(w, "  pending: %s\n", u)
		}
	}
	if err != nil {
		fmt.Fprintf(w, "✗ %s failed: %v\n", name, err)
		return err
	}
	if !res.Satisfied {
		fmt.Fprintf(w, "✗ %s: expectations not satisfied after %s\n", name, res.Elapsed.Round(1e6))
		return errUnsatisfied
	}
	fmt.Fprintf(w, "✓ %s passed in %s\n", name, res.Elapsed.Round(1e6))
	return nil
}

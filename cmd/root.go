// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/tapcheck/internal/config"
	"firestige.xyz/tapcheck/internal/log"
)

var (
	// Global flags
	configFile string

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tapcheck",
	Short: "tapcheck - protocol tests for virtual network interfaces",
	Long: `tapcheck drives protocol tests against TUN/TAP interfaces.

It captures the datagrams an interface emits, decodes them (Ethernet, ARP,
IPv4, IPv6, ICMPv6 Neighbor Discovery, UDP, AF tunnel framing) and checks
them against the expectations of a YAML scenario, answering ARP and Neighbor
Solicitations along the way.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus TAPCHECK_* environment when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(helperCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd == helperCmd {
		return nil
	}
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := log.Init(c.Log.LoggerConfig()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg = c
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"beacon/internal/logger"
)

var (
	verbose bool
	log     = logger.New()
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - device session broker for home automation",
	Long: `Beacon is a broker daemon that holds persistent connections to home
automation devices and dispatches commands to them over an HTTP API.
It also ships device provisioning tools and a device simulator.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(deviceCmd)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "conveyr",
	Short: "Unidirectional data-flow runtime: actions trigger services that update stores",
	Long: `conveyr runs declared actions, services and stores.

Actions validate their payload and call service endpoints. Endpoints
update store fields with the service's write token, and stores notify
their subscribers. Declarations come from the config file or from code.

Quick start:
  conveyr validate  # Check the configuration
  conveyr serve     # Serve actions and stores over HTTP`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "conveyr.yaml", "config file path")
}

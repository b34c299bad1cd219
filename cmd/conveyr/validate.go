package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/conveyr/bootstrap"
	"github.com/artpar/conveyr/config"
	"github.com/artpar/conveyr/core/runtime"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the conveyr configuration file.

Checks:
  - YAML syntax is valid
  - Sections and formats are well formed
  - Declarations resolve: stores, handlers and endpoint references (optional)

Examples:
  conveyr validate
  conveyr validate --config /etc/conveyr/config.yaml --check-declarations`,
	RunE: runValidate,
}

var (
	validateDeclarations bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateDeclarations, "check-declarations", true, "build the declared objects in a scratch runtime")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Fprintf(out, "  %s Stores: %d\n", checkMark, len(cfg.Stores))
	fmt.Fprintf(out, "  %s Services: %d\n", checkMark, len(cfg.Services))
	fmt.Fprintf(out, "  %s Actions: %d\n", checkMark, len(cfg.Actions))
	fmt.Fprintf(out, "  %s Handler timeout: %s\n", checkMark, cfg.Runtime.HandlerTimeout)

	if validateDeclarations {
		if err := checkDeclarations(cfg); err != nil {
			fmt.Fprintf(out, "  %s Declarations resolve\n", crossMark)
			return fmt.Errorf("declaration error: %w", err)
		}
		fmt.Fprintf(out, "  %s Declarations resolve\n", checkMark)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

// checkDeclarations builds everything cfg declares in a throwaway runtime.
func checkDeclarations(cfg *config.Config) error {
	rt := runtime.New(runtime.Config{Logger: zerolog.Nop()})
	bootstrap.RegisterBuiltins(rt, zerolog.Nop())
	return bootstrap.Declare(rt, cfg, registerHandlers)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

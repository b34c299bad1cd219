package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/conveyr/bootstrap"
	"github.com/artpar/conveyr/config"
	"github.com/artpar/conveyr/core/channel/cli"
	"github.com/artpar/conveyr/core/runtime"
)

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level in one-shot commands")

	cli.New(openRuntime).Register(rootCmd)
}

// openRuntime declares the configuration in a one-shot runtime for the
// invoke, actions and stores commands. The HTTP channel, metrics and
// tracing stay off.
func openRuntime(cmd *cobra.Command) (*runtime.Runtime, func() error, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	cfg.Server.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Tracing.Endpoint = ""
	if !verbose {
		cfg.Logging.Level = "warn"
	}

	app, err := bootstrap.New(cfg, bootstrap.Options{
		Setup:     registerHandlers,
		LogOutput: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return app.Runtime, app.Shutdown, nil
}

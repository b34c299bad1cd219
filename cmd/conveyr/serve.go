package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/conveyr/bootstrap"
	"github.com/artpar/conveyr/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runtime and its HTTP channel",
	Long: `Start conveyr.

The server will:
  - Load configuration from conveyr.yaml (or --config)
  - Or load configuration from CONVEYR_* environment variables
  - Declare the configured stores, services and actions
  - Serve POST /actions/{id} and GET /stores/{id} when server.enabled is set

Environment variables override the file:
  CONVEYR_SERVER_ENABLED          - Serve the HTTP channel
  CONVEYR_SERVER_PORT             - Server port (default: 8080)
  CONVEYR_SERVER_AUTH_SECRET      - Require bearer tokens (see conveyr token)
  CONVEYR_SERVER_OPENAPI          - Serve /.well-known/openapi.json and /swagger/
  CONVEYR_RUNTIME_HANDLER_TIMEOUT - Handler timeout (default: 5s)
  CONVEYR_LOG_LEVEL               - Log level: debug, info, warn, error
  CONVEYR_TRACING_ENDPOINT        - OTLP/HTTP trace endpoint

Examples:
  conveyr serve
  conveyr serve --config /etc/conveyr/config.yaml
  conveyr serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	opts := bootstrap.Options{Setup: registerHandlers}

	var (
		app *bootstrap.App
		err error
	)
	if hasConfigFile && hotReload {
		// Hot reload only works with a config file
		app, err = bootstrap.NewWithHotReload(cfgFile, opts)
	} else {
		var cfg *config.Config
		cfg, err = config.LoadWithFallback(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		app, err = bootstrap.New(cfg, opts)
	}
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run(cmd.Context())
}

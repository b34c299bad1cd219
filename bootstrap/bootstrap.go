// Package bootstrap wires configuration, telemetry, the runtime and the
// HTTP channel into a running application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/conveyr/adapters/auth"
	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/config"
	chttp "github.com/artpar/conveyr/core/channel/http"
	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/telemetry"
)

// SetupFunc declares handlers, stores, services and actions in code. It
// runs after config stores are built and before config services.
type SetupFunc func(rt *runtime.Runtime) error

// Options configures application initialization.
type Options struct {
	// Setup declares objects in code (optional).
	Setup SetupFunc

	// LogOutput receives log lines (default: os.Stdout).
	LogOutput io.Writer
}

// App represents the running application. Config is the configuration it
// was built from; reloads only touch the runtime and the log level.
type App struct {
	Logger  zerolog.Logger
	Config  *config.Config
	Runtime *runtime.Runtime
	Metrics *metrics.Collector
	Channel *chttp.Channel

	holder          *config.Holder
	shutdownTracing func(context.Context) error
}

// New creates and initializes the application from a loaded configuration.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := setupLogger(cfg.Logging, opts.LogOutput)
	logger.Info().Msg("initializing conveyr")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	// Metrics get their own registry so several apps can coexist in one
	// process.
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	tracer, shutdown, err := telemetry.SetupTracing(context.Background(), telemetry.TracingOptions{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracing = shutdown
	if cfg.Tracing.Endpoint != "" {
		logger.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("otlp tracing enabled")
	}

	a.Runtime = runtime.New(runtime.Config{
		Logger:         logger,
		Metrics:        a.Metrics,
		Tracer:         tracer,
		HandlerTimeout: cfg.Runtime.HandlerTimeout,
	})
	RegisterBuiltins(a.Runtime, logger)

	if err := Declare(a.Runtime, cfg, opts.Setup); err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("declare: %w", err)
	}

	channelOpts := chttp.Options{
		Logger:      logger,
		WaitTimeout: cfg.Server.WaitTimeout,
		OpenAPI:     cfg.Server.OpenAPI,
	}
	if cfg.Server.AuthSecret != "" {
		channelOpts.Auth = auth.NewTokenService(cfg.Server.AuthSecret, cfg.Server.TokenTTL)
		logger.Info().Msg("bearer token auth enabled")
	}
	if cfg.Server.Enabled {
		channelOpts.Addr = cfg.Server.Addr()
	}
	if cfg.Metrics.Enabled {
		channelOpts.MetricsHandler = metricsHandler
		channelOpts.MetricsPath = cfg.Metrics.Path
	}
	a.Channel = chttp.New(a.Runtime, channelOpts)

	return a, nil
}

// NewWithHotReload loads the configuration from path and reloads the
// reloadable fields on file changes and SIGHUP.
func NewWithHotReload(path string, opts Options) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}

	holder, err := config.NewHolder(path, a.Logger.With().Str("component", "config").Logger())
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}
	holder.SetMetrics(a.Metrics)
	holder.OnChange(a.applyConfig)

	if err := holder.Watch(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, SIGHUP only")
	}
	a.holder = holder

	return a, nil
}

// applyConfig applies the reloadable fields of a reloaded configuration.
func (a *App) applyConfig(change config.Change) {
	cfg := change.Config
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Runtime.SetHandlerTimeout(cfg.Runtime.HandlerTimeout)
}

// Start starts the HTTP channel without blocking.
func (a *App) Start(ctx context.Context) error {
	return a.Channel.Start(ctx)
}

// Run starts the application and blocks until an interrupt or until ctx
// is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	a.Logger.Info().
		Int("actions", len(a.Runtime.Actions())).
		Int("services", len(a.Runtime.Services())).
		Int("stores", len(a.Runtime.Stores())).
		Msg("conveyr running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.Channel != nil {
		if err := a.Channel.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http channel shutdown error")
			errs = append(errs, err)
		}
	}

	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("tracer shutdown error")
			errs = append(errs, err)
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// setupLogger builds the application logger from the logging section.
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/artpar/conveyr/adapters/metrics"
)

// Change is delivered to OnChange listeners after a successful reload.
// Restart names the sections that differ from the running configuration
// but are only read at startup; listeners must keep their old values.
type Change struct {
	Config  *Config
	Restart []string
}

// Holder owns the configuration loaded from a file and reloads it when
// the file is written or the process receives SIGHUP. Only the log level
// and the handler timeout can take effect without a restart.
type Holder struct {
	path    string
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu        sync.RWMutex
	current   *Config
	listeners []func(Change)

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it. Watching starts with
// Watch.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		path:    abs,
		logger:  logger,
		current: cfg,
		stop:    make(chan struct{}),
	}, nil
}

// SetMetrics records reload outcomes on m. Call it before Watch.
func (h *Holder) SetMetrics(m *metrics.Collector) { h.metrics = m }

// Path returns the absolute path of the config file.
func (h *Holder) Path() string { return h.path }

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload reads the file again. An invalid file leaves the current
// configuration in place.
func (h *Holder) Reload() (Change, error) {
	cfg, err := Load(h.path)
	h.metrics.ObserveReload(err, time.Now())
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		return Change{}, fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = cfg
	listeners := append(([]func(Change))(nil), h.listeners...)
	h.mu.Unlock()

	change := Change{Config: cfg, Restart: restartRequired(old, cfg)}
	h.logReload(old, change)

	for _, fn := range listeners {
		fn(change)
	}
	return change, nil
}

// Watch reloads on SIGHUP and on writes to the config file. Signals are
// handled even when the file watch cannot be set up; that error is
// returned.
func (h *Holder) Watch() error {
	var events <-chan fsnotify.Event
	var errs <-chan error

	watchErr := h.watchDir()
	if watchErr == nil {
		events, errs = h.watcher.Events, h.watcher.Errors
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go h.loop(hup, events, errs)
	return watchErr
}

// Stop ends watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

// watchDir watches the file's directory so editors that save by rename
// are seen too.
func (h *Holder) watchDir() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = w
	return nil
}

func (h *Holder) loop(hup chan os.Signal, events <-chan fsnotify.Event, errs <-chan error) {
	defer signal.Stop(hup)
	name := filepath.Base(h.path)

	for {
		select {
		case <-hup:
			h.logger.Info().Msg("SIGHUP received")
			h.Reload()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().Str("op", ev.Op.String()).Msg("config file changed")
			h.Reload()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			h.logger.Warn().Err(err).Msg("config watch error")

		case <-h.stop:
			return
		}
	}
}

func (h *Holder) logReload(old *Config, change Change) {
	cfg := change.Config
	ev := h.logger.Info()
	if old.Logging.Level != cfg.Logging.Level {
		ev = ev.Str("log_level", cfg.Logging.Level)
	}
	if old.Runtime.HandlerTimeout != cfg.Runtime.HandlerTimeout {
		ev = ev.Dur("handler_timeout", cfg.Runtime.HandlerTimeout)
	}
	ev.Msg("configuration reloaded")

	if len(change.Restart) > 0 {
		h.logger.Warn().Strs("sections", change.Restart).Msg("changes take effect after a restart")
	}
}

// restartRequired lists the startup-only sections that differ between
// old and cfg.
func restartRequired(old, cfg *Config) []string {
	var changed []string
	if old.Server != cfg.Server {
		changed = append(changed, "server")
	}
	if old.Logging.Format != cfg.Logging.Format {
		changed = append(changed, "logging.format")
	}
	if old.Metrics != cfg.Metrics {
		changed = append(changed, "metrics")
	}
	if old.Tracing != cfg.Tracing {
		changed = append(changed, "tracing")
	}
	for _, s := range []struct {
		name     string
		old, cfg any
	}{
		{"stores", old.Stores, cfg.Stores},
		{"services", old.Services, cfg.Services},
		{"actions", old.Actions, cfg.Actions},
	} {
		if !sameDeclarations(s.old, s.cfg) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// sameDeclarations compares declarations by their YAML rendering, which
// ignores the source positions yaml.Node carries.
func sameDeclarations(a, b any) bool {
	ya, errA := yaml.Marshal(a)
	yb, errB := yaml.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ya, yb)
}

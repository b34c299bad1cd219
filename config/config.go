// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/artpar/conveyr/core/action"
	"github.com/artpar/conveyr/core/registry"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/transform"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONVEYR_"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Runtime  RuntimeConfig   `yaml:"runtime"`
	Logging  LoggingConfig   `yaml:"logging"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Tracing  TracingConfig   `yaml:"tracing"`
	Stores   []StoreConfig   `yaml:"stores"`
	Services []ServiceConfig `yaml:"services"`
	Actions  []ActionConfig  `yaml:"actions"`
}

// ServerConfig configures the HTTP channel.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	WaitTimeout     time.Duration `yaml:"wait_timeout" env:"WAIT_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	OpenAPI         bool          `yaml:"openapi" env:"OPENAPI"`

	// AuthSecret signs bearer tokens. Empty leaves the channel open.
	AuthSecret string        `yaml:"auth_secret" env:"AUTH_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RuntimeConfig configures action execution.
type RuntimeConfig struct {
	// HandlerTimeout bounds asynchronous handlers of services without
	// their own timeout. Negative disables it.
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"FORMAT"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"` // Enable the metrics endpoint
	Path    string `yaml:"path" env:"PATH"`       // Custom path (default: /metrics)
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// StoreConfig declares a store and its fields.
//
//	- id: profile
//	  fields:
//	    name: string
//	    age: {type: number, default: 18}
type StoreConfig struct {
	ID     string    `yaml:"id"`
	Fields yaml.Node `yaml:"fields"`
}

// FieldSpec parses the store's field declarations.
func (s StoreConfig) FieldSpec() (schema.FieldMap, error) {
	spec, err := schema.FromNode(&s.Fields)
	if err != nil {
		return nil, err
	}
	switch fm := spec.(type) {
	case nil:
		return nil, nil
	case schema.FieldMap:
		return fm, nil
	default:
		return nil, fmt.Errorf("%w: store fields must be a mapping", schema.ErrInvalidFormat)
	}
}

// ServiceConfig declares a service whose endpoints run named handlers
// registered in code.
type ServiceConfig struct {
	ID        string           `yaml:"id"`
	Updates   []string         `yaml:"updates"`
	Timeout   time.Duration    `yaml:"timeout"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig binds an endpoint to a registered handler.
type EndpointConfig struct {
	ID      string   `yaml:"id"`
	Handler string   `yaml:"handler"`
	Params  []string `yaml:"params"` // e.g. [payload, done]
}

// ActionConfig declares an action.
type ActionConfig struct {
	ID      string       `yaml:"id"`
	Payload yaml.Node    `yaml:"payload"`
	Calls   []CallConfig `yaml:"calls"`
}

// CallConfig is one call target: a "service.endpoint" reference and an
// optional Expr map over the payload. Either form is accepted:
//
//	calls:
//	  - counter.increment
//	  - endpoint: audit.record
//	    map: '{"by": payload}'
type CallConfig struct {
	Endpoint string `yaml:"endpoint"`
	Map      string `yaml:"map"`
}

// UnmarshalYAML accepts a bare reference or a mapping.
func (c *CallConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Endpoint = node.Value
		return nil
	}
	type plain CallConfig
	return node.Decode((*plain)(c))
}

// MapFunc compiles the call's map expression. It is nil without one.
func (c CallConfig) MapFunc() (action.MapFunc, error) {
	if strings.TrimSpace(c.Map) == "" {
		return nil, nil
	}
	p, err := transform.Compile(c.Map)
	if err != nil {
		return nil, err
	}
	return p.Map, nil
}

// PayloadSpec parses the action's payload format. A missing payload
// means the action is not validated.
func (a ActionConfig) PayloadSpec() (schema.Spec, error) {
	return schema.FromNode(&a.Payload)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML bytes, applying environment
// overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Stores, services and actions must then be declared in code.
//
// Environment variables:
//
//	CONVEYR_SERVER_ENABLED          - Serve the HTTP channel
//	CONVEYR_SERVER_HOST             - Server host (default: 0.0.0.0)
//	CONVEYR_SERVER_PORT             - Server port (default: 8080)
//	CONVEYR_SERVER_AUTH_SECRET      - Require bearer tokens signed with this secret
//	CONVEYR_SERVER_OPENAPI          - Serve the OpenAPI document and Swagger UI
//	CONVEYR_RUNTIME_HANDLER_TIMEOUT - Handler timeout (default: 5s)
//	CONVEYR_LOG_LEVEL               - Log level: debug, info, warn, error (default: info)
//	CONVEYR_LOG_FORMAT              - Log format: json or console (default: json)
//	CONVEYR_METRICS_ENABLED         - Enable the metrics endpoint
//	CONVEYR_TRACING_ENDPOINT        - OTLP/HTTP endpoint URL
func LoadFromEnv() (*Config, error) {
	var cfg Config

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from path when it exists, otherwise from the
// environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies CONVEYR_* environment variables to the config.
// Set variables always override file-based configuration. Only the scalar
// sections are overridable; declarations come from YAML or code.
func applyEnvOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{"SERVER_", &cfg.Server},
		{"RUNTIME_", &cfg.Runtime},
		{"LOG_", &cfg.Logging},
		{"METRICS_", &cfg.Metrics},
		{"TRACING_", &cfg.Tracing},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.TokenTTL == 0 {
		cfg.Server.TokenTTL = 24 * time.Hour
	}

	if cfg.Runtime.HandlerTimeout == 0 {
		cfg.Runtime.HandlerTimeout = service.DefaultTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "conveyr"
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", cfg.Tracing.SampleRatio)
	}

	seen := make(map[string]bool)
	for i, st := range cfg.Stores {
		if err := checkID(seen, "stores", i, st.ID); err != nil {
			return err
		}
		if _, err := st.FieldSpec(); err != nil {
			return fmt.Errorf("stores[%d] %q: %w", i, st.ID, err)
		}
	}

	clear(seen)
	for i, svc := range cfg.Services {
		if err := checkID(seen, "services", i, svc.ID); err != nil {
			return err
		}
		if len(svc.Endpoints) == 0 {
			return fmt.Errorf("services[%d] %q: %w", i, svc.ID, service.ErrNotEnoughEndpoints)
		}
		for j, ep := range svc.Endpoints {
			if ep.ID == "" {
				return fmt.Errorf("services[%d].endpoints[%d].id is required", i, j)
			}
			if ep.Handler == "" {
				return fmt.Errorf("services[%d].endpoints[%d].handler is required", i, j)
			}
		}
	}

	clear(seen)
	for i, a := range cfg.Actions {
		if err := checkID(seen, "actions", i, a.ID); err != nil {
			return err
		}
		if len(a.Calls) == 0 {
			return fmt.Errorf("actions[%d] %q: at least one call is required", i, a.ID)
		}
		for j, call := range a.Calls {
			svc, ep, ok := strings.Cut(call.Endpoint, service.RefSeparator)
			if !ok || svc == "" || ep == "" {
				return fmt.Errorf("actions[%d].calls[%d]: %q is not a service.endpoint reference", i, j, call.Endpoint)
			}
			if _, err := call.MapFunc(); err != nil {
				return fmt.Errorf("actions[%d].calls[%d].map: %w", i, j, err)
			}
		}
		spec, err := a.PayloadSpec()
		if err != nil {
			return fmt.Errorf("actions[%d] %q: %w", i, a.ID, err)
		}
		if _, err := schema.Compile(spec); err != nil {
			return fmt.Errorf("actions[%d] %q: %w", i, a.ID, err)
		}
	}

	return nil
}

func checkID(seen map[string]bool, section string, i int, id string) error {
	if err := registry.CheckID(id); err != nil {
		return fmt.Errorf("%s[%d]: %w", section, i, err)
	}
	if seen[id] {
		return fmt.Errorf("%s[%d]: %w: %q", section, i, registry.ErrDuplicateID, id)
	}
	seen[id] = true
	return nil
}

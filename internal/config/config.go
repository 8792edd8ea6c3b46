// Package config loads the orchestrator CLI's configuration from, in
// ascending priority, a YAML file, environment variables (DAEMON_*), and
// command-line flags, then validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// NodeSpec is one --node ALIAS=HOST:PORT entry, parsed from either a CLI
// flag or a config file's "nodes" list.
type NodeSpec struct {
	Alias string `mapstructure:"alias" yaml:"alias" validate:"required"`
	Host  string `mapstructure:"host" yaml:"host" validate:"required"`
	Port  int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
}

// Config is the full set of settings the orchestrator binary needs to
// start: which nodes to dial, how to talk to the instruction planner,
// and where to expose the HTTP bridge.
type Config struct {
	Nodes []NodeSpec `mapstructure:"nodes" yaml:"nodes" validate:"dive"`

	PlannerURL string `mapstructure:"planner_url" yaml:"planner_url"`

	EnableTelemetry bool `mapstructure:"telemetry" yaml:"telemetry"`

	ConnectTimeoutSeconds float64 `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	StepTimeoutSeconds    float64 `mapstructure:"step_timeout" yaml:"step_timeout" validate:"gt=0"`

	HTTPHost string `mapstructure:"http_host" yaml:"http_host"`
	HTTPPort int    `mapstructure:"http_port" yaml:"http_port" validate:"min=0,max=65535"`

	VisionURL string `mapstructure:"vision_url" yaml:"vision_url"`

	// RedisTelemetryAddr, when set, makes the bridge publish telemetry
	// snapshots to Redis in addition to serving them over HTTP — a
	// supplemented fan-out path for dashboards that already poll Redis.
	RedisTelemetryAddr string `mapstructure:"redis_telemetry_addr" yaml:"redis_telemetry_addr"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Instruction string `mapstructure:"instruction" yaml:"instruction"`

	Profile string `mapstructure:"profile" yaml:"profile"`
}

// Defaults returns a Config with the spec's documented defaults: a 7s
// connect timeout, a 4s step timeout, telemetry off, HTTP bridge on
// :8765, info-level logging.
func Defaults() *Config {
	return &Config{
		ConnectTimeoutSeconds: 7,
		StepTimeoutSeconds:    4,
		HTTPHost:              "0.0.0.0",
		HTTPPort:              8765,
		LogLevel:              "info",
	}
}

// Load reads configFile (if non-empty) through viper, layers DAEMON_*
// environment variables over it, and returns a Config with defaults
// applied for anything left unset. It does not apply CLI flag overrides
// or validate — the cmd/ binaries copy set flags onto the Config and then
// call Validate, so flag parsing errors surface through cobra's own error
// path.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DAEMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved, err := resolveConfigPath(configFile)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", configFile, err)
	}
	if resolved != "" {
		v.SetConfigFile(resolved)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", resolved, err)
		}
	}

	cfg := Defaults()
	if resolved != "" {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(v, cfg)
	return cfg, nil
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if v.IsSet("planner_url") {
		cfg.PlannerURL = v.GetString("planner_url")
	}
	if v.IsSet("telemetry") {
		cfg.EnableTelemetry = v.GetBool("telemetry")
	}
	if v.IsSet("timeout") {
		cfg.ConnectTimeoutSeconds = v.GetFloat64("timeout")
	}
	if v.IsSet("step_timeout") {
		cfg.StepTimeoutSeconds = v.GetFloat64("step_timeout")
	}
	if v.IsSet("http_host") {
		cfg.HTTPHost = v.GetString("http_host")
	}
	if v.IsSet("http_port") {
		cfg.HTTPPort = v.GetInt("http_port")
	}
	if v.IsSet("vision_url") {
		cfg.VisionURL = v.GetString("vision_url")
	}
	if v.IsSet("redis_telemetry_addr") {
		cfg.RedisTelemetryAddr = v.GetString("redis_telemetry_addr")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
}

// ParseNodeFlag parses one --node ALIAS=HOST:PORT flag value.
func ParseNodeFlag(raw string) (NodeSpec, error) {
	aliasAndAddr := strings.SplitN(raw, "=", 2)
	if len(aliasAndAddr) != 2 {
		return NodeSpec{}, fmt.Errorf("--node %q must be ALIAS=HOST:PORT", raw)
	}
	alias := aliasAndAddr[0]
	host, portStr, err := splitHostPort(aliasAndAddr[1])
	if err != nil {
		return NodeSpec{}, fmt.Errorf("--node %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return NodeSpec{}, fmt.Errorf("--node %q: invalid port %q", raw, portStr)
	}
	return NodeSpec{Alias: alias, Host: host, Port: port}, nil
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("expected HOST:PORT, got %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// Validate checks the struct-tag rules above plus the cross-field rule
// that at least one node must be configured.
func Validate(cfg *Config) error {
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("at least one --node ALIAS=HOST:PORT is required")
	}
	seen := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if seen[n.Alias] {
			return fmt.Errorf("duplicate node alias %q", n.Alias)
		}
		seen[n.Alias] = true
	}
	return validator.New().Struct(cfg)
}

// ConnectTimeout and StepTimeout convert the float-seconds fields into
// time.Duration for the protocol client.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds * float64(time.Second))
}

func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds * float64(time.Second))
}

// resolveConfigPath expands a user-supplied config path, following the
// same "explicit path, or nothing" policy as the orchestrator's --config
// flag: there is no implicit default-location search, since the daemon
// CLI is typically invoked with explicit --node flags rather than a
// checked-in config file.
func resolveConfigPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

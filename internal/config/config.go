// Package config loads the agent configuration: a YAML file, then
// KIOSKD_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/policy"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KIOSKD_"

// Config is the full agent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Security SecurityConfig `yaml:"security" envPrefix:"SECURITY_"`
	Lockdown LockdownConfig `yaml:"lockdown" envPrefix:"LOCKDOWN_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Agent    AgentConfig    `yaml:"agent" envPrefix:"AGENT_"`
}

// ServerConfig locates the session authority.
type ServerConfig struct {
	Host                 string        `yaml:"host" env:"HOST" validate:"required,hostname_rfc1123|ip"`
	FallbackHosts        []string      `yaml:"fallback_hosts" env:"FALLBACK_HOSTS" validate:"dive,hostname_rfc1123|ip"`
	Port                 int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	Secure               bool          `yaml:"secure" env:"SECURE"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS" validate:"min=1"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT" validate:"min=0"`
	LoginTimeout         time.Duration `yaml:"login_timeout" env:"LOGIN_TIMEOUT" validate:"min=0"`
}

// SecurityConfig switches enforcement leaves.
type SecurityConfig struct {
	ProcessMonitoring  bool `yaml:"process_monitoring" env:"PROCESS_MONITORING"`
	SystemRestrictions bool `yaml:"system_restrictions" env:"SYSTEM_RESTRICTIONS"`
}

// RestrictionConfig is one policy-store flag.
type RestrictionConfig struct {
	Path  string `yaml:"path" env:"PATH" validate:"required"`
	Name  string `yaml:"name" env:"NAME" validate:"required"`
	Value uint32 `yaml:"value" env:"VALUE"`
}

// LockdownConfig holds the lockdown tables.
type LockdownConfig struct {
	StrictKeys       []string            `yaml:"strict_keys" env:"STRICT_KEYS" validate:"min=1,dive,required"`
	ExtraStrictKeys  []string            `yaml:"extra_strict_keys" env:"EXTRA_STRICT_KEYS" validate:"dive,required"`
	MinimalKeys      []string            `yaml:"minimal_keys" env:"MINIMAL_KEYS" validate:"dive,required"`
	BlockedProcesses []string            `yaml:"blocked_processes" env:"BLOCKED_PROCESSES" validate:"dive,required"`
	Restrictions     []RestrictionConfig `yaml:"restrictions" envPrefix:"RESTRICTIONS_" validate:"dive"`
	ScanInterval     time.Duration       `yaml:"scan_interval" env:"SCAN_INTERVAL" validate:"min=100ms"`
}

// SessionConfig tunes the countdown.
type SessionConfig struct {
	WarningThresholds []time.Duration `yaml:"warning_thresholds" env:"WARNING_THRESHOLDS" validate:"dive,min=1s"`
}

// AgentConfig holds local agent settings.
type AgentConfig struct {
	ComputerID  string `yaml:"computer_id" env:"COMPUTER_ID"`
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	LogFile     string `yaml:"log_file" env:"LOG_FILE"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	restrictions := make([]RestrictionConfig, 0)
	for _, c := range policy.DefaultRestrictions() {
		restrictions = append(restrictions, RestrictionConfig{Path: c.StorePath, Name: c.ValueName, Value: c.Desired})
	}
	return &Config{
		Server: ServerConfig{
			Host:                 "localhost",
			FallbackHosts:        []string{"127.0.0.1"},
			Port:                 8080,
			MaxReconnectAttempts: 10,
			ConnectTimeout:       5 * time.Second,
			LoginTimeout:         10 * time.Second,
		},
		Security: SecurityConfig{
			ProcessMonitoring:  true,
			SystemRestrictions: true,
		},
		Lockdown: LockdownConfig{
			StrictKeys:   append([]string(nil), policy.DefaultStrictKeys...),
			MinimalKeys:  append([]string(nil), policy.DefaultMinimalKeys...),
			Restrictions: restrictions,
			ScanInterval: policy.DefaultScanInterval,
		},
		Session: SessionConfig{
			WarningThresholds: []time.Duration{5 * time.Minute, time.Minute},
		},
		Agent: AgentConfig{
			LogLevel: "info",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and that the key tables parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := policy.Build(c.LockdownSpec()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Endpoints returns the primary host followed by the fallbacks, deduplicated.
func (c *Config) Endpoints() []domain.ServerEndpoint {
	seen := make(map[string]bool)
	var eps []domain.ServerEndpoint
	for _, h := range append([]string{c.Server.Host}, c.Server.FallbackHosts...) {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		eps = append(eps, domain.ServerEndpoint{Host: h, Port: c.Server.Port})
	}
	return eps
}

// LockdownSpec turns the lockdown section into the policy tables. Disabled
// leaves get empty tables.
func (c *Config) LockdownSpec() policy.Spec {
	spec := policy.Spec{
		StrictKeys:      c.Lockdown.StrictKeys,
		ExtraStrictKeys: c.Lockdown.ExtraStrictKeys,
		MinimalKeys:     c.Lockdown.MinimalKeys,
	}
	if c.Security.ProcessMonitoring {
		spec.ProcessRules = policy.NewRegistryWithSets(
			policy.NewSystemToolsRuleSetWith(c.Lockdown.BlockedProcesses...),
			policy.NewDesktopShellRuleSet(),
		).AllRules()
	}
	if c.Security.SystemRestrictions {
		for _, r := range c.Lockdown.Restrictions {
			spec.Restrictions = append(spec.Restrictions, domain.PolicyChange{
				StorePath: r.Path,
				ValueName: r.Name,
				Desired:   r.Value,
			})
		}
	}
	return spec
}

// LockdownSet builds the runtime tables.
func (c *Config) LockdownSet() (domain.LockdownSet, error) {
	return policy.Build(c.LockdownSpec())
}

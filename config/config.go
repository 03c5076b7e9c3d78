// Package config provides YAML configuration parsing for reachboard.
//
// This package enables running reachboard as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8050
//	probe_interval: 5s
//	probe_timeout: 2s
//	probe_mode: icmp
//	store: mongodb://localhost:27017/network_monitoring
//
//	targets:
//	  - name: Google
//	    address: google.com
//	  - name: Database
//	    address: ${DB_HOST:-10.0.0.5}:5432
//
//	groups:
//	  - name: DNS
//	    address_template: "{{.resolver}}:53"
//	    dimensions:
//	      resolver: [1.1.1.1, 8.8.8.8]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// minProbeInterval prevents accidental flooding of targets.
	minProbeInterval = time.Second

	maxHistoryCapacity = 100_000

	defaultPort            = 8050
	defaultProbeInterval   = 5 * time.Second
	defaultProbeTimeout    = 2 * time.Second
	defaultProbeMode       = "icmp"
	defaultThreshold       = 100 * time.Millisecond
	defaultHistoryCapacity = 100
	defaultMaxConcurrency  = 10
	defaultStore           = "memory://"
)

var supportedProbeModes = map[string]bool{
	"icmp": true,
	"tcp":  true,
}

var supportedStoreSchemes = map[string]bool{
	"memory":      true,
	"mongodb":     true,
	"mongodb+srv": true,
	"postgres":    true,
	"postgresql":  true,
}

// Config is the root configuration structure for reachboard.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8050.
	Port int `yaml:"port"`

	// ProbeInterval is the time between rounds. Defaults to 5s, minimum 1s.
	ProbeInterval Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single probe. Defaults to 2s.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// ProbeMode is "icmp" (default, falls back to tcp without a raw socket)
	// or "tcp".
	ProbeMode string `yaml:"probe_mode"`

	// LatencyThreshold separates Good from Low. Defaults to 100ms.
	LatencyThreshold Duration `yaml:"latency_threshold"`

	// HistoryCapacity is the number of observations kept per target.
	// Defaults to 100.
	HistoryCapacity int `yaml:"history_capacity"`

	// MaxConcurrency caps the probes in flight. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// ProbeRate limits probe starts per second. Zero means unlimited.
	ProbeRate float64 `yaml:"probe_rate"`

	// Store is the persistence URL (memory://, mongodb://, postgres://).
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Store string `yaml:"store"`

	// Targets lists individual targets.
	Targets []TargetConfig `yaml:"targets"`

	// Groups defines target groups that expand via cartesian product.
	Groups []GroupConfig `yaml:"groups"`
}

// TargetConfig defines a single target.
type TargetConfig struct {
	// Name is the display name shown in the dashboard.
	Name string `yaml:"name"`

	// Address is a host or host:port.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Address string `yaml:"address"`
}

// GroupConfig defines a family of targets generated from a template.
//
// With dimensions {region: [eu, us], svc: [api, web]} the group expands to
// four targets named "<name> eu api", "<name> eu web" and so on: values are
// joined in dimension-name order.
type GroupConfig struct {
	// Name is the base name for generated targets.
	Name string `yaml:"name"`

	// AddressTemplate is a Go template producing each address; dimension
	// keys are available as {{.key}}.
	AddressTemplate string `yaml:"address_template"`

	// Dimensions maps dimension names to their values.
	Dimensions map[string][]string `yaml:"dimensions"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
// An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := sub[2] != ""

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return sub[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults, expands
// environment variables in addresses and the store URL, and validates the
// result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = Duration(defaultProbeInterval)
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = Duration(defaultProbeTimeout)
	}
	if c.ProbeMode == "" {
		c.ProbeMode = defaultProbeMode
	}
	if c.LatencyThreshold == 0 {
		c.LatencyThreshold = Duration(defaultThreshold)
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = defaultHistoryCapacity
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.Store == "" {
		c.Store = defaultStore
	}
}

// Validate checks a Config that was built or modified in code. [Parse]
// already validates.
func (c *Config) Validate() error {
	return c.expandAndValidate()
}

func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ProbeInterval.Duration() < minProbeInterval {
		return fmt.Errorf("probe_interval must be at least %s, got %s", minProbeInterval, c.ProbeInterval.Duration())
	}
	if c.ProbeTimeout.Duration() <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", c.ProbeTimeout.Duration())
	}
	c.ProbeMode = strings.ToLower(strings.TrimSpace(c.ProbeMode))
	if c.ProbeMode == "" {
		c.ProbeMode = defaultProbeMode
	}
	if !supportedProbeModes[c.ProbeMode] {
		return fmt.Errorf("probe_mode must be icmp or tcp, got %q", c.ProbeMode)
	}
	if c.LatencyThreshold.Duration() <= 0 {
		return fmt.Errorf("latency_threshold must be positive, got %s", c.LatencyThreshold.Duration())
	}
	if c.HistoryCapacity < 1 || c.HistoryCapacity > maxHistoryCapacity {
		return fmt.Errorf("history_capacity must be between 1 and %d, got %d", maxHistoryCapacity, c.HistoryCapacity)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.ProbeRate < 0 {
		return fmt.Errorf("probe_rate must not be negative, got %g", c.ProbeRate)
	}

	store, err := expandEnvVars(c.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	u, err := url.Parse(store)
	if err != nil {
		return fmt.Errorf("store: invalid url: %w", err)
	}
	if !supportedStoreSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("store: unsupported scheme %q (expected memory, mongodb, mongodb+srv, postgres or postgresql)", u.Scheme)
	}
	c.Store = store

	seen := make(map[string]string)
	claim := func(name, where string) error {
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("%s: duplicate target name %q (first defined in %s)", where, name, prev)
		}
		seen[name] = where
		return nil
	}

	for i := range c.Targets {
		t := &c.Targets[i]
		where := fmt.Sprintf("targets[%d]", i)

		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return fmt.Errorf("%s: name is required", where)
		}
		where = fmt.Sprintf("%s (%s)", where, t.Name)

		if strings.TrimSpace(t.Address) == "" {
			return fmt.Errorf("%s: address is required", where)
		}
		expanded, err := expandEnvVars(t.Address)
		if err != nil {
			return fmt.Errorf("%s: address: %w", where, err)
		}
		t.Address = strings.TrimSpace(expanded)

		if strings.Contains(t.Address, "://") {
			return fmt.Errorf("%s: address must be a host or host:port, not a URL", where)
		}

		if err := claim(t.Name, where); err != nil {
			return err
		}
	}

	for i := range c.Groups {
		g := &c.Groups[i]

		if g.Name == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
		if g.AddressTemplate == "" {
			return fmt.Errorf("groups[%d] (%s): address_template is required", i, g.Name)
		}
		expanded, err := expandEnvVars(g.AddressTemplate)
		if err != nil {
			return fmt.Errorf("groups[%d] (%s): address_template: %w", i, g.Name, err)
		}
		g.AddressTemplate = expanded

		if _, err := template.New("").Parse(g.AddressTemplate); err != nil {
			return fmt.Errorf("groups[%d] (%s): invalid address_template: %w", i, g.Name, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("groups[%d] (%s): at least one dimension is required", i, g.Name)
		}
		for dim, values := range g.Dimensions {
			if len(values) == 0 {
				return fmt.Errorf("groups[%d] (%s): dimension %q has no values", i, g.Name, dim)
			}
			dupes := make(map[string]struct{}, len(values))
			for _, v := range values {
				if _, ok := dupes[v]; ok {
					return fmt.Errorf("groups[%d] (%s): dimension %q has duplicate value %q", i, g.Name, dim, v)
				}
				dupes[v] = struct{}{}
			}
		}

		for _, combo := range cartesianProduct(g.Dimensions) {
			if err := claim(groupTargetName(g.Name, combo), fmt.Sprintf("groups[%d] (%s)", i, g.Name)); err != nil {
				return err
			}
		}
	}

	if len(c.Targets) == 0 && len(c.Groups) == 0 {
		return errors.New("at least one target or group must be defined")
	}

	return nil
}

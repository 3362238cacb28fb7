// Package config loads and validates the YAML run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avihaie/bug-hunter/pkg/correlator"
	"github.com/avihaie/bug-hunter/pkg/defaults"
	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
)

// Environment variables that override secrets from the file.
const (
	EnvStatePasswordEnv = "BUG_HUNTER_ENV_STATE_PASSWORD"
	MailPasswordEnv     = "BUG_HUNTER_MAIL_PASSWORD"
)

// Config is one hunt run.
type Config struct {
	TestLabel string `yaml:"test_label"`

	Fault       FaultConfig       `yaml:"fault"`
	Hosts       []HostConfig      `yaml:"hosts"`
	Collection  CollectionConfig  `yaml:"collection"`
	Correlation CorrelationConfig `yaml:"correlation"`
	EnvState    EnvStateConfig    `yaml:"env_state"`
	Mail        MailConfig        `yaml:"mail"`

	// RabbitMQ enables fault event broadcast when set.
	RabbitMQ *models.RabbitMQConfig `yaml:"rabbitmq,omitempty"`
}

// FaultConfig is the signature watched for.
type FaultConfig struct {
	Pattern string `yaml:"pattern"`
	// Timeout of zero waits forever.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// HostConfig is a host and the logs collected from it.
type HostConfig struct {
	models.HostTarget `yaml:",inline"`
	Logs              models.LogSpec `yaml:"logs"`
}

// CollectionConfig controls the collector.
type CollectionConfig struct {
	LogsRoot        string        `yaml:"logs_root,omitempty"`
	TailLines       int           `yaml:"tail_lines,omitempty"`
	PackageQuery    string        `yaml:"package_query,omitempty"`
	CommandTimeout  time.Duration `yaml:"command_timeout,omitempty"`
	TransferTimeout time.Duration `yaml:"transfer_timeout,omitempty"`
	CommandRate     float64       `yaml:"command_rate,omitempty"`
}

// CorrelationConfig controls the timeline build.
type CorrelationConfig struct {
	// Host whose collected logs are correlated; defaults to the first host.
	Host              string        `yaml:"host,omitempty"`
	Family            string        `yaml:"family,omitempty"`
	Marker            string        `yaml:"marker,omitempty"`
	Tolerance         time.Duration `yaml:"tolerance,omitempty"`
	Ordering          string        `yaml:"ordering,omitempty"`
	Output            string        `yaml:"output,omitempty"`
	DecompressTimeout time.Duration `yaml:"decompress_timeout,omitempty"`
}

// EnvStateConfig points at the manager API. An empty endpoint disables
// snapshots.
type EnvStateConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// MailConfig is the notification mailbox. An empty target disables mail.
type MailConfig struct {
	Target   string `yaml:"target,omitempty"`
	Sender   string `yaml:"sender,omitempty"`
	Password string `yaml:"password,omitempty"`
	Server   string `yaml:"server,omitempty"`
}

// Load reads path, applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bherrors.Wrap(bherrors.ErrCodeNotFound, "config file not found: "+path, err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data, applies defaults and environment overrides, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, bherrors.Wrap(bherrors.ErrCodeInvalidRequest, "error parsing config", err)
	}

	cfg.applyEnv()
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvStatePasswordEnv); v != "" {
		c.EnvState.Password = v
	}
	if v := os.Getenv(MailPasswordEnv); v != "" {
		c.Mail.Password = v
	}
}

func (c *Config) applyDefaults() error {
	col := &c.Collection
	if col.LogsRoot == "" {
		col.LogsRoot = defaults.LogsRoot
	}
	root, err := ExpandHome(col.LogsRoot)
	if err != nil {
		return err
	}
	col.LogsRoot = root
	if col.TailLines == 0 {
		col.TailLines = defaults.TailLines
	}
	if col.PackageQuery == "" {
		col.PackageQuery = defaults.PackageQuery
	}
	if col.CommandTimeout == 0 {
		col.CommandTimeout = defaults.CommandTimeout
	}
	if col.TransferTimeout == 0 {
		col.TransferTimeout = defaults.TransferTimeout
	}
	if col.CommandRate == 0 {
		col.CommandRate = defaults.CommandRate
	}

	cor := &c.Correlation
	if cor.Host == "" && len(c.Hosts) > 0 {
		cor.Host = c.Hosts[0].Address
	}
	if cor.Family == "" {
		cor.Family = defaults.CorrelationFamily
	}
	if cor.Marker == "" {
		cor.Marker = defaults.EventMarker
	}
	if cor.Tolerance == 0 {
		cor.Tolerance = defaults.AnchorTolerance
	}
	if cor.Output == "" {
		cor.Output = defaults.TimelineFile
	}
	if cor.DecompressTimeout == 0 {
		cor.DecompressTimeout = defaults.DecompressTimeout
	}

	if c.EnvState.User == "" {
		c.EnvState.User = defaults.EnvStateUser
	}
	if c.Mail.Server == "" {
		c.Mail.Server = defaults.SMTPServer
	}
	if c.Mail.Sender == "" {
		c.Mail.Sender = c.Mail.Target
	}
	return nil
}

// Validate checks the configuration without any I/O.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Fault.Pattern) == "" {
		add("fault.pattern is required")
	}
	if len(c.Hosts) == 0 {
		add("at least one host is required")
	}

	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if h.Address == "" {
			add("hosts[%d].address is required", i)
			continue
		}
		if seen[h.Address] {
			add("host %s is listed twice", h.Address)
		}
		seen[h.Address] = true
		if !h.IsLocal() && h.Password == "" && h.PrivateKeyPath == "" {
			add("host %s needs a password or private_key_path", h.Address)
		}
		if len(h.Logs) == 0 {
			add("host %s has no logs", h.Address)
		}
		for j, l := range h.Logs {
			if !strings.HasPrefix(l.Path, "/") {
				add("host %s logs[%d]: path must be absolute", h.Address, j)
			}
		}
	}

	if c.Correlation.Host != "" && len(c.Hosts) > 0 && !seen[c.Correlation.Host] {
		add("correlation.host %s is not a configured host", c.Correlation.Host)
	}
	if c.Collection.TailLines < 0 {
		add("collection.tail_lines must be positive")
	}
	if c.Collection.CommandRate < 0 {
		add("collection.command_rate must not be negative")
	}
	if c.Fault.Timeout < 0 {
		add("fault.timeout must not be negative")
	}
	if _, err := correlator.ParseOrdering(c.Correlation.Ordering); err != nil {
		add("correlation.ordering: %v", err)
	}
	if !strings.Contains(c.Collection.PackageQuery, "%s") {
		add("collection.package_query must contain %%s")
	}

	if len(problems) > 0 {
		return bherrors.NewWithContext(bherrors.ErrCodeInvalidRequest,
			"invalid configuration: "+strings.Join(problems, "; "),
			map[string]any{"problems": problems})
	}
	return nil
}

// Targets returns the collection targets in configuration order.
func (c *Config) Targets() []models.CollectionTarget {
	out := make([]models.CollectionTarget, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		out = append(out, models.CollectionTarget{Host: h.HostTarget, Logs: h.Logs})
	}
	return out
}

// WatchTargets returns, per host, the logs followed for the fault
// signature. When no log is marked watch, every log of the correlation
// host is followed.
func (c *Config) WatchTargets() []models.CollectionTarget {
	var out []models.CollectionTarget
	for _, h := range c.Hosts {
		var watched models.LogSpec
		for _, l := range h.Logs {
			if l.Watch {
				watched = append(watched, l)
			}
		}
		if len(watched) > 0 {
			out = append(out, models.CollectionTarget{Host: h.HostTarget, Logs: watched})
		}
	}
	if len(out) > 0 {
		return out
	}
	if h, ok := c.Host(c.Correlation.Host); ok {
		out = append(out, models.CollectionTarget{Host: h.HostTarget, Logs: h.Logs})
	}
	return out
}

// Host returns the host configured under address.
func (c *Config) Host(address string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Address == address {
			return h, true
		}
	}
	return HostConfig{}, false
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

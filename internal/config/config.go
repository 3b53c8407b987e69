// Package config provides configuration for the datalayer client and relay.
//
// Config file locations (priority order):
//  1. $DATALAYER_CONFIG
//  2. ./datalayer.yaml or ./datalayer.jsonc
//  3. $XDG_CONFIG_HOME/datalayer/config.yaml
//  4. ~/.config/datalayer/config.yaml
//  5. /etc/datalayer/config.yaml
//
// Files ending in .json or .jsonc are read as JSON with comments; anything
// else is YAML.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"datalayer/internal/domain"
	"datalayer/internal/service"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, isJSON(path))
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes a config document and fills in defaults
func Parse(data []byte, asJSON bool) (*Config, error) {
	var cfg Config
	if asJSON {
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
	if c.Node.DisplayName == "" {
		if host, err := os.Hostname(); err == nil {
			c.Node.DisplayName = host
		} else {
			c.Node.DisplayName = c.Node.ID
		}
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportRelay
	}
	if c.Transport.URL == "" {
		c.Transport.URL = "http://localhost:8780"
	}
	setDuration(&c.Transport.DialTimeout, 10*time.Second)
	setDuration(&c.Transport.RequestTimeout, 15*time.Second)
	setDuration(&c.Transport.ReconnectDelay, 3*time.Second)

	defaults := service.DefaultRecordPaths()
	if c.Paths.Image == "" {
		c.Paths.Image = string(defaults.Image)
	}
	if c.Paths.ImageKey == "" {
		c.Paths.ImageKey = defaults.ImageKey
	}
	if len(c.Paths.Data) == 0 {
		for _, p := range defaults.Data {
			c.Paths.Data = append(c.Paths.Data, string(p))
		}
	}
	if c.Paths.Message == "" {
		c.Paths.Message = "/message"
	}

	if c.Discovery.Presets == nil {
		c.Discovery.Presets = map[string][]string{
			"capability_2":       {"capability_2"},
			"capability_1_and_2": {"capability_1", "capability_2"},
		}
	}

	setDuration(&c.Resolver.Timeout, 30*time.Second)
	if c.Resolver.MaxBytes == 0 {
		c.Resolver.MaxBytes = 32 << 20
	}
	if c.Resolver.MaxPixels == 0 {
		c.Resolver.MaxPixels = 40_000_000
	}

	if c.Relay.Listen == "" {
		c.Relay.Listen = ":8780"
	}
	if c.Relay.Storage.Path == "" {
		c.Relay.Storage.Path = "./datalayer.db"
	}
	setDuration(&c.Relay.Spool.Debounce, 250*time.Millisecond)
	if c.Relay.Reachability.Method == "" {
		c.Relay.Reachability.Method = ReachabilityTCP
	}
	setDuration(&c.Relay.Reachability.Interval, time.Minute)
	setDuration(&c.Relay.Reachability.Timeout, 2*time.Second)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportRelay, TransportMemory:
	default:
		return fmt.Errorf("transport.kind: unknown transport %q", c.Transport.Kind)
	}
	switch c.Relay.Reachability.Method {
	case ReachabilityNone, ReachabilityTCP, ReachabilityNmap:
	default:
		return fmt.Errorf("relay.reachability.method: unknown method %q", c.Relay.Reachability.Method)
	}
	switch c.Relay.Storage.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("relay.storage.compression: unknown algorithm %q", c.Relay.Storage.Compression)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for _, p := range append([]string{c.Paths.Image, c.Paths.Message}, c.Paths.Data...) {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("paths: %q must start with /", p)
		}
	}
	return nil
}

// RecordPaths returns the paths section in the router's form
func (c *Config) RecordPaths() service.RecordPaths {
	paths := service.RecordPaths{
		Image:    domain.Path(c.Paths.Image),
		ImageKey: c.Paths.ImageKey,
	}
	for _, p := range c.Paths.Data {
		paths.Data = append(paths.Data, domain.Path(p))
	}
	return paths
}

// Capabilities returns the capabilities this node advertises
func (c *Config) Capabilities() []domain.CapabilityName {
	out := make([]domain.CapabilityName, 0, len(c.Node.Capabilities))
	for _, name := range c.Node.Capabilities {
		out = append(out, domain.CapabilityName(name))
	}
	return out
}

// Preset resolves a discovery preset. A name that is not a preset is taken
// as a single capability name.
func (c *Config) Preset(name string) []domain.CapabilityName {
	names, ok := c.Discovery.Presets[name]
	if !ok {
		return []domain.CapabilityName{domain.CapabilityName(name)}
	}
	out := make([]domain.CapabilityName, len(names))
	for i, n := range names {
		out[i] = domain.CapabilityName(n)
	}
	return out
}

// PresetNames returns the preset names in sorted order
func (c *Config) PresetNames() []string {
	names := make([]string, 0, len(c.Discovery.Presets))
	for name := range c.Discovery.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLogger builds the slog logger the log section describes
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.JSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

func isJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	}
	return false
}

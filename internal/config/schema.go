package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the root configuration structure shared by the client and the
// relay
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Node      NodeConfig      `yaml:"node" json:"node"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Resolver  ResolverConfig  `yaml:"resolver" json:"resolver"`
	Relay     RelayConfig     `yaml:"relay" json:"relay"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// NodeConfig is this node's identity on the relay
type NodeConfig struct {
	ID           string   `yaml:"id" json:"id"`
	DisplayName  string   `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// Transport kinds
const (
	TransportRelay  = "relay"
	TransportMemory = "memory"
)

// TransportConfig selects how the client reaches its peers
type TransportConfig struct {
	Kind           string   `yaml:"kind" json:"kind"` // relay, memory
	URL            string   `yaml:"url" json:"url"`
	DialTimeout    Duration `yaml:"dial_timeout" json:"dial_timeout"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
	ReconnectDelay Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
}

// PathsConfig holds the record paths the router recognizes
type PathsConfig struct {
	Image    string   `yaml:"image" json:"image"`
	ImageKey string   `yaml:"image_key" json:"image_key"`
	Data     []string `yaml:"data" json:"data"`
	Message  string   `yaml:"message" json:"message"`
}

// DiscoveryConfig holds named capability presets
type DiscoveryConfig struct {
	Presets map[string][]string `yaml:"presets" json:"presets"`
}

// ResolverConfig bounds asset resolution
type ResolverConfig struct {
	Timeout   Duration `yaml:"timeout" json:"timeout"`
	MaxBytes  int64    `yaml:"max_bytes" json:"max_bytes"`
	MaxPixels int64    `yaml:"max_pixels" json:"max_pixels"`
}

// RelayConfig holds relay server settings
type RelayConfig struct {
	Listen       string             `yaml:"listen" json:"listen"`
	PairingFile  string             `yaml:"pairing_file,omitempty" json:"pairing_file,omitempty"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Spool        SpoolConfig        `yaml:"spool" json:"spool"`
	Reachability ReachabilityConfig `yaml:"reachability" json:"reachability"`
}

// StorageConfig holds relay store settings
type StorageConfig struct {
	Path        string `yaml:"path" json:"path"`
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty"` // empty = per blob, none, lz4, zstd
}

// SpoolConfig holds the drop directory settings. An empty Dir disables it.
type SpoolConfig struct {
	Dir      string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Debounce Duration `yaml:"debounce" json:"debounce"`
}

// Reachability methods
const (
	ReachabilityNone = "none"
	ReachabilityTCP  = "tcp"
	ReachabilityNmap = "nmap"
)

// ReachabilityConfig selects how paired peers are probed
type ReachabilityConfig struct {
	Method   string   `yaml:"method" json:"method"` // none, tcp, nmap
	Interval Duration `yaml:"interval" json:"interval"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
	Ports    []int    `yaml:"ports,omitempty" json:"ports,omitempty"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json" json:"json"`
}

// Duration wraps time.Duration for YAML and JSON unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Node.ID == "" {
		t.Error("Node.ID should default to a generated id")
	}
	if cfg.Transport.Kind != TransportRelay {
		t.Errorf("Transport.Kind = %s, want relay", cfg.Transport.Kind)
	}
	if cfg.Relay.Reachability.Method != ReachabilityTCP {
		t.Errorf("Reachability.Method = %s, want tcp", cfg.Relay.Reachability.Method)
	}
	if cfg.Relay.Reachability.Interval.Duration() != time.Minute {
		t.Errorf("Reachability.Interval = %s, want 1m", cfg.Relay.Reachability.Interval.Duration())
	}

	paths := cfg.RecordPaths()
	if paths.Image != "/image" || paths.ImageKey != "photo" {
		t.Errorf("unexpected record paths %+v", paths)
	}
	if len(paths.Data) != 1 || paths.Data[0] != "/count" {
		t.Errorf("Data = %v, want [/count]", paths.Data)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultIDsAreUnique(t *testing.T) {
	if DefaultConfig().Node.ID == DefaultConfig().Node.ID {
		t.Error("expected generated ids to differ")
	}
}

func TestPresets(t *testing.T) {
	cfg := DefaultConfig()

	both := cfg.Preset("capability_1_and_2")
	if len(both) != 2 || both[0] != "capability_1" || both[1] != "capability_2" {
		t.Errorf("unexpected preset %v", both)
	}

	single := cfg.Preset("speaker")
	if len(single) != 1 || single[0] != "speaker" {
		t.Errorf("non-preset name should be one capability, got %v", single)
	}

	names := cfg.PresetNames()
	if len(names) != 2 || names[0] != "capability_1_and_2" || names[1] != "capability_2" {
		t.Errorf("unexpected preset names %v", names)
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
node:
  id: watch-1
  display_name: Watch
  capabilities: [display, capability_1]
transport:
  url: http://relay.lan:8780
  request_timeout: 5s
relay:
  reachability:
    method: nmap
    interval: 30s
`)
	cfg, err := Parse(data, false)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Node.ID != "watch-1" || cfg.Node.DisplayName != "Watch" {
		t.Errorf("unexpected node %+v", cfg.Node)
	}
	if caps := cfg.Capabilities(); len(caps) != 2 || caps[0] != "display" {
		t.Errorf("unexpected capabilities %v", caps)
	}
	if cfg.Transport.RequestTimeout.Duration() != 5*time.Second {
		t.Errorf("RequestTimeout = %s, want 5s", cfg.Transport.RequestTimeout.Duration())
	}
	if cfg.Transport.DialTimeout.Duration() != 10*time.Second {
		t.Errorf("DialTimeout should keep its default, got %s", cfg.Transport.DialTimeout.Duration())
	}
	if cfg.Relay.Reachability.Method != ReachabilityNmap || cfg.Relay.Reachability.Interval.Duration() != 30*time.Second {
		t.Errorf("unexpected reachability %+v", cfg.Relay.Reachability)
	}
}

func TestParseJSONC(t *testing.T) {
	data := []byte(`{
  // the watch on my wrist
  "node": {"id": "watch-2"},
  "resolver": {"timeout": "3s"}, /* trailing comma below */
  "log": {"level": "debug", "json": true},
}`)
	cfg, err := Parse(data, true)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Node.ID != "watch-2" {
		t.Errorf("Node.ID = %s, want watch-2", cfg.Node.ID)
	}
	if cfg.Resolver.Timeout.Duration() != 3*time.Second {
		t.Errorf("Resolver.Timeout = %s, want 3s", cfg.Resolver.Timeout.Duration())
	}
	if cfg.Resolver.MaxPixels != 40_000_000 {
		t.Errorf("Resolver.MaxPixels = %d, want default 40000000", cfg.Resolver.MaxPixels)
	}
	if !cfg.Log.JSON || cfg.Log.Level != "debug" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"unknown transport", "transport:\n  kind: bluetooth\n", "transport.kind"},
		{"unknown method", "relay:\n  reachability:\n    method: icmp\n", "reachability.method"},
		{"unknown compression", "relay:\n  storage:\n    compression: gzip\n", "compression"},
		{"unknown level", "log:\n  level: loud\n", "log.level"},
		{"relative path", "paths:\n  image: image\n", "must start with /"},
		{"bad duration", "resolver:\n  timeout: soon\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), false)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.jsonc"} {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.Node.ID = "phone"
			cfg.Relay.PairingFile = "/etc/datalayer/pairing.yaml"
			cfg.Relay.Spool.Debounce = Duration(time.Second)

			if err := cfg.Save(configPath); err != nil {
				t.Fatalf("Save() error: %v", err)
			}

			loaded, path, err := LoadFromPath(configPath)
			if err != nil {
				t.Fatalf("LoadFromPath() error: %v", err)
			}
			if path != configPath {
				t.Errorf("path = %s, want %s", path, configPath)
			}
			if loaded.Node.ID != "phone" {
				t.Errorf("Node.ID = %s, want phone", loaded.Node.ID)
			}
			if loaded.Relay.PairingFile != cfg.Relay.PairingFile {
				t.Errorf("PairingFile = %s, want %s", loaded.Relay.PairingFile, cfg.Relay.PairingFile)
			}
			if loaded.Relay.Spool.Debounce.Duration() != time.Second {
				t.Errorf("Spool.Debounce = %s, want 1s", loaded.Relay.Spool.Debounce.Duration())
			}
		})
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	if err := DefaultConfig().Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	t.Chdir(tmpDir)
	t.Setenv(EnvConfigPath, "")

	if found := FindConfigPath(); found == "" {
		t.Error("FindConfigPath() should find config in working directory")
	}

	explicit := filepath.Join(t.TempDir(), "explicit.jsonc")
	if err := os.WriteFile(explicit, []byte(`{"node": {"id": "x"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvConfigPath, explicit)
	if found := FindConfigPath(); found != explicit {
		t.Errorf("FindConfigPath() = %s, want %s", found, explicit)
	}

	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")
	if found := FindConfigPath(); found == "" {
		t.Error("FindConfigPath() should fall back when env path doesn't exist")
	}
}

func TestSearchPaths(t *testing.T) {
	t.Setenv(EnvConfigPath, "/explicit.yaml")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("HOME", "/home/me")

	paths := SearchPaths()
	if len(paths) != 6 {
		t.Fatalf("expected 6 search paths, got %v", paths)
	}
	if paths[0] != "/explicit.yaml" {
		t.Errorf("expected env path first, got %s", paths[0])
	}
	if filepath.Base(paths[1]) != ConfigFileName || filepath.Base(paths[2]) != "datalayer.jsonc" {
		t.Errorf("unexpected working directory paths %v", paths[1:3])
	}
	want := []string{
		"/xdg/datalayer/config.yaml",
		"/home/me/.config/datalayer/config.yaml",
		"/etc/datalayer/config.yaml",
	}
	for i, w := range want {
		if paths[3+i] != w {
			t.Errorf("path %d: expected %s, got %s", 3+i, w, paths[3+i])
		}
	}

	if got := DefaultConfigPath(); got != "/xdg/datalayer/config.yaml" {
		t.Errorf("DefaultConfigPath() = %s", got)
	}
	t.Setenv("XDG_CONFIG_HOME", "")
	if got := DefaultConfigPath(); got != "/home/me/.config/datalayer/config.yaml" {
		t.Errorf("DefaultConfigPath() without XDG = %s", got)
	}
	t.Setenv("HOME", "")
	if got := DefaultConfigPath(); got != ConfigFileName {
		t.Errorf("DefaultConfigPath() without roots = %s", got)
	}
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)

	if d.Duration() != 5*time.Minute {
		t.Errorf("Duration() = %s, want 5m", d.Duration())
	}

	marshaled, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML() error: %v", err)
	}
	if marshaled != "5m0s" {
		t.Errorf("MarshalYAML() = %v, want 5m0s", marshaled)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("MarshalJSON() error: %v", err)
	}
	var back Duration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("UnmarshalJSON() error: %v", err)
	}
	if back != d {
		t.Errorf("round trip = %s, want %s", back.Duration(), d.Duration())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", JSON: true}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "peer", "watch")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"peer":"watch"`) {
		t.Errorf("expected JSON output, got %s", out)
	}

	if _, err := (LogConfig{Level: "loud"}).NewLogger(&buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datalayer/internal/domain"
)

const pairing = `
version: "1"
groups:
  speakers:
    members: [tv, tablet]
    capabilities: [speaker]
peers:
  tablet:
    name: Kitchen tablet
    address: 192.168.1.20
    capabilities: [capability_1, display]
  tv:
    address: 192.168.1.30:8009
`

func TestParseYAML(t *testing.T) {
	peers, err := ParseYAML([]byte(pairing))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}

	tablet, tv := peers[0], peers[1]
	if tablet.ID != "tablet" || tablet.DisplayName != "Kitchen tablet" || !tablet.Static {
		t.Errorf("unexpected tablet %+v", tablet)
	}
	want := []domain.CapabilityName{"capability_1", "display", "speaker"}
	if len(tablet.Capabilities) != len(want) {
		t.Fatalf("expected %v, got %v", want, tablet.Capabilities)
	}
	for i := range want {
		if tablet.Capabilities[i] != want[i] {
			t.Errorf("capability %d: expected %s, got %s", i, want[i], tablet.Capabilities[i])
		}
	}

	if tv.DisplayName != "tv" {
		t.Errorf("expected display name to default to id, got %q", tv.DisplayName)
	}
	if tv.Address != "192.168.1.30:8009" {
		t.Errorf("unexpected address %q", tv.Address)
	}
	if len(tv.Capabilities) != 1 || tv.Capabilities[0] != "speaker" {
		t.Errorf("expected group capability, got %v", tv.Capabilities)
	}
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"invalid yaml", "peers: [", "failed to parse YAML"},
		{"missing address", "peers:\n  tv:\n    name: TV\n", "address is required"},
		{"unknown group member", "groups:\n  g:\n    members: [ghost]\npeers:\n  tv:\n    address: 10.0.0.1\n", "unknown member ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.yaml")
	if err := os.WriteFile(path, []byte(pairing), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	peers, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if len(peers) != 2 {
		t.Errorf("expected 2 peers, got %d", len(peers))
	}

	if _, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

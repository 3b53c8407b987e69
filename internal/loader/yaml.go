// Package loader reads the pairing file: the statically paired peers the
// relay probes for reachability, with the capabilities they advertise.
package loader

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"datalayer/internal/domain"
	"datalayer/internal/repository"
)

// PairingYAML represents the pairing file structure
type PairingYAML struct {
	Version string                `yaml:"version"`
	Groups  map[string]*GroupYAML `yaml:"groups,omitempty"`
	Peers   map[string]*PeerYAML  `yaml:"peers"`
}

// GroupYAML grants capabilities to every member
type GroupYAML struct {
	Members      []string `yaml:"members"`
	Capabilities []string `yaml:"capabilities"`
	Description  string   `yaml:"description,omitempty"`
}

// PeerYAML represents one paired peer
type PeerYAML struct {
	Name         string   `yaml:"name,omitempty"`
	Address      string   `yaml:"address"`
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// LoadYAML loads paired peers from a YAML file
func LoadYAML(path string) ([]repository.Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseYAML(data)
}

// ParseYAML parses paired peers from YAML bytes. Peers come back sorted by ID.
func ParseYAML(data []byte) ([]repository.Peer, error) {
	var y PairingYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return convertPairing(&y)
}

func convertPairing(y *PairingYAML) ([]repository.Peer, error) {
	caps := make(map[string]map[domain.CapabilityName]bool, len(y.Peers))
	for id, p := range y.Peers {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("peer with empty id")
		}
		if p == nil || p.Address == "" {
			return nil, fmt.Errorf("peer %s: address is required", id)
		}
		caps[id] = make(map[domain.CapabilityName]bool)
		for _, c := range p.Capabilities {
			addCapability(caps[id], c)
		}
	}

	for name, g := range y.Groups {
		if g == nil {
			continue
		}
		for _, member := range g.Members {
			set, ok := caps[member]
			if !ok {
				return nil, fmt.Errorf("group %s: unknown member %s", name, member)
			}
			for _, c := range g.Capabilities {
				addCapability(set, c)
			}
		}
	}

	peers := make([]repository.Peer, 0, len(y.Peers))
	for id, p := range y.Peers {
		peer := repository.Peer{
			ID:          domain.NodeID(id),
			DisplayName: p.Name,
			Address:     p.Address,
			Static:      true,
		}
		if peer.DisplayName == "" {
			peer.DisplayName = id
		}
		for c := range caps[id] {
			peer.Capabilities = append(peer.Capabilities, c)
		}
		sort.Slice(peer.Capabilities, func(i, j int) bool { return peer.Capabilities[i] < peer.Capabilities[j] })
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	return peers, nil
}

func addCapability(set map[domain.CapabilityName]bool, c string) {
	if c = strings.TrimSpace(c); c != "" {
		set[domain.CapabilityName(c)] = true
	}
}

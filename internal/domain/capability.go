package domain

import (
	"fmt"
	"sort"
	"strings"
)

// CapabilityName identifies a declared feature a peer may advertise
type CapabilityName string

// CapabilityInfo associates one capability with the peers currently advertising it
type CapabilityInfo struct {
	Name  CapabilityName `json:"name" cbor:"name"`
	Nodes NodeSet        `json:"nodes" cbor:"nodes"`
}

// NewCapabilityInfo creates an info for name holding the given nodes
func NewCapabilityInfo(name CapabilityName, nodes ...PeerNode) CapabilityInfo {
	return CapabilityInfo{Name: name, Nodes: NewNodeSet(nodes...)}
}

// String renders the info as "name: {a, b}"
func (c CapabilityInfo) String() string {
	nodes := c.Nodes
	if nodes == nil {
		nodes = NewNodeSet()
	}
	return fmt.Sprintf("%s: %s", c.Name, nodes)
}

// CapabilitySnapshot is the full known capability state at one instant.
// A snapshot is always replaced wholesale; it is never patched.
type CapabilitySnapshot map[CapabilityName]CapabilityInfo

// NewCapabilitySnapshot builds a snapshot from infos. Infos sharing a name
// are merged so the result holds exactly the union of their nodes.
func NewCapabilitySnapshot(infos ...CapabilityInfo) CapabilitySnapshot {
	snapshot := make(CapabilitySnapshot, len(infos))
	for _, info := range infos {
		existing, ok := snapshot[info.Name]
		if !ok {
			existing = CapabilityInfo{Name: info.Name, Nodes: NewNodeSet()}
		}
		existing.Nodes.Union(info.Nodes)
		snapshot[info.Name] = existing
	}
	return snapshot
}

// Names returns the capability names in sorted order
func (s CapabilitySnapshot) Names() []CapabilityName {
	names := make([]CapabilityName, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// AllNodes returns the union of nodes across every capability
func (s CapabilitySnapshot) AllNodes() NodeSet {
	nodes := NewNodeSet()
	for _, info := range s {
		nodes.Union(info.Nodes)
	}
	return nodes
}

// String renders the snapshot with capabilities in name order
func (s CapabilitySnapshot) String() string {
	parts := make([]string, 0, len(s))
	for _, name := range s.Names() {
		parts = append(parts, s[name].String())
	}
	return "[" + strings.Join(parts, "; ") + "]"
}

// NodeFilter selects which peers a capability query or subscription covers
type NodeFilter string

const (
	// FilterAll includes every known peer
	FilterAll NodeFilter = "all"
	// FilterReachable includes only peers currently connected and responsive
	FilterReachable NodeFilter = "reachable"
)

// ParseNodeFilter maps a string to a filter, defaulting to FilterReachable
func ParseNodeFilter(s string) NodeFilter {
	if NodeFilter(s) == FilterAll {
		return FilterAll
	}
	return FilterReachable
}

// ScopeScheme prefixes every capability scope URI
const ScopeScheme = "wear://"

// CapabilityScope restricts capability change notifications to a URI prefix
// and a node filter.
//
// The URI has the form wear://<node>/<prefix>. An empty or "*" node matches
// every peer; the prefix is matched against capability names. "wear://"
// alone, or an empty URI, covers everything.
type CapabilityScope struct {
	URI    string     `json:"uri" cbor:"uri"`
	Filter NodeFilter `json:"filter" cbor:"filter"`
}

// DefaultCapabilityScope covers every capability on reachable peers
func DefaultCapabilityScope() CapabilityScope {
	return CapabilityScope{URI: ScopeScheme, Filter: FilterReachable}
}

// Valid reports whether the URI is empty or uses the wear scheme
func (s CapabilityScope) Valid() bool {
	return s.URI == "" || strings.HasPrefix(s.URI, ScopeScheme)
}

// Matches reports whether capability name advertised by node falls under
// the scope URI
func (s CapabilityScope) Matches(name CapabilityName, node NodeID) bool {
	if s.URI == "" {
		return true
	}
	rest, ok := strings.CutPrefix(s.URI, ScopeScheme)
	if !ok {
		return false
	}
	host, prefix, _ := strings.Cut(rest, "/")
	if host != "" && host != "*" && NodeID(host) != node {
		return false
	}
	return strings.HasPrefix(string(name), prefix)
}

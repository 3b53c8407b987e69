package domain

import (
	"sort"
	"strings"
)

// NodeID is the stable identity of a peer device
type NodeID string

// PeerNode identifies a reachable peer
type PeerNode struct {
	ID          NodeID `json:"id" cbor:"id"`
	DisplayName string `json:"display_name" cbor:"display_name"`
	// Nearby is set for a paired static peer that answers reachability
	// checks without holding a relay connection
	Nearby bool `json:"nearby,omitempty" cbor:"nearby,omitempty"`
}

// Label returns the display name, falling back to the ID
func (n PeerNode) Label() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return string(n.ID)
}

// NodeSet is a set of peers keyed by identity. The zero value is not usable;
// create one with NewNodeSet.
type NodeSet map[NodeID]PeerNode

// NewNodeSet creates a set holding the given nodes
func NewNodeSet(nodes ...PeerNode) NodeSet {
	set := make(NodeSet, len(nodes))
	for _, n := range nodes {
		set.Add(n)
	}
	return set
}

// Add inserts a node. A node already present (same ID) is kept as is.
func (s NodeSet) Add(n PeerNode) {
	if _, ok := s[n.ID]; ok {
		return
	}
	s[n.ID] = n
}

// Union adds every node of other into s
func (s NodeSet) Union(other NodeSet) {
	for _, n := range other {
		s.Add(n)
	}
}

// Contains reports whether a node with the given ID is present
func (s NodeSet) Contains(id NodeID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of nodes
func (s NodeSet) Len() int {
	return len(s)
}

// Sorted returns the nodes ordered by ID. Sets have no intrinsic order;
// this exists for stable rendering and tests.
func (s NodeSet) Sorted() []PeerNode {
	nodes := make([]PeerNode, 0, len(s))
	for _, n := range s {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// DisplayNames returns the sorted display labels of all nodes
func (s NodeSet) DisplayNames() []string {
	names := make([]string, 0, len(s))
	for _, n := range s {
		names = append(names, n.Label())
	}
	sort.Strings(names)
	return names
}

// String renders the set as "{a, b}"
func (s NodeSet) String() string {
	return "{" + strings.Join(s.DisplayNames(), ", ") + "}"
}

package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Path identifies the logical kind of a record. It is an opaque string used
// for classification only.
type Path string

// DataMap is the key-value payload carried by a record
type DataMap map[string]any

// Asset returns the asset handle stored under key. Handles may be stored as
// AssetHandle values or, after a round trip through a codec, as
// {"digest": "..."} maps or bare digest strings.
//
// Any non-empty digest is returned, well-formed or not; whether it names a
// stored asset is for the resolver to decide.
func (m DataMap) Asset(key string) (AssetHandle, bool) {
	var digest string
	switch v := m[key].(type) {
	case AssetHandle:
		digest = v.Digest
	case *AssetHandle:
		if v != nil {
			digest = v.Digest
		}
	case string:
		digest = v
	case map[string]any:
		digest, _ = v["digest"].(string)
	case map[any]any:
		digest, _ = v["digest"].(string)
	}
	if digest == "" {
		return AssetHandle{}, false
	}
	return AssetHandle{Digest: digest}, true
}

// Text returns the string stored under key
func (m DataMap) Text(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Int returns the integer stored under key, accepting any integer width
func (m DataMap) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Describe renders the map with keys in sorted order
func (m DataMap) Describe() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Record is a structured item exchanged between peers
type Record struct {
	Path      Path      `json:"path" cbor:"path"`
	Payload   DataMap   `json:"payload,omitempty" cbor:"payload,omitempty"`
	Source    NodeID    `json:"source,omitempty" cbor:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}

// Describe renders the record the way it appears in the data log
func (r Record) Describe() string {
	s := fmt.Sprintf("DataItem{path=%s, payload=%s", r.Path, r.Payload.Describe())
	if r.Source != "" {
		s += fmt.Sprintf(", source=%s", r.Source)
	}
	return s + "}"
}

// Message is a point-to-point message from a peer
type Message struct {
	ID     string `json:"id" cbor:"id"`
	Path   Path   `json:"path" cbor:"path"`
	Data   []byte `json:"data,omitempty" cbor:"data,omitempty"`
	Source NodeID `json:"source,omitempty" cbor:"source,omitempty"`
}

// Describe renders the message the way it appears in the data log
func (m Message) Describe() string {
	return fmt.Sprintf("MessageEvent{id=%s, path=%s, source=%s, size=%d, data=%q}",
		m.ID, m.Path, m.Source, len(m.Data), truncate(string(m.Data), 64))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

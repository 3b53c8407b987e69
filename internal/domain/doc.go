// Package domain defines the core types exchanged between a device and its
// paired peers over the peer-sync transport.
//
// # Events
//
// InboundEvent is the tagged variant pushed by the transport. RecordChanged
// and RecordDeleted carry a Record (a Path plus a DataMap payload),
// MessageReceived carries a Message, and CapabilityChanged carries a complete
// CapabilitySnapshot. Events are immutable once constructed.
//
// # Assets
//
// AssetHandle is a content address (blake2b-256) for a binary blob held by the
// transport. A handle has no size or content of its own; resolving it needs a
// round trip.
//
// # Peers and Capabilities
//
// PeerNode identifies a peer by stable ID. NodeSet gives set semantics keyed by
// that ID. CapabilityInfo maps one CapabilityName to the peers advertising it,
// and CapabilitySnapshot maps every known capability at one instant.
//
// # Design Principles
//
// - Immutable value objects
// - No transport, storage or presentation dependencies
// - All entities are scoped to the active session and never persisted here
package domain

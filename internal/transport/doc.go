// Package transport holds the pieces shared by the peer-sync transport
// implementations: ordered per-subscription delivery and the subscription
// registry.
//
// The memory subpackage attaches in-process to a relay broker and is used by
// tests and single-process demos. The remote subpackage speaks the CBOR frame
// protocol to a relay over a websocket.
package transport

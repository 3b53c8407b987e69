package relay

import "errors"

var (
	// ErrPeerNotConnected is returned when a message targets a peer that has
	// no live connection
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrUnknownStream is returned for subscriptions to a stream the relay
	// does not serve
	ErrUnknownStream = errors.New("unknown stream")

	// ErrInvalidScope is returned for capability subscriptions whose URI is
	// not a wear:// URI
	ErrInvalidScope = errors.New("invalid capability scope")

	// ErrEmptyPath is returned for records and messages without a path
	ErrEmptyPath = errors.New("path is required")
)

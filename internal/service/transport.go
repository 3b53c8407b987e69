package service

import (
	"context"
	"image"
	"io"

	"datalayer/internal/domain"
)

// EventHandler receives inbound events on the transport's delivery goroutine.
// Implementations must not block it.
type EventHandler func(domain.InboundEvent)

// Subscription is a live registration on one inbound stream
type Subscription interface {
	// Unsubscribe stops delivery. No event is delivered after it returns.
	Unsubscribe() error
}

// EventSource is the subscribable side of the peer-sync transport. Each stream
// delivers events in emission order; the three streams are independent.
type EventSource interface {
	SubscribeRecords(handler EventHandler) (Subscription, error)
	SubscribeMessages(handler EventHandler) (Subscription, error)
	SubscribeCapabilities(handler EventHandler, scope domain.CapabilityScope) (Subscription, error)
}

// CapabilitySource fetches the full capability map
type CapabilitySource interface {
	// CapabilitySnapshot returns every capability and the peers advertising
	// it, restricted by filter. Unreachable peers are excluded by the
	// transport when filter is FilterReachable.
	CapabilitySnapshot(ctx context.Context, filter domain.NodeFilter) (domain.CapabilitySnapshot, error)
}

// AssetOpener opens a readable byte stream for an asset handle
type AssetOpener interface {
	// OpenAsset returns the blob for handle. A nil reader with a nil error,
	// or an error wrapping ErrAssetNotFound, means the handle is unknown.
	OpenAsset(ctx context.Context, handle domain.AssetHandle) (io.ReadCloser, error)
}

// Transport is everything the coordinator consumes from the peer-sync service
type Transport interface {
	EventSource
	CapabilitySource
	AssetOpener
}

// Presenter is the presentation collaborator. Calls arrive from arbitrary
// goroutines and must return quickly.
type Presenter interface {
	AppendLogEntry(kind, detail string)
	SetDisplayedImage(img image.Image)
	SwitchToPage(index int)
	ShowToast(message string)
}

// Publisher is the write side of the peer-sync transport, used by the
// handheld role
type Publisher interface {
	PutRecord(ctx context.Context, path domain.Path, payload domain.DataMap) error
	DeleteRecord(ctx context.Context, path domain.Path) error
	SendMessage(ctx context.Context, path domain.Path, data []byte, target domain.NodeID) error
	PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error)
}

package main

import (
	"context"
	"io"
	"sync"

	"datalayer/internal/domain"
	"datalayer/internal/service"
)

// peerTransport is what a link can sit on: the remote client or the
// in-process memory transport
type peerTransport interface {
	service.Transport
	service.Publisher
	Close() error
}

// link is a stable Transport over a connection that is replaced on
// reconnect. With no connection every call fails as unreachable.
type link struct {
	mu      sync.RWMutex
	current peerTransport
}

var (
	_ service.Transport = (*link)(nil)
	_ service.Publisher = (*link)(nil)
)

func (l *link) set(t peerTransport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = t
}

func (l *link) get(op string) (peerTransport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return nil, service.Unreachable(op, errNotConnected)
	}
	return l.current, nil
}

func (l *link) SubscribeRecords(h service.EventHandler) (service.Subscription, error) {
	t, err := l.get("subscribe records")
	if err != nil {
		return nil, err
	}
	return t.SubscribeRecords(h)
}

func (l *link) SubscribeMessages(h service.EventHandler) (service.Subscription, error) {
	t, err := l.get("subscribe messages")
	if err != nil {
		return nil, err
	}
	return t.SubscribeMessages(h)
}

func (l *link) SubscribeCapabilities(h service.EventHandler, scope domain.CapabilityScope) (service.Subscription, error) {
	t, err := l.get("subscribe capabilities")
	if err != nil {
		return nil, err
	}
	return t.SubscribeCapabilities(h, scope)
}

func (l *link) CapabilitySnapshot(ctx context.Context, filter domain.NodeFilter) (domain.CapabilitySnapshot, error) {
	t, err := l.get("capability snapshot")
	if err != nil {
		return nil, err
	}
	return t.CapabilitySnapshot(ctx, filter)
}

func (l *link) OpenAsset(ctx context.Context, handle domain.AssetHandle) (io.ReadCloser, error) {
	t, err := l.get("open asset")
	if err != nil {
		return nil, err
	}
	return t.OpenAsset(ctx, handle)
}

func (l *link) PutRecord(ctx context.Context, path domain.Path, payload domain.DataMap) error {
	t, err := l.get("put record")
	if err != nil {
		return err
	}
	return t.PutRecord(ctx, path, payload)
}

func (l *link) DeleteRecord(ctx context.Context, path domain.Path) error {
	t, err := l.get("delete record")
	if err != nil {
		return err
	}
	return t.DeleteRecord(ctx, path)
}

func (l *link) SendMessage(ctx context.Context, path domain.Path, data []byte, target domain.NodeID) error {
	t, err := l.get("send message")
	if err != nil {
		return err
	}
	return t.SendMessage(ctx, path, data, target)
}

func (l *link) PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error) {
	t, err := l.get("put asset")
	if err != nil {
		return domain.AssetHandle{}, err
	}
	return t.PutAsset(ctx, data)
}

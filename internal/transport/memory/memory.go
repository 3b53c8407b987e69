// Package memory implements the peer-sync transport in process, attached
// directly to a relay broker.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"datalayer/internal/domain"
	"datalayer/internal/relay"
	"datalayer/internal/repository"
	"datalayer/internal/service"
	"datalayer/internal/transport"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("transport closed")

var (
	_ service.Transport = (*Transport)(nil)
	_ service.Publisher = (*Transport)(nil)
)

// Transport is one peer attached to an in-process broker
type Transport struct {
	broker   *relay.Broker
	self     domain.NodeID
	registry *transport.Registry

	mu     sync.Mutex
	scope  domain.CapabilityScope
	closed bool
}

// Connect attaches peer to broker
func Connect(ctx context.Context, broker *relay.Broker, peer repository.Peer) (*Transport, error) {
	t := &Transport{
		broker:   broker,
		self:     peer.ID,
		registry: transport.NewRegistry(),
		scope:    domain.DefaultCapabilityScope(),
	}
	t.registry.OnFirst = t.subscribeStream
	t.registry.OnLast = t.unsubscribeStream

	if err := broker.Attach(ctx, peer, t); err != nil {
		return nil, service.Unreachable("attach", err)
	}
	return t, nil
}

// Deliver implements relay.Sink
func (t *Transport) Deliver(stream domain.Stream, event domain.InboundEvent) {
	t.registry.Dispatch(stream, event)
}

// Close detaches from the broker and stops all subscriptions
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.broker.Detach(t.self, t)
	t.registry.Close()
	return nil
}

func (t *Transport) check(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return service.Unreachable(op, ErrClosed)
	}
	return nil
}

func (t *Transport) subscribeStream(stream domain.Stream) error {
	t.mu.Lock()
	scope := t.scope
	t.mu.Unlock()
	if err := t.broker.Subscribe(t.self, stream, scope); err != nil {
		return service.Unreachable(fmt.Sprintf("subscribe %s", stream), err)
	}
	return nil
}

func (t *Transport) unsubscribeStream(stream domain.Stream) error {
	return t.broker.Unsubscribe(t.self, stream)
}

func (t *Transport) subscribe(stream domain.Stream, h service.EventHandler) (service.Subscription, error) {
	if err := t.check("subscribe " + string(stream)); err != nil {
		return nil, err
	}
	sub, err := t.registry.Add(stream, h)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribeRecords implements service.EventSource
func (t *Transport) SubscribeRecords(h service.EventHandler) (service.Subscription, error) {
	return t.subscribe(domain.StreamRecords, h)
}

// SubscribeMessages implements service.EventSource
func (t *Transport) SubscribeMessages(h service.EventHandler) (service.Subscription, error) {
	return t.subscribe(domain.StreamMessages, h)
}

// SubscribeCapabilities implements service.EventSource
func (t *Transport) SubscribeCapabilities(h service.EventHandler, scope domain.CapabilityScope) (service.Subscription, error) {
	t.mu.Lock()
	t.scope = scope
	t.mu.Unlock()
	return t.subscribe(domain.StreamCapabilities, h)
}

// CapabilitySnapshot implements service.CapabilitySource
func (t *Transport) CapabilitySnapshot(ctx context.Context, filter domain.NodeFilter) (domain.CapabilitySnapshot, error) {
	if err := t.check("capability snapshot"); err != nil {
		return nil, err
	}
	return t.broker.Snapshot(filter), nil
}

// OpenAsset implements service.AssetOpener
func (t *Transport) OpenAsset(ctx context.Context, handle domain.AssetHandle) (io.ReadCloser, error) {
	if err := t.check("open asset"); err != nil {
		return nil, err
	}
	data, err := t.broker.Asset(ctx, handle)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", service.ErrAssetNotFound, handle.Short())
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PutRecord implements service.Publisher
func (t *Transport) PutRecord(ctx context.Context, path domain.Path, payload domain.DataMap) error {
	if err := t.check("put record"); err != nil {
		return err
	}
	_, err := t.broker.PutRecord(ctx, t.self, domain.Record{Path: path, Payload: payload})
	return err
}

// DeleteRecord implements service.Publisher
func (t *Transport) DeleteRecord(ctx context.Context, path domain.Path) error {
	if err := t.check("delete record"); err != nil {
		return err
	}
	return t.broker.DeleteRecord(ctx, t.self, path)
}

// SendMessage implements service.Publisher
func (t *Transport) SendMessage(ctx context.Context, path domain.Path, data []byte, target domain.NodeID) error {
	if err := t.check("send message"); err != nil {
		return err
	}
	_, err := t.broker.SendMessage(ctx, t.self, domain.Message{Path: path, Data: data}, target)
	return err
}

// PutAsset implements service.Publisher
func (t *Transport) PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error) {
	if err := t.check("put asset"); err != nil {
		return domain.AssetHandle{}, err
	}
	return t.broker.PutAsset(ctx, data)
}

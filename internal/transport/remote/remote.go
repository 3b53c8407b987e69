// Package remote implements the peer-sync transport over a websocket
// connection to a relay, speaking CBOR frames.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/service"
	"datalayer/internal/transport"
)

var (
	// ErrClosed is returned once the connection is gone
	ErrClosed = errors.New("relay connection closed")
	// ErrRejected wraps an error frame sent back by the relay
	ErrRejected = errors.New("relay rejected request")
)

var (
	_ service.Transport = (*Client)(nil)
	_ service.Publisher = (*Client)(nil)
)

const (
	defaultRequestTimeout = 10 * time.Second
	writeWait             = 10 * time.Second
	maxFrameSize          = 64 << 20
)

// Options identify this node to the relay
type Options struct {
	URL            string
	Node           domain.NodeID
	Name           string
	Capabilities   []domain.CapabilityName
	RequestTimeout time.Duration
}

// ConnectURL builds the websocket URL carrying the node identity
func (o Options) ConnectURL() (string, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url %q: unsupported scheme %q", o.URL, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("node", string(o.Node))
	if o.Name != "" {
		q.Set("name", o.Name)
	}
	if len(o.Capabilities) > 0 {
		names := make([]string, len(o.Capabilities))
		for i, c := range o.Capabilities {
			names[i] = string(c)
		}
		q.Set("cap", strings.Join(names, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a websocket connection to a relay
type Client struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	timeout  time.Duration
	registry *transport.Registry

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *codec.Frame
	scope   domain.CapabilityScope
	err     error
	done    chan struct{}
}

// Dial connects to the relay described by opts
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Node == "" {
		return nil, errors.New("node id is required")
	}
	target, err := opts.ConnectURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, service.Unreachable("dial relay", err)
	}
	conn.SetReadLimit(maxFrameSize)

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	c := &Client{
		conn:     conn,
		logger:   logger.With("component", "relay-client", "node", opts.Node),
		timeout:  timeout,
		registry: transport.NewRegistry(),
		pending:  make(map[string]chan *codec.Frame),
		scope:    domain.DefaultCapabilityScope(),
		done:     make(chan struct{}),
	}
	c.registry.OnFirst = c.subscribeStream
	c.registry.OnLast = c.unsubscribeStream

	go c.readLoop()
	c.logger.Info("connected to relay", "url", opts.URL)
	return c, nil
}

// Done is closed when the connection is lost or closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is up
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection and stops all subscriptions
func (c *Client) Close() error {
	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	err := c.conn.Close()
	c.fail(ErrClosed)
	c.registry.Close()
	return err
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay connection lost", "error", err)
			}
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		f, err := codec.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if f.IsReply() {
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			} else {
				c.logger.Debug("reply for unknown request", "id", f.ID, "type", f.Type)
			}
			continue
		}
		if f.Type == codec.FrameError {
			c.logger.Warn("relay error", "error", f.Error)
			continue
		}

		stream, event, err := codec.FrameEvent(f)
		if err != nil {
			c.logger.Warn("dropping unexpected frame", "error", err)
			continue
		}
		c.registry.Dispatch(stream, event)
	}
}

// request sends f and waits for the matching reply
func (c *Client) request(ctx context.Context, f *codec.Frame) (*codec.Frame, error) {
	op := string(f.Type)
	f.ID = uuid.NewString()
	data, err := codec.EncodeFrame(f)
	if err != nil {
		return nil, err
	}

	ch := make(chan *codec.Frame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, service.Unreachable(op, err)
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteMessage(websocket.BinaryMessage, data)
	c.wmu.Unlock()
	if err != nil {
		c.forget(f.ID)
		return nil, service.Unreachable(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, service.Unreachable(op, c.Err())
		}
		if reply.Type == codec.FrameError {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrRejected, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(f.ID)
		return nil, service.Unreachable(op, ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) subscribeStream(stream domain.Stream) error {
	c.mu.Lock()
	scope := c.scope
	c.mu.Unlock()

	f := &codec.Frame{Type: codec.FrameSubscribe, Stream: stream}
	if stream == domain.StreamCapabilities {
		f.Filter = scope.Filter
		f.Scope = scope.URI
	}
	_, err := c.request(context.Background(), f)
	return err
}

func (c *Client) unsubscribeStream(stream domain.Stream) error {
	_, err := c.request(context.Background(), &codec.Frame{Type: codec.FrameUnsubscribe, Stream: stream})
	return err
}

func (c *Client) subscribe(stream domain.Stream, h service.EventHandler) (service.Subscription, error) {
	if err := c.Err(); err != nil {
		return nil, service.Unreachable("subscribe "+string(stream), err)
	}
	sub, err := c.registry.Add(stream, h)
	if err != nil {
		if !errors.Is(err, service.ErrTransportUnreachable) {
			err = service.Unreachable("subscribe "+string(stream), err)
		}
		return nil, err
	}
	return sub, nil
}

// SubscribeRecords implements service.EventSource
func (c *Client) SubscribeRecords(h service.EventHandler) (service.Subscription, error) {
	return c.subscribe(domain.StreamRecords, h)
}

// SubscribeMessages implements service.EventSource
func (c *Client) SubscribeMessages(h service.EventHandler) (service.Subscription, error) {
	return c.subscribe(domain.StreamMessages, h)
}

// SubscribeCapabilities implements service.EventSource
func (c *Client) SubscribeCapabilities(h service.EventHandler, scope domain.CapabilityScope) (service.Subscription, error) {
	c.mu.Lock()
	c.scope = scope
	c.mu.Unlock()
	return c.subscribe(domain.StreamCapabilities, h)
}

// CapabilitySnapshot implements service.CapabilitySource
func (c *Client) CapabilitySnapshot(ctx context.Context, filter domain.NodeFilter) (domain.CapabilitySnapshot, error) {
	reply, err := c.request(ctx, &codec.Frame{Type: codec.FrameGetCapabilities, Filter: filter})
	if err != nil {
		return nil, err
	}
	if reply.Snapshot == nil {
		return domain.NewCapabilitySnapshot(), nil
	}
	return reply.Snapshot, nil
}

// OpenAsset implements service.AssetOpener
func (c *Client) OpenAsset(ctx context.Context, handle domain.AssetHandle) (io.ReadCloser, error) {
	reply, err := c.request(ctx, &codec.Frame{Type: codec.FrameGetAsset, Handle: handle.Digest})
	if err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, fmt.Errorf("%w: %s", service.ErrAssetNotFound, handle.Short())
	}
	return io.NopCloser(bytes.NewReader(reply.Data)), nil
}

// PutRecord implements service.Publisher
func (c *Client) PutRecord(ctx context.Context, path domain.Path, payload domain.DataMap) error {
	_, err := c.request(ctx, &codec.Frame{
		Type:   codec.FramePutRecord,
		Record: &domain.Record{Path: path, Payload: payload},
	})
	return err
}

// DeleteRecord implements service.Publisher
func (c *Client) DeleteRecord(ctx context.Context, path domain.Path) error {
	_, err := c.request(ctx, &codec.Frame{
		Type:   codec.FrameDeleteRecord,
		Record: &domain.Record{Path: path},
	})
	return err
}

// SendMessage implements service.Publisher
func (c *Client) SendMessage(ctx context.Context, path domain.Path, data []byte, target domain.NodeID) error {
	_, err := c.request(ctx, &codec.Frame{
		Type:    codec.FrameSendMessage,
		Message: &domain.Message{Path: path, Data: data},
		Target:  target,
	})
	return err
}

// PutAsset implements service.Publisher
func (c *Client) PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error) {
	reply, err := c.request(ctx, &codec.Frame{Type: codec.FramePutAsset, Data: data})
	if err != nil {
		return domain.AssetHandle{}, err
	}
	return domain.ParseAssetHandle(reply.Handle)
}

package hub

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/relay"
	"datalayer/internal/repository"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 20
	sendQueueDepth = 256
)

// upgrader allows any origin; peers are devices, not browsers
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PeerServer accepts websocket connections from peers and attaches each one
// to the broker for the lifetime of the connection
type PeerServer struct {
	broker *relay.Broker
	logger *slog.Logger
}

// NewPeerServer creates a websocket endpoint for broker
func NewPeerServer(broker *relay.Broker, logger *slog.Logger) *PeerServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerServer{broker: broker, logger: logger.With("component", "peers")}
}

// PeerFromQuery reads the peer identity from the connect URL:
// ?node=<id>&name=<display name>&cap=<capability>&cap=...
func PeerFromQuery(r *http.Request) (repository.Peer, bool) {
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("node"))
	if id == "" {
		return repository.Peer{}, false
	}
	peer := repository.Peer{
		ID:          domain.NodeID(id),
		DisplayName: q.Get("name"),
	}
	for _, c := range q["cap"] {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				peer.Capabilities = append(peer.Capabilities, domain.CapabilityName(name))
			}
		}
	}
	return peer, true
}

// ServeHTTP upgrades the request and serves frames until the peer goes away
func (s *PeerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peer, ok := PeerFromQuery(r)
	if !ok {
		http.Error(w, "node query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "peer", peer.ID, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	pc := &peerConn{
		id:     peer.ID,
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		closed: make(chan struct{}),
		logger: s.logger.With("peer", peer.ID),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.broker.Attach(ctx, peer, pc); err != nil {
		s.logger.Warn("attach failed", "peer", peer.ID, "error", err)
		conn.Close()
		return
	}
	defer s.broker.Detach(peer.ID, pc)

	go pc.writePump()
	pc.readLoop(ctx, s.broker)
}

// peerConn is one websocket peer. Writes go through send so the connection
// has a single writer.
type peerConn struct {
	id     domain.NodeID
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Deliver implements relay.Sink. A peer that cannot keep up is disconnected
// rather than silently missing events.
func (c *peerConn) Deliver(stream domain.Stream, event domain.InboundEvent) {
	f, err := codec.EventFrame(event)
	if err != nil {
		c.logger.Error("cannot frame event", "stream", stream, "error", err)
		return
	}
	data, err := codec.EncodeFrame(f)
	if err != nil {
		c.logger.Error("cannot encode event", "stream", stream, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		c.logger.Warn("send queue full, disconnecting peer")
		c.close()
	}
}

func (c *peerConn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *peerConn) reply(f *codec.Frame) bool {
	data, err := codec.EncodeFrame(f)
	if err != nil {
		c.logger.Error("cannot encode reply", "type", f.Type, "error", err)
		data, _ = codec.EncodeFrame(codec.ErrorFrame(f.ID, err))
	}
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	}
}

func (c *peerConn) readLoop(ctx context.Context, broker *relay.Broker) {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			c.reply(&codec.Frame{Type: codec.FrameError, Error: "frames must be binary CBOR"})
			continue
		}

		f, err := codec.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			if !c.reply(codec.ErrorFrame(requestID(data), err)) {
				return
			}
			continue
		}
		if !c.reply(broker.HandleFrame(ctx, c.id, f)) {
			return
		}
	}
}

func (c *peerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// requestID recovers the ID of a frame that failed validation so the error
// reply still reaches the waiting request
func requestID(data []byte) string {
	var partial struct {
		ID string `cbor:"id"`
	}
	if err := codec.Unmarshal(data, &partial); err != nil {
		return ""
	}
	return partial.ID
}

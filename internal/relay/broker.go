package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"datalayer/internal/domain"
	"datalayer/internal/repository"
)

// Sink receives pushed events for one attached peer. Deliver is called with
// the broker lock held and must not block.
type Sink interface {
	Deliver(stream domain.Stream, event domain.InboundEvent)
}

// Activity is an observable relay change, mirrored to HTTP observers
type Activity struct {
	Type   string `json:"type"`
	Peer   string `json:"peer,omitempty"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ActivityFunc receives relay activity. It must not block.
type ActivityFunc func(Activity)

type peerState struct {
	peer  repository.Peer
	sink  Sink
	subs  map[domain.Stream]domain.CapabilityScope
	up    bool
	since time.Time
}

func (p *peerState) connected() bool {
	return p.sink != nil
}

// Broker is the shared state of the relay: the record space, the asset store
// and the set of peers with their subscriptions. Websocket clients and
// in-process endpoints attach to it the same way.
type Broker struct {
	repo     repository.Repository
	logger   *slog.Logger
	activity ActivityFunc

	mu    sync.Mutex
	peers map[domain.NodeID]*peerState
}

// NewBroker creates a broker persisting to repo
func NewBroker(repo repository.Repository, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		repo:   repo,
		logger: logger.With("component", "broker"),
		peers:  make(map[domain.NodeID]*peerState),
	}
}

// OnActivity registers the activity observer
func (b *Broker) OnActivity(fn ActivityFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity = fn
}

// Load restores the known peers from the repository. Restored peers are
// disconnected and, unless static and reported up later, unreachable.
func (b *Broker) Load(ctx context.Context) error {
	peers, err := b.repo.ListPeers(ctx)
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range peers {
		if _, ok := b.peers[p.ID]; ok {
			continue
		}
		b.peers[p.ID] = &peerState{peer: p, subs: make(map[domain.Stream]domain.CapabilityScope)}
	}
	b.logger.Info("restored peers", "count", len(peers))
	return nil
}

// ============================================================================
// Peers
// ============================================================================

// Attach registers a connected peer. A previous connection with the same ID
// is replaced and loses its subscriptions.
func (b *Broker) Attach(ctx context.Context, peer repository.Peer, sink Sink) error {
	if peer.ID == "" {
		return errors.New("peer id is required")
	}
	if peer.DisplayName == "" {
		peer.DisplayName = string(peer.ID)
	}
	peer.LastSeen = time.Now()

	b.mu.Lock()
	state, ok := b.peers[peer.ID]
	if ok {
		peer.Static = peer.Static || state.peer.Static
		if peer.Address == "" {
			peer.Address = state.peer.Address
		}
	} else {
		state = &peerState{}
		b.peers[peer.ID] = state
	}
	replaced := state.sink != nil
	state.peer = peer
	state.sink = sink
	state.subs = make(map[domain.Stream]domain.CapabilityScope)
	state.since = peer.LastSeen
	b.broadcastCapabilitiesLocked()
	b.emitLocked(Activity{Type: "peer_connected", Peer: string(peer.ID), Detail: peer.DisplayName})
	b.mu.Unlock()

	if replaced {
		b.logger.Warn("peer reconnected, replacing previous connection", "peer", peer.ID)
	}
	b.logger.Info("peer attached", "peer", peer.ID, "name", peer.DisplayName, "capabilities", peer.Capabilities)

	if err := b.repo.UpsertPeer(ctx, &peer); err != nil {
		b.logger.Error("failed to persist peer", "peer", peer.ID, "error", err)
	}
	return nil
}

// Detach removes the connection of a peer if sink is still the current one
func (b *Broker) Detach(id domain.NodeID, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.peers[id]
	if !ok || state.sink != sink {
		return
	}
	state.sink = nil
	state.subs = make(map[domain.Stream]domain.CapabilityScope)
	b.logger.Info("peer detached", "peer", id, "connected_for", time.Since(state.since).Round(time.Second))
	b.broadcastCapabilitiesLocked()
	b.emitLocked(Activity{Type: "peer_disconnected", Peer: string(id)})
}

// AddStaticPeers registers paired peers that are reached by address rather
// than by connection. Their reachability comes from SetReachable.
func (b *Broker) AddStaticPeers(ctx context.Context, peers []repository.Peer) error {
	b.mu.Lock()
	for _, p := range peers {
		p.Static = true
		if p.DisplayName == "" {
			p.DisplayName = string(p.ID)
		}
		state, ok := b.peers[p.ID]
		if !ok {
			state = &peerState{subs: make(map[domain.Stream]domain.CapabilityScope)}
			b.peers[p.ID] = state
		}
		if state.connected() {
			state.peer.Static = true
			state.peer.Address = p.Address
			continue
		}
		state.peer = p
	}
	b.broadcastCapabilitiesLocked()
	b.mu.Unlock()

	var errs []error
	for i := range peers {
		p := peers[i]
		p.Static = true
		if err := b.repo.UpsertPeer(ctx, &p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StaticPeers returns the paired peers with an address, for probing
func (b *Broker) StaticPeers() []repository.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []repository.Peer
	for _, state := range b.peers {
		if state.peer.Static && state.peer.Address != "" {
			out = append(out, state.peer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetReachable records a probe result for a static peer. Capability
// subscribers get a new snapshot when the result changes.
func (b *Broker) SetReachable(id domain.NodeID, up bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.peers[id]
	if !ok || state.up == up {
		return
	}
	state.up = up
	b.logger.Info("peer reachability changed", "peer", id, "up", up)
	b.broadcastCapabilitiesLocked()
	b.emitLocked(Activity{Type: "peer_reachability", Peer: string(id), Detail: fmt.Sprintf("up=%t", up)})
}

// Subscribe starts delivery of stream to a connected peer
func (b *Broker) Subscribe(id domain.NodeID, stream domain.Stream, scope domain.CapabilityScope) error {
	switch stream {
	case domain.StreamRecords, domain.StreamMessages, domain.StreamCapabilities:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.peers[id]
	if !ok || !state.connected() {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, id)
	}
	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope.URI)
	}
	if scope.Filter == "" {
		scope.Filter = domain.FilterReachable
	}
	state.subs[stream] = scope
	b.logger.Debug("subscribed", "peer", id, "stream", stream)
	return nil
}

// Unsubscribe stops delivery of stream. Unsubscribing twice is not an error.
func (b *Broker) Unsubscribe(id domain.NodeID, stream domain.Stream) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.peers[id]; ok {
		delete(state.subs, stream)
	}
	return nil
}

// Snapshot returns the capability map. FilterReachable includes connected
// peers and static peers currently up; FilterAll includes every known peer.
func (b *Broker) Snapshot(filter domain.NodeFilter) domain.CapabilitySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(domain.CapabilityScope{Filter: filter})
}

// snapshotLocked builds the capability map covered by scope
func (b *Broker) snapshotLocked(scope domain.CapabilityScope) domain.CapabilitySnapshot {
	var infos []domain.CapabilityInfo
	for _, state := range b.peers {
		reachable := state.connected() || state.up
		if scope.Filter != domain.FilterAll && !reachable {
			continue
		}
		node := state.peer.Node()
		node.Nearby = !state.connected() && state.up
		for _, name := range state.peer.Capabilities {
			if !scope.Matches(name, node.ID) {
				continue
			}
			infos = append(infos, domain.NewCapabilityInfo(name, node))
		}
	}
	return domain.NewCapabilitySnapshot(infos...)
}

// ConnectedPeers returns the peers with a live connection
func (b *Broker) ConnectedPeers() []repository.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []repository.Peer
	for _, state := range b.peers {
		if state.connected() {
			out = append(out, state.peer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Records, messages and assets
// ============================================================================

// PutRecord stores rec as the latest value of its path and pushes it to every
// record subscriber except origin
func (b *Broker) PutRecord(ctx context.Context, origin domain.NodeID, rec domain.Record) (domain.Record, error) {
	if rec.Path == "" {
		return domain.Record{}, ErrEmptyPath
	}
	if rec.Payload == nil {
		rec.Payload = domain.DataMap{}
	}
	rec.Source = origin
	rec.UpdatedAt = time.Now().UTC()

	// Held across the store write so fan-out order matches write order
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.repo.PutRecord(ctx, rec); err != nil {
		return domain.Record{}, err
	}
	b.fanoutLocked(domain.StreamRecords, origin, "", domain.RecordChanged{Record: rec})
	b.emitLocked(Activity{Type: "record_changed", Peer: string(origin), Path: string(rec.Path), Detail: rec.Payload.Describe()})
	return rec, nil
}

// DeleteRecord removes a path and pushes the deletion to record subscribers
// except origin
func (b *Broker) DeleteRecord(ctx context.Context, origin domain.NodeID, path domain.Path) error {
	if path == "" {
		return ErrEmptyPath
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.repo.DeleteRecord(ctx, path)
	if err != nil {
		return err
	}
	rec.Source = origin
	rec.UpdatedAt = time.Now().UTC()
	b.fanoutLocked(domain.StreamRecords, origin, "", domain.RecordDeleted{Record: *rec})
	b.emitLocked(Activity{Type: "record_deleted", Peer: string(origin), Path: string(path)})
	return nil
}

// Records returns the current record space
func (b *Broker) Records(ctx context.Context) ([]domain.Record, error) {
	return b.repo.ListRecords(ctx)
}

// SendMessage delivers msg to target, or to every message subscriber except
// origin when target is empty. Messages are not stored.
func (b *Broker) SendMessage(ctx context.Context, origin domain.NodeID, msg domain.Message, target domain.NodeID) (domain.Message, error) {
	if msg.Path == "" {
		return domain.Message{}, ErrEmptyPath
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Source = origin

	b.mu.Lock()
	defer b.mu.Unlock()

	if target != "" {
		state, ok := b.peers[target]
		if !ok || !state.connected() {
			return domain.Message{}, fmt.Errorf("%w: %s", ErrPeerNotConnected, target)
		}
	}
	b.fanoutLocked(domain.StreamMessages, origin, target, domain.MessageReceived{Message: msg})
	b.emitLocked(Activity{Type: "message", Peer: string(origin), Path: string(msg.Path), Detail: fmt.Sprintf("%d bytes", len(msg.Data))})
	return msg, nil
}

// PutAsset stores a blob and returns its handle
func (b *Broker) PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error) {
	handle, err := b.repo.PutAsset(ctx, data)
	if err != nil {
		return domain.AssetHandle{}, err
	}
	b.mu.Lock()
	b.emitLocked(Activity{Type: "asset_stored", Detail: fmt.Sprintf("%s %d bytes", handle.Short(), len(data))})
	b.mu.Unlock()
	return handle, nil
}

// Asset returns the blob for handle; unknown handles yield an error wrapping
// repository.ErrNotFound
func (b *Broker) Asset(ctx context.Context, handle domain.AssetHandle) ([]byte, error) {
	return b.repo.GetAsset(ctx, handle)
}

// ============================================================================
// Fan-out
// ============================================================================

// fanoutLocked pushes event to subscribers of stream. origin never receives
// its own change; a non-empty target restricts delivery to that peer.
func (b *Broker) fanoutLocked(stream domain.Stream, origin, target domain.NodeID, event domain.InboundEvent) {
	for id, state := range b.peers {
		if !state.connected() || id == origin {
			continue
		}
		if target != "" && id != target {
			continue
		}
		if _, ok := state.subs[stream]; !ok {
			continue
		}
		state.sink.Deliver(stream, event)
	}
}

// broadcastCapabilitiesLocked pushes each capability subscriber the snapshot
// its scope covers. Subscribers sharing a scope share one snapshot.
func (b *Broker) broadcastCapabilitiesLocked() {
	snapshots := make(map[domain.CapabilityScope]domain.CapabilitySnapshot)
	for _, state := range b.peers {
		if !state.connected() {
			continue
		}
		scope, ok := state.subs[domain.StreamCapabilities]
		if !ok {
			continue
		}
		snapshot, ok := snapshots[scope]
		if !ok {
			snapshot = b.snapshotLocked(scope)
			snapshots[scope] = snapshot
		}
		state.sink.Deliver(domain.StreamCapabilities, domain.CapabilityChanged{Snapshot: snapshot})
	}
}

func (b *Broker) emitLocked(a Activity) {
	if b.activity != nil {
		b.activity(a)
	}
}

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/repository"
	"datalayer/internal/repository/sqlite"
)

type delivery struct {
	stream domain.Stream
	event  domain.InboundEvent
}

type recordingSink struct {
	mu     sync.Mutex
	events []delivery
}

func (s *recordingSink) Deliver(stream domain.Stream, event domain.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, delivery{stream, event})
}

func (s *recordingSink) received() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery, len(s.events))
	copy(out, s.events)
	return out
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewBroker(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func attach(t *testing.T, b *Broker, id string, caps ...domain.CapabilityName) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	err := b.Attach(context.Background(), repository.Peer{ID: domain.NodeID(id), DisplayName: id, Capabilities: caps}, sink)
	if err != nil {
		t.Fatalf("attach %s: %v", id, err)
	}
	return sink
}

func subscribeAll(t *testing.T, b *Broker, id string) {
	t.Helper()
	for _, stream := range domain.Streams {
		if err := b.Subscribe(domain.NodeID(id), stream, domain.DefaultCapabilityScope()); err != nil {
			t.Fatalf("subscribe %s to %s: %v", id, stream, err)
		}
	}
}

func TestBrokerRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("fan out skips origin and unsubscribed peers", func(t *testing.T) {
		b := newTestBroker(t)
		phone := attach(t, b, "phone")
		watch := attach(t, b, "watch")
		tv := attach(t, b, "tv")
		subscribeAll(t, b, "phone")
		subscribeAll(t, b, "watch")

		rec, err := b.PutRecord(ctx, "phone", domain.Record{Path: "/count", Payload: domain.DataMap{"count": 1}})
		if err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
		if rec.Source != "phone" {
			t.Errorf("expected source phone, got %s", rec.Source)
		}

		if n := len(phone.received()); n != 0 {
			t.Errorf("origin received %d events", n)
		}
		if n := len(tv.received()); n != 0 {
			t.Errorf("unsubscribed peer received %d events", n)
		}
		got := watch.received()
		if len(got) != 1 || got[0].stream != domain.StreamRecords {
			t.Fatalf("expected one record event, got %+v", got)
		}
		if _, ok := got[0].event.(domain.RecordChanged); !ok {
			t.Errorf("expected RecordChanged, got %T", got[0].event)
		}
	})

	t.Run("delete pushes deletion", func(t *testing.T) {
		b := newTestBroker(t)
		watch := attach(t, b, "watch")
		subscribeAll(t, b, "watch")

		if _, err := b.PutRecord(ctx, "phone", domain.Record{Path: "/count"}); err != nil {
			t.Fatalf("PutRecord: %v", err)
		}
		if err := b.DeleteRecord(ctx, "phone", "/count"); err != nil {
			t.Fatalf("DeleteRecord: %v", err)
		}
		got := watch.received()
		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
		if _, ok := got[1].event.(domain.RecordDeleted); !ok {
			t.Errorf("expected RecordDeleted, got %T", got[1].event)
		}

		if err := b.DeleteRecord(ctx, "phone", "/count"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("order is preserved", func(t *testing.T) {
		b := newTestBroker(t)
		watch := attach(t, b, "watch")
		subscribeAll(t, b, "watch")

		for i := 0; i < 20; i++ {
			if _, err := b.PutRecord(ctx, "phone", domain.Record{Path: "/count", Payload: domain.DataMap{"count": i}}); err != nil {
				t.Fatalf("PutRecord: %v", err)
			}
		}
		for i, d := range watch.received() {
			n, _ := d.event.(domain.RecordChanged).Record.Payload.Int("count")
			if n != int64(i) {
				t.Fatalf("event %d carries count %d", i, n)
			}
		}
	})

	t.Run("empty path rejected", func(t *testing.T) {
		b := newTestBroker(t)
		if _, err := b.PutRecord(ctx, "phone", domain.Record{}); !errors.Is(err, ErrEmptyPath) {
			t.Errorf("expected ErrEmptyPath, got %v", err)
		}
	})
}

func TestBrokerMessages(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	watch := attach(t, b, "watch")
	tablet := attach(t, b, "tablet")
	subscribeAll(t, b, "watch")
	subscribeAll(t, b, "tablet")

	t.Run("broadcast", func(t *testing.T) {
		msg, err := b.SendMessage(ctx, "phone", domain.Message{Path: "/hello", Data: []byte("hi")}, "")
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if msg.ID == "" {
			t.Error("expected generated message id")
		}
		if len(watch.received()) != 1 || len(tablet.received()) != 1 {
			t.Errorf("expected both peers to receive the message")
		}
	})

	t.Run("targeted", func(t *testing.T) {
		if _, err := b.SendMessage(ctx, "phone", domain.Message{Path: "/hello"}, "watch"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if len(watch.received()) != 2 || len(tablet.received()) != 1 {
			t.Errorf("expected only the target to receive the message")
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := b.SendMessage(ctx, "phone", domain.Message{Path: "/hello"}, "fridge")
		if !errors.Is(err, ErrPeerNotConnected) {
			t.Errorf("expected ErrPeerNotConnected, got %v", err)
		}
	})
}

func TestBrokerCapabilities(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot tracks connections", func(t *testing.T) {
		b := newTestBroker(t)
		watchSink := attach(t, b, "watch", "capability_1", "capability_2")
		attach(t, b, "tablet", "capability_2")

		snap := b.Snapshot(domain.FilterReachable)
		if snap["capability_2"].Nodes.Len() != 2 {
			t.Fatalf("expected 2 nodes for capability_2, got %s", snap)
		}
		if snap["capability_2"].Nodes["watch"].Nearby {
			t.Error("a connected peer is not nearby")
		}

		b.Detach("tablet", &recordingSink{})
		if b.Snapshot(domain.FilterReachable)["capability_2"].Nodes.Len() != 2 {
			t.Error("detach with a stale sink must be ignored")
		}

		b.Detach("watch", watchSink)
		snap = b.Snapshot(domain.FilterReachable)
		if _, ok := snap["capability_1"]; ok {
			t.Errorf("expected capability_1 to disappear, got %s", snap)
		}
		if snap["capability_2"].Nodes.Len() != 1 {
			t.Errorf("expected 1 node for capability_2, got %s", snap)
		}
		if b.Snapshot(domain.FilterAll)["capability_1"].Nodes.Len() != 1 {
			t.Error("expected disconnected peer under FilterAll")
		}
	})

	t.Run("static peers follow reachability", func(t *testing.T) {
		b := newTestBroker(t)
		observer := attach(t, b, "phone")
		subscribeAll(t, b, "phone")

		err := b.AddStaticPeers(ctx, []repository.Peer{{
			ID: "tv", DisplayName: "Living Room TV", Address: "10.0.0.9",
			Capabilities: []domain.CapabilityName{"capability_1"},
		}})
		if err != nil {
			t.Fatalf("AddStaticPeers: %v", err)
		}
		if _, ok := b.Snapshot(domain.FilterReachable)["capability_1"]; ok {
			t.Error("static peer must not be reachable before a probe")
		}

		before := len(observer.received())
		b.SetReachable("tv", true)
		b.SetReachable("tv", true)
		if got := len(observer.received()) - before; got != 1 {
			t.Errorf("expected one capability push, got %d", got)
		}

		nodes := b.Snapshot(domain.FilterReachable)["capability_1"].Nodes
		node, ok := nodes["tv"]
		if !ok || !node.Nearby {
			t.Errorf("expected nearby tv, got %s", nodes)
		}

		static := b.StaticPeers()
		if len(static) != 1 || static[0].Address != "10.0.0.9" {
			t.Errorf("unexpected static peers %+v", static)
		}
	})

	t.Run("attach pushes snapshot to subscribers", func(t *testing.T) {
		b := newTestBroker(t)
		phone := attach(t, b, "phone")
		subscribeAll(t, b, "phone")
		attach(t, b, "watch", "capability_2")

		got := phone.received()
		if len(got) != 1 {
			t.Fatalf("expected 1 push, got %d", len(got))
		}
		change, ok := got[0].event.(domain.CapabilityChanged)
		if !ok || !change.Snapshot["capability_2"].Nodes.Contains("watch") {
			t.Errorf("unexpected push %+v", got[0])
		}
	})

	t.Run("pushes follow the subscriber scope uri", func(t *testing.T) {
		b := newTestBroker(t)
		phone := attach(t, b, "phone")
		tablet := attach(t, b, "tablet")
		scoped := domain.CapabilityScope{URI: "wear://*/capability_2", Filter: domain.FilterReachable}
		if err := b.Subscribe("phone", domain.StreamCapabilities, scoped); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		if err := b.Subscribe("tablet", domain.StreamCapabilities, domain.CapabilityScope{URI: "wear://watch"}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		attach(t, b, "watch", "capability_1", "capability_2")
		attach(t, b, "tv", "capability_2")

		got := phone.received()
		if len(got) != 2 {
			t.Fatalf("expected 2 pushes, got %d", len(got))
		}
		change := got[1].event.(domain.CapabilityChanged)
		if _, ok := change.Snapshot["capability_1"]; ok {
			t.Errorf("capability_1 is outside the scope, got %s", change.Snapshot)
		}
		if n := change.Snapshot["capability_2"].Nodes.Len(); n != 2 {
			t.Errorf("expected watch and tv under capability_2, got %s", change.Snapshot)
		}

		got = tablet.received()
		change = got[len(got)-1].event.(domain.CapabilityChanged)
		if change.Snapshot["capability_2"].Nodes.Contains("tv") {
			t.Errorf("tv is outside the scope, got %s", change.Snapshot)
		}
		if !change.Snapshot["capability_1"].Nodes.Contains("watch") {
			t.Errorf("expected watch capabilities, got %s", change.Snapshot)
		}

		err := b.Subscribe("phone", domain.StreamCapabilities, domain.CapabilityScope{URI: "http://watch"})
		if !errors.Is(err, ErrInvalidScope) {
			t.Errorf("expected ErrInvalidScope, got %v", err)
		}
	})

	t.Run("load restores peers", func(t *testing.T) {
		repo, err := sqlite.New(":memory:")
		if err != nil {
			t.Fatalf("sqlite: %v", err)
		}
		defer repo.Close()
		err = repo.UpsertPeer(ctx, &repository.Peer{ID: "old", DisplayName: "Old", Capabilities: []domain.CapabilityName{"c"}})
		if err != nil {
			t.Fatalf("UpsertPeer: %v", err)
		}

		b := NewBroker(repo, nil)
		if err := b.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if b.Snapshot(domain.FilterAll)["c"].Nodes.Len() != 1 {
			t.Error("expected restored peer under FilterAll")
		}
		if len(b.Snapshot(domain.FilterReachable)) != 0 {
			t.Error("restored peer must not be reachable")
		}
	})
}

func TestHandleFrame(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	attach(t, b, "phone", "capability_1")

	t.Run("subscribe acks", func(t *testing.T) {
		reply := b.HandleFrame(ctx, "phone", &codec.Frame{Type: codec.FrameSubscribe, ID: "1", Stream: domain.StreamRecords})
		if reply.Type != codec.FrameAck || reply.ID != "1" {
			t.Errorf("unexpected reply %+v", reply)
		}
	})

	t.Run("put and get asset", func(t *testing.T) {
		reply := b.HandleFrame(ctx, "phone", &codec.Frame{Type: codec.FramePutAsset, ID: "2", Data: []byte("blob")})
		if reply.Type != codec.FrameAssetStored || reply.Handle != domain.HandleFor([]byte("blob")).Digest {
			t.Fatalf("unexpected reply %+v", reply)
		}
		reply = b.HandleFrame(ctx, "phone", &codec.Frame{Type: codec.FrameGetAsset, ID: "3", Handle: reply.Handle})
		if !reply.Found || string(reply.Data) != "blob" {
			t.Errorf("unexpected reply %+v", reply)
		}
	})

	t.Run("missing asset is not an error", func(t *testing.T) {
		reply := b.HandleFrame(ctx, "phone", &codec.Frame{
			Type: codec.FrameGetAsset, ID: "4", Handle: domain.HandleFor([]byte("none")).Digest,
		})
		if reply.Type != codec.FrameAsset || reply.Found {
			t.Errorf("unexpected reply %+v", reply)
		}
	})

	t.Run("capabilities", func(t *testing.T) {
		reply := b.HandleFrame(ctx, "phone", &codec.Frame{Type: codec.FrameGetCapabilities, ID: "5"})
		if reply.Type != codec.FrameCapabilities || !reply.Snapshot["capability_1"].Nodes.Contains("phone") {
			t.Errorf("unexpected reply %+v", reply)
		}
	})

	t.Run("errors carry the request id", func(t *testing.T) {
		reply := b.HandleFrame(ctx, "phone", &codec.Frame{Type: codec.FrameSubscribe, ID: "6", Stream: "weather"})
		if reply.Type != codec.FrameError || reply.ID != "6" || reply.Error == "" {
			t.Errorf("unexpected reply %+v", reply)
		}
	})

	t.Run("push frames are rejected", func(t *testing.T) {
		reply := b.HandleFrame(ctx, "phone", &codec.Frame{Type: codec.FrameRecordChanged, ID: "7", Record: &domain.Record{Path: "/x"}})
		if reply.Type != codec.FrameError {
			t.Errorf("unexpected reply %+v", reply)
		}
	})
}

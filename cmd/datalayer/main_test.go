package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"datalayer/internal/config"
	"datalayer/internal/domain"
	"datalayer/internal/relay"
	"datalayer/internal/repository"
	"datalayer/internal/repository/sqlite"
	"datalayer/internal/service"
	"datalayer/internal/transport/memory"
)

func testEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Node.ID = "watch"
	cfg.Transport.ReconnectDelay = config.Duration(10 * time.Millisecond)
	return &env{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newBroker(t *testing.T) *relay.Broker {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return relay.NewBroker(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func connectPeer(t *testing.T, broker *relay.Broker, id string) *memory.Transport {
	t.Helper()
	tr, err := memory.Connect(context.Background(), broker, repository.Peer{ID: domain.NodeID(id), DisplayName: id})
	if err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

type nopPresenter struct{}

func (nopPresenter) AppendLogEntry(string, string) {}
func (nopPresenter) SetDisplayedImage(image.Image) {}
func (nopPresenter) SwitchToPage(int)              {}
func (nopPresenter) ShowToast(string)              {}

func recordAt(t *testing.T, broker *relay.Broker, path domain.Path) (domain.Record, bool) {
	t.Helper()
	records, err := broker.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	for _, r := range records {
		if r.Path == path {
			return r, true
		}
	}
	return domain.Record{}, false
}

func TestLinkWithoutConnection(t *testing.T) {
	l := &link{}
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["subscribe records"] = l.SubscribeRecords(func(domain.InboundEvent) {})
	_, checks["snapshot"] = l.CapabilitySnapshot(ctx, domain.FilterReachable)
	_, checks["open asset"] = l.OpenAsset(ctx, domain.HandleFor([]byte("x")))
	checks["put record"] = l.PutRecord(ctx, "/count", domain.DataMap{"count": 1})
	_, checks["put asset"] = l.PutAsset(ctx, []byte("x"))

	for op, err := range checks {
		if !errors.Is(err, service.ErrTransportUnreachable) {
			t.Errorf("%s: expected ErrTransportUnreachable, got %v", op, err)
		}
		if !errors.Is(err, errNotConnected) {
			t.Errorf("%s: expected errNotConnected, got %v", op, err)
		}
	}
}

func TestLinkDelegates(t *testing.T) {
	broker := newBroker(t)
	l := &link{}
	l.set(connectPeer(t, broker, "watch"))

	if err := l.PutRecord(context.Background(), "/count", domain.DataMap{"count": 4}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	rec, ok := recordAt(t, broker, "/count")
	if !ok || rec.Source != "watch" {
		t.Errorf("unexpected record %+v", rec)
	}

	l.set(nil)
	if err := l.DeleteRecord(context.Background(), "/count"); !errors.Is(err, service.ErrTransportUnreachable) {
		t.Errorf("expected unreachable after reset, got %v", err)
	}
}

func TestSupervisorReconnects(t *testing.T) {
	e := testEnv(t)
	broker := newBroker(t)

	var (
		mu    sync.Mutex
		dials int
		drop  chan struct{}
	)
	connect := func(ctx context.Context) (peerTransport, <-chan struct{}, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 2 {
			return nil, nil, errors.New("relay down")
		}
		tr, err := memory.Connect(ctx, broker, repository.Peer{ID: "watch"})
		if err != nil {
			return nil, nil, err
		}
		drop = make(chan struct{})
		return tr, drop, nil
	}

	states := make(chan error, 16)
	c := newClient(context.Background(), e, nopPresenter{})
	sup := c.supervisor(e, connect, func(err error) { states <- err })

	ctx, cancel := context.WithCancel(context.Background())
	done, err := sup.attach(ctx)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !c.session.Active() {
		t.Fatal("expected active session after attach")
	}

	finished := make(chan struct{})
	go func() {
		sup.run(ctx, done, true)
		close(finished)
	}()

	next := func() error {
		t.Helper()
		select {
		case err := <-states:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for state")
			return nil
		}
	}

	mu.Lock()
	close(drop)
	mu.Unlock()

	if err := next(); !errors.Is(err, errConnectionLost) {
		t.Errorf("expected connection lost, got %v", err)
	}
	if err := next(); err == nil || err.Error() != "relay down" {
		t.Errorf("expected failed redial, got %v", err)
	}
	if err := next(); err != nil {
		t.Errorf("expected reconnect, got %v", err)
	}
	if !c.session.Active() {
		t.Error("expected session active after reconnect")
	}

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if c.session.Active() {
		t.Error("expected session inactive after stop")
	}
	if _, err := c.link.get("check"); err == nil {
		t.Error("expected link to be cleared after stop")
	}
}

func TestSendCommands(t *testing.T) {
	e := testEnv(t)
	broker := newBroker(t)
	phone := connectPeer(t, broker, "phone")
	watch := connectPeer(t, broker, "watch")
	ctx := context.Background()

	t.Run("count", func(t *testing.T) {
		if err := sendCount(ctx, e, phone, []string{"--times", "3", "--start", "10", "--interval", "1ms"}); err != nil {
			t.Fatalf("sendCount: %v", err)
		}
		rec, ok := recordAt(t, broker, "/count")
		if !ok {
			t.Fatal("expected /count record")
		}
		if n, _ := rec.Payload.Int("count"); n != 12 {
			t.Errorf("expected count 12, got %v", rec.Payload)
		}
	})

	t.Run("image", func(t *testing.T) {
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
			t.Fatalf("png: %v", err)
		}
		file := filepath.Join(t.TempDir(), "photo.png")
		if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		if err := sendImage(ctx, e, phone, []string{file}); err != nil {
			t.Fatalf("sendImage: %v", err)
		}
		rec, ok := recordAt(t, broker, "/image")
		if !ok {
			t.Fatal("expected /image record")
		}
		handle, ok := rec.Payload.Asset("photo")
		if !ok || handle != domain.HandleFor(buf.Bytes()) {
			t.Errorf("unexpected image payload %v", rec.Payload)
		}
	})

	t.Run("image rejects non-images", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "notes.png")
		if err := os.WriteFile(file, []byte("just text"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := sendImage(ctx, e, phone, []string{file}); err == nil {
			t.Error("expected error for text file")
		}
	})

	t.Run("message", func(t *testing.T) {
		got := make(chan domain.Message, 1)
		sub, err := watch.SubscribeMessages(func(ev domain.InboundEvent) {
			if m, ok := ev.(domain.MessageReceived); ok {
				got <- m.Message
			}
		})
		if err != nil {
			t.Fatalf("SubscribeMessages: %v", err)
		}
		defer sub.Unsubscribe()

		if err := sendMessage(ctx, e, phone, []string{"--target", "watch", "hello", "there"}); err != nil {
			t.Fatalf("sendMessage: %v", err)
		}
		select {
		case m := <-got:
			if string(m.Data) != "hello there" || m.Path != "/message" {
				t.Errorf("unexpected message %+v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}

		if err := sendMessage(ctx, e, phone, nil); err == nil {
			t.Error("expected error without text")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := sendDelete(ctx, e, phone, []string{"/count"}); err != nil {
			t.Fatalf("sendDelete: %v", err)
		}
		if _, ok := recordAt(t, broker, "/count"); ok {
			t.Error("expected /count to be deleted")
		}
	})
}

func TestGradient(t *testing.T) {
	a := gradient(8, 6, 1)
	b := gradient(8, 6, 2)
	if a.Bounds().Dx() != 8 || a.Bounds().Dy() != 6 {
		t.Fatalf("unexpected bounds %v", a.Bounds())
	}
	if a.At(3, 3) == b.At(3, 3) {
		t.Error("expected seed to change the colours")
	}
}

func TestRunUsage(t *testing.T) {
	if err := run([]string{"--log-level", "error"}); !errors.Is(err, errUsage) {
		t.Errorf("expected usage error without a command, got %v", err)
	}
}

func TestInit(t *testing.T) {
	e := testEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "datalayer.yaml")

	if err := runInit(context.Background(), e, []string{path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, _, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Node.ID != "watch" {
		t.Errorf("expected node id watch, got %s", cfg.Node.ID)
	}

	if err := runInit(context.Background(), e, []string{path}); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if err := runInit(context.Background(), e, []string{"--force", path}); err != nil {
		t.Errorf("forced init: %v", err)
	}
}

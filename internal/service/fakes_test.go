package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"datalayer/internal/domain"
)

// presenterCall is one recorded Presenter invocation
type presenterCall struct {
	Method string
	Kind   string
	Detail string
	Page   int
	Image  image.Image
	Toast  string
}

type recordingPresenter struct {
	mu     sync.Mutex
	calls  []presenterCall
	notify chan struct{}
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{notify: make(chan struct{}, 64)}
}

func (p *recordingPresenter) record(c presenterCall) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *recordingPresenter) AppendLogEntry(kind, detail string) {
	p.record(presenterCall{Method: "log", Kind: kind, Detail: detail})
}

func (p *recordingPresenter) SetDisplayedImage(img image.Image) {
	p.record(presenterCall{Method: "image", Image: img})
}

func (p *recordingPresenter) SwitchToPage(index int) {
	p.record(presenterCall{Method: "page", Page: index})
}

func (p *recordingPresenter) ShowToast(message string) {
	p.record(presenterCall{Method: "toast", Toast: message})
}

func (p *recordingPresenter) Calls() []presenterCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]presenterCall, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *recordingPresenter) count(method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// fakeSubscription counts unsubscribes
type fakeSubscription struct {
	transport *fakeTransport
	stream    domain.Stream
	err       error
}

func (s *fakeSubscription) Unsubscribe() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	s.transport.live[s.stream]--
	delete(s.transport.handlers, s.stream)
	return s.err
}

// fakeTransport is an in-test Transport with injectable failures
type fakeTransport struct {
	mu           sync.Mutex
	live         map[domain.Stream]int
	subscribes   map[domain.Stream]int
	handlers     map[domain.Stream]EventHandler
	scope        domain.CapabilityScope
	failOn       domain.Stream
	unsubErr     error
	snapshot     domain.CapabilitySnapshot
	snapshotErr  error
	queries      int
	lastFilter   domain.NodeFilter
	assets       map[string][]byte
	openErr      error
	blockOpen    bool
	openedHandle []domain.AssetHandle
	closed       int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		live:       make(map[domain.Stream]int),
		subscribes: make(map[domain.Stream]int),
		handlers:   make(map[domain.Stream]EventHandler),
		assets:     make(map[string][]byte),
	}
}

func (f *fakeTransport) subscribe(stream domain.Stream, h EventHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes[stream]++
	if f.failOn == stream {
		return nil, errors.New("connection refused")
	}
	f.live[stream]++
	f.handlers[stream] = h
	return &fakeSubscription{transport: f, stream: stream, err: f.unsubErr}, nil
}

func (f *fakeTransport) SubscribeRecords(h EventHandler) (Subscription, error) {
	return f.subscribe(domain.StreamRecords, h)
}

func (f *fakeTransport) SubscribeMessages(h EventHandler) (Subscription, error) {
	return f.subscribe(domain.StreamMessages, h)
}

func (f *fakeTransport) SubscribeCapabilities(h EventHandler, scope domain.CapabilityScope) (Subscription, error) {
	f.mu.Lock()
	f.scope = scope
	f.mu.Unlock()
	return f.subscribe(domain.StreamCapabilities, h)
}

func (f *fakeTransport) CapabilitySnapshot(_ context.Context, filter domain.NodeFilter) (domain.CapabilitySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	f.lastFilter = filter
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeTransport) OpenAsset(ctx context.Context, handle domain.AssetHandle) (io.ReadCloser, error) {
	f.mu.Lock()
	f.openedHandle = append(f.openedHandle, handle)
	block := f.blockOpen
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	data, ok := f.assets[handle.Digest]
	if !ok {
		return nil, nil
	}
	return &fakeStream{Reader: bytes.NewReader(data), transport: f}, nil
}

func (f *fakeTransport) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeStream counts Close calls on its transport
type fakeStream struct {
	io.Reader
	transport *fakeTransport
}

func (s *fakeStream) Close() error {
	s.transport.mu.Lock()
	s.transport.closed++
	s.transport.mu.Unlock()
	return nil
}

func (f *fakeTransport) putAsset(data []byte) domain.AssetHandle {
	h := domain.HandleFor(data)
	f.mu.Lock()
	f.assets[h.Digest] = data
	f.mu.Unlock()
	return h
}

func (f *fakeTransport) liveCount(stream domain.Stream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[stream]
}

func (f *fakeTransport) deliver(stream domain.Stream, event domain.InboundEvent) {
	f.mu.Lock()
	h := f.handlers[stream]
	f.mu.Unlock()
	if h != nil {
		h(event)
	}
}

// recordingResolver captures handles passed to ResolveAsync
type recordingResolver struct {
	mu      sync.Mutex
	handles []domain.AssetHandle
}

func (r *recordingResolver) ResolveAsync(_ context.Context, handle domain.AssetHandle) <-chan ResolveResult {
	r.mu.Lock()
	r.handles = append(r.handles, handle)
	r.mu.Unlock()
	ch := make(chan ResolveResult, 1)
	ch <- ResolveResult{Handle: handle}
	close(ch)
	return ch
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for x := 0; x < 4; x++ {
		for y := 0; y < 3; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 80), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// encodeGray encodes a blank grayscale PNG of the given size
func encodeGray(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// pngHeader is a PNG signature and IHDR chunk declaring w by h 8-bit
// grayscale, with no pixel data
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func node(id string) domain.PeerNode {
	return domain.PeerNode{ID: domain.NodeID(id), DisplayName: id}
}

func waitResult(t *testing.T, ch <-chan ResolveResult) ResolveResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolution")
		return ResolveResult{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package presenter

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"datalayer/internal/domain"
	"datalayer/internal/service"
)

var (
	_ service.Presenter = (*Console)(nil)
	_ service.Presenter = (*TUI)(nil)
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 20), B: 100, A: 255})
		}
	}
	return img
}

func TestThumbnailSize(t *testing.T) {
	tests := []struct {
		name         string
		bounds       image.Rectangle
		cols, rows   int
		wantW, wantH int
	}{
		{"square fits width", image.Rect(0, 0, 100, 100), 20, 0, 20, 20},
		{"small image is not enlarged", image.Rect(0, 0, 6, 4), 80, 0, 6, 4},
		{"odd height rounds up", image.Rect(0, 0, 10, 5), 10, 0, 10, 6},
		{"row limit shrinks width", image.Rect(0, 0, 100, 100), 40, 5, 10, 10},
		{"empty image", image.Rect(0, 0, 0, 0), 10, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := thumbnailSize(tt.bounds, tt.cols, tt.rows)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("thumbnailSize = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRenderHalfBlocks(t *testing.T) {
	out := RenderHalfBlocks(testImage(8, 8), 4, 0)
	if got := strings.Count(out, upperHalfBlock); got != 8 {
		t.Errorf("expected 8 cells, got %d", got)
	}
	if got := strings.Count(out, "\n"); got != 1 {
		t.Errorf("expected 2 rows, got %d newlines", got)
	}
	if RenderHalfBlocks(testImage(0, 0), 4, 0) != "" {
		t.Error("expected empty output for empty image")
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, 4)

	c.AppendLogEntry(domain.LogKindRecordChanged, "/count count=3")
	c.SetDisplayedImage(testImage(8, 8))
	c.SwitchToPage(domain.PageAsset)
	c.ShowToast("Connected nodes: phone")

	out := buf.String()
	for _, want := range []string{"RecordChanged", "/count count=3", "image 8x8", "-> Image", "Connected nodes: phone"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, upperHalfBlock) {
		t.Error("expected a thumbnail")
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return model, cmd
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModelPaging(t *testing.T) {
	m := NewModel(ModelOptions{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if m.Page() != domain.PageAsset {
		t.Errorf("expected image page, got %d", m.Page())
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if m.Page() != domain.PageData {
		t.Errorf("expected wrap to data page, got %d", m.Page())
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	if m.Page() != domain.PageDiscovery {
		t.Errorf("expected wrap to discovery page, got %d", m.Page())
	}

	m, _ = update(t, m, pageMsg(domain.PageAsset))
	if m.Page() != domain.PageAsset {
		t.Errorf("expected SwitchToPage to move, got %d", m.Page())
	}
	m, _ = update(t, m, pageMsg(7))
	if m.Page() != domain.PageAsset {
		t.Errorf("expected out of range page to be ignored, got %d", m.Page())
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel(ModelOptions{})
	_, cmd := update(t, m, runeKey('q'))
	if cmd == nil {
		t.Fatal("q key should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected QuitMsg")
	}
}

func TestModelLogAndImage(t *testing.T) {
	m := NewModel(ModelOptions{MaxEntries: 2})
	if !strings.Contains(m.View(), "Waiting for data items") {
		t.Error("expected empty data page placeholder")
	}

	m, _ = update(t, m, logEntryMsg{Kind: "RecordChanged", Detail: "first"})
	m, _ = update(t, m, logEntryMsg{Kind: "RecordChanged", Detail: "second"})
	m, _ = update(t, m, logEntryMsg{Kind: "Message", Detail: "third"})

	view := m.View()
	if strings.Contains(view, "first") {
		t.Error("expected oldest entry to be dropped")
	}
	if !strings.Contains(view, "second") || !strings.Contains(view, "third") {
		t.Errorf("expected newest entries in view:\n%s", view)
	}

	m, _ = update(t, m, imageMsg{img: testImage(8, 8)})
	m, _ = update(t, m, pageMsg(domain.PageAsset))
	if view := m.View(); !strings.Contains(view, "8x8") || !strings.Contains(view, upperHalfBlock) {
		t.Errorf("expected image page to render the image:\n%s", view)
	}
}

func TestModelDiscover(t *testing.T) {
	var called atomic.Value
	m := NewModel(ModelOptions{
		Presets: []Preset{
			{Name: "capability_2", Capabilities: []string{"capability_2"}},
			{Name: "capability_1_and_2", Capabilities: []string{"capability_1", "capability_2"}},
		},
		Discover: func(preset string) { called.Store(preset) },
	})

	m, cmd := update(t, m, runeKey('2'))
	if cmd == nil {
		t.Fatal("expected discovery command")
	}
	if m.Page() != domain.PageDiscovery {
		t.Errorf("expected discovery page, got %d", m.Page())
	}
	cmd()
	if called.Load() != "capability_1_and_2" {
		t.Errorf("expected second preset, got %v", called.Load())
	}

	if _, cmd := update(t, m, runeKey('5')); cmd != nil {
		t.Error("expected unbound key to do nothing")
	}

	m, cmd = update(t, m, toastMsg("Connected nodes: phone, tablet"))
	if cmd == nil {
		t.Error("expected toast fade tick")
	}
	view := m.View()
	if !strings.Contains(view, "Connected nodes: phone, tablet") || !strings.Contains(view, "[1] capability_2") {
		t.Errorf("unexpected discovery view:\n%s", view)
	}

	m, _ = update(t, m, toastFadeMsg{seq: m.toastSeq})
	if m.toast != "" {
		t.Error("expected toast to fade")
	}
	if m.lastResult == "" {
		t.Error("expected discovery result to stay on the page")
	}
}

func TestModelActivation(t *testing.T) {
	m := NewModel(ModelOptions{Activate: func() error { return errors.New("relay down") }})
	cmd := m.Init()
	if cmd == nil {
		t.Fatal("expected activation command")
	}
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.View(), "Not connected: relay down") {
		t.Errorf("expected activation error in status line:\n%s", m.View())
	}

	if NewModel(ModelOptions{}).Init() != nil {
		t.Error("expected no command without an activate hook")
	}
}

func TestTUIDropsCallsWithoutProgram(t *testing.T) {
	tui := NewTUI()
	tui.AppendLogEntry("Message", "dropped")
	tui.ShowToast("dropped")
	tui.SwitchToPage(domain.PageAsset)
	tui.SetDisplayedImage(testImage(1, 1))
	tui.SetConnectionError(nil)
}

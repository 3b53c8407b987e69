package presenter

import (
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"datalayer/internal/domain"
)

const (
	pageCount       = 3
	toastFadeDelay  = 3 * time.Second
	defaultMaxLines = 500
)

// Preset is a discovery preset bound to a number key
type Preset struct {
	Name         string
	Capabilities []string
}

// ModelOptions wires the model to the session. Activate runs once the
// program starts; Discover runs off the event loop when a preset key is
// pressed.
type ModelOptions struct {
	Title      string
	Presets    []Preset
	Activate   func() error
	Discover   func(preset string)
	MaxEntries int
}

type logEntryMsg domain.LogEntry

type imageMsg struct{ img image.Image }

type pageMsg int

type toastMsg string

type toastFadeMsg struct{ seq int }

type activatedMsg struct{ err error }

// Model is the bubbletea model of the pager
type Model struct {
	opts ModelOptions

	page       int
	entries    []domain.LogEntry
	img        image.Image
	lastResult string
	toast      string
	toastSeq   int
	status     string
	width      int
	height     int
}

// NewModel creates the pager on the data page
func NewModel(opts ModelOptions) Model {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxLines
	}
	if opts.Title == "" {
		opts.Title = "datalayer"
	}
	return Model{opts: opts, page: domain.PageData, width: 80, height: 24}
}

// Page returns the visible page index
func (m Model) Page() int {
	return m.page
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	if m.opts.Activate == nil {
		return nil
	}
	activate := m.opts.Activate
	return func() tea.Msg {
		return activatedMsg{err: activate()}
	}
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case logEntryMsg:
		m.entries = append(m.entries, domain.LogEntry(msg))
		if over := len(m.entries) - m.opts.MaxEntries; over > 0 {
			m.entries = m.entries[over:]
		}

	case imageMsg:
		m.img = msg.img

	case pageMsg:
		if p := int(msg); p >= 0 && p < pageCount {
			m.page = p
		}

	case toastMsg:
		m.toast = string(msg)
		m.lastResult = string(msg)
		m.toastSeq++
		seq := m.toastSeq
		return m, tea.Tick(toastFadeDelay, func(time.Time) tea.Msg {
			return toastFadeMsg{seq: seq}
		})

	case toastFadeMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}

	case activatedMsg:
		if msg.err != nil {
			m.status = "Not connected: " + msg.err.Error()
		} else {
			m.status = ""
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "left", "h":
		m.page = (m.page + pageCount - 1) % pageCount
	case "right", "l":
		m.page = (m.page + 1) % pageCount
	default:
		if len(msg.Runes) == 1 && msg.Runes[0] >= '1' && msg.Runes[0] <= '9' {
			return m.discover(int(msg.Runes[0] - '1'))
		}
	}
	return m, nil
}

func (m Model) discover(i int) (tea.Model, tea.Cmd) {
	if i >= len(m.opts.Presets) || m.opts.Discover == nil {
		return m, nil
	}
	preset := m.opts.Presets[i].Name
	m.page = domain.PageDiscovery
	m.lastResult = "Discovering " + preset + "..."
	discover := m.opts.Discover
	return m, func() tea.Msg {
		discover(preset)
		return nil
	}
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	tabStyle       = lipgloss.NewStyle().Faint(true).Padding(0, 1)
)

// View implements tea.Model
func (m Model) View() string {
	tabs := []string{titleStyle.Render(m.opts.Title)}
	for i := 0; i < pageCount; i++ {
		style := tabStyle
		if i == m.page {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(PageName(i)))
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	bodyRows := max(m.height-3, 1)
	var body string
	switch m.page {
	case domain.PageData:
		body = m.dataView(bodyRows)
	case domain.PageAsset:
		body = m.imageView(bodyRows)
	case domain.PageDiscovery:
		body = m.discoveryView()
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", body, m.statusLine())
}

func (m Model) dataView(rows int) string {
	if len(m.entries) == 0 {
		return faintStyle.Render("Waiting for data items...")
	}
	entries := m.entries
	if len(entries) > rows {
		entries = entries[len(entries)-rows:]
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = kindStyle.Render(e.Kind) + " " + e.Detail
	}
	return strings.Join(lines, "\n")
}

func (m Model) imageView(rows int) string {
	if m.img == nil {
		return faintStyle.Render("No image received yet")
	}
	b := m.img.Bounds()
	caption := faintStyle.Render(fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))
	return RenderHalfBlocks(m.img, m.width, max(rows-1, 1)) + "\n" + caption
}

func (m Model) discoveryView() string {
	lines := []string{"Find nodes by capability:"}
	for i, p := range m.opts.Presets {
		if i >= 9 {
			break
		}
		lines = append(lines, fmt.Sprintf("  [%d] %s (%s)", i+1, p.Name, strings.Join(p.Capabilities, " + ")))
	}
	if m.lastResult != "" {
		lines = append(lines, "", m.lastResult)
	}
	return strings.Join(lines, "\n")
}

func (m Model) statusLine() string {
	switch {
	case m.toast != "":
		return toastStyle.Render(m.toast)
	case m.status != "":
		return errorStyle.Render(m.status)
	}
	return faintStyle.Render("←/→ pages · 1-9 discover · q quit")
}

// TUI forwards presenter calls into a running program. Calls made before
// SetProgram are dropped.
type TUI struct {
	program atomic.Pointer[tea.Program]
}

// NewTUI creates an unattached TUI presenter
func NewTUI() *TUI {
	return &TUI{}
}

// SetProgram attaches the program that receives presenter calls
func (t *TUI) SetProgram(p *tea.Program) {
	t.program.Store(p)
}

func (t *TUI) send(msg tea.Msg) {
	if p := t.program.Load(); p != nil {
		p.Send(msg)
	}
}

// AppendLogEntry adds a line to the data page
func (t *TUI) AppendLogEntry(kind, detail string) {
	t.send(logEntryMsg{Kind: kind, Detail: detail})
}

// SetDisplayedImage replaces the image page content
func (t *TUI) SetDisplayedImage(img image.Image) {
	t.send(imageMsg{img: img})
}

// SwitchToPage shows a page
func (t *TUI) SwitchToPage(index int) {
	t.send(pageMsg(index))
}

// ShowToast shows a transient notice in the status line
func (t *TUI) ShowToast(message string) {
	t.send(toastMsg(message))
}

// SetConnectionError updates the status line after a reconnect attempt; nil
// clears it
func (t *TUI) SetConnectionError(err error) {
	t.send(activatedMsg{err: err})
}

// Package presenter renders what the router, resolver and directory
// produce. Console prints to a writer; the TUI runs a three page pager
// (data log, received image, discovery).
package presenter

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"datalayer/internal/domain"
)

// PageName returns the title of a pager page
func PageName(index int) string {
	switch index {
	case domain.PageData:
		return "Data"
	case domain.PageAsset:
		return "Image"
	case domain.PageDiscovery:
		return "Discovery"
	}
	return fmt.Sprintf("Page %d", index)
}

var (
	kindStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	faintStyle = lipgloss.NewStyle().Faint(true)
	toastStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Console writes presenter calls as styled lines
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	thumbCols int
}

// NewConsole creates a console presenter. thumbCols > 0 prints a half
// block thumbnail of each received image.
func NewConsole(w io.Writer, thumbCols int) *Console {
	return &Console{w: w, thumbCols: thumbCols}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}

// AppendLogEntry prints one data log line
func (c *Console) AppendLogEntry(kind, detail string) {
	c.println(kindStyle.Render(kind) + " " + detail)
}

// SetDisplayedImage prints the image size and an optional thumbnail
func (c *Console) SetDisplayedImage(img image.Image) {
	b := img.Bounds()
	line := faintStyle.Render(fmt.Sprintf("image %dx%d", b.Dx(), b.Dy()))
	if c.thumbCols > 0 {
		line += "\n" + RenderHalfBlocks(img, c.thumbCols, c.thumbCols/2)
	}
	c.println(line)
}

// SwitchToPage prints the page change
func (c *Console) SwitchToPage(index int) {
	c.println(faintStyle.Render("-> " + PageName(index)))
}

// ShowToast prints a highlighted notice
func (c *Console) ShowToast(message string) {
	c.println(toastStyle.Render(message))
}

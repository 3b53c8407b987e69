package presenter

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"
)

const upperHalfBlock = "▀"

// RenderHalfBlocks draws img in at most cols columns and maxRows rows
// (maxRows <= 0 means unbounded). Each cell is an upper half block whose
// foreground is the top pixel and background the bottom pixel, so one text
// row covers two pixel rows.
func RenderHalfBlocks(img image.Image, cols, maxRows int) string {
	w, h := thumbnailSize(img.Bounds(), cols, maxRows)
	if w == 0 {
		return ""
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sb strings.Builder
	for y := 0; y < h; y += 2 {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := 0; x < w; x++ {
			cell := lipgloss.NewStyle().
				Foreground(hexColor(dst.RGBAAt(x, y))).
				Background(hexColor(dst.RGBAAt(x, y+1)))
			sb.WriteString(cell.Render(upperHalfBlock))
		}
	}
	return sb.String()
}

// thumbnailSize keeps the aspect ratio and returns an even pixel height
func thumbnailSize(b image.Rectangle, cols, maxRows int) (int, int) {
	if b.Empty() || cols <= 0 {
		return 0, 0
	}
	w := min(cols, b.Dx())
	h := max(b.Dy()*w/b.Dx(), 1)
	if maxRows > 0 && h > maxRows*2 {
		h = maxRows * 2
		w = max(b.Dx()*h/b.Dy(), 1)
	}
	if h%2 == 1 {
		h++
	}
	return w, h
}

func hexColor(c color.RGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

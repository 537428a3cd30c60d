package capture

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hjkoskel/gomonochromebitmap"

	"epd4in2b/internal/model"
)

// Text card layout, in bitmap pixels before scaling.
const (
	textScale   = 2
	textMargin  = 4
	glyphWidth  = 5 + 1
	glyphHeight = 7 + 2
)

// TextCard renders text with the built-in 5x7 font at double size. The
// first line is the title and goes to the red plane; the rest is black.
// Long lines are word-wrapped and overflowing lines are dropped.
func TextCard(g model.Geometry, text string) (image.Image, error) {
	bw, bh := g.Width/textScale, g.Height/textScale
	if bw <= 2*textMargin || bh <= 2*textMargin {
		return nil, fmt.Errorf("capture: panel %dx%d too small for a text card", g.Width, g.Height)
	}
	blackPic := gomonochromebitmap.NewMonoBitmap(bw, bh, false)
	redPic := gomonochromebitmap.NewMonoBitmap(bw, bh, false)
	font := gomonochromebitmap.GetFont_5x7()

	cols := (bw - 2*textMargin) / glyphWidth
	y := textMargin
	for i, para := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		pic := &blackPic
		if i == 0 {
			pic = &redPic
		}
		for _, line := range wrap(para, cols) {
			if y+glyphHeight > bh-textMargin {
				break
			}
			pic.Print(line, font, 0, 1, image.Rect(textMargin, y, bw, bh), true, false, false, false)
			y += glyphHeight
		}
		if i == 0 {
			y += glyphHeight / 2
		}
	}

	planar, err := gomonochromebitmap.CreatePlanarColorImage([]gomonochromebitmap.MonoBitmap{blackPic, redPic}, []color.Color{
		color.White, color.Black, red, red})
	if err != nil {
		return nil, fmt.Errorf("capture: text card: %w", err)
	}
	return imaging.Resize(planar, g.Width, g.Height, imaging.NearestNeighbor), nil
}

// wrap splits s into lines of at most cols runes, breaking at spaces when
// possible.
func wrap(s string, cols int) []string {
	if cols <= 0 {
		return nil
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	cur := ""
	for _, w := range words {
		for len([]rune(w)) > cols {
			if cur != "" {
				lines = append(lines, cur)
				cur = ""
			}
			r := []rune(w)
			lines = append(lines, string(r[:cols]))
			w = string(r[cols:])
		}
		switch {
		case cur == "":
			cur = w
		case len([]rune(cur))+1+len([]rune(w)) <= cols:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

package convert

import (
	"fmt"
	"image"
	"image/color"

	"epd4in2b/internal/model"
)

// Preview colors.
var (
	previewWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	previewBlack = color.NRGBA{A: 255}
	previewRed   = color.NRGBA{R: 255, A: 255}
)

// Render draws a frame as the panel would show it, in panel orientation,
// using the same bit addressing as a horizontal Pack.
// Red ink wins where both planes are inked.
func Render(g model.Geometry, f model.Frame) (*image.NRGBA, error) {
	if len(f.Black) != g.PlaneSize() || len(f.Red) != g.PlaneSize() {
		return nil, fmt.Errorf("%w: frame planes are %d/%d bytes, want %d",
			ErrGeometryMismatch, len(f.Black), len(f.Red), g.PlaneSize())
	}
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			i, mask := g.BitAt(x, y)
			c := previewWhite
			switch {
			case f.Red[i]&mask == 0:
				c = previewRed
			case f.Black[i]&mask == 0:
				c = previewBlack
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img, nil
}

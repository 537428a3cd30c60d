package convert

import (
	"errors"
	"fmt"

	"epd4in2b/internal/model"
)

// ErrGeometryMismatch is returned when a pixel source matches neither the
// panel's horizontal nor its rotated (vertical) size.
var ErrGeometryMismatch = errors.New("convert: source geometry does not match panel")

// PixelSource is a 2-D monochrome pixel grid. Black reports whether the
// pixel at (x, y) carries ink; coordinates are zero-based.
type PixelSource interface {
	Size() (w, h int)
	Black(x, y int) bool
}

// Orientation describes how a source is laid onto the panel.
type Orientation int

const (
	// Horizontal sources are panel-sized and copied as is.
	Horizontal Orientation = iota
	// Vertical sources are rotated 90 degrees: width and height swapped.
	Vertical
)

func (o Orientation) String() string {
	switch o {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

// OrientationFor picks the orientation for a w x h source on panel g.
func OrientationFor(g model.Geometry, w, h int) (Orientation, error) {
	switch {
	case w == g.Width && h == g.Height:
		return Horizontal, nil
	case w == g.Height && h == g.Width:
		return Vertical, nil
	default:
		return 0, fmt.Errorf("%w: got %dx%d, want %dx%d or %dx%d",
			ErrGeometryMismatch, w, h, g.Width, g.Height, g.Height, g.Width)
	}
}

// Pack converts src into a packed plane for panel g.
//
// Packing rules:
//
//   - the plane starts all white (0xFF) and only ink pixels clear a bit;
//   - horizontal: pixel (x, y) clears 0x80>>(x%8) of byte y*Stride+x/8;
//   - vertical: pixel (x, y) lands on (y, H-x-1) and is packed as the
//     horizontal pixel there.
//
// Sources of any other size fail with ErrGeometryMismatch.
func Pack(g model.Geometry, src PixelSource) (model.FrameBuffer, error) {
	w, h := src.Size()
	orient, err := OrientationFor(g, w, h)
	if err != nil {
		return nil, err
	}

	buf := model.NewFrameBuffer(g)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !src.Black(x, y) {
				continue
			}
			px, py := x, y
			if orient == Vertical {
				px, py = y, g.Height-x-1
			}
			i, mask := g.BitAt(px, py)
			buf[i] &^= mask
		}
	}
	return buf, nil
}

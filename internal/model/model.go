package model

// Geometry is the pixel size of a panel. It is fixed when a driver is
// constructed and shared by every frame buffer pushed to that panel.
type Geometry struct {
	Width  int
	Height int
}

// Panel4in2B is the 400x300 Waveshare 4.2" (B) v2 panel.
var Panel4in2B = Geometry{Width: 400, Height: 300}

// Stride is the number of bytes per row. Widths that are not a multiple of
// eight are rounded up to the next byte boundary.
func (g Geometry) Stride() int {
	return (g.Width + 7) / 8
}

// PlaneSize is the length in bytes of one packed plane.
func (g Geometry) PlaneSize() int {
	return g.Stride() * g.Height
}

// BitAt returns the byte index and bit mask of pixel (x, y) in a packed
// plane. Every row starts on a byte boundary.
func (g Geometry) BitAt(x, y int) (int, byte) {
	return y*g.Stride() + x/8, 0x80 >> (x % 8)
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// Fit modes for bringing an image of another size to panel size.
const (
	FitContain = "fit"  // scale down and letterbox on white
	FitFill    = "fill" // scale and crop to cover the panel
	FitNone    = "none" // reject anything not already panel-sized
)

// FrameBuffer is one packed 1bpp plane: MSB-first, row-major,
// 0 = ink, 1 = clear.
type FrameBuffer []byte

// NewFrameBuffer returns a blank (all 0xFF) plane sized for g.
func NewFrameBuffer(g Geometry) FrameBuffer {
	fb := make(FrameBuffer, g.PlaneSize())
	for i := range fb {
		fb[i] = 0xFF
	}
	return fb
}

// Frame is the pair of planes composited by one full refresh.
// Both planes must share the same geometry.
type Frame struct {
	Black FrameBuffer
	Red   FrameBuffer
}

// NewFrame returns a frame with both planes blank.
func NewFrame(g Geometry) Frame {
	return Frame{
		Black: NewFrameBuffer(g),
		Red:   NewFrameBuffer(g),
	}
}

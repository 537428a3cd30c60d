package convert

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/hjkoskel/gomonochromebitmap"

	"epd4in2b/internal/model"
)

// gridSource is a sparse PixelSource for tests.
type gridSource struct {
	w, h  int
	black map[image.Point]bool
}

func newGrid(w, h int, pts ...image.Point) *gridSource {
	g := &gridSource{w: w, h: h, black: map[image.Point]bool{}}
	for _, p := range pts {
		g.black[p] = true
	}
	return g
}

func (g *gridSource) Size() (int, int)    { return g.w, g.h }
func (g *gridSource) Black(x, y int) bool { return g.black[image.Pt(x, y)] }

func countNonWhite(buf model.FrameBuffer) int {
	n := 0
	for _, b := range buf {
		if b != 0xFF {
			n++
		}
	}
	return n
}

func TestPackAllWhite(t *testing.T) {
	g := model.Panel4in2B
	buf, err := Pack(g, newGrid(400, 300))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(buf) != 50*300 {
		t.Fatalf("len = %d, want %d", len(buf), 50*300)
	}
	if n := countNonWhite(buf); n != 0 {
		t.Errorf("%d bytes are not 0xFF", n)
	}
}

func TestPackHorizontalSinglePixel(t *testing.T) {
	g := model.Panel4in2B
	buf, err := Pack(g, newGrid(400, 300, image.Pt(0, 0)))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if buf[0] != 0x7F {
		t.Errorf("buf[0] = %#02x, want 0x7f", buf[0])
	}
	if n := countNonWhite(buf); n != 1 {
		t.Errorf("%d bytes touched, want 1", n)
	}
}

func TestPackHorizontalBitPositions(t *testing.T) {
	g := model.Panel4in2B
	tests := []struct {
		pt     image.Point
		offset int
		want   byte
	}{
		{image.Pt(7, 0), 0, 0xFE},
		{image.Pt(8, 0), 1, 0x7F},
		{image.Pt(13, 2), (13 + 2*400) / 8, ^byte(0x80 >> 5)},
		{image.Pt(399, 299), 50*300 - 1, 0xFE},
	}
	for _, tt := range tests {
		buf, err := Pack(g, newGrid(400, 300, tt.pt))
		if err != nil {
			t.Fatalf("Pack(%v) error = %v", tt.pt, err)
		}
		if buf[tt.offset] != tt.want {
			t.Errorf("Pack(%v): buf[%d] = %#02x, want %#02x", tt.pt, tt.offset, buf[tt.offset], tt.want)
		}
	}
}

func TestPackVerticalSinglePixel(t *testing.T) {
	g := model.Panel4in2B
	buf, err := Pack(g, newGrid(300, 400, image.Pt(0, 0)))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	// (0,0) maps to newx=0, newy=height-1.
	offset := (0 + (300-1)*400) / 8
	if buf[offset] != 0x7F {
		t.Errorf("buf[%d] = %#02x, want 0x7f", offset, buf[offset])
	}
	if n := countNonWhite(buf); n != 1 {
		t.Errorf("%d bytes touched, want 1", n)
	}
}

func TestPackVerticalUsesSourceRowForBit(t *testing.T) {
	g := model.Panel4in2B
	// (x=10, y=5): newx=5, newy=289, bit 0x80>>5.
	buf, err := Pack(g, newGrid(300, 400, image.Pt(10, 5)))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	offset := (5 + 289*400) / 8
	if want := ^byte(0x80 >> 5); buf[offset] != want {
		t.Errorf("buf[%d] = %#02x, want %#02x", offset, buf[offset], want)
	}
}

func TestPackOddWidthRowsStartOnByteBoundary(t *testing.T) {
	g := model.Geometry{Width: 12, Height: 2}
	tests := []struct {
		name string
		src  *gridSource
		want []byte
	}{
		{"second row first pixel", newGrid(12, 2, image.Pt(0, 1)), []byte{0xFF, 0xFF, 0x7F, 0xFF}},
		{"first row last pixel", newGrid(12, 2, image.Pt(11, 0)), []byte{0xFF, 0xEF, 0xFF, 0xFF}},
		// (0,0) lands on (0,1) of the 12x2 panel.
		{"vertical", newGrid(2, 12, image.Pt(0, 0)), []byte{0xFF, 0xFF, 0x7F, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Pack(g, tt.src)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if string(buf) != string(tt.want) {
				t.Errorf("Pack() = % x, want % x", []byte(buf), tt.want)
			}
		})
	}
}

func TestPackGeometryMismatch(t *testing.T) {
	g := model.Panel4in2B
	for _, size := range []image.Point{{399, 300}, {400, 301}, {300, 300}, {0, 0}, {800, 600}} {
		_, err := Pack(g, newGrid(size.X, size.Y))
		if !errors.Is(err, ErrGeometryMismatch) {
			t.Errorf("Pack(%dx%d) error = %v, want ErrGeometryMismatch", size.X, size.Y, err)
		}
	}
}

func TestOrientationFor(t *testing.T) {
	g := model.Panel4in2B
	if o, err := OrientationFor(g, 400, 300); err != nil || o != Horizontal {
		t.Errorf("OrientationFor(400x300) = %v, %v", o, err)
	}
	if o, err := OrientationFor(g, 300, 400); err != nil || o != Vertical {
		t.Errorf("OrientationFor(300x400) = %v, %v", o, err)
	}
}

func TestImageSourceRelativeBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(10, 20, 410, 320))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	img.SetNRGBA(10, 20, color.NRGBA{A: 0xFF})
	// Transparent black must stay white.
	img.SetNRGBA(11, 20, color.NRGBA{})

	buf, err := Pack(model.Panel4in2B, NewImageSource(img))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if buf[0] != 0x7F {
		t.Errorf("buf[0] = %#02x, want 0x7f", buf[0])
	}
}

func TestBitmapSource(t *testing.T) {
	bm := gomonochromebitmap.NewMonoBitmap(400, 300, false)
	bm.Fill(image.Rect(8, 0, 9, 1), true)

	buf, err := Pack(model.Panel4in2B, NewBitmapSource(bm))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if buf[0] != 0xFF {
		t.Errorf("buf[0] = %#02x, want 0xff", buf[0])
	}
	if buf[1]&0x80 != 0 {
		t.Errorf("buf[1] = %#02x, want bit 0x80 cleared", buf[1])
	}
}

package convert

import (
	"image"
	"image/color"

	"github.com/hjkoskel/gomonochromebitmap"
)

// DefaultThreshold is the luma below which a pixel counts as black.
const DefaultThreshold = 128

// ImageSource adapts an image.Image to a PixelSource. Coordinates are
// relative to the image bounds; fully transparent pixels are white.
type ImageSource struct {
	Img       image.Image
	Threshold uint8
}

// NewImageSource wraps img with DefaultThreshold.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{Img: img, Threshold: DefaultThreshold}
}

func (s *ImageSource) Size() (int, int) {
	b := s.Img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *ImageSource) Black(x, y int) bool {
	origin := s.Img.Bounds().Min
	c := color.NRGBAModel.Convert(s.Img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
	if c.A < 128 {
		return false
	}
	return luma(c) < float64(s.Threshold)
}

// BitmapSource adapts a gomonochromebitmap.MonoBitmap; set pixels are ink.
type BitmapSource struct {
	bm gomonochromebitmap.MonoBitmap
}

func NewBitmapSource(bm gomonochromebitmap.MonoBitmap) *BitmapSource {
	return &BitmapSource{bm: bm}
}

func (s *BitmapSource) Size() (int, int) {
	return s.bm.W, s.bm.H
}

func (s *BitmapSource) Black(x, y int) bool {
	return s.bm.GetPix(x, y)
}

// maskSource is a precomputed ink mask, used for the planes split out of a
// color image.
type maskSource struct {
	w, h int
	ink  []bool
}

func newMaskSource(w, h int) *maskSource {
	return &maskSource{w: w, h: h, ink: make([]bool, w*h)}
}

func (m *maskSource) Size() (int, int) { return m.w, m.h }

func (m *maskSource) Black(x, y int) bool { return m.ink[y*m.w+x] }

func (m *maskSource) set(x, y int) { m.ink[y*m.w+x] = true }

func luma(c color.NRGBA) float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

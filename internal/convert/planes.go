package convert

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/MaxHalford/halfgone"

	"epd4in2b/internal/model"
)

// PlaneOptions controls how a color image is split into black/red planes.
type PlaneOptions struct {
	// Threshold is the luma below which a non-red pixel is black.
	// Zero means DefaultThreshold.
	Threshold uint8
	// Dither applies Floyd-Steinberg error diffusion to the black plane
	// instead of a hard threshold.
	Dither bool
	// NoRed folds red pixels into the black plane decision.
	NoRed bool
}

// Planes splits img into the black and red planes of a full refresh.
//
// Classification per pixel:
//
//   - transparent (alpha < 128) -> white
//   - strongly red (R > 128 and R - max(G, B) > 32) -> red plane
//   - dark (luma < threshold, or dithered to black) -> black plane
//   - everything else -> white
//
// img must be panel-sized in either orientation; see Pack.
func Planes(g model.Geometry, img image.Image, opts PlaneOptions) (model.Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if _, err := OrientationFor(g, w, h); err != nil {
		return model.Frame{}, err
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	var dithered *image.Gray
	if opts.Dither {
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
		dithered = halfgone.FloydSteinbergDitherer{}.Apply(gray)
	}

	black := newMaskSource(w, h)
	red := newMaskSource(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if c.A < 128 {
				continue
			}
			ink := classifyPixel(c, threshold)
			if opts.NoRed && ink == inkRed {
				ink = inkWhite
				if luma(c) < float64(threshold) {
					ink = inkBlack
				}
			}
			if ink != inkRed && dithered != nil {
				ink = inkWhite
				if dithered.GrayAt(x, y).Y < 128 {
					ink = inkBlack
				}
			}
			switch ink {
			case inkBlack:
				black.set(x, y)
			case inkRed:
				red.set(x, y)
			}
		}
	}

	blackPlane, err := Pack(g, black)
	if err != nil {
		return model.Frame{}, err
	}
	redPlane, err := Pack(g, red)
	if err != nil {
		return model.Frame{}, err
	}
	return model.Frame{Black: blackPlane, Red: redPlane}, nil
}

// inkColor indicates which plane a pixel should be drawn to.
type inkColor int

const (
	inkWhite inkColor = iota
	inkBlack
	inkRed
)

// classifyPixel decides whether a pixel is black, red, or white on the
// tri-color panel. Red wins over dark so saturated dark reds stay red.
func classifyPixel(c color.NRGBA, threshold uint8) inkColor {
	maxGB := c.G
	if c.B > maxGB {
		maxGB = c.B
	}
	redness := int(c.R) - int(maxGB)

	if c.R > 128 && redness > 32 {
		return inkRed
	}
	if luma(c) < float64(threshold) {
		return inkBlack
	}
	return inkWhite
}

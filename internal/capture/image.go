// Package capture produces panel-sized images from files, web pages and
// plain text.
package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"epd4in2b/internal/model"
)

// red is the color Compose paints red-plane pixels with.
var red = color.NRGBA{R: 255, A: 255}

// LoadImage decodes a PNG/JPEG file, honoring EXIF orientation, and
// conforms it to g with the given fit mode.
func LoadImage(path string, g model.Geometry, fit string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return Conform(img, g, fit)
}

// Conform brings img to panel size. Portrait images target the rotated
// panel (height x width) so they can be packed vertically instead of being
// shrunk to fit sideways.
//
//   - "fit": scale down to fit and letterbox on white
//   - "fill": scale to cover and crop around the center
//   - "none": reject anything not already panel-sized
func Conform(img image.Image, g model.Geometry, fit string) (image.Image, error) {
	b := img.Bounds()
	w, h := g.Width, g.Height
	if b.Dy() > b.Dx() && g.Width > g.Height {
		w, h = g.Height, g.Width
	}
	if b.Dx() == w && b.Dy() == h {
		return img, nil
	}

	switch fit {
	case model.FitNone:
		return nil, fmt.Errorf("capture: image is %dx%d, panel is %dx%d", b.Dx(), b.Dy(), g.Width, g.Height)
	case model.FitFill:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos), nil
	default:
		scaled := imaging.Fit(img, w, h, imaging.Lanczos)
		return imaging.PasteCenter(imaging.New(w, h, color.White), scaled), nil
	}
}

// Compose merges a black layer and a red layer into one opaque color
// image: dark pixels of redLayer are painted red over blackLayer, and
// transparent areas of either layer count as white. Both must have the
// same size.
func Compose(blackLayer, redLayer image.Image) (image.Image, error) {
	bb, rb := blackLayer.Bounds(), redLayer.Bounds()
	if bb.Dx() != rb.Dx() || bb.Dy() != rb.Dy() {
		return nil, fmt.Errorf("capture: layer sizes differ: %dx%d vs %dx%d", bb.Dx(), bb.Dy(), rb.Dx(), rb.Dy())
	}

	out := imaging.New(bb.Dx(), bb.Dy(), color.White)
	draw.Draw(out, out.Bounds(), blackLayer, bb.Min, draw.Over)

	gray := image.NewGray(out.Bounds())
	draw.Draw(gray, gray.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(gray, gray.Bounds(), redLayer, rb.Min, draw.Over)
	for y := 0; y < gray.Rect.Dy(); y++ {
		for x := 0; x < gray.Rect.Dx(); x++ {
			if gray.GrayAt(x, y).Y < 128 {
				out.SetNRGBA(x, y, red)
			}
		}
	}
	return out, nil
}

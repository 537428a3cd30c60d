package capture

import (
	"context"
	"image"

	"epd4in2b/internal/model"
)

// FileSource renders image files. When Red is set, Black and Red are
// separate layers merged with Compose; otherwise Black is a color picture.
type FileSource struct {
	Black string
	Red   string
	Fit   string
}

func (s FileSource) Render(_ context.Context, g model.Geometry) (image.Image, error) {
	img, err := LoadImage(s.Black, g, s.Fit)
	if err != nil {
		return nil, err
	}
	if s.Red == "" {
		return img, nil
	}
	redLayer, err := LoadImage(s.Red, g, s.Fit)
	if err != nil {
		return nil, err
	}
	return Compose(img, redLayer)
}

func (s FileSource) String() string { return "file:" + s.Black }

// URLSource renders a web page screenshot at panel resolution.
type URLSource struct {
	URL          string
	WaitSelector string
}

func (s URLSource) Render(ctx context.Context, g model.Geometry) (image.Image, error) {
	return Screenshot(ctx, ScreenshotOptions{
		URL:          s.URL,
		Width:        g.Width,
		Height:       g.Height,
		WaitSelector: s.WaitSelector,
	})
}

func (s URLSource) String() string { return "url:" + s.URL }

// TextSource renders a text card.
type TextSource struct {
	Text string
}

func (s TextSource) Render(_ context.Context, g model.Geometry) (image.Image, error) {
	return TextCard(g, s.Text)
}

func (s TextSource) String() string { return "text" }

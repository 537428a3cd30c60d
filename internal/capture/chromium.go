package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/disintegration/imaging"
)

// DefaultTimeout bounds a screenshot when ScreenshotOptions.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ScreenshotOptions defines parameters for a Chromium-based screenshot.
type ScreenshotOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:3000/frame".
	URL string

	// Width and Height are the viewport dimensions in pixels, normally the
	// panel geometry.
	Width  int
	Height int

	// WaitSelector, if set, is waited for (visible) before the capture,
	// e.g. `[data-ready="true"]`. Otherwise the body is enough.
	WaitSelector string

	// Timeout bounds the entire capture operation. If zero, DefaultTimeout
	// is used.
	Timeout time.Duration
}

// Screenshot launches a headless Chromium via chromedp, renders opts.URL at
// the requested viewport and returns the full-color result. Conversion to
// panel planes is left to the caller.
func Screenshot(parentCtx context.Context, opts ScreenshotOptions) (image.Image, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid viewport %dx%d", opts.Width, opts.Height)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	sel := opts.WaitSelector
	if sel == "" {
		sel = "body"
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	// Pages taller than the viewport come back as a longer full-page shot.
	if b := img.Bounds(); b.Dx() != opts.Width || b.Dy() != opts.Height {
		img = imaging.Crop(img, image.Rect(0, 0, opts.Width, opts.Height))
	}
	return img, nil
}

// Package display is the caller-facing facade over the panel driver.
//
// A Session follows the lifecycle
//
//	New -> Init -> [Clear] -> Display* -> Sleep -> (Init again | Close)
//
// and adds the conveniences a program usually wants on top of raw planes:
// pushing a model.Frame, or converting an arbitrary image on the way out.
package display

import (
	"context"
	"fmt"
	"image"
	"time"

	"epd4in2b/internal/convert"
	"epd4in2b/internal/epd"
	appLog "epd4in2b/internal/log"
	"epd4in2b/internal/model"
)

// Options configures a Session. The zero value drives the 4.2" (B) panel
// with unbounded busy waits.
type Options struct {
	// Geometry defaults to model.Panel4in2B.
	Geometry model.Geometry

	// BusyTimeout, if positive, bounds every operation. A panel that keeps
	// BUSY asserted past it fails the operation with
	// context.DeadlineExceeded and must be re-initialized.
	BusyTimeout time.Duration

	// Planes controls DisplayImage's color split.
	Planes convert.PlaneOptions

	// Revision overrides revision detection. The zero value trusts it.
	Revision epd.RevisionMode
}

// Session owns one Driver. Like the driver it is not safe for concurrent
// use.
type Session struct {
	drv  *epd.Driver
	opts Options
}

// New binds a session to bus and opens it. A bus that cannot be opened
// fails construction with epd.ErrBusInit.
func New(bus epd.Bus, opts Options) (*Session, error) {
	if opts.Geometry == (model.Geometry{}) {
		opts.Geometry = model.Panel4in2B
	}
	drv, err := epd.NewDriver(bus, opts.Geometry)
	if err != nil {
		return nil, err
	}
	drv.SetRevisionMode(opts.Revision)
	return &Session{drv: drv, opts: opts}, nil
}

// Geometry returns the bound panel geometry.
func (s *Session) Geometry() model.Geometry { return s.drv.Geometry() }

// State returns the driver's protocol state.
func (s *Session) State() epd.State { return s.drv.State() }

// Revision returns the revision the panel was last initialized as.
func (s *Session) Revision() epd.Revision { return s.drv.Revision() }

func (s *Session) Init(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.drv.Init(ctx)
}

func (s *Session) Clear(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.drv.Clear(ctx)
}

// Display pushes two packed planes. See epd.Driver.Display.
func (s *Session) Display(ctx context.Context, black, red model.FrameBuffer) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.drv.Display(ctx, black, red)
}

// DisplayFrame pushes both planes of f.
func (s *Session) DisplayFrame(ctx context.Context, f model.Frame) error {
	return s.Display(ctx, f.Black, f.Red)
}

// DisplayImage converts img with the session's plane options and pushes
// the result. It returns the frame that was sent.
func (s *Session) DisplayImage(ctx context.Context, img image.Image) (model.Frame, error) {
	f, err := convert.Planes(s.Geometry(), img, s.opts.Planes)
	if err != nil {
		return model.Frame{}, fmt.Errorf("display: convert: %w", err)
	}
	if err := s.DisplayFrame(ctx, f); err != nil {
		return model.Frame{}, err
	}
	return f, nil
}

func (s *Session) Sleep(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.drv.Sleep(ctx)
}

// Close puts a Ready panel to sleep and releases the bus. In any other
// state it only releases the bus.
func (s *Session) Close(ctx context.Context) error {
	if s.drv.State() == epd.StateReady {
		err := s.Sleep(ctx)
		if err != nil {
			if cerr := s.drv.Close(); cerr != nil {
				appLog.Warn("display: release after failed sleep", "err", cerr)
			}
		}
		return err
	}
	return s.drv.Close()
}

func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.BusyTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.BusyTimeout)
	}
	return ctx, func() {}
}

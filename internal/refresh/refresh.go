// Package refresh runs the render-and-push cycle. A Service is the single
// owner of the display session; the cron scheduler and the HTTP API both go
// through it, and its mutex serializes every panel operation.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"epd4in2b/internal/convert"
	"epd4in2b/internal/display"
	appLog "epd4in2b/internal/log"
	"epd4in2b/internal/model"
)

// ErrNoFrame is returned by Preview before the first successful refresh.
var ErrNoFrame = errors.New("refresh: no frame displayed yet")

// Source produces a picture for the panel.
type Source interface {
	Render(ctx context.Context, g model.Geometry) (image.Image, error)
}

// Status is a snapshot of the service for the API.
type Status struct {
	State       string    `json:"state"`
	Revision    string    `json:"revision"`
	Source      string    `json:"source"`
	Refreshes   int       `json:"refreshes"`
	LastRefresh time.Time `json:"last_refresh"`
	LastError   string    `json:"last_error,omitempty"`
	Running     bool      `json:"running"`
}

// Service serializes access to one display session.
type Service struct {
	sess        *display.Session
	src         Source
	previewPath string

	// opMu serializes panel operations; mu guards the bookkeeping below so
	// Status and Preview never wait for a refresh.
	opMu sync.Mutex

	mu          sync.Mutex
	running     bool
	state       string
	revision    string
	frame       *model.Frame
	refreshes   int
	lastRefresh time.Time
	lastErr     error
}

// New returns a Service driving sess with pictures from src. If
// previewPath is set, every displayed frame is also written there as PNG.
func New(sess *display.Session, src Source, previewPath string) *Service {
	return &Service{
		sess:        sess,
		src:         src,
		previewPath: previewPath,
		state:       sess.State().String(),
		revision:    sess.Revision().String(),
	}
}

// Refresh renders the source and pushes it: init, display, sleep. The
// source is rendered before the panel is woken, so a failing source never
// touches the panel.
func (s *Service) Refresh(ctx context.Context) error {
	s.begin()
	defer s.opMu.Unlock()

	start := time.Now()
	f, err := s.refresh(ctx)
	s.finish(f, err)
	if err != nil {
		appLog.Error("refresh failed", err, "source", s.sourceName())
		return err
	}
	appLog.Info("refresh done", "source", s.sourceName(), "took", time.Since(start).Round(time.Millisecond))

	if s.previewPath != "" {
		if err := s.writePreview(*f); err != nil {
			appLog.Warn("preview write failed", "path", s.previewPath, "err", err)
		}
	}
	return nil
}

func (s *Service) refresh(ctx context.Context) (*model.Frame, error) {
	if s.src == nil {
		return nil, errors.New("refresh: no source configured")
	}
	img, err := s.src.Render(ctx, s.sess.Geometry())
	if err != nil {
		return nil, fmt.Errorf("refresh: render: %w", err)
	}

	if err := s.sess.Init(ctx); err != nil {
		return nil, err
	}
	f, err := s.sess.DisplayImage(ctx, img)
	if err != nil {
		return nil, err
	}
	if err := s.sess.Sleep(ctx); err != nil {
		return nil, err
	}
	return &f, nil
}

// Clear wakes the panel, paints it white and puts it back to sleep.
func (s *Service) Clear(ctx context.Context) error {
	s.begin()
	defer s.opMu.Unlock()

	err := s.sess.Init(ctx)
	if err == nil {
		err = s.sess.Clear(ctx)
	}
	if err == nil {
		err = s.sess.Sleep(ctx)
	}
	if err != nil {
		s.finish(nil, err)
		appLog.Error("clear failed", err)
		return err
	}
	f := model.NewFrame(s.sess.Geometry())
	s.finish(&f, nil)
	appLog.Info("panel cleared")
	return nil
}

// Status returns a snapshot as of the last completed panel operation.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:       s.state,
		Revision:    s.revision,
		Source:      s.sourceName(),
		Refreshes:   s.refreshes,
		LastRefresh: s.lastRefresh,
		Running:     s.running,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Preview returns the last displayed frame as the panel shows it.
func (s *Service) Preview() (image.Image, error) {
	s.mu.Lock()
	f := s.frame
	s.mu.Unlock()
	if f == nil {
		return nil, ErrNoFrame
	}
	return convert.Render(s.sess.Geometry(), *f)
}

// Close sleeps the panel if needed and releases the bus.
func (s *Service) Close(ctx context.Context) error {
	s.begin()
	defer s.opMu.Unlock()
	err := s.sess.Close(ctx)
	s.mu.Lock()
	s.running = false
	s.state = s.sess.State().String()
	s.mu.Unlock()
	return err
}

// begin takes the panel and marks the service busy. The caller releases
// opMu.
func (s *Service) begin() {
	s.opMu.Lock()
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

// finish records the outcome of a panel operation.
func (s *Service) finish(f *model.Frame, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.state = s.sess.State().String()
	s.revision = s.sess.Revision().String()
	s.lastErr = err
	if err == nil {
		s.frame = f
		s.refreshes++
		s.lastRefresh = time.Now()
	}
}

func (s *Service) writePreview(f model.Frame) error {
	img, err := convert.Render(s.sess.Geometry(), f)
	if err != nil {
		return err
	}
	return imaging.Save(img, s.previewPath)
}

func (s *Service) sourceName() string {
	if st, ok := s.src.(fmt.Stringer); ok {
		return st.String()
	}
	if s.src == nil {
		return "none"
	}
	return fmt.Sprintf("%T", s.src)
}

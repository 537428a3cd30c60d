package refresh

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"epd4in2b/internal/display"
	"epd4in2b/internal/epd"
	"epd4in2b/internal/model"
)

type staticSource struct {
	img   image.Image
	err   error
	calls int
}

func (s *staticSource) Render(context.Context, model.Geometry) (image.Image, error) {
	s.calls++
	return s.img, s.err
}

func panelImage() image.Image {
	img := imaging.New(400, 300, color.White)
	img.Set(0, 0, color.Black)
	img.Set(1, 0, color.NRGBA{R: 255, A: 255})
	return img
}

func newService(t *testing.T, src Source, preview string) (*Service, *epd.SimBus) {
	t.Helper()
	bus := epd.NewSimBus(epd.RevisionB)
	sess, err := display.New(bus, display.Options{})
	if err != nil {
		t.Fatalf("display.New: %v", err)
	}
	return New(sess, src, preview), bus
}

func TestRefresh(t *testing.T) {
	preview := filepath.Join(t.TempDir(), "preview.png")
	src := &staticSource{img: panelImage()}
	s, bus := newService(t, src, preview)

	if _, err := s.Preview(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Preview before refresh: %v", err)
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	st := s.Status()
	if st.State != "sleeping" || st.Revision != "revision-b" || st.Refreshes != 1 || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
	if bus.IsOpen() {
		t.Error("bus left open after refresh")
	}
	if err := bus.Err(); err != nil {
		t.Errorf("framing: %v", err)
	}

	img, err := s.Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if c := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA); c.R != 0 || c.A != 255 {
		t.Errorf("preview (0,0) = %v, want black", c)
	}
	if c := color.NRGBAModel.Convert(img.At(1, 0)).(color.NRGBA); c.R != 255 || c.G != 0 {
		t.Errorf("preview (1,0) = %v, want red", c)
	}

	saved, err := imaging.Open(preview)
	if err != nil {
		t.Fatalf("preview file: %v", err)
	}
	if b := saved.Bounds(); b.Dx() != 400 || b.Dy() != 300 {
		t.Errorf("preview size = %v", b)
	}

	// A second cycle re-initializes from sleep.
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if bus.Opens != 2 {
		t.Errorf("opens = %d, want 2", bus.Opens)
	}
}

func TestRefreshSourceErrorLeavesPanelAlone(t *testing.T) {
	src := &staticSource{err: errors.New("page did not load")}
	s, bus := newService(t, src, "")

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded with failing source")
	}
	if len(bus.Transactions) != 0 {
		t.Errorf("bus saw %d transactions", len(bus.Transactions))
	}
	st := s.Status()
	if st.LastError == "" || st.Refreshes != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestRefreshWithoutSource(t *testing.T) {
	s, _ := newService(t, nil, "")
	if err := s.Refresh(context.Background()); err == nil {
		t.Error("Refresh succeeded without a source")
	}
	if got := s.Status().Source; got != "none" {
		t.Errorf("source = %q, want none", got)
	}
}

func TestClear(t *testing.T) {
	s, bus := newService(t, &staticSource{img: panelImage()}, "")
	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := bus.DataAfter(0x26, 0); len(got) != model.Panel4in2B.PlaneSize() || got[0] != 0x00 {
		t.Errorf("red plane not cleared on the wire")
	}
	img, err := s.Preview()
	if err != nil {
		t.Fatal(err)
	}
	if c := color.NRGBAModel.Convert(img.At(5, 5)).(color.NRGBA); c.R != 255 || c.G != 255 {
		t.Errorf("preview after clear = %v, want white", c)
	}
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	s, bus := newService(t, &staticSource{img: panelImage()}, "")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- s.Refresh(context.Background())
			} else {
				errs <- s.Clear(context.Background())
			}
			_ = s.Status()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("operation failed: %v", err)
		}
	}
	if err := bus.Err(); err != nil {
		t.Errorf("framing violated under concurrency: %v", err)
	}
	if got := s.Status().Refreshes; got != 8 {
		t.Errorf("refreshes = %d, want 8", got)
	}
}

func TestClose(t *testing.T) {
	s, bus := newService(t, &staticSource{img: panelImage()}, "")
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.IsOpen() {
		t.Error("bus still open")
	}
}

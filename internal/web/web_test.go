package web

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"epd4in2b/internal/battery"
	"epd4in2b/internal/config"
	"epd4in2b/internal/refresh"
)

type fakePanel struct {
	mu        sync.Mutex
	refreshes int
	clears    int
	err       error
	preview   image.Image
}

func (p *fakePanel) Refresh(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return p.err
}

func (p *fakePanel) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	return p.err
}

func (p *fakePanel) Status() refresh.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return refresh.Status{State: "sleeping", Revision: "revision-b", Refreshes: p.refreshes}
}

func (p *fakePanel) Preview() (image.Image, error) {
	if p.preview == nil {
		return nil, refresh.ErrNoFrame
	}
	return p.preview, nil
}

func newTestServer(cfg *config.Config, p *fakePanel, bat battery.Reader) http.Handler {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return NewServer(context.Background(), cfg, p, bat).Handler()
}

func do(h http.Handler, method, path string, auth ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(newTestServer(nil, &fakePanel{}, nil), http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	h := newTestServer(nil, &fakePanel{}, battery.Static{Percent: 64, VoltageMv: 3900})
	rec := do(h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var got struct {
		State   string          `json:"state"`
		Battery *battery.Status `json:"battery"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.State != "sleeping" {
		t.Errorf("state = %q", got.State)
	}
	if got.Battery == nil || got.Battery.Percent != 64 {
		t.Errorf("battery = %+v", got.Battery)
	}
}

func TestRefreshAndClear(t *testing.T) {
	p := &fakePanel{}
	h := newTestServer(nil, p, nil)

	if rec := do(h, http.MethodPost, "/api/refresh"); rec.Code != http.StatusOK {
		t.Errorf("refresh = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodPost, "/api/clear"); rec.Code != http.StatusOK {
		t.Errorf("clear = %d %s", rec.Code, rec.Body.String())
	}
	if p.refreshes != 1 || p.clears != 1 {
		t.Errorf("refreshes=%d clears=%d", p.refreshes, p.clears)
	}

	if rec := do(h, http.MethodGet, "/api/refresh"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh = %d, want 405", rec.Code)
	}

	p.err = errors.New("epd: busy wait aborted")
	rec := do(h, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("failing refresh = %d, want 502", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	p := &fakePanel{}
	h := newTestServer(nil, p, nil)

	if rec := do(h, http.MethodGet, "/preview.png"); rec.Code != http.StatusNotFound {
		t.Errorf("preview before refresh = %d, want 404", rec.Code)
	}

	p.preview = imaging.New(400, 300, color.White)
	rec := do(h, http.MethodGet, "/preview.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := imaging.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 300 {
		t.Errorf("preview size = %v", b)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	h := newTestServer(cfg, &fakePanel{}, nil)

	tests := []struct {
		name string
		path string
		auth []string
		want int
	}{
		{"health is open", "/health", nil, http.StatusOK},
		{"status needs auth", "/api/status", nil, http.StatusUnauthorized},
		{"wrong password", "/api/status", []string{"admin", "nope"}, http.StatusUnauthorized},
		{"good credentials", "/api/status", []string{"admin", "s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.path, tt.auth...)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	cfg.BasicAuth.Password = ""
	h = newTestServer(cfg, &fakePanel{}, nil)
	if rec := do(h, http.MethodGet, "/api/status"); rec.Code != http.StatusOK {
		t.Errorf("empty password should disable auth, got %d", rec.Code)
	}
}

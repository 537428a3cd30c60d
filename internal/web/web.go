package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"epd4in2b/internal/battery"
	"epd4in2b/internal/config"
	appLog "epd4in2b/internal/log"
	"epd4in2b/internal/refresh"
)

// Panel is what the API needs from the refresh service.
type Panel interface {
	Refresh(ctx context.Context) error
	Clear(ctx context.Context) error
	Status() refresh.Status
	Preview() (image.Image, error)
}

// Server provides the status and control API for the panel.
type Server struct {
	cfg     *config.Config
	panel   Panel
	battery battery.Reader
	mux     *http.ServeMux

	// base is the context panel operations run under. A refresh outlives
	// the HTTP request that triggered it, but not the process.
	base context.Context
}

// NewServer constructs a new Server. bat may be nil.
func NewServer(ctx context.Context, cfg *config.Config, panel Panel, bat battery.Reader) *Server {
	s := &Server{
		cfg:     cfg,
		panel:   panel,
		battery: bat,
		mux:     http.NewServeMux(),
		base:    ctx,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave the API open.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epd4in2b", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	refresh.Status
	Battery *battery.Status `json:"battery,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.panel.Status()}
	if s.battery != nil {
		st, err := s.battery.Read(r.Context())
		if err != nil {
			appLog.Warn("battery read failed", "err", err)
		} else {
			resp.Battery = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePreview encodes the last displayed frame as the panel shows it.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img, err := s.panel.Preview()
	if errors.Is(err, refresh.ErrNoFrame) {
		writeError(w, http.StatusNotFound, "nothing displayed yet")
		return
	}
	if err != nil {
		appLog.Error("preview render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		appLog.Error("preview encode failed", err)
	}
}

// handleRefresh runs a refresh and reports its outcome. ?async=1 returns
// 202 immediately and refreshes in the background.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.runPanelOp(w, r, "refresh", s.panel.Refresh)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.runPanelOp(w, r, "clear", s.panel.Clear)
}

func (s *Server) runPanelOp(w http.ResponseWriter, r *http.Request, name string, op func(context.Context) error) {
	appLog.Info("api panel request", "op", name, "remote", r.RemoteAddr)
	if r.URL.Query().Get("async") == "1" {
		go func() {
			_ = op(s.base)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}
	if err := op(s.base); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.panel.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

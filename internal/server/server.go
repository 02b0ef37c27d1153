// Package server exposes the dashboard and its HTTP API: manual run
// triggering, the live progress stream, and the aggregation endpoints.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/coordinator"
	"github.com/nicorosen/speed-test-monitor/internal/progress"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

//go:embed assets
var assetsFS embed.FS

// Server wires the HTTP surface to the coordinator, bus, and store.
type Server struct {
	co     *coordinator.Coordinator
	bus    *progress.Bus
	store  storage.Store
	log    logx.Logger
	getCfg func() *config.Config

	// Deflects accidental request hammering of POST /api/run-test.
	// Limited requests still get a 200 acknowledgement.
	runLimiter *rate.Limiter

	page *template.Template
	http *http.Server
}

func New(co *coordinator.Coordinator, bus *progress.Bus, store storage.Store, getCfg func() *config.Config, log logx.Logger) (*Server, error) {
	page, err := template.ParseFS(assetsFS, "assets/dashboard.html")
	if err != nil {
		return nil, err
	}

	cfg := getCfg()
	perMin := cfg.Server.RunPerMinute
	s := &Server{
		co:         co,
		bus:        bus,
		store:      store,
		log:        log,
		getCfg:     getCfg,
		runLimiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
		page:       page,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/run-test", s.withCORS(s.handleRunTest))
	mux.HandleFunc("/api/test-progress", s.withCORS(s.handleTestProgress))
	mux.HandleFunc("/api/speed-data", s.withCORS(s.handleSpeedData))
	mux.HandleFunc("/api/summary", s.withCORS(s.handleSummary))

	s.http = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Run serves until ctx ends, then shuts down gracefully. Streaming clients
// are given a short grace period to observe their terminal event.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info("http server listening", logx.String("addr", s.http.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = s.http.Close()
	}
	return <-errCh
}

// withCORS permits cross-origin access from any origin and answers
// preflight requests.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response write failed", logx.Err(err))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	cfg := s.getCfg()
	data := map[string]any{
		"ContractedDownload": cfg.Speeds.DownloadMbps,
		"ContractedUpload":   cfg.Speeds.UploadMbps,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.log.Warn("dashboard render failed", logx.Err(err))
	}
}

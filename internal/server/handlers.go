package server

import (
	"net/http"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/stats"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// seriesWindow is the chart window served by /api/speed-data.
const seriesWindow = 7 * 24 * time.Hour

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleRunTest starts a run when idle. The response is always 200 with a
// status text; an already-running test is acknowledged honestly instead of
// pretending a new one was initiated.
func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.runLimiter.Allow() {
		s.writeJSON(w, statusResponse{Status: "Rate limit exceeded. Try again shortly."})
		return
	}

	status := s.co.Start("http")
	s.writeJSON(w, statusResponse{Status: status.Ack()})
}

func (s *Server) handleSpeedData(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Load(r.Context())
	if err != nil {
		s.log.Error("speed data load failed", logx.Err(err))
		s.writeJSON(w, errorResponse{Error: err.Error()})
		return
	}
	if len(recs) == 0 {
		s.writeJSON(w, errorResponse{Error: "No data available"})
		return
	}

	series := stats.BuildSeries(recs, time.Now(), seriesWindow)
	if series == nil {
		s.writeJSON(w, errorResponse{Error: "No recent data available"})
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Load(r.Context())
	if err != nil {
		s.log.Error("summary load failed", logx.Err(err))
		s.writeJSON(w, errorResponse{Error: err.Error()})
		return
	}

	cfg := s.getCfg()
	contracted := stats.Contracted{
		DownloadMbps: cfg.Speeds.DownloadMbps,
		UploadMbps:   cfg.Speeds.UploadMbps,
	}
	summary := stats.BuildSummary(recs, time.Now(), contracted)
	if summary == nil {
		s.writeJSON(w, struct{}{})
		return
	}
	s.writeJSON(w, summary)
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/progress"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// handleTestProgress streams progress events until the bus is drained and no
// test is running, then emits a terminal event and closes.
//
// This is a polling drain (fixed delay when the queue is empty) over the
// single shared queue; see the progress package for the single-viewer
// caveat. A client disconnect ends only this stream; the run and the queue
// are unaffected.
func (s *Server) handleTestProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disable proxy buffering (nginx) so events arrive incrementally.
	h.Set("X-Accel-Buffering", "no")

	interval := s.getCfg().Server.PollIntervalDuration()
	ctx := r.Context()

	// A fault while draining becomes one error event; the stream must end
	// gracefully rather than hang or crash the server.
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("progress stream fault", logx.Any("panic", rec))
			_ = sendEvent(w, flusher, map[string]any{"error": fmt.Sprint(rec)})
		}
	}()

	for s.bus.Running() || s.bus.Len() > 0 {
		if m, ok := s.bus.TryPop(); ok {
			if err := sendEvent(w, flusher, encodeMessage(m)); err != nil {
				// Client went away; the queue keeps its remaining
				// messages for a future reader.
				s.log.Debug("progress stream closed by client", logx.Err(err))
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Debug("progress stream client disconnected")
			return
		case <-time.After(interval):
		}
	}

	_ = sendEvent(w, flusher, map[string]any{"event": "complete"})
}

// encodeMessage maps a progress message to its wire shape.
func encodeMessage(m progress.Message) map[string]any {
	switch m.Kind {
	case progress.KindError, progress.KindFatal:
		return map[string]any{"error": m.Text}
	case progress.KindComplete:
		return map[string]any{"event": "test_complete"}
	default:
		return map[string]any{"message": m.Text}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

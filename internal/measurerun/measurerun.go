// Package measurerun is the measurement pipeline shared by the dashboard's
// in-process runs and the speedtest-run CLI: run one measurement, persist
// the record, regenerate the compliance report, and emit status lines.
package measurerun

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/stats"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/measure"
)

// EmitFunc receives status and summary lines as the pipeline advances.
type EmitFunc func(line string)

// Pipeline runs measurements and persists their results.
type Pipeline struct {
	store storage.Store
	cfg   *config.Config
	emit  EmitFunc
}

func New(store storage.Store, cfg *config.Config, emit EmitFunc) *Pipeline {
	if emit == nil {
		emit = func(string) {}
	}
	return &Pipeline{store: store, cfg: cfg, emit: emit}
}

// Do executes one measurement run end to end. The returned record has
// already been appended to the store and the report regenerated.
func (p *Pipeline) Do(ctx context.Context) (storage.Record, error) {
	p.emit(fmt.Sprintf("STATUS: Running speed test at %s...", time.Now().Format("2006-01-02 15:04:05")))

	mc := p.cfg.Measure
	runner := measure.NewRunner(measure.RunConfig{
		ServerCount:      mc.ServerCount,
		FullTestServers:  mc.FullTestServers,
		SavingMode:       mc.SavingMode,
		MaxConnections:   mc.MaxConnections,
		PingConcurrency:  mc.PingConcurrency,
		OperationTimeout: mc.OperationTimeoutDuration(),
	}, measure.WithProgress(p.emit))

	runCtx := ctx
	if to := mc.OperationTimeoutDuration(); to > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, to)
		defer cancel()
	}

	m, err := runner.Run(runCtx)
	if err != nil {
		p.emit(fmt.Sprintf("ERROR: Speed test failed: %v", err))
		return storage.Record{}, fmt.Errorf("measurement: %w", err)
	}

	rec := p.toRecord(m)
	if err := p.store.Append(ctx, rec); err != nil {
		return rec, fmt.Errorf("append record: %w", err)
	}

	p.emitSummary(rec)

	if err := p.WriteReport(ctx); err != nil {
		// The record is already saved; a report failure should not fail
		// the run.
		p.emit(fmt.Sprintf("ERROR: report generation failed: %v", err))
	}

	p.emit("STATUS: Speed test completed successfully!")
	return rec, nil
}

func (p *Pipeline) toRecord(m *measure.Measurement) storage.Record {
	speeds := p.cfg.Speeds
	rec := storage.Record{
		Timestamp:      m.Timestamp,
		DownloadMbps:   round2(m.DownloadMbps),
		UploadMbps:     round2(m.UploadMbps),
		PingMs:         round2(m.PingMs),
		ServerHost:     m.ServerHost,
		ServerLocation: m.ServerLocation(),
		ClientIP:       m.ClientIP,
	}
	if speeds.DownloadMbps > 0 {
		rec.DownloadPercent = round2(m.DownloadMbps / speeds.DownloadMbps * 100)
	}
	if speeds.UploadMbps > 0 {
		rec.UploadPercent = round2(m.UploadMbps / speeds.UploadMbps * 100)
	}
	return rec
}

func (p *Pipeline) emitSummary(rec storage.Record) {
	p.emit("")
	p.emit("=== Speed Test Results ===")
	p.emit(fmt.Sprintf("Time: %s", rec.Timestamp.Format(time.RFC3339)))
	p.emit(fmt.Sprintf("Server: %s", rec.ServerLocation))
	p.emit(fmt.Sprintf("Ping: %.2f ms", rec.PingMs))
	p.emit(fmt.Sprintf("Download: %.2f Mbps (%.2f%% of contracted)", rec.DownloadMbps, rec.DownloadPercent))
	p.emit(fmt.Sprintf("Upload: %.2f Mbps (%.2f%% of contracted)", rec.UploadMbps, rec.UploadPercent))
	p.emit("=========================")
	p.emit("")
}

// WriteReport regenerates the all-time compliance report from the store.
func (p *Pipeline) WriteReport(ctx context.Context) error {
	path := p.cfg.Report.Path
	if path == "" {
		return nil
	}

	recs, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	contracted := stats.Contracted{
		DownloadMbps: p.cfg.Speeds.DownloadMbps,
		UploadMbps:   p.cfg.Speeds.UploadMbps,
	}
	rep := stats.BuildReport(recs, time.Now(), contracted)

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

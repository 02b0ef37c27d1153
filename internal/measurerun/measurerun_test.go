package measurerun

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/measure"
)

type memStore struct{ recs []storage.Record }

func (m *memStore) Append(ctx context.Context, r storage.Record) error {
	m.recs = append(m.recs, r)
	return nil
}
func (m *memStore) Load(ctx context.Context) ([]storage.Record, error) { return m.recs, nil }
func (m *memStore) Close() error                                       { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return cfg
}

func TestEmitAcceptedAsMeasureProgressCallback(t *testing.T) {
	var lines []string
	p := New(&memStore{}, testConfig(t), func(l string) { lines = append(lines, l) })

	// The pipeline's emit func must plug straight into the measurement
	// runner's progress option.
	if r := measure.NewRunner(measure.RunConfig{}, measure.WithProgress(p.emit)); r == nil {
		t.Fatal("runner not constructed")
	}

	p.emit("STATUS: Finding best server...")
	if len(lines) != 1 || lines[0] != "STATUS: Finding best server..." {
		t.Fatalf("lines = %v", lines)
	}
}

func TestToRecordComputesCompliancePercents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speeds = config.SpeedsConfig{DownloadMbps: 1000, UploadMbps: 40}
	p := New(&memStore{}, cfg, nil)

	rec := p.toRecord(&measure.Measurement{
		Timestamp:     time.Now(),
		DownloadMbps:  850.456,
		UploadMbps:    30,
		PingMs:        12.345,
		ServerHost:    "speedtest.example.net:8080",
		ServerName:    "Madrid",
		ServerCountry: "Spain",
		ClientIP:      "203.0.113.9",
	})

	if rec.DownloadMbps != 850.46 {
		t.Fatalf("download = %v, want 850.46", rec.DownloadMbps)
	}
	if rec.DownloadPercent != 85.05 {
		t.Fatalf("download percent = %v, want 85.05", rec.DownloadPercent)
	}
	if rec.UploadPercent != 75 {
		t.Fatalf("upload percent = %v, want 75", rec.UploadPercent)
	}
	if rec.ServerLocation != "Madrid, Spain" {
		t.Fatalf("server location = %q", rec.ServerLocation)
	}
}

func TestToRecordZeroContractedSpeeds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speeds = config.SpeedsConfig{}
	p := New(&memStore{}, cfg, nil)

	rec := p.toRecord(&measure.Measurement{DownloadMbps: 100, UploadMbps: 10})
	if rec.DownloadPercent != 0 || rec.UploadPercent != 0 {
		t.Fatalf("percents = %v/%v, want 0/0", rec.DownloadPercent, rec.UploadPercent)
	}
}

func TestWriteReport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Path = filepath.Join(t.TempDir(), "reports", "speed_report.json")

	store := &memStore{recs: []storage.Record{
		{Timestamp: time.Now().Add(-time.Hour), DownloadMbps: 1000, UploadMbps: 30},
		{Timestamp: time.Now(), DownloadMbps: 800, UploadMbps: 20},
	}}
	p := New(store, cfg, nil)

	if err := p.WriteReport(context.Background()); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	data, err := os.ReadFile(cfg.Report.Path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep struct {
		Tests           int     `json:"tests"`
		AverageDownload float64 `json:"average_download"`
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rep.Tests != 2 {
		t.Fatalf("tests = %d, want 2", rep.Tests)
	}
	if rep.AverageDownload != 900 {
		t.Fatalf("average_download = %v, want 900", rep.AverageDownload)
	}
}

func TestWriteReportNoPathIsNoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Path = ""
	p := New(&memStore{}, cfg, nil)
	if err := p.WriteReport(context.Background()); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
}

func TestEmitSummaryLines(t *testing.T) {
	cfg := testConfig(t)
	var lines []string
	p := New(&memStore{}, cfg, func(l string) { lines = append(lines, l) })

	p.emitSummary(storage.Record{
		Timestamp:       time.Now(),
		DownloadMbps:    950.5,
		UploadMbps:      33.2,
		PingMs:          8.1,
		DownloadPercent: 86.4,
		UploadPercent:   94.9,
		ServerLocation:  "Madrid, Spain",
	})

	if len(lines) == 0 {
		t.Fatal("no summary lines emitted")
	}
	joined := ""
	for _, l := range lines {
		joined += l + "\n"
	}
	for _, want := range []string{"=== Speed Test Results ===", "Madrid, Spain", "950.50 Mbps", "86.40% of contracted"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("summary missing %q:\n%s", want, joined)
		}
	}
}

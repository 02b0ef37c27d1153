package stats

import (
	"testing"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/storage"
)

var contracted = Contracted{DownloadMbps: 1000, UploadMbps: 40}

func rec(ts time.Time, dl, ul, ping float64) storage.Record {
	return storage.Record{Timestamp: ts, DownloadMbps: dl, UploadMbps: ul, PingMs: ping, ServerHost: "host-a"}
}

func TestBuildSummary24hWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	recs := []storage.Record{
		rec(now.Add(-48*time.Hour), 500, 10, 50), // outside 24h window
		rec(now.Add(-2*time.Hour), 800, 30, 10),
		rec(now.Add(-1*time.Hour), 900, 35, 20),
	}

	s := BuildSummary(recs, now, contracted)
	if s == nil {
		t.Fatalf("expected summary")
	}
	if s.TestCount != 2 {
		t.Fatalf("expected 2 tests in window, got %d", s.TestCount)
	}
	if s.Averages24h.DownloadMbps != 850 {
		t.Fatalf("unexpected avg download: %v", s.Averages24h.DownloadMbps)
	}
	if s.MinMax24h.MinDownloadMbps != 800 || s.MinMax24h.MaxDownloadMbps != 900 {
		t.Fatalf("unexpected min/max: %+v", s.MinMax24h)
	}
	if s.Compliance.DownloadPercent != 85 {
		t.Fatalf("unexpected download compliance: %v", s.Compliance.DownloadPercent)
	}
	// Latest test is the newest record regardless of window.
	if s.LatestTest.DownloadMbps != 900 {
		t.Fatalf("unexpected latest: %+v", s.LatestTest)
	}
}

func TestBuildSummaryEmpty(t *testing.T) {
	if s := BuildSummary(nil, time.Now(), contracted); s != nil {
		t.Fatalf("expected nil summary for no data, got %+v", s)
	}
}

func TestBuildSeriesWindowAndOrder(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	recs := []storage.Record{
		rec(now.Add(-1*time.Hour), 900, 35, 20), // deliberately unsorted input
		rec(now.Add(-10*24*time.Hour), 100, 5, 80),
		rec(now.Add(-2*time.Hour), 800, 30, 10),
	}

	s := BuildSeries(recs, now, 7*24*time.Hour)
	if s == nil {
		t.Fatalf("expected series")
	}
	if len(s.Timestamps) != 2 {
		t.Fatalf("expected 2 points in window, got %d", len(s.Timestamps))
	}
	if s.Download[0] != 800 || s.Download[1] != 900 {
		t.Fatalf("expected chronological order, got %v", s.Download)
	}
	if len(s.DownloadMA) != 2 || len(s.ServerHost) != 2 {
		t.Fatalf("series arrays must be parallel: %+v", s)
	}
}

func TestBuildSeriesNoRecentData(t *testing.T) {
	now := time.Now()
	recs := []storage.Record{rec(now.Add(-30*24*time.Hour), 100, 5, 80)}
	if s := BuildSeries(recs, now, 7*24*time.Hour); s != nil {
		t.Fatalf("expected nil series, got %+v", s)
	}
}

func TestMovingAverage(t *testing.T) {
	got := movingAverage([]float64{10, 20, 30})
	want := []float64{10, 15, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ma[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBuildReportCompliance(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	recs := []storage.Record{
		rec(now.Add(-3*time.Hour), 700, 30, 10), // below 80% of 1000 download
		rec(now.Add(-2*time.Hour), 850, 35, 10), // compliant both ways
		rec(now.Add(-1*time.Hour), 900, 20, 10), // upload below 80% of 40
	}

	rep := BuildReport(recs, now, contracted)
	if rep.Tests != 3 {
		t.Fatalf("expected 3 tests, got %d", rep.Tests)
	}
	if rep.ComplianceDownload != 66.67 {
		t.Fatalf("unexpected download compliance: %v", rep.ComplianceDownload)
	}
	if rep.ComplianceUpload != 66.67 {
		t.Fatalf("unexpected upload compliance: %v", rep.ComplianceUpload)
	}
	if rep.MinDownload != 700 || rep.MaxDownload != 900 {
		t.Fatalf("unexpected min/max download: %+v", rep)
	}
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

func testRecord(ts time.Time) Record {
	return Record{
		Timestamp:       ts,
		DownloadMbps:    812.44,
		UploadMbps:      31.2,
		PingMs:          14.5,
		DownloadPercent: 73.86,
		UploadPercent:   89.14,
		ServerHost:      "speedtest.example.net:8080",
		ServerLocation:  "Madrid, Spain",
		ClientIP:        "203.0.113.7",
	}
}

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "csv", Path: filepath.Join(dir, "speed_log.csv")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	if err := st.Append(ctx, testRecord(now.Add(-time.Hour))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, testRecord(now)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if !recs[0].Timestamp.Before(recs[1].Timestamp) {
		t.Fatalf("expected chronological order")
	}
	if recs[1].DownloadMbps != 812.44 || recs[1].ServerHost != "speedtest.example.net:8080" {
		t.Fatalf("unexpected record: %+v", recs[1])
	}
}

func TestCSVHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speed_log.csv")
	st, err := Open(Config{Driver: "csv", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	_ = st.Append(ctx, testRecord(time.Now()))
	_ = st.Append(ctx, testRecord(time.Now()))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := strings.Count(string(b), "Download_Speed_Mbps"); got != 1 {
		t.Fatalf("expected 1 header, got %d", got)
	}
}

func TestCSVLoadMissingFile(t *testing.T) {
	st, err := Open(Config{Driver: "csv", Path: filepath.Join(t.TempDir(), "absent.csv")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	recs, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestCSVSkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speed_log.csv")
	content := "Timestamp,Download_Speed_Mbps,Upload_Speed_Mbps,Ping_ms\n" +
		"not-a-timestamp,1,2,3\n" +
		"2026-08-29T10:00:00Z,100.5,30.1,12\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st, err := Open(Config{Driver: "csv", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	recs, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].DownloadMbps != 100.5 {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "speed.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	if err := st.Append(ctx, testRecord(now.Add(-time.Minute))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, testRecord(now)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].UploadMbps != 31.2 || recs[0].ServerLocation != "Madrid, Spain" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

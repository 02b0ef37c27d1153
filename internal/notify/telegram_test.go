package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

type memStore struct{ recs []storage.Record }

func (m *memStore) Append(ctx context.Context, r storage.Record) error {
	m.recs = append(m.recs, r)
	return nil
}
func (m *memStore) Load(ctx context.Context) ([]storage.Record, error) { return m.recs, nil }
func (m *memStore) Close() error                                       { return nil }

func TestNewDisabledReturnsNil(t *testing.T) {
	n, err := New(config.TelegramConfig{Enabled: false}, &memStore{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n != nil {
		t.Fatal("disabled notifier should be nil")
	}
}

func TestComposeFailure(t *testing.T) {
	n := &Notifier{store: &memStore{}, log: logx.Nop()}
	text := n.compose(context.Background(), false)
	if !strings.Contains(text, "failed") {
		t.Fatalf("failure text = %q", text)
	}
}

func TestComposeSuccessUsesLatestRecord(t *testing.T) {
	now := time.Now()
	store := &memStore{recs: []storage.Record{
		{Timestamp: now.Add(-time.Hour), DownloadMbps: 100, ServerLocation: "Old, Place"},
		{Timestamp: now, DownloadMbps: 950.5, UploadMbps: 33.2, PingMs: 8.1, DownloadPercent: 86.4, UploadPercent: 94.9, ServerLocation: "Amsterdam, Netherlands"},
	}}
	n := &Notifier{store: store, log: logx.Nop()}

	text := n.compose(context.Background(), true)
	if !strings.Contains(text, "950.50 Mbps") {
		t.Fatalf("text missing latest download: %q", text)
	}
	if !strings.Contains(text, "Amsterdam, Netherlands") {
		t.Fatalf("text missing server: %q", text)
	}
	if strings.Contains(text, "Old, Place") {
		t.Fatalf("text used stale record: %q", text)
	}
}

func TestComposeSuccessNoRecords(t *testing.T) {
	n := &Notifier{store: &memStore{}, log: logx.Nop()}
	text := n.compose(context.Background(), true)
	if !strings.Contains(text, "complete") {
		t.Fatalf("text = %q", text)
	}
}

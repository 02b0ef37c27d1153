package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// csvHeader is the historical speed_log.csv column set, in order.
var csvHeader = []string{
	"Timestamp",
	"Download_Speed_Mbps",
	"Upload_Speed_Mbps",
	"Ping_ms",
	"Download_Compliance_Percent",
	"Upload_Compliance_Percent",
	"Server_Host",
	"Server_Location",
	"Client_IP",
	"Error",
}

// Timestamp layouts accepted when reading old logs.
var csvTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

type csvStore struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func openCSV(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for csv driver")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &csvStore{path: path, log: log}, nil
}

func (s *csvStore) Close() error { return nil }

// Append adds one record, writing the header when the file is new.
func (s *csvStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open speed log: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}
	row := []string{
		r.Timestamp.Format(time.RFC3339),
		formatMbps(r.DownloadMbps),
		formatMbps(r.UploadMbps),
		formatMbps(r.PingMs),
		formatMbps(r.DownloadPercent),
		formatMbps(r.UploadPercent),
		r.ServerHost,
		r.ServerLocation,
		r.ClientIP,
		r.Error,
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close speed log: %w", err)
	}
	return nil
}

// Load reads all records, sorted by file order (appends are chronological).
// Malformed rows are skipped with a warning rather than failing the load.
func (s *csvStore) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open speed log: %w", err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true

	header, err := rd.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	var out []Record
	for {
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Warn("skipping malformed csv row", logx.Err(err))
			continue
		}
		rec, ok := parseCSVRow(col, row)
		if !ok {
			s.log.Warn("skipping unparseable csv row", logx.String("row", strings.Join(row, ",")))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseCSVRow(col map[string]int, row []string) (Record, bool) {
	get := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ts, ok := parseCSVTime(get("Timestamp"))
	if !ok {
		return Record{}, false
	}

	return Record{
		Timestamp:       ts,
		DownloadMbps:    parseFloat(get("Download_Speed_Mbps")),
		UploadMbps:      parseFloat(get("Upload_Speed_Mbps")),
		PingMs:          parseFloat(get("Ping_ms")),
		DownloadPercent: parseFloat(get("Download_Compliance_Percent")),
		UploadPercent:   parseFloat(get("Upload_Compliance_Percent")),
		ServerHost:      get("Server_Host"),
		ServerLocation:  get("Server_Location"),
		ClientIP:        get("Client_IP"),
		Error:           get("Error"),
	}, true
}

func parseCSVTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatMbps(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

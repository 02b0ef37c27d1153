package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "csv": append-only CSV file (speed_log.csv schema)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "csv" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one speed test measurement.
//
// IMPORTANT: the CSV column set is kept stable because existing logs are
// read by the dashboard and by external tooling. Changing columns can break
// old history files.
type Record struct {
	Timestamp       time.Time
	DownloadMbps    float64
	UploadMbps      float64
	PingMs          float64
	DownloadPercent float64
	UploadPercent   float64
	ServerHost      string
	ServerLocation  string
	ClientIP        string
	Error           string
}

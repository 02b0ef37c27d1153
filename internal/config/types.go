// Package config loads and hot-reloads the monitor configuration.
//
// Files may be YAML or JSON; both go through the same strict decoder so
// unknown keys are rejected regardless of format.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Log     LogConfig     `json:"log"`
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Speeds  SpeedsConfig  `json:"contracted_speeds"`
	Measure MeasureConfig `json:"measure"`
	Report  ReportConfig  `json:"report"`
	Cron    CronConfig    `json:"schedule"`
	Notify  NotifyConfig  `json:"notify"`
}

type LogConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LogFileSection `json:"file"`
}

type LogFileSection struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ServerConfig struct {
	Listen       string `json:"listen"`
	PollInterval string `json:"poll_interval"` // SSE poll delay, e.g. "500ms"
	RunPerMinute int    `json:"run_per_minute"`

	pollInterval time.Duration `json:"-"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`

	busyTimeout time.Duration `json:"-"`
}

// SpeedsConfig is the ISP-contracted speed pair.
type SpeedsConfig struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
}

// MeasureConfig controls how a measurement run is performed.
//
// Command, when set, is the external measurement argv spawned by the
// dashboard; when empty, the measurement runs in-process.
type MeasureConfig struct {
	Command          []string `json:"command"`
	ServerCount      int      `json:"server_count"`
	FullTestServers  int      `json:"full_test_servers"`
	MaxConnections   int      `json:"max_connections"`
	PingConcurrency  int      `json:"ping_concurrency"`
	SavingMode       bool     `json:"saving_mode"`
	OperationTimeout string   `json:"operation_timeout"`

	operationTimeout time.Duration `json:"-"`
}

type ReportConfig struct {
	Path string `json:"path"` // JSON report regenerated after each run
}

type CronConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"` // cron spec or @every duration
	Timezone string `json:"timezone"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// Default returns the built-in configuration, matching the historical
// defaults of the Python scripts this replaced.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Console: true},
		Server:  ServerConfig{Listen: ":8050", PollInterval: "500ms", RunPerMinute: 4},
		Storage: StorageConfig{Driver: "csv", Path: "./speed_log.csv"},
		Speeds:  SpeedsConfig{DownloadMbps: 1100, UploadMbps: 35},
		Report:  ReportConfig{Path: "./speed_report.json"},
		Cron:    CronConfig{Spec: "@every 1h"},
	}
}

// Normalize fills defaults, parses duration fields, and validates.
// It must be called after decoding and before use.
func (c *Config) Normalize() error {
	if c == nil {
		return errors.New("nil config")
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = ":8050"
	}
	var err error
	c.Server.pollInterval, err = ParseDurationOrDefault("server.poll_interval", c.Server.PollInterval, 500*time.Millisecond)
	if err != nil {
		return err
	}
	if c.Server.RunPerMinute <= 0 {
		c.Server.RunPerMinute = 4
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./speed_log.csv"
	}
	c.Storage.busyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return err
	}

	if c.Speeds.DownloadMbps < 0 || c.Speeds.UploadMbps < 0 {
		return fmt.Errorf("contracted_speeds: values must be >= 0")
	}

	c.Measure.operationTimeout, err = ParseDurationOrDefault("measure.operation_timeout", c.Measure.OperationTimeout, 5*time.Minute)
	if err != nil {
		return err
	}

	if c.Cron.Enabled && strings.TrimSpace(c.Cron.Spec) == "" {
		return fmt.Errorf("schedule.spec is required when schedule.enabled")
	}
	if c.Notify.Telegram.Enabled && strings.TrimSpace(c.Notify.Telegram.Token) == "" {
		return fmt.Errorf("notify.telegram.token is required when telegram notify is enabled")
	}
	return nil
}

// PollInterval returns the parsed SSE poll delay.
func (c *ServerConfig) PollIntervalDuration() time.Duration { return c.pollInterval }

// BusyTimeoutDuration returns the parsed sqlite busy timeout.
func (c *StorageConfig) BusyTimeoutDuration() time.Duration { return c.busyTimeout }

// OperationTimeoutDuration returns the parsed per-run timeout.
func (c *MeasureConfig) OperationTimeoutDuration() time.Duration { return c.operationTimeout }

// Package stats aggregates persisted speed records into the shapes the
// dashboard consumes: 7-day chart series, 24-hour summaries, and the
// all-time compliance report.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/storage"
)

// Moving-average window used by the charts.
const maWindow = 6

// Threshold below which a test does not count as meeting the contracted speed.
const complianceThreshold = 0.8

// Contracted is the ISP-contracted speed pair records are judged against.
type Contracted struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
}

// Series is the chart payload for /api/speed-data.
type Series struct {
	Timestamps      []string  `json:"timestamps"`
	Download        []float64 `json:"download"`
	Upload          []float64 `json:"upload"`
	Ping            []float64 `json:"ping"`
	DownloadMA      []float64 `json:"download_ma"`
	UploadMA        []float64 `json:"upload_ma"`
	DownloadPercent []float64 `json:"download_percent"`
	UploadPercent   []float64 `json:"upload_percent"`
	ServerHost      []string  `json:"server_host"`
}

// LatestTest is the most recent measurement shown in the header cards.
type LatestTest struct {
	Timestamp    string  `json:"timestamp"`
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	PingMs       float64 `json:"ping_ms"`
	Server       string  `json:"server"`
}

// Averages is a mean triple over a window.
type Averages struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	PingMs       float64 `json:"ping_ms"`
}

// MinMax carries extreme speeds over a window.
type MinMax struct {
	MinDownloadMbps float64 `json:"min_download_mbps"`
	MaxDownloadMbps float64 `json:"max_download_mbps"`
	MinUploadMbps   float64 `json:"min_upload_mbps"`
	MaxUploadMbps   float64 `json:"max_upload_mbps"`
}

// Compliance is the mean throughput as a percentage of contracted speed.
type Compliance struct {
	DownloadPercent float64 `json:"download_percent"`
	UploadPercent   float64 `json:"upload_percent"`
}

// Summary is the /api/summary payload.
type Summary struct {
	LatestTest  LatestTest `json:"latest_test"`
	Averages24h Averages   `json:"averages_24h"`
	MinMax24h   MinMax     `json:"min_max_24h"`
	Compliance  Compliance `json:"compliance"`
	Contracted  Contracted `json:"contracted_speeds"`
	TestCount   int        `json:"test_count_24h"`
}

// Report is the all-time compliance report written to speed_report.json.
type Report struct {
	GeneratedAt        string     `json:"generated_at"`
	Contracted         Contracted `json:"contracted_speeds"`
	Tests              int        `json:"tests"`
	AverageDownload    float64    `json:"average_download"`
	AverageUpload      float64    `json:"average_upload"`
	MinDownload        float64    `json:"min_download"`
	MinUpload          float64    `json:"min_upload"`
	MaxDownload        float64    `json:"max_download"`
	MaxUpload          float64    `json:"max_upload"`
	ComplianceDownload float64    `json:"compliance_download"`
	ComplianceUpload   float64    `json:"compliance_upload"`
	LastTest           string     `json:"last_test,omitempty"`
}

// sortedCopy returns records sorted by timestamp ascending.
func sortedCopy(recs []storage.Record) []storage.Record {
	out := append([]storage.Record(nil), recs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// BuildSeries computes the chart series for records newer than now-window.
// Returns nil when no record falls inside the window.
func BuildSeries(recs []storage.Record, now time.Time, window time.Duration) *Series {
	recs = sortedCopy(recs)
	cutoff := now.Add(-window)

	// Moving averages are computed over the full history so the first
	// points of the window are not artificially flat.
	dlMA := movingAverage(pluck(recs, func(r storage.Record) float64 { return r.DownloadMbps }))
	ulMA := movingAverage(pluck(recs, func(r storage.Record) float64 { return r.UploadMbps }))

	s := &Series{}
	for i, r := range recs {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		s.Timestamps = append(s.Timestamps, r.Timestamp.Format("2006-01-02 15:04"))
		s.Download = append(s.Download, round2(r.DownloadMbps))
		s.Upload = append(s.Upload, round2(r.UploadMbps))
		s.Ping = append(s.Ping, round2(r.PingMs))
		s.DownloadMA = append(s.DownloadMA, round2(dlMA[i]))
		s.UploadMA = append(s.UploadMA, round2(ulMA[i]))
		s.DownloadPercent = append(s.DownloadPercent, round2(r.DownloadPercent))
		s.UploadPercent = append(s.UploadPercent, round2(r.UploadPercent))
		host := r.ServerHost
		if host == "" {
			host = "Unknown"
		}
		s.ServerHost = append(s.ServerHost, host)
	}
	if len(s.Timestamps) == 0 {
		return nil
	}
	return s
}

// BuildSummary computes the 24h summary. Returns nil when there is no data.
func BuildSummary(recs []storage.Record, now time.Time, contracted Contracted) *Summary {
	recs = sortedCopy(recs)
	if len(recs) == 0 {
		return nil
	}

	latest := recs[len(recs)-1]
	sum := &Summary{
		LatestTest: LatestTest{
			Timestamp:    latest.Timestamp.Format(time.RFC3339),
			DownloadMbps: round2(latest.DownloadMbps),
			UploadMbps:   round2(latest.UploadMbps),
			PingMs:       round2(latest.PingMs),
			Server:       orUnknown(latest.ServerHost),
		},
		Contracted: contracted,
	}

	cutoff := now.Add(-24 * time.Hour)
	var dl, ul, ping float64
	first := true
	for _, r := range recs {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		sum.TestCount++
		dl += r.DownloadMbps
		ul += r.UploadMbps
		ping += r.PingMs
		if first {
			sum.MinMax24h = MinMax{
				MinDownloadMbps: r.DownloadMbps, MaxDownloadMbps: r.DownloadMbps,
				MinUploadMbps: r.UploadMbps, MaxUploadMbps: r.UploadMbps,
			}
			first = false
			continue
		}
		sum.MinMax24h.MinDownloadMbps = math.Min(sum.MinMax24h.MinDownloadMbps, r.DownloadMbps)
		sum.MinMax24h.MaxDownloadMbps = math.Max(sum.MinMax24h.MaxDownloadMbps, r.DownloadMbps)
		sum.MinMax24h.MinUploadMbps = math.Min(sum.MinMax24h.MinUploadMbps, r.UploadMbps)
		sum.MinMax24h.MaxUploadMbps = math.Max(sum.MinMax24h.MaxUploadMbps, r.UploadMbps)
	}
	if sum.TestCount == 0 {
		return sum
	}

	n := float64(sum.TestCount)
	sum.Averages24h = Averages{
		DownloadMbps: round2(dl / n),
		UploadMbps:   round2(ul / n),
		PingMs:       round2(ping / n),
	}
	sum.MinMax24h = MinMax{
		MinDownloadMbps: round2(sum.MinMax24h.MinDownloadMbps),
		MaxDownloadMbps: round2(sum.MinMax24h.MaxDownloadMbps),
		MinUploadMbps:   round2(sum.MinMax24h.MinUploadMbps),
		MaxUploadMbps:   round2(sum.MinMax24h.MaxUploadMbps),
	}
	if contracted.DownloadMbps > 0 {
		sum.Compliance.DownloadPercent = round2((dl / n) / contracted.DownloadMbps * 100)
	}
	if contracted.UploadMbps > 0 {
		sum.Compliance.UploadPercent = round2((ul / n) / contracted.UploadMbps * 100)
	}
	return sum
}

// BuildReport computes the all-time compliance report. A test is compliant
// when it reaches at least 80% of the contracted speed.
func BuildReport(recs []storage.Record, now time.Time, contracted Contracted) *Report {
	recs = sortedCopy(recs)
	rep := &Report{
		GeneratedAt: now.Format(time.RFC3339),
		Contracted:  contracted,
	}
	if len(recs) == 0 {
		return rep
	}

	var dl, ul float64
	var okDL, okUL int
	rep.MinDownload = recs[0].DownloadMbps
	rep.MinUpload = recs[0].UploadMbps
	for _, r := range recs {
		dl += r.DownloadMbps
		ul += r.UploadMbps
		rep.MinDownload = math.Min(rep.MinDownload, r.DownloadMbps)
		rep.MaxDownload = math.Max(rep.MaxDownload, r.DownloadMbps)
		rep.MinUpload = math.Min(rep.MinUpload, r.UploadMbps)
		rep.MaxUpload = math.Max(rep.MaxUpload, r.UploadMbps)
		if r.DownloadMbps >= contracted.DownloadMbps*complianceThreshold {
			okDL++
		}
		if r.UploadMbps >= contracted.UploadMbps*complianceThreshold {
			okUL++
		}
	}

	n := float64(len(recs))
	rep.Tests = len(recs)
	rep.AverageDownload = round2(dl / n)
	rep.AverageUpload = round2(ul / n)
	rep.MinDownload = round2(rep.MinDownload)
	rep.MinUpload = round2(rep.MinUpload)
	rep.MaxDownload = round2(rep.MaxDownload)
	rep.MaxUpload = round2(rep.MaxUpload)
	rep.ComplianceDownload = round2(float64(okDL) / n * 100)
	rep.ComplianceUpload = round2(float64(okUL) / n * 100)
	rep.LastTest = recs[len(recs)-1].Timestamp.Format("2006-01-02 15:04:05")
	return rep
}

func movingAverage(vals []float64) []float64 {
	out := make([]float64, len(vals))
	window := maWindow
	if window > len(vals) && len(vals) > 0 {
		window = len(vals)
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

func pluck(recs []storage.Record, f func(storage.Record) float64) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = f(r)
	}
	return out
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

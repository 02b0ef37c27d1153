// Package measure runs internet speed measurements against speedtest.net
// servers. Candidates are filtered by distance, pinged concurrently, and the
// lowest-latency servers get a full sequential download/upload test.
package measure

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// RunConfig controls how a measurement run is executed.
type RunConfig struct {
	// Candidate servers to consider (sorted by distance, then pinged).
	ServerCount int
	// Number of lowest-latency servers to run a full download/upload test
	// on. Full tests run sequentially to keep peak memory down.
	FullTestServers int

	// UserConfig passed to speedtest-go.
	SavingMode     bool
	MaxConnections int

	// PingConcurrency caps how many latency probes run concurrently.
	PingConcurrency int

	// OperationTimeout feeds the HTTP dial timeout heuristics. It does NOT
	// wrap the caller's context.
	OperationTimeout time.Duration

	// PostRunFreeOSMemory calls debug.FreeOSMemory after a run. Useful for
	// long-lived daemons on small hosts.
	PostRunFreeOSMemory bool
}

// Measurement is the outcome of one run, averaged over the tested servers.
type Measurement struct {
	Timestamp    time.Time
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64

	ServerHost    string
	ServerName    string
	ServerCountry string
	ClientIP      string
	ISP           string

	Duration      time.Duration
	FullTestCount int
}

// ServerLocation renders the "Name, Country" label stored alongside results.
func (m Measurement) ServerLocation() string {
	name, country := m.ServerName, m.ServerCountry
	if name == "" {
		name = "Unknown"
	}
	if country == "" {
		country = "Unknown"
	}
	return name + ", " + country
}

// Runner executes measurement runs.
type Runner struct {
	cfg      RunConfig
	progress func(line string)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithProgress makes the runner report human-readable status lines as the
// run advances.
func WithProgress(f func(line string)) Option { return func(r *Runner) { r.progress = f } }

// NewRunner constructs a Runner.
func NewRunner(cfg RunConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) report(format string, args ...any) {
	if r.progress != nil {
		r.progress(fmt.Sprintf(format, args...))
	}
}

// Run executes a single measurement run.
func (r *Runner) Run(ctx context.Context) (*Measurement, error) {
	if ctx == nil {
		return nil, fmt.Errorf("nil context")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := r.cfg
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.FullTestServers <= 0 {
		cfg.FullTestServers = 1
	}
	if cfg.FullTestServers > cfg.ServerCount {
		cfg.FullTestServers = cfg.ServerCount
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = 4
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	ctx = runCtx

	start := time.Now()

	// Dedicated HTTP transport so connections can be torn down after the run.
	hc, tr := newHTTPClient(cfg)

	// Avoid package-level speedtest helpers; speedtest-go keeps package
	// state between runs otherwise.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     cfg.SavingMode,
		MaxConnections: cfg.MaxConnections,
	}))
	applyHTTPClient(stc, hc)
	stc.SetNThread(cfg.MaxConnections)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		if tr != nil {
			tr.CloseIdleConnections()
		}
		if cfg.PostRunFreeOSMemory {
			debug.FreeOSMemory()
		}
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	r.report("STATUS: Finding best server...")

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	// Cheap filter: distance.
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidateN := cfg.ServerCount
	if candidateN > len(servers) {
		candidateN = len(servers)
	}
	candidates := servers[:candidateN]

	pinged := pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		return nil, fmt.Errorf("all latency tests failed")
	}

	// Best first.
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	fullN := cfg.FullTestServers
	if fullN > len(pinged) {
		fullN = len(pinged)
	}
	fullSet := pinged[:fullN]

	best := fullSet[0]
	r.report("STATUS: Best server found: %s (%s, %s)", best.Sponsor, best.Name, best.Country)

	results := make([]serverResult, 0, len(fullSet))
	for _, s := range fullSet {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		r.report("STATUS: Testing download speed...")
		if err := s.DownloadTestContext(ctx); err != nil {
			continue
		}
		dl := s.DLSpeed.Mbps()
		r.report("STATUS: Download test complete.")

		r.report("STATUS: Testing upload speed...")
		if err := s.UploadTestContext(ctx); err != nil {
			continue
		}
		ul := s.ULSpeed.Mbps()
		r.report("STATUS: Upload test complete.")

		results = append(results, serverResult{
			server:   s,
			download: dl,
			upload:   ul,
			ping:     s.Latency,
		})

		// Drop per-test snapshots early.
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("full test failed for all servers")
	}

	avg := average(results)
	chosen := bestResult(results)

	return &Measurement{
		Timestamp:     time.Now(),
		DownloadMbps:  avg.download,
		UploadMbps:    avg.upload,
		PingMs:        float64(avg.ping.Milliseconds()),
		ServerHost:    chosen.server.Host,
		ServerName:    chosen.server.Name,
		ServerCountry: chosen.server.Country,
		ClientIP:      user.IP,
		ISP:           user.Isp,
		Duration:      time.Since(start),
		FullTestCount: len(results),
	}, nil
}

func pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	for _, s := range servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil {
				return
			}
			out <- s
		}()
	}

	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		if s.Latency <= 0 {
			continue
		}
		pinged = append(pinged, s)
	}
	return pinged
}

type serverResult struct {
	server   *st.Server
	download float64
	upload   float64
	ping     time.Duration
}

func average(results []serverResult) serverResult {
	if len(results) == 0 {
		return serverResult{}
	}
	var dl, ul float64
	var ping time.Duration
	for _, r := range results {
		dl += r.download
		ul += r.upload
		ping += r.ping
	}
	n := len(results)
	return serverResult{
		download: dl / float64(n),
		upload:   ul / float64(n),
		ping:     ping / time.Duration(n),
	}
}

// bestResult prioritizes lower ping, then higher download speed.
func bestResult(results []serverResult) *serverResult {
	best := &results[0]
	for i := 1; i < len(results); i++ {
		if results[i].ping < best.ping || (results[i].ping == best.ping && results[i].download > best.download) {
			best = &results[i]
		}
	}
	return best
}

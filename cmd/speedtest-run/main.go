package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/measurerun"
	"github.com/nicorosen/speed-test-monitor/internal/stats"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// Repeated runs are floored to this interval to stay polite to the
// measurement servers.
const minInterval = 5 * time.Minute

func main() {
	var (
		cfgPath  string
		daemon   bool
		interval time.Duration
		report   bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&daemon, "daemon", false, "run continuously")
	flag.DurationVar(&interval, "interval", minInterval, "test interval in daemon mode")
	flag.BoolVar(&report, "report", false, "generate and display a report, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}, logx.Nop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer store.Close()

	pipe := measurerun.New(store, cfg, func(line string) { fmt.Println(line) })

	if report {
		if err := printReport(ctx, store, cfg, pipe); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	if !daemon {
		if _, err := pipe.Do(ctx); err != nil {
			fmt.Println("ERROR: Speed test failed. Check your internet connection.")
			os.Exit(1)
		}
		return
	}

	if interval < minInterval {
		interval = minInterval
	}
	fmt.Printf("Starting speed test daemon with %s interval...\n", interval)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	for {
		if _, err := pipe.Do(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Println("ERROR: Speed test failed. Check your internet connection.")
		}
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping speed test daemon...")
			return
		case <-time.After(interval):
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.NewManager(path).Load()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	cfg := config.Default()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printReport(ctx context.Context, store storage.Store, cfg *config.Config, pipe *measurerun.Pipeline) error {
	recs, err := store.Load(ctx)
	if err != nil {
		return err
	}
	contracted := stats.Contracted{
		DownloadMbps: cfg.Speeds.DownloadMbps,
		UploadMbps:   cfg.Speeds.UploadMbps,
	}
	rep := stats.BuildReport(recs, time.Now(), contracted)

	if err := pipe.WriteReport(ctx); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("=== Speed Test Report ===")
	fmt.Printf("Generated at: %s\n", rep.GeneratedAt)
	fmt.Printf("Tests performed: %d\n", rep.Tests)
	fmt.Printf("\nContracted Speeds: %.0f Mbps down / %.0f Mbps up\n", contracted.DownloadMbps, contracted.UploadMbps)
	fmt.Println("\nDownload Statistics:")
	fmt.Printf("  Average: %.2f Mbps\n", rep.AverageDownload)
	fmt.Printf("  Minimum: %.2f Mbps\n", rep.MinDownload)
	fmt.Printf("  Maximum: %.2f Mbps\n", rep.MaxDownload)
	fmt.Printf("  Compliance: %.2f%% of tests >= 80%% of contracted speed\n", rep.ComplianceDownload)
	fmt.Println("\nUpload Statistics:")
	fmt.Printf("  Average: %.2f Mbps\n", rep.AverageUpload)
	fmt.Printf("  Minimum: %.2f Mbps\n", rep.MinUpload)
	fmt.Printf("  Maximum: %.2f Mbps\n", rep.MaxUpload)
	fmt.Printf("  Compliance: %.2f%% of tests >= 80%% of contracted speed\n", rep.ComplianceUpload)
	fmt.Println("=========================")
	fmt.Println()
	return nil
}

// Package scheduler triggers periodic measurement runs from a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nicorosen/speed-test-monitor/internal/coordinator"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

type Config struct {
	Enabled  bool
	Spec     string // cron spec or @every duration
	Timezone string // IANA TZ, e.g. "Europe/Madrid"
}

// StartFunc requests a run; the coordinator decides whether one may start.
type StartFunc func(source string) coordinator.StartStatus

type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	start  StartFunc
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, start StartFunc, log logx.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		start:  start,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Run starts the cron loop and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if err := s.startLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	return nil
}

// Apply swaps the schedule at runtime (config hot reload).
func (s *Scheduler) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg == s.cfg {
		return nil
	}
	running := s.c != nil
	s.stopLocked()
	s.cfg = cfg
	if !running {
		return nil
	}
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Debug("scheduler disabled")
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		return fmt.Errorf("scheduler: empty spec")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler: invalid timezone %q: %w", tz, err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, s.fire); err != nil {
		return fmt.Errorf("scheduler: register %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Scheduler) stopLocked() {
	if s.c == nil {
		return
	}
	// Stop only prevents new firings; an in-flight run keeps going under
	// the coordinator.
	s.c.Stop()
	s.c = nil
}

func (s *Scheduler) fire() {
	status := s.start("schedule")
	if status == coordinator.StatusAlreadyRunning {
		s.log.Warn("scheduled run skipped, test already in progress")
		return
	}
	s.log.Info("scheduled run started")
}

// Package coordinator owns the test state machine: it accepts start
// requests, enforces the at-most-one-concurrent-run invariant, and pushes
// the terminal progress markers when a run ends.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicorosen/speed-test-monitor/internal/eventbus"
	"github.com/nicorosen/speed-test-monitor/internal/progress"
	"github.com/nicorosen/speed-test-monitor/internal/runner"
	"github.com/nicorosen/speed-test-monitor/internal/runtime/supervisor"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// StartStatus is the acknowledgement returned by Start.
type StartStatus int

const (
	StatusStarted StartStatus = iota
	StatusAlreadyRunning
)

// Ack returns the user-facing acknowledgement text.
func (s StartStatus) Ack() string {
	switch s {
	case StatusStarted:
		return "Speed test initiated. Check /api/test-progress for updates."
	case StatusAlreadyRunning:
		return "Speed test already running. Check /api/test-progress for updates."
	default:
		return "Unknown status."
	}
}

// RunFunc executes one measurement run. It blocks until the run ends.
type RunFunc func(ctx context.Context) (runner.RunResult, error)

// Coordinator is the single owner of the Idle/Running state.
//
// Invariant: at most one run in flight. Start while Running spawns nothing
// and leaves the queue intact; it only differs from the original behavior
// in returning an honest "already running" acknowledgement.
type Coordinator struct {
	bus    *progress.Bus
	events eventbus.Bus
	sup    *supervisor.Supervisor
	run    RunFunc
	log    logx.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{} // closed when the current run finishes; nil when idle
}

func New(bus *progress.Bus, events eventbus.Bus, sup *supervisor.Supervisor, run RunFunc, log logx.Logger) *Coordinator {
	return &Coordinator{bus: bus, events: events, sup: sup, run: run, log: log}
}

// Start requests a measurement run. It never blocks on the run itself.
//
// source labels who asked ("http", "schedule") for events and logs.
func (c *Coordinator) Start(source string) StartStatus {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Info("start ignored, test already running", logx.String("source", source))
		c.events.Publish(eventbus.Event{Type: eventbus.EventRunSkipped, Data: map[string]any{"source": source}})
		return StatusAlreadyRunning
	}
	// Clear stale queue contents and flip the flag in one critical section
	// so a racing Start observes a consistent state.
	c.bus.BeginRun()
	c.running = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.log.Info("speed test starting", logx.String("source", source))
	c.events.Publish(eventbus.Event{Type: eventbus.EventRunStarted, Data: map[string]any{"source": source}})

	c.sup.Go0("coordinator.run", func(ctx context.Context) {
		res, err := c.run(ctx)
		c.finish(res, err)
		close(done)
	})

	return StatusStarted
}

// Running reports whether a run is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// WaitIdle blocks until the current run (if any) finishes or ctx ends.
// Used on shutdown so an in-flight measurement can complete its record.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Coordinator) finish(res runner.RunResult, err error) {
	switch {
	case err != nil:
		// The run could not be executed at all (e.g. command missing).
		c.bus.Push(progress.Errorf("ERROR: %v", err))
		c.bus.Push(progress.Fatal(fmt.Sprintf("speed test failed: %v", err)))
		c.log.Error("speed test run failed", logx.Err(err))
	case res.Succeeded:
		c.bus.Push(progress.Info("STATUS: Test complete. Reloading data..."))
		c.bus.Push(progress.Complete())
		c.log.Info("speed test completed")
	default:
		// The runner already pushed the Error line carrying the exit code;
		// this is just the terminal marker.
		c.bus.Push(progress.Fatal(fmt.Sprintf("speed test failed with exit code %d", res.ExitCode)))
		c.log.Warn("speed test failed", logx.Int("exit_code", res.ExitCode))
	}

	// Clear the bus flag before going Idle. Once a racing Start sees Idle
	// it calls BeginRun, and a stale SetRunning(false) landing after that
	// would end the new run's stream mid-flight.
	c.bus.SetRunning(false)
	c.mu.Lock()
	c.running = false
	c.done = nil
	c.mu.Unlock()

	c.events.Publish(eventbus.Event{
		Type: eventbus.EventRunFinished,
		Data: map[string]any{"succeeded": err == nil && res.Succeeded, "exit_code": res.ExitCode},
	})
}

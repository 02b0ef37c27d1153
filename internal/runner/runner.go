// Package runner launches the external measurement command and feeds its
// output to the progress bus as it is produced.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nicorosen/speed-test-monitor/internal/progress"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

// RunResult is the terminal outcome of one measurement run.
type RunResult struct {
	ExitCode  int
	Succeeded bool
}

// Runner executes the measurement command and streams its combined output.
type Runner struct {
	command []string
	bus     *progress.Bus
	log     logx.Logger
}

// New constructs a Runner. command is argv (program + args).
func New(command []string, bus *progress.Bus, log logx.Logger) *Runner {
	return &Runner{command: command, bus: bus, log: log}
}

// Run launches the measurement command, pushes each non-empty output line to
// the bus as an Info message, and reports the terminal outcome. It blocks
// until the child process exits; callers run it on a background goroutine.
//
// The command's own persistence side effect (appending a record to the log)
// is its business; Run only relays output and the exit status.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	if len(r.command) == 0 {
		return RunResult{ExitCode: -1}, fmt.Errorf("no measurement command configured")
	}

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)

	// One pipe for both streams, matching line arrival order.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("start measurement command: %w", err)
	}

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r.bus.Push(progress.Info(line))
		r.log.Debug("measurement output", logx.String("line", line))
	}
	if err := sc.Err(); err != nil {
		r.log.Warn("measurement output read failed", logx.Err(err))
	}

	if err := cmd.Wait(); err != nil {
		code := -1
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
		msg := fmt.Sprintf("ERROR: speed test command failed with exit code %d", code)
		r.bus.Push(progress.Error(msg))
		r.log.Error("measurement run failed", logx.Int("exit_code", code), logx.Err(err))
		return RunResult{ExitCode: code, Succeeded: false}, nil
	}

	r.log.Info("measurement run finished", logx.Int("exit_code", 0))
	return RunResult{ExitCode: 0, Succeeded: true}, nil
}

package runner

import (
	"context"
	"testing"

	"github.com/nicorosen/speed-test-monitor/internal/progress"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

func TestRunStreamsLinesInOrder(t *testing.T) {
	bus := progress.NewBus()
	r := New([]string{"sh", "-c", "echo 'STATUS: one'; echo 'STATUS: two'"}, bus, logx.Nop())

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	m, ok := bus.TryPop()
	if !ok || m.Kind != progress.KindInfo || m.Text != "STATUS: one" {
		t.Fatalf("unexpected first message: %+v ok=%v", m, ok)
	}
	m, ok = bus.TryPop()
	if !ok || m.Text != "STATUS: two" {
		t.Fatalf("unexpected second message: %+v ok=%v", m, ok)
	}
	if _, ok := bus.TryPop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestRunNonzeroExitPushesError(t *testing.T) {
	bus := progress.NewBus()
	r := New([]string{"sh", "-c", "echo probing; exit 2"}, bus, logx.Nop())

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Succeeded || res.ExitCode != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	m, ok := bus.TryPop()
	if !ok || m.Text != "probing" {
		t.Fatalf("unexpected first message: %+v ok=%v", m, ok)
	}
	m, ok = bus.TryPop()
	if !ok || m.Kind != progress.KindError {
		t.Fatalf("expected error message, got: %+v ok=%v", m, ok)
	}
	if want := "ERROR: speed test command failed with exit code 2"; m.Text != want {
		t.Fatalf("unexpected error text: %q", m.Text)
	}
}

func TestRunSkipsBlankLines(t *testing.T) {
	bus := progress.NewBus()
	r := New([]string{"sh", "-c", "echo a; echo; echo b"}, bus, logx.Nop())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := bus.Len(); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestRunMissingCommand(t *testing.T) {
	bus := progress.NewBus()
	r := New(nil, bus, logx.Nop())
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

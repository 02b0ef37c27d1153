package progress

import (
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	b := NewBus()
	b.Push(Info("A"))
	b.Push(Error("B"))
	b.Push(Complete())

	m, ok := b.TryPop()
	if !ok || m.Kind != KindInfo || m.Text != "A" {
		t.Fatalf("unexpected first message: %+v ok=%v", m, ok)
	}
	m, ok = b.TryPop()
	if !ok || m.Kind != KindError || m.Text != "B" {
		t.Fatalf("unexpected second message: %+v ok=%v", m, ok)
	}
	m, ok = b.TryPop()
	if !ok || m.Kind != KindComplete {
		t.Fatalf("unexpected third message: %+v ok=%v", m, ok)
	}
	if _, ok := b.TryPop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueFIFOUnderConcurrentProducer(t *testing.T) {
	b := NewBus()
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			b.Push(Message{Kind: KindInfo, Text: string(rune('a' + i%26))})
		}
	}()

	// Single consumer drains while the producer pushes. Order must match
	// push order for whatever the consumer sees.
	got := 0
	for got < n {
		if m, ok := b.TryPop(); ok {
			want := string(rune('a' + got%26))
			if m.Text != want {
				t.Fatalf("out of order at %d: got %q want %q", got, m.Text, want)
			}
			got++
		}
	}
	wg.Wait()
}

func TestBeginRunClearsStaleMessages(t *testing.T) {
	b := NewBus()
	b.Push(Info("stale"))
	b.SetRunning(false)

	b.BeginRun()
	if !b.Running() {
		t.Fatalf("expected running after BeginRun")
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty queue after BeginRun, got %d", b.Len())
	}
}

func TestClear(t *testing.T) {
	b := NewBus()
	b.Push(Info("x"))
	b.Push(Info("y"))
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", b.Len())
	}
}

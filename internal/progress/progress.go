// Package progress carries real-time test output from the measurement run
// to connected dashboard streams.
//
// The bus holds a single shared FIFO queue with destructive reads: a message
// popped by one stream consumer is not seen by another. This behaves
// correctly for a single concurrent viewer; true multi-viewer delivery would
// need per-client cursors or a fanout queue. Keep that in mind before
// attaching more than one stream at a time.
package progress

import (
	"fmt"
	"sync"
)

// Kind tags a progress message.
type Kind int

const (
	// KindInfo is a plain output line from the measurement run.
	KindInfo Kind = iota
	// KindError is a non-terminal error line (e.g. nonzero exit report).
	KindError
	// KindComplete marks a successful run end.
	KindComplete
	// KindFatal marks a failed run end and carries the failure text.
	KindFatal
)

// Message is one unit of progress output.
type Message struct {
	Kind Kind
	Text string
}

func Info(text string) Message  { return Message{Kind: KindInfo, Text: text} }
func Error(text string) Message { return Message{Kind: KindError, Text: text} }
func Complete() Message         { return Message{Kind: KindComplete} }
func Fatal(text string) Message { return Message{Kind: KindFatal, Text: text} }

func Errorf(format string, args ...any) Message {
	return Error(fmt.Sprintf(format, args...))
}

// Bus is the shared progress queue plus the "test in progress" flag.
//
// Contract:
//   - Push never blocks (unbounded queue).
//   - TryPop removes and returns the head if present.
//   - Clear is called by the coordinator at run start, under the same
//     critical section that flips the running flag.
//
// Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	queue   []Message
	running bool
}

func NewBus() *Bus { return &Bus{} }

// Push appends a message to the tail. It always succeeds.
func (b *Bus) Push(m Message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()
}

// TryPop removes and returns the head message, if any.
func (b *Bus) TryPop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Message{}, false
	}
	m := b.queue[0]
	b.queue = b.queue[1:]
	return m, true
}

// Clear empties the queue.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
}

// Len reports the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// SetRunning flips the "test in progress" flag.
func (b *Bus) SetRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

// Running reports whether a test is in progress.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// BeginRun atomically clears the queue and sets the running flag.
// Used by the coordinator so a concurrent Start cannot interleave between
// the clear and the flag flip.
func (b *Bus) BeginRun() {
	b.mu.Lock()
	b.queue = nil
	b.running = true
	b.mu.Unlock()
}

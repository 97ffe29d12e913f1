package resilient

import (
	"sync"
	"time"
)

const (
	DefaultMaxRetries = 20
	DefaultDelayFloor = 10 * time.Second
	DefaultDelayStep  = 5 * time.Second
)

// Backoff is the retry delay shared by every client of one process. It grows
// by a fixed step on each throttled attempt and drops back to the floor on any
// success. Once terminated it stays terminated.
type Backoff struct {
	mu         sync.Mutex
	floor      time.Duration
	step       time.Duration
	current    time.Duration
	terminated bool
}

func NewBackoff(floor, step time.Duration) *Backoff {
	if floor < 0 {
		floor = 0
	}
	return &Backoff{floor: floor, step: step, current: floor}
}

func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Escalate returns the delay to wait now and raises the shared delay by one step.
func (b *Backoff) Escalate() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current += b.step
	return d
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.floor
}

func (b *Backoff) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminated = true
}

func (b *Backoff) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}

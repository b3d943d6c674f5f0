package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Counter increments fixed-window counters
type Counter interface {
	// IncrWindow increments key and returns the new count and the time left
	// in its window. A window starts with the first increment of a key.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// sweepEvery is the number of increments between expired window sweeps
const sweepEvery = 1024

type memoryWindow struct {
	count  int64
	resets time.Time
}

// MemoryCounter is an in-process Counter
type MemoryCounter struct {
	clock clockwork.Clock

	mu      sync.Mutex
	windows map[string]*memoryWindow
	incrs   int
}

// NewMemoryCounter creates a counter. A nil clock means the real clock.
func NewMemoryCounter(clock clockwork.Clock) *MemoryCounter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCounter{
		clock:   clock,
		windows: make(map[string]*memoryWindow),
	}
}

// IncrWindow implements Counter
func (m *MemoryCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.incrs++
	if m.incrs%sweepEvery == 0 {
		for k, w := range m.windows {
			if !now.Before(w.resets) {
				delete(m.windows, k)
			}
		}
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resets) {
		w = &memoryWindow{resets: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resets.Sub(now), nil
}

// Len returns the number of tracked windows, expired ones included
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

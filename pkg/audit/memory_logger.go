package audit

import (
	"context"
	"sync"
)

// MemoryLogger keeps the most recent events in process. It backs the audit
// trail when no system of record is configured.
type MemoryLogger struct {
	mu     sync.RWMutex
	events []*Event
	max    int
}

// NewMemoryLogger keeps at most max events, default 10000
func NewMemoryLogger(max int) *MemoryLogger {
	if max <= 0 {
		max = 10000
	}
	return &MemoryLogger{max: max}
}

// Log implements Logger
func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	cp := *event
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, &cp)
	if over := len(m.events) - m.max; over > 0 {
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
	return nil
}

// Search implements Searcher
func (m *MemoryLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.limit()
	out := make([]*Event, 0)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(m.events[i]) {
			cp := *m.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Len returns the number of retained events
func (m *MemoryLogger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Close implements Logger
func (m *MemoryLogger) Close() error { return nil }

var (
	_ Logger   = (*MemoryLogger)(nil)
	_ Searcher = (*MemoryLogger)(nil)
)

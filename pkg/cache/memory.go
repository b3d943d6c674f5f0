package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryTransport is a bounded in-process Transport. Entries carry their own
// expiry, checked against the injected clock, so tests can advance time.
// It also fans published messages out to in-process subscribers.
type MemoryTransport struct {
	entries *lru.LRU[string, memoryEntry]
	clock   clockwork.Clock

	mu      sync.Mutex
	subs    map[string][]chan string
	dropped atomic.Int64
}

// subscriberBuffer is how many undelivered messages a subscriber may queue
// before Publish starts dropping messages for it
const subscriberBuffer = 64

// NewMemoryTransport creates a transport holding at most size entries.
// A nil clock means the real clock.
func NewMemoryTransport(size int, clock clockwork.Clock) *MemoryTransport {
	if size <= 0 {
		size = 10000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryTransport{
		// Expiry is per entry; the LRU only bounds the size.
		entries: lru.NewLRU[string, memoryEntry](size, nil, 0),
		clock:   clock,
		subs:    make(map[string][]chan string),
	}
}

// Get returns the value stored under key
func (m *MemoryTransport) Get(ctx context.Context, key string) ([]byte, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		m.entries.Remove(key)
		return nil, ErrMiss
	}
	return e.data, nil
}

// Set stores value under key; ttl <= 0 keeps it until evicted
func (m *MemoryTransport) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries.Add(key, e)
	return nil
}

// Delete removes keys
func (m *MemoryTransport) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		m.entries.Remove(k)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix
func (m *MemoryTransport) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	for _, k := range m.entries.Keys() {
		if strings.HasPrefix(k, prefix) && m.entries.Remove(k) {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones not yet collected
func (m *MemoryTransport) Len() int {
	return m.entries.Len()
}

// Ping always succeeds
func (m *MemoryTransport) Ping(ctx context.Context) error {
	return nil
}

// Publish delivers message to every current subscriber of channel without
// waiting on any of them. A subscriber whose queue is full misses the
// message; see Dropped.
func (m *MemoryTransport) Publish(ctx context.Context, channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	subs := append([]chan string(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- message:
		default:
			m.dropped.Add(1)
		}
	}
	return nil
}

// Dropped returns how many messages were not delivered to a full subscriber
func (m *MemoryTransport) Dropped() int64 {
	return m.dropped.Load()
}

// Subscribe blocks, calling handler for each message, until ctx is done
func (m *MemoryTransport) Subscribe(ctx context.Context, channel string, handler func(message string)) error {
	ch := make(chan string, subscriberBuffer)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			handler(msg)
		}
	}
}

// Subscribers returns the number of live subscriptions on channel
func (m *MemoryTransport) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

package cache

import (
	"context"
	"time"
)

// Transport is the distributed key-value store behind the cache.
// Implementations report failures as errors and never panic on unavailability.
type Transport interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with the literal prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Pinger is implemented by transports that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broadcaster is implemented by transports that can fan messages out to
// every process sharing the store (Redis pub/sub).
type Broadcaster interface {
	Publish(ctx context.Context, channel, message string) error
	// Subscribe calls handler for every message on channel until ctx is done.
	Subscribe(ctx context.Context, channel string, handler func(message string)) error
}

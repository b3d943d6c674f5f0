package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// ErrUnavailable is returned when the counter cannot be reached
var ErrUnavailable = errors.New("rate limit counter unavailable")

// Decision results recorded in metrics
const (
	ResultAllowed = "allowed"
	ResultLimited = "limited"
	ResultError   = "error"
)

// Options configure a Limiter
type Options struct {
	// Window is the counting window, default one hour
	Window time.Duration
	// FailOpen admits requests when the counter fails
	FailOpen bool
	// Prefix namespaces counter keys, default "ratelimit"
	Prefix  string
	Clock   clockwork.Clock
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// Reset is when the current window ends; zero for unlimited tenants
	Reset time.Time
}

// RetryAfter is the time left until the window resets
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Reset.IsZero() || !d.Reset.After(now) {
		return 0
	}
	return d.Reset.Sub(now)
}

// Limiter counts API calls per tenant against the hourly quota
type Limiter struct {
	counter  Counter
	window   time.Duration
	failOpen bool
	prefix   string
	clock    clockwork.Clock
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewLimiter creates a limiter over counter
func NewLimiter(counter Counter, opts Options) *Limiter {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.Prefix == "" {
		opts.Prefix = "ratelimit"
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Limiter{
		counter:  counter,
		window:   opts.Window,
		failOpen: opts.FailOpen,
		prefix:   opts.Prefix,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Window returns the counting window
func (l *Limiter) Window() time.Duration {
	return l.window
}

// WindowLimit scales an hourly limit to the limiter's window, rounding up.
// Zero stays zero.
func (l *Limiter) WindowLimit(perHour int64) int64 {
	if perHour <= 0 {
		return 0
	}
	if l.window == time.Hour {
		return perHour
	}
	scaled := (perHour*int64(l.window) + int64(time.Hour) - 1) / int64(time.Hour)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// Allow counts one call for tenantID against perHour. A counter failure
// returns ErrUnavailable with Allowed set to the fail-open policy.
func (l *Limiter) Allow(ctx context.Context, tenantID string, perHour int64) (Decision, error) {
	limit := l.WindowLimit(perHour)
	if limit == 0 {
		return Decision{Allowed: true}, nil
	}

	count, ttl, err := l.counter.IncrWindow(ctx, l.key(tenantID), l.window)
	if err != nil {
		l.metrics.RecordRateLimit(ResultError)
		l.logger.WithTenant(tenantID).WithError(err).WithField("fail_open", l.failOpen).Warn("rate limit counter failed")
		return Decision{Allowed: l.failOpen, Limit: limit}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: limit - count,
		Reset:     l.clock.Now().Add(ttl),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	if d.Allowed {
		l.metrics.RecordRateLimit(ResultAllowed)
	} else {
		l.metrics.RecordRateLimit(ResultLimited)
		l.logger.WithTenant(tenantID).WithFields(map[string]interface{}{
			"limit": limit,
			"count": count,
		}).Debug("tenant rate limit exceeded")
	}
	return d, nil
}

func (l *Limiter) key(tenantID string) string {
	return l.prefix + ":" + tenantID
}

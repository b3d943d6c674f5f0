package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmitra/tenancy/pkg/contextkeys"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Searcher reads audit events back, newest first
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// NopLogger discards every event
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

// Close implements Logger
func (NopLogger) Close() error { return nil }

// NewEvent builds an event for action on tenantID. The request id and actor
// come from ctx; r, when set, adds the caller address and user agent. A
// non-nil err marks the event failed.
func NewEvent(ctx context.Context, r *http.Request, action Action, tenantID string, err error) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Status:    StatusSuccess,
		TenantID:  tenantID,
		ActorID:   contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Details:   make(map[string]interface{}),
	}
	if r != nil {
		e.IPAddress = clientIP(r)
		e.UserAgent = r.UserAgent()
	}
	if err != nil {
		e.Status = StatusFailure
		e.ErrorMessage = err.Error()
	}
	return e
}

// clientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote
// host, in that order
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

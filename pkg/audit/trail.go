package audit

import (
	"context"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// Trail records events for callers that must not fail when the audit log
// does. Write failures are logged. A nil Trail records nothing.
type Trail struct {
	logger Logger
	log    *observability.Logger
}

// NewTrail creates a trail over logger
func NewTrail(logger Logger, log *observability.Logger) *Trail {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Trail{logger: logger, log: log}
}

// Record writes e
func (t *Trail) Record(ctx context.Context, e *Event) {
	if t == nil || t.logger == nil {
		return
	}
	if err := t.logger.Log(ctx, e); err != nil {
		t.log.WithTenant(e.TenantID).WithError(err).WithFields(map[string]interface{}{
			"action":   string(e.Action),
			"audit_id": e.ID,
		}).Error("failed to write audit event")
	}
}

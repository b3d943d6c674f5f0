package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentmitra/tenancy/pkg/contextkeys"
	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// TenantResolver resolves serviceable tenants. *tenant.Registry satisfies it.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenant.Context, error)
}

// GrantResolver loads a user's grant in a tenant. *rbac.Resolver satisfies it.
type GrantResolver interface {
	GetGrant(ctx context.Context, tenantID, userID string) (*rbac.Grant, error)
}

// Request names who wants to do what, and for which tenant
type Request struct {
	TenantID  string
	UserID    string
	Operation string
	Resource  string
}

func (r Request) validate() error {
	if r.TenantID == "" {
		return &tenant.NotFoundError{TenantID: r.TenantID}
	}
	if r.UserID == "" || r.Operation == "" || r.Resource == "" {
		return fmt.Errorf("%w: user, operation and resource are required", ErrInvalidRequest)
	}
	return nil
}

// Options configures a Runner
type Options struct {
	Observer Observer
	Clock    clockwork.Clock
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Runner executes work inside a resolved, authorized tenant scope
type Runner struct {
	tenants  TenantResolver
	grants   GrantResolver
	observer Observer
	clock    clockwork.Clock
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRunner creates a runner
func NewRunner(tenants TenantResolver, grants GrantResolver, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Runner{
		tenants:  tenants,
		grants:   grants,
		observer: opts.Observer,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// run tracks one invocation of Run
type run struct {
	r       *Runner
	id      string
	req     Request
	state   State
	binding *Binding
	logger  *observability.Logger
}

func (x *run) to(next State, err error) {
	prev := x.state
	x.state = next
	if x.r.observer != nil {
		x.r.observer.OnTransition(Transition{
			RunID:    x.id,
			TenantID: x.req.TenantID,
			From:     prev,
			To:       next,
			Err:      err,
		})
	}
}

// teardown releases the binding and moves the run to its terminal state.
// It returns the state the run failed in, or "" when it committed.
func (x *run) teardown(err error) string {
	if x.binding != nil {
		x.binding.release()
	}
	if err == nil {
		x.to(StateCommitted, nil)
		return ""
	}
	failedIn := x.state.String()
	x.to(StateFailed, err)
	return failedIn
}

// Run resolves the tenant, authorizes the user and calls work with a context
// carrying the tenant binding. The binding is released before Run returns or
// re-raises a panic from work.
func (r *Runner) Run(ctx context.Context, req Request, work func(ctx context.Context) error) (err error) {
	start := r.clock.Now()
	x := &run{
		r:     r,
		id:    uuid.NewString(),
		req:   req,
		state: StateCreated,
	}
	x.logger = r.logger.WithTenant(req.TenantID).WithFields(map[string]interface{}{
		"run_id":    x.id,
		"operation": req.Operation,
		"resource":  req.Resource,
	})
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		x.logger = x.logger.WithField("request_id", requestID)
	}

	ctx, span := observability.StartSpan(ctx, "execution.Runner.Run", req.TenantID,
		attribute.String("tenancy.run_id", x.id),
		attribute.String("tenancy.operation", req.Operation),
		attribute.String("tenancy.resource", req.Resource),
	)

	defer func() {
		if p := recover(); p != nil {
			perr := observability.MustRecover(p)
			failedIn := x.teardown(perr)
			r.metrics.RecordExecution(StateFailed.String(), failedIn, r.clock.Since(start))
			observability.EndSpan(span, perr)
			x.logger.WithError(perr).Error("work panicked, tenant binding released")
			panic(p)
		}
	}()

	err = x.execute(ctx, work)

	failedIn := x.teardown(err)
	outcome := StateCommitted.String()
	if err != nil {
		outcome = StateFailed.String()
		x.logger.WithError(err).WithField("failed_in", failedIn).Debug("run failed")
	}
	r.metrics.RecordExecution(outcome, failedIn, r.clock.Since(start))
	observability.EndSpan(span, err)
	return err
}

func (x *run) execute(ctx context.Context, work func(ctx context.Context) error) error {
	req := x.req
	if err := req.validate(); err != nil {
		return err
	}
	if outer, ok := FromContext(ctx); ok && outer.TenantID() != req.TenantID {
		return &CrossTenantError{Bound: outer.TenantID(), Requested: req.TenantID}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tc, err := x.r.tenants.Resolve(ctx, req.TenantID)
	if err != nil {
		return err
	}
	x.to(StateTenantResolved, nil)

	grant, err := x.r.grants.GetGrant(ctx, req.TenantID, req.UserID)
	if err != nil {
		return err
	}
	allowed, source := rbac.EvaluateWithSource(grant, req.Operation, req.Resource)
	x.r.metrics.RecordAuthorization(allowed, string(source))
	if !allowed {
		return &rbac.DeniedError{TenantID: req.TenantID, UserID: req.UserID, Operation: req.Operation, Resource: req.Resource}
	}
	x.to(StateAuthorized, nil)

	if err := ctx.Err(); err != nil {
		return err
	}

	x.binding = &Binding{
		runID:     x.id,
		tenant:    tc,
		grant:     grant.Clone(),
		userID:    req.UserID,
		operation: req.Operation,
		resource:  req.Resource,
		startedAt: x.r.clock.Now(),
	}
	bctx := context.WithValue(ctx, contextkeys.TenantBindingKey, x.binding)
	bctx = contextkeys.WithUserID(bctx, req.UserID)
	bctx = contextkeys.WithLogger(bctx, x.r.logger)

	x.to(StateExecuting, nil)
	return work(bctx)
}

// Do is Run for work that produces a value. The value is returned only when
// the run commits.
func Do[T any](ctx context.Context, r *Runner, req Request, work func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Run(ctx, req, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

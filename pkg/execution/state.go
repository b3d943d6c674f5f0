package execution

// State is the position of a run in its lifecycle
type State int

const (
	StateCreated State = iota
	StateTenantResolved
	StateAuthorized
	StateExecuting
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateTenantResolved:
		return "tenant_resolved"
	case StateAuthorized:
		return "authorized"
	case StateExecuting:
		return "executing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// Transition is one state change of a run, as seen by an Observer
type Transition struct {
	RunID    string
	TenantID string
	From     State
	To       State
	// Err is set on transitions to StateFailed
	Err error
}

// Observer receives every transition of every run. It is called
// synchronously and must not block.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(t Transition)

// OnTransition calls f
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}

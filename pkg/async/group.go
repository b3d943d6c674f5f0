package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// ErrShutdown is returned by Go once the group has been shut down
var ErrShutdown = errors.New("background group shut down")

// Group supervises named background loops sharing one context
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *observability.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	running atomic.Int32
}

// NewGroup creates a group whose loops stop when parent is done or on Shutdown
func NewGroup(parent context.Context, logger *observability.Logger) *Group {
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn in its own goroutine. A panic is recovered and logged; an
// error is logged unless it comes from the group's context ending.
func (g *Group) Go(name string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: %s not started", ErrShutdown, name)
	}

	g.wg.Add(1)
	g.running.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.running.Add(-1)
		defer observability.RecoverPanic(g.logger, name)

		err := fn(g.ctx)
		log := g.logger.WithField("task", name)
		switch {
		case err != nil && g.ctx.Err() == nil:
			log.WithError(err).Error("background task stopped")
		default:
			log.Debug("background task stopped")
		}
	}()
	return nil
}

// Running reports how many loops have not returned yet
func (g *Group) Running() int {
	return int(g.running.Load())
}

// Shutdown cancels the loops and waits up to timeout for them to return
func (g *Group) Shutdown(timeout time.Duration) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%d background tasks still running after %v", g.Running(), timeout)
	}
}

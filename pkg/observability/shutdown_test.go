package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", sm.shutdownTimeout)
	}
}

func TestShutdownManager_RunsAllFuncs(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), &http.Server{}, time.Second)

	var calls int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)
	boom := errors.New("redis close failed")
	sm.RegisterShutdownFunc(func(context.Context) error { return boom })
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })

	err := sm.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("Shutdown() = %v, want wrapped %v", err, boom)
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 50*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-release
		return nil
	})

	if err := sm.Shutdown(); err == nil {
		t.Error("expected timeout error")
	}
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForShutdown() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return after cancel")
	}
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "listener")
		panic("lost connection")
	}()

	if !bytes.Contains(buf.Bytes(), []byte("PANIC recovered")) {
		t.Errorf("expected panic log, got %s", buf.String())
	}
}

func TestMustRecover(t *testing.T) {
	if err := MustRecover(nil); err != nil {
		t.Errorf("MustRecover(nil) = %v", err)
	}
	err := MustRecover("bad")
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "bad" {
		t.Errorf("MustRecover(\"bad\") = %v", err)
	}
}

package runbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Echo(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("demo.echo", func(ctx context.Context, env Envelope) (Result, error) {
		return Result{"ok": true, "data": env.Payload}, nil
	})

	res := bus.Request(context.Background(), "demo.echo", map[string]any{"x": 1}, "test", testTimeout)

	require.True(t, res.OK())
	data, ok := res["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, data["x"])
}

func TestRequest_NoHandler(t *testing.T) {
	bus := newTestBus(t)

	start := time.Now()
	res := bus.Request(context.Background(), "non.existing.topic", nil, "test", testTimeout)

	assert.False(t, res.OK())
	assert.Equal(t, ErrCodeNoHandler, res.ErrorKind())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "no_handler must fail without waiting")
}

func TestRequest_Timeout(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("demo.slow", func(ctx context.Context, env Envelope) (Result, error) {
		time.Sleep(500 * time.Millisecond)
		return Result{"ok": true}, nil
	})

	start := time.Now()
	res := bus.Request(context.Background(), "demo.slow", nil, "test", 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, res.OK())
	assert.Equal(t, ErrCodeTimeout, res.ErrorKind())
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond, "caller must not wait for the slow handler")
}

func TestRequest_HandlerError(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		return nil, errors.New("backend unavailable")
	})

	res := bus.Request(context.Background(), "t", nil, "test", testTimeout)

	assert.Equal(t, ErrCodeHandlerError, res.ErrorKind())
	assert.NotContains(t, res, "detail", "error detail stays in the log, not the reply")
}

func TestRequest_HandlerPanic(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		panic("boom")
	})

	var res Result
	require.NotPanics(t, func() {
		res = bus.Request(context.Background(), "t", nil, "test", testTimeout)
	})
	assert.Equal(t, ErrCodeHandlerError, res.ErrorKind())
}

func TestRequest_InvalidResponse(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		return nil, nil
	})

	res := bus.Request(context.Background(), "t", nil, "test", testTimeout)

	assert.Equal(t, ErrCodeInvalidResponse, res.ErrorKind())
}

func TestRequest_EnvelopeTargetIsRequest(t *testing.T) {
	bus := newTestBus(t)

	var got Envelope
	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		got = env
		return Result{"ok": true}, nil
	})

	bus.Request(context.Background(), "t", nil, "test", testTimeout, WithRequestTraceID("tr-1"))

	assert.Equal(t, TargetRequest, got.Target)
	assert.Equal(t, "tr-1", got.TraceID)
}

func TestRequest_LateResultDiscarded_SideEffectCompletes(t *testing.T) {
	bus := newTestBus(t)

	var sideEffect atomic.Bool
	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		time.Sleep(80 * time.Millisecond)
		sideEffect.Store(true)
		return Result{"ok": true}, nil
	})

	res := bus.Request(context.Background(), "t", nil, "test", 20*time.Millisecond)
	assert.Equal(t, ErrCodeTimeout, res.ErrorKind())

	// The handler is not cancelled; it finishes in the background.
	assert.True(t, waitFor(t, time.Second, sideEffect.Load))
}

func TestRequest_NoCancellationByDefault(t *testing.T) {
	bus := newTestBus(t)

	var sawCancel atomic.Bool
	done := make(chan struct{})
	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		defer close(done)
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-time.After(150 * time.Millisecond):
		}
		return Result{"ok": true}, nil
	})

	bus.Request(context.Background(), "t", nil, "test", 20*time.Millisecond)

	select {
	case <-done:
	case <-timeoutAfter(t):
		t.Fatal("handler never finished")
	}
	assert.False(t, sawCancel.Load(), "handler context must not be cancelled by default")
}

func TestRequest_WithCancelPropagation(t *testing.T) {
	bus := newTestBus(t)

	cancelled := make(chan struct{})
	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		select {
		case <-ctx.Done():
			close(cancelled)
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return Result{"ok": true}, nil
		}
	})

	res := bus.Request(context.Background(), "t", nil, "test", 30*time.Millisecond, WithCancelPropagation())
	assert.Equal(t, ErrCodeTimeout, res.ErrorKind())

	select {
	case <-cancelled:
	case <-timeoutAfter(t):
		t.Fatal("handler context was never cancelled despite WithCancelPropagation")
	}
}

func TestRequest_CallerContextCancelled(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("t", func(ctx context.Context, env Envelope) (Result, error) {
		time.Sleep(time.Second)
		return Result{"ok": true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := bus.Request(ctx, "t", nil, "test", testTimeout)

	assert.Equal(t, ErrCodeTimeout, res.ErrorKind())
	assert.Less(t, time.Since(start), 800*time.Millisecond)
}

func TestRequest_MetricsCountFailures(t *testing.T) {
	bus := newTestBus(t)

	bus.RegisterHandler("ok", func(ctx context.Context, env Envelope) (Result, error) {
		return Result{"ok": true}, nil
	})

	bus.Request(context.Background(), "ok", nil, "test", testTimeout)
	bus.Request(context.Background(), "missing", nil, "test", testTimeout)
	bus.Request(context.Background(), "missing", nil, "test", testTimeout)

	m := bus.GetMetrics()
	assert.Equal(t, uint64(3), m.Requests)
	assert.Equal(t, uint64(2), m.RequestFailures)
}

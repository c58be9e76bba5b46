package runbus

import (
	"context"
	"time"
)

// Request performs synchronous request/reply against the one handler
// registered for the topic.
//
// No handler: an immediate no_handler failure, with no goroutine
// spawned. Otherwise the handler runs on a fresh goroutine while the
// caller blocks on a timed wait. A handler that answers in time with a
// non-nil map has its result forwarded as-is; a nil map with a nil
// error becomes invalid_response; a returned error or panic becomes
// handler_error (detail logged, never leaked to the caller).
//
// When the timeout elapses (or the caller's context is cancelled)
// first, the caller gets a timeout failure. The handler goroutine is
// not force-stopped: it runs to completion and its late result is
// discarded. Best-effort, non-cancelling by design; see
// WithCancelPropagation for the cooperative opt-in.
func (b *Bus) Request(ctx context.Context, topic string, payload map[string]any, source string, timeout time.Duration, opts ...RequestOption) Result {
	var cfg requestConfig
	for _, o := range opts {
		o(&cfg)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()

	b.metrics.requests.Add(1)
	if h == nil {
		b.metrics.requestFailures.Add(1)
		b.notify(BusEvent{Type: EventRequestDone, Topic: topic, Outcome: ErrCodeNoHandler})
		return Failure(ErrCodeNoHandler)
	}

	env := newEnvelope(b.clock, topic, payload, source, cfg.traceID, TargetRequest)
	b.notify(BusEvent{Type: EventRequestStart, Topic: topic, MessageID: env.ID, TraceID: env.TraceID})
	start := b.clock.Now()

	// The handler runs on a bus-owned context, not the caller's, so a
	// caller giving up never cancels it. WithCancelPropagation attaches
	// the deadline for handlers that want to stop early.
	hctx := b.handlerContext()
	var hcancel context.CancelFunc
	if cfg.propagate && timeout > 0 {
		hctx, hcancel = context.WithTimeout(hctx, timeout)
	}

	resCh := make(chan Result, 1)
	go func() {
		if hcancel != nil {
			defer hcancel()
		}
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().
					Str("topic", topic).
					Str("trace_id", env.TraceID).
					Msg("runbus: request handler panic (recovered)")
				resCh <- Failure(ErrCodeHandlerError)
			}
		}()

		res, err := h(hctx, env)
		switch {
		case err != nil:
			b.logger.Error().
				Err(err).
				Str("topic", topic).
				Str("trace_id", env.TraceID).
				Msg("runbus: request handler error")
			resCh <- Failure(ErrCodeHandlerError)
		case res == nil:
			resCh <- Failure(ErrCodeInvalidResponse)
		default:
			resCh <- res
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		outcome := res.ErrorKind()
		if outcome != "" {
			b.metrics.requestFailures.Add(1)
		}
		b.notify(BusEvent{
			Type:      EventRequestDone,
			Topic:     topic,
			MessageID: env.ID,
			TraceID:   env.TraceID,
			Outcome:   outcome,
			Duration:  b.clock.Since(start),
		})
		return res
	case <-timer.C:
	case <-ctx.Done():
	}

	// Caller-side give-up; the handler goroutine keeps running and its
	// eventual result is dropped on the buffered channel.
	b.metrics.requestFailures.Add(1)
	b.metrics.requestTimeouts.Add(1)
	b.notify(BusEvent{
		Type:      EventRequestDone,
		Topic:     topic,
		MessageID: env.ID,
		TraceID:   env.TraceID,
		Outcome:   ErrCodeTimeout,
		Duration:  b.clock.Since(start),
	})
	return Failure(ErrCodeTimeout)
}

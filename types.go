package runbus

import (
	"context"
)

// SubscriberFunc consumes one published envelope. Panics are contained
// by the bus: they are logged and never reach the publisher or other
// subscribers.
type SubscriberFunc func(ctx context.Context, env Envelope)

// RequestHandler answers a single request envelope. It must return a
// non-nil Result or an error; a nil Result with a nil error is
// reported to the caller as an invalid_response failure. A returned
// error (or a panic) resolves to a handler_error failure.
type RequestHandler func(ctx context.Context, env Envelope) (Result, error)

// Result is the map answered by request handlers and job handlers.
// By convention it carries at least "ok": bool.
type Result map[string]any

// OK reports whether the result carries "ok": true.
func (r Result) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// ErrorKind returns the structured failure kind, or "" when absent.
func (r Result) ErrorKind() string {
	kind, _ := r["error"].(string)
	return kind
}

// Failure builds the structured failure result for a taxonomy kind.
func Failure(kind string) Result {
	return Result{"ok": false, "error": kind}
}

// Publisher is the narrow bus surface handed to job workers and
// boundary registrars. *Bus implements it; StickyPublisher wraps it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any, source string, opts ...PublishOption) Envelope
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishConfig)

type publishConfig struct {
	traceID string
	sticky  bool
}

// WithTraceID reuses a caller-supplied trace id instead of generating
// a fresh one.
func WithTraceID(id string) PublishOption {
	return func(c *publishConfig) { c.traceID = id }
}

// WithSticky caches the envelope as the topic's last sticky value so
// later subscribers with replay enabled still observe it.
func WithSticky() PublishOption {
	return func(c *publishConfig) { c.sticky = true }
}

// SubscribeOption configures a single Subscribe call.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	replayLast bool
}

// WithReplayLast delivers the topic's cached sticky envelope, if any,
// to the new subscriber once, synchronously, before Subscribe returns.
func WithReplayLast() SubscribeOption {
	return func(c *subscribeConfig) { c.replayLast = true }
}

// RequestOption configures a single Request call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	traceID   string
	propagate bool
}

// WithRequestTraceID reuses a caller-supplied trace id for the request
// envelope.
func WithRequestTraceID(id string) RequestOption {
	return func(c *requestConfig) { c.traceID = id }
}

// WithCancelPropagation passes the request deadline to the handler's
// context so cooperative handlers can stop early. The default is
// non-cancelling: the handler runs to completion and a late result is
// discarded, never force-stopped.
func WithCancelPropagation() RequestOption {
	return func(c *requestConfig) { c.propagate = true }
}

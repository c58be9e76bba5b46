package runbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ Publisher = (*Bus)(nil)

// Bus is the in-process dispatcher: pub/sub fan-out, single-handler
// request/reply, and a sticky last-value cache per topic.
//
// Locking discipline: the table mutex is held only while reading or
// mutating the subscriber/handler tables, never while invoking a
// handler, so handlers may call back into the bus without deadlocking.
type Bus struct {
	clock       xclock.Clock
	logger      *xlog.Logger
	baseCtx     context.Context
	middlewares []RequestMiddleware

	mu        sync.Mutex
	subs      map[string]*subscription
	topicSubs map[string][]string // topic -> sub ids in registration order
	handlers  map[string]RequestHandler

	stickyMu sync.Mutex
	sticky   map[string]Envelope

	observersMu  sync.RWMutex
	observers    []Observer
	observerPool *ObserverPool

	metrics   busMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

type subscription struct {
	id    string
	topic string
	fn    SubscriberFunc
}

// Subscribe adds a fan-out subscriber for a topic and returns its
// subscription id. Never blocks. With WithReplayLast, a cached sticky
// envelope for the topic is delivered to the new subscriber once,
// synchronously, before Subscribe returns.
func (b *Bus) Subscribe(topic string, fn SubscriberFunc, opts ...SubscribeOption) string {
	var cfg subscribeConfig
	for _, o := range opts {
		o(&cfg)
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = &subscription{id: id, topic: topic, fn: fn}
	b.topicSubs[topic] = append(b.topicSubs[topic], id)
	b.mu.Unlock()

	if cfg.replayLast {
		if env, ok := b.lastSticky(topic); ok {
			b.metrics.replays.Add(1)
			b.deliver(b.handlerContext(), id, fn, env.withPayloadCopy(), EventReplay)
		}
	}
	return id
}

// Unsubscribe removes a subscription. Idempotent; unknown ids are a
// no-op. A removed id is never delivered to again.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)

	ids := b.topicSubs[sub.topic]
	for i, sid := range ids {
		if sid == id {
			b.topicSubs[sub.topic] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(b.topicSubs[sub.topic]) == 0 {
		delete(b.topicSubs, sub.topic)
	}
}

// RegisterHandler installs the single request/reply handler for a
// topic, silently replacing any previous one (last registration wins;
// bootstrap code relies on later registrations overriding earlier
// ones). Bus-wide request middlewares are composed around the handler
// here.
func (b *Bus) RegisterHandler(topic string, h RequestHandler) {
	if h != nil {
		h = Chain(h, b.middlewares...)
	}
	b.mu.Lock()
	b.handlers[topic] = h
	b.mu.Unlock()
}

// Publish builds an envelope and invokes every current subscriber for
// the topic synchronously, on the caller's goroutine, in registration
// order. Each delivery is individually panic-isolated: a subscriber
// failure is logged and counted but never aborts later deliveries or
// reaches the publisher. With WithSticky the envelope is cached for
// the topic before delivery. Publishing to a topic with no subscribers
// still returns the envelope.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]any, source string, opts ...PublishOption) Envelope {
	var cfg publishConfig
	for _, o := range opts {
		o(&cfg)
	}

	env := newEnvelope(b.clock, topic, payload, source, cfg.traceID, "")
	if cfg.sticky {
		b.stickyMu.Lock()
		b.sticky[topic] = env
		b.stickyMu.Unlock()
	}

	b.mu.Lock()
	ids := b.topicSubs[topic]
	targets := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := b.subs[id]; ok {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	hctx := b.subscriberContext(ctx)
	for _, sub := range targets {
		b.deliver(hctx, sub.id, sub.fn, env.withPayloadCopy(), EventDeliver)
	}

	b.metrics.published.Add(1)
	b.notify(BusEvent{Type: EventPublish, Topic: topic, MessageID: env.ID, TraceID: env.TraceID})
	return env
}

// deliver invokes one subscriber inside a panic boundary.
func (b *Bus) deliver(ctx context.Context, subID string, fn SubscriberFunc, env Envelope, evType EventType) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.deliveryPanics.Add(1)
			b.logger.Warn().
				Str("topic", env.Topic).
				Str("sub_id", subID).
				Msg("runbus: subscriber panic (recovered)")
			b.notify(BusEvent{
				Type:      EventDeliverError,
				Topic:     env.Topic,
				SubID:     subID,
				MessageID: env.ID,
				TraceID:   env.TraceID,
				Outcome:   ErrCodeHandlerError,
			})
		}
	}()

	fn(ctx, env)
	b.metrics.delivered.Add(1)
	b.notify(BusEvent{Type: evType, Topic: env.Topic, SubID: subID, MessageID: env.ID, TraceID: env.TraceID})
}

// lastSticky returns the cached sticky envelope for a topic, if any.
func (b *Bus) lastSticky(topic string) (Envelope, bool) {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	env, ok := b.sticky[topic]
	return env, ok
}

// handlerContext derives the context handed to request and replay
// handlers: the bus base context with logger and clock injected.
func (b *Bus) handlerContext() context.Context {
	ctx := injectLogger(b.baseCtx, b.logger)
	return injectClock(ctx, b.clock)
}

// subscriberContext derives the delivery context from the publisher's
// context so subscribers observe the caller's deadlines and values.
func (b *Bus) subscriberContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = b.baseCtx
	}
	ctx = injectLogger(ctx, b.logger)
	return injectClock(ctx, b.clock)
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes a previously added observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notify dispatches an event to observers asynchronously via the pool.
func (b *Bus) notify(e BusEvent) {
	if b.observerPool == nil || b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(e, observers)
}

// Close drains the observer pool and marks the bus closed. Dispatch
// tables stay readable so in-flight workers can finish; only observer
// notification stops. Idempotent.
func (b *Bus) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("runbus: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})
	return closeErr
}

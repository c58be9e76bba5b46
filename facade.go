package runbus

import (
	"context"
	"sync"
	"time"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// Default returns the process-wide singleton Bus, building one with
// defaults on first use. Prefer constructing a Bus explicitly and
// passing it to collaborators; the singleton exists for compatibility.
func Default() *Bus {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus == nil {
		defaultBus = NewBusBuilder().Build()
	}
	return defaultBus
}

// SetDefault replaces the process-wide default Bus.
func SetDefault(b *Bus) {
	if b == nil {
		panic("runbus: SetDefault called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Publish is the Facade using the default bus.
func Publish(ctx context.Context, topic string, payload map[string]any, source string, opts ...PublishOption) Envelope {
	return Default().Publish(ctx, topic, payload, source, opts...)
}

// Subscribe is the Facade using the default bus.
func Subscribe(topic string, fn SubscriberFunc, opts ...SubscribeOption) string {
	return Default().Subscribe(topic, fn, opts...)
}

// Unsubscribe is the Facade using the default bus.
func Unsubscribe(id string) {
	Default().Unsubscribe(id)
}

// RegisterHandler is the Facade using the default bus.
func RegisterHandler(topic string, h RequestHandler) {
	Default().RegisterHandler(topic, h)
}

// Request is the Facade using the default bus.
func Request(ctx context.Context, topic string, payload map[string]any, source string, timeout time.Duration, opts ...RequestOption) Result {
	return Default().Request(ctx, topic, payload, source, timeout, opts...)
}

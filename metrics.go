package runbus

import "sync/atomic"

// busMetrics uses lock-free atomics so dispatch never contends on
// telemetry.
type busMetrics struct {
	published       atomic.Uint64
	delivered       atomic.Uint64
	deliveryPanics  atomic.Uint64
	replays         atomic.Uint64
	requests        atomic.Uint64
	requestFailures atomic.Uint64
	requestTimeouts atomic.Uint64
}

// Metrics is a point-in-time snapshot of bus telemetry.
type Metrics struct {
	Published       uint64
	Delivered       uint64
	DeliveryPanics  uint64
	Replays         uint64
	Requests        uint64
	RequestFailures uint64
	RequestTimeouts uint64
	EventsDropped   uint64
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	m := Metrics{
		Published:       b.metrics.published.Load(),
		Delivered:       b.metrics.delivered.Load(),
		DeliveryPanics:  b.metrics.deliveryPanics.Load(),
		Replays:         b.metrics.replays.Load(),
		Requests:        b.metrics.requests.Load(),
		RequestFailures: b.metrics.requestFailures.Load(),
		RequestTimeouts: b.metrics.requestTimeouts.Load(),
	}
	if b.observerPool != nil {
		m.EventsDropped = b.observerPool.Stats().Dropped
	}
	return m
}

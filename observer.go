package runbus

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates bus lifecycle events for the Observer pattern.
type EventType string

const (
	EventPublish      EventType = "publish"
	EventDeliver      EventType = "deliver"
	EventDeliverError EventType = "deliver_error"
	EventReplay       EventType = "replay"
	EventRequestStart EventType = "request_start"
	EventRequestDone  EventType = "request_done"
	EventError        EventType = "error"
)

// BusEvent carries telemetry for observers.
type BusEvent struct {
	Type      EventType
	Topic     string
	SubID     string
	MessageID string
	TraceID   string
	// Outcome is the structured failure kind for EventRequestDone and
	// EventDeliverError, "" on success.
	Outcome  string
	Duration time.Duration
	Err      error

	// Internal: attached for async dispatch.
	observers []Observer
}

// Observer receives bus lifecycle events. Implementations should be
// non-blocking; slow observers are decoupled by the ObserverPool.
type Observer interface {
	OnBusEvent(e BusEvent)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e BusEvent)

func (f ObserverFunc) OnBusEvent(e BusEvent) { f(e) }

// LoggingObserver is an Adapter that emits BusEvents via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnBusEvent(e BusEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("message_id", e.MessageID),
		xlog.Str("trace_id", e.TraceID),
	)
	if e.Outcome != "" {
		ev = ev.With(xlog.Str("outcome", e.Outcome))
	}
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch e.Type {
	case EventError, EventDeliverError:
		ev.Warn().Err(e.Err).Msg("runbus event")
	default:
		ev.Debug().Msg("runbus event")
	}
}

package runbus

import (
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
)

// TargetRequest marks envelopes dispatched to a request/reply handler.
const TargetRequest = "request"

// Envelope is the immutable wrapper around one unit of bus traffic.
// Construction copies the payload; delivery hands each subscriber its
// own copy, so no two handlers ever share a mutable map.
type Envelope struct {
	// ID is a unique, time-sortable message identifier.
	ID string
	// Topic is the dot-separated topic the envelope was published to.
	Topic string
	// Timestamp is the UTC construction time (from the injected clock).
	Timestamp time.Time
	// Source names the publisher for diagnostics and correlation.
	Source string
	// Payload is the message body.
	Payload map[string]any
	// TraceID correlates causally related envelopes.
	TraceID string
	// Target is TargetRequest for request dispatch, empty otherwise.
	Target string
}

// newEnvelope builds an Envelope with a fresh ID and, when trace is
// empty, a fresh trace id.
func newEnvelope(clock xclock.Clock, topic string, payload map[string]any, source, trace, target string) Envelope {
	if trace == "" {
		trace = uuid.NewString()
	}
	return Envelope{
		ID:        newEnvelopeID(),
		Topic:     topic,
		Timestamp: clock.Now().UTC(),
		Source:    source,
		Payload:   copyPayload(payload),
		TraceID:   trace,
		Target:    target,
	}
}

// withPayloadCopy returns a shallow copy of the envelope carrying its
// own payload map. Used per delivery to keep envelopes immutable from
// the subscriber's point of view.
func (e Envelope) withPayloadCopy() Envelope {
	e.Payload = copyPayload(e.Payload)
	return e
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

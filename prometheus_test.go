package runbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromObserver_CountsBusEvents(t *testing.T) {
	o := NewPromObserverWith(prometheus.NewRegistry(), "runbus")

	o.OnBusEvent(BusEvent{Type: EventPublish, Topic: "t"})
	o.OnBusEvent(BusEvent{Type: EventPublish, Topic: "t"})
	o.OnBusEvent(BusEvent{Type: EventDeliver, Topic: "t"})
	o.OnBusEvent(BusEvent{Type: EventReplay, Topic: "t"})
	o.OnBusEvent(BusEvent{Type: EventDeliverError, Topic: "t"})
	o.OnBusEvent(BusEvent{Type: EventRequestDone, Topic: "q", Duration: 3 * time.Millisecond})
	o.OnBusEvent(BusEvent{Type: EventRequestDone, Topic: "q", Outcome: ErrCodeTimeout, Duration: time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.publishes.WithLabelValues("t")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.deliveries.WithLabelValues("t", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deliveries.WithLabelValues("t", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.requests.WithLabelValues("q", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.requests.WithLabelValues("q", "timeout")))
}

func TestPromObserver_CountsJobOutcomes(t *testing.T) {
	o := NewPromObserverWith(prometheus.NewRegistry(), "runbus")

	o.OnJobCompleted(JobRecord{JobType: "report", Status: JobStatusCompleted})
	o.OnJobCompleted(JobRecord{JobType: "report", Status: JobStatusCompleted, Error: "disk full"})

	assert.Equal(t, 1.0, testutil.ToFloat64(o.jobsCompleted.WithLabelValues("report", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.jobsCompleted.WithLabelValues("report", "error")))
}

func TestPromObserver_AttachedToBus(t *testing.T) {
	o := NewPromObserverWith(prometheus.NewRegistry(), "runbus")

	bus := NewBusBuilder().WithObserver(o).Build()
	t.Cleanup(func() { _ = bus.Close() })

	bus.Subscribe("t", func(ctx context.Context, env Envelope) {})
	bus.Publish(context.Background(), "t", nil, "test")

	bus.RegisterHandler("q", func(ctx context.Context, env Envelope) (Result, error) {
		return nil, errors.New("nope")
	})
	bus.Request(context.Background(), "q", nil, "test", testTimeout)

	// Observer dispatch rides the async pool.
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(o.publishes.WithLabelValues("t")) == 1.0 &&
			testutil.ToFloat64(o.deliveries.WithLabelValues("t", "ok")) == 1.0 &&
			testutil.ToFloat64(o.requests.WithLabelValues("q", ErrCodeHandlerError)) == 1.0
	}))
}

func TestPromObserver_AsHistorySink(t *testing.T) {
	o := NewPromObserverWith(prometheus.NewRegistry(), "runbus")

	bus := newTestBus(t)
	jobs := NewJobManager(WithHistorySink(o))
	jobs.RegisterJobHandler("noop", func(ctx context.Context, payload map[string]any, jc *JobContext) (Result, error) {
		return Result{"ok": true}, nil
	})

	jobID := jobs.CreateJob("noop", nil, bus, "test")
	waitCompleted(t, jobs, jobID)

	require.True(t, waitFor(t, time.Second, func() bool {
		return testutil.ToFloat64(o.jobsCompleted.WithLabelValues("noop", "ok")) == 1.0
	}))
}

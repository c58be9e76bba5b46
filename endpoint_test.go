package runbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindJobEndpoint_RequestSubmitsJob(t *testing.T) {
	bus := newTestBus(t)
	jobs := NewJobManager()

	var gotPayload map[string]any
	jobs.RegisterJobHandler("core.cleanup", func(ctx context.Context, payload map[string]any, jc *JobContext) (Result, error) {
		gotPayload = payload
		return Result{"removed": 5}, nil
	})

	BindJobEndpoint(bus, jobs, nil, TopicCleanupRequest, "core.cleanup", "core")

	res := bus.Request(context.Background(), TopicCleanupRequest, map[string]any{"dry_run": false}, "ui", testTimeout)

	require.True(t, res.OK())
	jobID, ok := res["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	rec := waitCompleted(t, jobs, jobID)
	assert.Equal(t, 5, rec.Result["removed"])
	assert.Equal(t, false, gotPayload["dry_run"])
}

func TestBindJobEndpoint_StickyCompletionReplayable(t *testing.T) {
	bus := newTestBus(t)
	jobs := NewJobManager()

	jobs.RegisterJobHandler("core.cleanup", func(ctx context.Context, payload map[string]any, jc *JobContext) (Result, error) {
		jc.Publish(ctx, TopicCleanupCompleted, map[string]any{"removed": 2})
		return Result{"ok": true}, nil
	})

	pub := NewStickyPublisher(bus, TopicCleanupCompleted)
	BindJobEndpoint(bus, jobs, pub, TopicCleanupRequest, "core.cleanup", "core")

	res := bus.Request(context.Background(), TopicCleanupRequest, nil, "ui", testTimeout)
	require.True(t, res.OK())
	waitCompleted(t, jobs, res["job_id"].(string))

	// Subscriber attaching after the fact still sees the outcome.
	var replayed []Envelope
	require.True(t, waitFor(t, time.Second, func() bool {
		replayed = nil
		id := bus.Subscribe(TopicCleanupCompleted, func(ctx context.Context, env Envelope) {
			replayed = append(replayed, env)
		}, WithReplayLast())
		bus.Unsubscribe(id)
		return len(replayed) == 1
	}))
	assert.Equal(t, 2, replayed[0].Payload["removed"])
	assert.Equal(t, res["job_id"], replayed[0].Payload["job_id"])
}

func TestStickyPublisher_LeavesOtherTopicsAlone(t *testing.T) {
	bus := newTestBus(t)
	pub := NewStickyPublisher(bus, "sticky.topic")

	pub.Publish(context.Background(), "plain.topic", map[string]any{"n": 1}, "test")

	calls := 0
	bus.Subscribe("plain.topic", func(ctx context.Context, env Envelope) { calls++ }, WithReplayLast())
	assert.Equal(t, 0, calls)
}

func TestBindJobEndpoints_Multiple(t *testing.T) {
	bus := newTestBus(t)
	jobs := NewJobManager()

	jobs.RegisterJobHandler("core.report", func(ctx context.Context, payload map[string]any, jc *JobContext) (Result, error) {
		return Result{"kind": "report"}, nil
	})
	jobs.RegisterJobHandler("core.install", func(ctx context.Context, payload map[string]any, jc *JobContext) (Result, error) {
		return Result{"kind": "install"}, nil
	})

	BindJobEndpoints(bus, jobs, nil, "core",
		Endpoint{Topic: TopicStorageReportRequest, JobType: "core.report"},
		Endpoint{Topic: TopicInstallRequest, JobType: "core.install"},
	)

	res := bus.Request(context.Background(), TopicStorageReportRequest, nil, "ui", testTimeout)
	require.True(t, res.OK())
	rec := waitCompleted(t, jobs, res["job_id"].(string))
	assert.Equal(t, "report", rec.Result["kind"])

	res = bus.Request(context.Background(), TopicInstallRequest, nil, "ui", testTimeout)
	require.True(t, res.OK())
	rec = waitCompleted(t, jobs, res["job_id"].(string))
	assert.Equal(t, "install", rec.Result["kind"])
}

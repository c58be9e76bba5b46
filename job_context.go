package runbus

import "context"

// JobContext is the capability handle given to a running job handler;
// it is the handler's only sanctioned channel back to the bus.
type JobContext struct {
	jobID   string
	jobType string
	source  string
	bus     Publisher
	manager *JobManager
}

// JobID returns the id of the job this context belongs to.
func (c *JobContext) JobID() string { return c.jobID }

// JobType returns the job type this context belongs to.
func (c *JobContext) JobType() string { return c.jobType }

// Progress updates the job record and publishes a job.progress event.
func (c *JobContext) Progress(ctx context.Context, percent float64, stage string) {
	c.manager.update(c.jobID, func(r *JobRecord) {
		r.Progress = percent
		r.Stage = stage
	})
	c.manager.publish(ctx, c.bus, TopicJobProgress, map[string]any{
		"job_id":   c.jobID,
		"job_type": c.jobType,
		"percent":  percent,
		"stage":    stage,
	}, c.source)
}

// Publish emits a domain event on behalf of the job, stamping job_id
// into the payload when absent so collaborators can correlate it
// without the manager knowing the event vocabulary.
func (c *JobContext) Publish(ctx context.Context, topic string, payload map[string]any) {
	data := copyPayload(payload)
	if _, ok := data["job_id"]; !ok {
		data["job_id"] = c.jobID
	}
	c.manager.publish(ctx, c.bus, topic, data, c.source)
}

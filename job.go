package runbus

import (
	"context"
	"time"
)

// JobStatus is the lifecycle state of a job. Status only moves
// forward: pending -> running -> completed. There is no separate
// failed state; success or failure travels in the completion payload's
// ok/error fields.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
)

// JobHandler executes one job. It receives the submission payload and
// a JobContext, its only sanctioned channel back to the bus. A
// returned error (or a panic) is captured on the record and echoed in
// the job.completed event.
type JobHandler func(ctx context.Context, payload map[string]any, jc *JobContext) (Result, error)

// JobRecord tracks one job. Mutated only by the job's own worker
// goroutine; read by other goroutines through lock-guarded snapshot
// copies, never live references.
type JobRecord struct {
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	Status      JobStatus `json:"status"`
	Progress    float64   `json:"progress"`
	Stage       string    `json:"stage,omitempty"`
	Result      Result    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// snapshot returns a copy safe to hand out while the worker keeps
// mutating the original.
func (r *JobRecord) snapshot() JobRecord {
	out := *r
	if r.Result != nil {
		out.Result = Result(copyPayload(r.Result))
	}
	return out
}

package runbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// JobManager runs asynchronous jobs on dedicated worker goroutines and
// tracks their lifecycle. Each submitted job gets one goroutine for
// its full duration; callers observe outcomes through job.* events and
// lock-guarded record snapshots.
type JobManager struct {
	clock   xclock.Clock
	logger  *xlog.Logger
	baseCtx context.Context

	mu           sync.Mutex
	handlers     map[string]JobHandler
	records      map[string]*JobRecord
	order        []string // job ids in submission order
	running      map[string]struct{}
	historyLimit int

	sinks []HistorySink
}

// JobManagerOption configures a JobManager.
type JobManagerOption func(*JobManager)

// WithJobLogger injects a custom xlog logger.
func WithJobLogger(l *xlog.Logger) JobManagerOption {
	return func(m *JobManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithJobClock injects a custom xclock clock.
func WithJobClock(c xclock.Clock) JobManagerOption {
	return func(m *JobManager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithJobContext sets the base context handed to job handlers.
func WithJobContext(ctx context.Context) JobManagerOption {
	return func(m *JobManager) {
		if ctx != nil {
			m.baseCtx = ctx
		}
	}
}

// WithHistoryLimit bounds retained job records by count. Zero (the
// default) retains records for the process lifetime. Eviction removes
// the oldest completed records only; in-flight jobs are never evicted.
func WithHistoryLimit(n int) JobManagerOption {
	return func(m *JobManager) {
		if n >= 0 {
			m.historyLimit = n
		}
	}
}

// WithHistorySink attaches a sink notified once per completed job.
func WithHistorySink(s HistorySink) JobManagerOption {
	return func(m *JobManager) {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
}

// NewJobManager constructs a JobManager.
func NewJobManager(opts ...JobManagerOption) *JobManager {
	m := &JobManager{
		clock:    xclock.Default(),
		logger:   xlog.Default(),
		baseCtx:  context.Background(),
		handlers: make(map[string]JobHandler),
		records:  make(map[string]*JobRecord),
		running:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterJobHandler associates a job type with its handler. Must
// precede CreateJob of that type; a later registration silently
// replaces the earlier one (same policy as the bus handler table).
func (m *JobManager) RegisterJobHandler(jobType string, h JobHandler) {
	m.mu.Lock()
	m.handlers[jobType] = h
	m.mu.Unlock()
}

// CreateJob allocates a job id, stores a pending record, spawns the
// worker goroutine, and returns immediately regardless of how long the
// job will run. Lifecycle and domain events flow through the supplied
// publisher.
func (m *JobManager) CreateJob(jobType string, payload map[string]any, bus Publisher, source string) string {
	jobID := uuid.NewString()
	body := copyPayload(payload)

	m.mu.Lock()
	m.records[jobID] = &JobRecord{
		JobID:     jobID,
		JobType:   jobType,
		Status:    JobStatusPending,
		CreatedAt: m.clock.Now().UTC(),
	}
	m.order = append(m.order, jobID)
	m.running[jobID] = struct{}{}
	m.evictLocked()
	m.mu.Unlock()

	go m.run(jobID, jobType, body, bus, source)
	return jobID
}

// CancelJob is a permanent no-op returning false: jobs have no
// cancellation. Callers observe the completion event instead.
func (m *JobManager) CancelJob(jobID string) bool {
	return false
}

// Record returns a snapshot of one job record.
func (m *JobManager) Record(jobID string) (JobRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return JobRecord{}, false
	}
	return r.snapshot(), true
}

// History returns snapshots of retained records, newest first. A
// non-positive limit returns everything retained.
func (m *JobManager) History(limit int) []JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]JobRecord, 0, n)
	for i := len(m.order) - 1; i >= 0 && len(out) < n; i-- {
		if r, ok := m.records[m.order[i]]; ok {
			out = append(out, r.snapshot())
		}
	}
	return out
}

// run is the worker body: one goroutine per job, alive for the job's
// full duration.
func (m *JobManager) run(jobID, jobType string, payload map[string]any, bus Publisher, source string) {
	ctx := m.handlerContext()

	m.update(jobID, func(r *JobRecord) {
		if r.Status == JobStatusPending {
			r.Status = JobStatusRunning
			r.StartedAt = m.clock.Now().UTC()
		}
	})
	m.publish(ctx, bus, TopicJobStarted, map[string]any{
		"job_id":   jobID,
		"job_type": jobType,
	}, source)

	m.mu.Lock()
	h := m.handlers[jobType]
	m.mu.Unlock()

	jc := &JobContext{jobID: jobID, jobType: jobType, source: source, bus: bus, manager: m}

	var result Result
	var errMsg string
	if h == nil {
		errMsg = ErrCodeUnknownJob
	} else {
		result, errMsg = m.invoke(ctx, jobType, h, payload, jc)
	}
	ok := errMsg == ""

	completed := m.complete(jobID, ok, result, errMsg)

	var resultField any
	var errField any
	if ok {
		resultField = map[string]any(result)
	} else {
		errField = errMsg
	}
	m.publish(ctx, bus, TopicJobCompleted, map[string]any{
		"job_id":   jobID,
		"job_type": jobType,
		"ok":       ok,
		"result":   resultField,
		"error":    errField,
	}, source)

	m.mu.Lock()
	delete(m.running, jobID)
	m.mu.Unlock()

	m.notifySinks(completed)
}

// invoke runs the handler inside the fault boundary, capturing either
// a result map or the failure message.
func (m *JobManager) invoke(ctx context.Context, jobType string, h JobHandler, payload map[string]any, jc *JobContext) (result Result, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("job_type", jobType).
				Str("job_id", jc.jobID).
				Msg("runbus: job handler panic (recovered)")
			result = nil
			errMsg = fmt.Sprintf("panic: %v", r)
		}
	}()

	out, err := h(ctx, payload, jc)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("job_type", jobType).
			Str("job_id", jc.jobID).
			Msg("runbus: job handler error")
		return nil, err.Error()
	}
	if out == nil {
		out = Result{}
	}
	return out, ""
}

// complete finalizes the record and returns its snapshot.
func (m *JobManager) complete(jobID string, ok bool, result Result, errMsg string) JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.records[jobID]
	if !found {
		return JobRecord{}
	}
	r.Status = JobStatusCompleted
	r.CompletedAt = m.clock.Now().UTC()
	if ok {
		r.Result = Result(copyPayload(result))
		r.Error = ""
	} else {
		r.Result = nil
		r.Error = errMsg
	}
	return r.snapshot()
}

// update applies a mutation to a record under lock. Used by the job's
// own worker goroutine only (single-writer).
func (m *JobManager) update(jobID string, fn func(r *JobRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[jobID]; ok {
		fn(r)
	}
}

// evictLocked drops the oldest completed records beyond the history
// limit. Caller holds m.mu.
func (m *JobManager) evictLocked() {
	if m.historyLimit <= 0 {
		return
	}
	for len(m.order) > m.historyLimit {
		evicted := false
		for i, id := range m.order {
			r, ok := m.records[id]
			if ok && r.Status != JobStatusCompleted {
				continue
			}
			if _, inFlight := m.running[id]; inFlight {
				continue
			}
			delete(m.records, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

// publish emits an event through the supplied publisher, tolerating a
// nil publisher and any publisher panic so job workers never die to
// telemetry.
func (m *JobManager) publish(ctx context.Context, bus Publisher, topic string, payload map[string]any, source string) {
	if bus == nil || topic == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().
				Str("topic", topic).
				Msg("runbus: job event publish panic (recovered)")
		}
	}()
	bus.Publish(ctx, topic, payload, source)
}

// notifySinks delivers a completed record to every history sink,
// panic-tolerant.
func (m *JobManager) notifySinks(rec JobRecord) {
	if rec.JobID == "" {
		return
	}
	for _, s := range m.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Warn().
						Str("job_id", rec.JobID).
						Msg("runbus: history sink panic (recovered)")
				}
			}()
			s.OnJobCompleted(rec)
		}()
	}
}

func (m *JobManager) handlerContext() context.Context {
	ctx := injectLogger(m.baseCtx, m.logger)
	return injectClock(ctx, m.clock)
}

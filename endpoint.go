package runbus

import "context"

// Endpoint maps one request topic to one job type.
type Endpoint struct {
	Topic   string
	JobType string
}

// StickyPublisher wraps a Publisher so publishes on selected topics
// are always sticky. Boundary registrars use it so a subscriber
// attaching after a completion topic fired still observes the last
// outcome.
type StickyPublisher struct {
	base   Publisher
	topics map[string]struct{}
}

var _ Publisher = (*StickyPublisher)(nil)

// NewStickyPublisher wraps base, forcing sticky publishes for topics.
func NewStickyPublisher(base Publisher, topics ...string) *StickyPublisher {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &StickyPublisher{base: base, topics: set}
}

func (p *StickyPublisher) Publish(ctx context.Context, topic string, payload map[string]any, source string, opts ...PublishOption) Envelope {
	if _, ok := p.topics[topic]; ok {
		opts = append(opts, WithSticky())
	}
	return p.base.Publish(ctx, topic, payload, source, opts...)
}

// BindJobEndpoint registers a request handler that submits a job of
// jobType and answers {ok:true, job_id} immediately; the actual
// outcome is observed asynchronously via the job.* event stream
// correlated by job_id. Lifecycle and domain events flow through pub
// (pass the bus itself, or a StickyPublisher for sticky completion
// topics).
func BindJobEndpoint(bus *Bus, jobs *JobManager, pub Publisher, topic, jobType, source string) {
	if pub == nil {
		pub = bus
	}
	bus.RegisterHandler(topic, func(ctx context.Context, env Envelope) (Result, error) {
		jobID := jobs.CreateJob(jobType, env.Payload, pub, source)
		return Result{"ok": true, "job_id": jobID}, nil
	})
}

// BindJobEndpoints registers several request-topic -> job-type
// bindings at once.
func BindJobEndpoints(bus *Bus, jobs *JobManager, pub Publisher, source string, eps ...Endpoint) {
	for _, ep := range eps {
		BindJobEndpoint(bus, jobs, pub, ep.Topic, ep.JobType, source)
	}
}

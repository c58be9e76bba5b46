package runbus

// Topic constants for the job lifecycle and the core domain endpoints.
// Topic names are opaque dot-separated strings; their payload shapes
// belong to the collaborators publishing on them.
const (
	// Job lifecycle
	TopicJobStarted   = "job.started"
	TopicJobProgress  = "job.progress"
	TopicJobCompleted = "job.completed"

	// Core / storage
	TopicStorageReportRequest = "core.storage.report.request"
	TopicStorageReportReady   = "core.storage.report.ready"
	TopicCleanupRequest       = "core.cleanup.request"
	TopicCleanupStarted       = "core.cleanup.started"
	TopicCleanupCompleted     = "core.cleanup.completed"

	// Content install
	TopicInstallRequest   = "content.install.request"
	TopicInstallProgress  = "content.install.progress"
	TopicInstallCompleted = "content.install.completed"

	// Errors
	TopicErrorRaised = "error.raised"
)

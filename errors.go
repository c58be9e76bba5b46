package runbus

import "errors"

// Structured failure kinds. These travel inside Result values as
// {"ok": false, "error": kind}; they never surface as Go errors from
// the public API.
const (
	// ErrCodeNoHandler: the request topic has no registered handler.
	ErrCodeNoHandler = "no_handler"
	// ErrCodeTimeout: the caller gave up before the handler answered.
	ErrCodeTimeout = "timeout"
	// ErrCodeHandlerError: the handler returned an error or panicked.
	ErrCodeHandlerError = "handler_error"
	// ErrCodeInvalidResponse: the handler answered with no usable map.
	ErrCodeInvalidResponse = "invalid_response"
	// ErrCodeUnknownJob: the job type has no registered handler.
	ErrCodeUnknownJob = "unknown_job"
)

var (
	// ErrObserverPoolShutdownTimeout reports that the observer pool did
	// not drain within the close timeout.
	ErrObserverPoolShutdownTimeout = errors.New("runbus: observer pool shutdown timeout")

	// ErrBusClosed reports use of a bus after Close.
	ErrBusClosed = errors.New("runbus: bus is closed")
)

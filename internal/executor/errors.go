package executor

import "fmt"

// ErrorKind classifies terminal job failures
type ErrorKind string

const (
	// ErrStreamExpired means a stream token stayed stale through the retry budget
	ErrStreamExpired ErrorKind = "StreamExpired"

	// ErrStalled means a download made no byte progress through the retry budget
	ErrStalled ErrorKind = "Stalled"

	// ErrMuxFailed means the muxing engine rejected the downloaded streams
	ErrMuxFailed ErrorKind = "MuxFailed"

	// ErrFinalizeFailed means the output could not be moved into place
	ErrFinalizeFailed ErrorKind = "FinalizeFailed"

	// ErrCancelled means the job was stopped by the cancellation signal
	ErrCancelled ErrorKind = "Cancelled"
)

// JobError is a job failure with its classification and the engine's
// diagnostic text, surfaced to the user rather than swallowed.
type JobError struct {
	Kind       ErrorKind
	Diagnostic string
	Err        error
}

func (e *JobError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Diagnostic)
	}
	return string(e.Kind)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

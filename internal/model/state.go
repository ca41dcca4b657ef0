package model

// JobState represents the lifecycle state of a download job
type JobState string

const (
	// JobStatePending means the job is queued but not started
	JobStatePending JobState = "Pending"

	// JobStateResolving means stream tokens are being turned into locators
	JobStateResolving JobState = "Resolving"

	// JobStateDownloading means stream bytes are being fetched
	JobStateDownloading JobState = "Downloading"

	// JobStateMuxing means separate streams are being combined
	JobStateMuxing JobState = "Muxing"

	// JobStateFinalizing means the output is being moved into place
	JobStateFinalizing JobState = "Finalizing"

	// JobStateCompleted means the job finished successfully
	JobStateCompleted JobState = "Completed"

	// JobStateCancelled means the job was stopped by a cancellation signal
	JobStateCancelled JobState = "Cancelled"

	// JobStateFailed means the job hit an unrecoverable error
	JobStateFailed JobState = "Failed"
)

// String returns the string representation of JobState
func (js JobState) String() string {
	return string(js)
}

// IsTerminal returns true if no further transition is possible
func (js JobState) IsTerminal() bool {
	return js == JobStateCompleted || js == JobStateCancelled || js == JobStateFailed
}

// IsActive returns true if the job is past admission but not yet terminal
func (js JobState) IsActive() bool {
	return js == JobStateResolving || js == JobStateDownloading ||
		js == JobStateMuxing || js == JobStateFinalizing
}

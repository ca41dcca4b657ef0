package model

// BatchStatus is the aggregate status of all jobs in one batch
type BatchStatus string

const (
	// BatchRunning means at least one member job is not yet terminal
	BatchRunning BatchStatus = "Running"

	// BatchAllCompleted means every member job completed
	BatchAllCompleted BatchStatus = "AllCompleted"

	// BatchPartialSuccess means some members completed and some did not
	BatchPartialSuccess BatchStatus = "PartialSuccess"

	// BatchAllFailed means no member completed
	BatchAllFailed BatchStatus = "AllFailed"
)

// String returns the string representation of BatchStatus
func (bs BatchStatus) String() string {
	return string(bs)
}

// ComputeBatchStatus derives the batch status purely from member states, so
// it can be recomputed at any time without counter drift.
func ComputeBatchStatus(states []JobState) BatchStatus {
	completed := 0
	for _, s := range states {
		if !s.IsTerminal() {
			return BatchRunning
		}
		if s == JobStateCompleted {
			completed++
		}
	}
	switch {
	case completed == len(states):
		return BatchAllCompleted
	case completed > 0:
		return BatchPartialSuccess
	default:
		return BatchAllFailed
	}
}

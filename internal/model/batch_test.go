package model

import "testing"

func TestComputeBatchStatus(t *testing.T) {
	tests := []struct {
		name     string
		states   []JobState
		expected BatchStatus
	}{
		{"all completed", []JobState{JobStateCompleted, JobStateCompleted}, BatchAllCompleted},
		{"one still downloading", []JobState{JobStateCompleted, JobStateDownloading}, BatchRunning},
		{"one still pending", []JobState{JobStateCompleted, JobStatePending}, BatchRunning},
		{"completed and failed", []JobState{JobStateCompleted, JobStateFailed}, BatchPartialSuccess},
		{"completed and cancelled", []JobState{JobStateCompleted, JobStateCancelled}, BatchPartialSuccess},
		{"all failed", []JobState{JobStateFailed, JobStateFailed}, BatchAllFailed},
		{"all cancelled", []JobState{JobStateCancelled, JobStateCancelled}, BatchAllFailed},
		{"failed and cancelled", []JobState{JobStateFailed, JobStateCancelled}, BatchAllFailed},
		{"empty batch", []JobState{}, BatchAllCompleted},
	}

	for _, test := range tests {
		result := ComputeBatchStatus(test.states)
		if result != test.expected {
			t.Errorf("%s: ComputeBatchStatus() = %s, expected %s", test.name, result, test.expected)
		}
	}
}

func TestBatchStatus_String(t *testing.T) {
	status := BatchPartialSuccess
	expected := "PartialSuccess"
	result := status.String()

	if result != expected {
		t.Errorf("BatchStatus.String() = %s, expected %s", result, expected)
	}
}

package model

import (
	"sync"
	"sync/atomic"
)

// Progress is the byte-level progress of a job. BytesTotal stays 0 until the
// stream headers report a content length; once known, BytesDone never exceeds
// it and never decreases until the job reaches a terminal state, even if a
// restarted download attempt briefly re-covers old ground.
type Progress struct {
	BytesDone  int64
	BytesTotal int64
}

// Snapshot is the immutable observable state of a job, published as one unit
// so a reader never sees a stale byte count paired with a newer state.
type Snapshot struct {
	State    JobState
	Progress Progress
	Err      error // last error, nil unless Failed or Cancelled
}

// Job is one unit of work: fetch and produce one output file for one entry.
// The identity fields are set once by the builder; the observable state is a
// snapshot replaced atomically on every transition. The executor is the only
// writer; coordinator and presentation read concurrently without locks.
type Job struct {
	ID              string
	Entry           MediaEntry
	VideoFormat     *FormatOption
	AudioFormat     *FormatOption
	DestPath        string
	TargetContainer string // non-empty when a mux/convert step produces the output

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[Snapshot]
}

// NewJob creates a job in the Pending state.
func NewJob(id string, entry MediaEntry, videoFmt, audioFmt *FormatOption, destPath, targetContainer string) *Job {
	j := &Job{
		ID:              id,
		Entry:           entry,
		VideoFormat:     videoFmt,
		AudioFormat:     audioFmt,
		DestPath:        destPath,
		TargetContainer: targetContainer,
	}
	j.snap.Store(&Snapshot{State: JobStatePending})
	return j
}

// Snapshot returns the current observable state of the job.
func (j *Job) Snapshot() Snapshot {
	return *j.snap.Load()
}

// State returns the current state of the job.
func (j *Job) State() JobState {
	return j.snap.Load().State
}

// Transition moves the job to the given state, carrying progress forward.
// Terminal states are never left; a transition attempted after one is
// reached is ignored and reported as false.
func (j *Job) Transition(state JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur := j.snap.Load()
	if cur.State.IsTerminal() {
		return false
	}
	j.snap.Store(&Snapshot{State: state, Progress: cur.Progress, Err: cur.Err})
	return true
}

// ReportProgress publishes new byte counts. BytesDone never regresses: a
// download attempt restarted from zero keeps the previously observed maximum
// until the re-download catches up. Updates after a terminal state are ignored.
func (j *Job) ReportProgress(bytesDone, bytesTotal int64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur := j.snap.Load()
	if cur.State.IsTerminal() {
		return
	}
	if bytesDone < cur.Progress.BytesDone {
		bytesDone = cur.Progress.BytesDone
	}
	if bytesTotal == 0 {
		bytesTotal = cur.Progress.BytesTotal
	}
	if bytesTotal > 0 && bytesDone > bytesTotal {
		bytesDone = bytesTotal
	}
	j.snap.Store(&Snapshot{
		State:    cur.State,
		Progress: Progress{BytesDone: bytesDone, BytesTotal: bytesTotal},
		Err:      cur.Err,
	})
}

// Complete moves the job to Completed and pins progress at its total.
func (j *Job) Complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur := j.snap.Load()
	if cur.State.IsTerminal() {
		return false
	}
	p := cur.Progress
	if p.BytesTotal > 0 {
		p.BytesDone = p.BytesTotal
	}
	j.snap.Store(&Snapshot{State: JobStateCompleted, Progress: p})
	return true
}

// Fail moves the job to Failed with the given error attached.
func (j *Job) Fail(err error) bool {
	return j.finish(JobStateFailed, err)
}

// Cancel moves the job to Cancelled with the given error attached.
func (j *Job) Cancel(err error) bool {
	return j.finish(JobStateCancelled, err)
}

func (j *Job) finish(state JobState, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur := j.snap.Load()
	if cur.State.IsTerminal() {
		return false
	}
	j.snap.Store(&Snapshot{State: state, Progress: cur.Progress, Err: err})
	return true
}

// ResetForRetry rewinds a Failed job to Pending with zero progress so it can
// be resubmitted. Jobs in any other state, terminal or not, are left alone.
func (j *Job) ResetForRetry() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur := j.snap.Load()
	if cur.State != JobStateFailed {
		return false
	}
	j.snap.Store(&Snapshot{State: JobStatePending})
	return true
}

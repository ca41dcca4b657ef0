package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ytget/tubegrab/internal/model"
)

// tracker aggregates per-stream byte counts into the job's single progress
// figure. The combined total is published only once every stream's total is
// known, so the denominator never jumps around mid-download.
type tracker struct {
	job    *model.Job
	notify func(*model.Job)

	mu     sync.Mutex
	done   []int64
	totals []int64 // -1 until known
}

func newTracker(job *model.Job, streams int, notify func(*model.Job)) *tracker {
	totals := make([]int64, streams)
	for i := range totals {
		totals[i] = -1
	}
	return &tracker{
		job:    job,
		notify: notify,
		done:   make([]int64, streams),
		totals: totals,
	}
}

// set records the absolute byte count of one stream and publishes the sums.
func (t *tracker) set(idx int, done int64) {
	t.mu.Lock()
	t.done[idx] = done
	sumDone, sumTotal := t.sums()
	t.mu.Unlock()

	t.job.ReportProgress(sumDone, sumTotal)
	if t.notify != nil {
		t.notify(t.job)
	}
}

// setTotal records one stream's total once its headers report it.
func (t *tracker) setTotal(idx int, total int64) {
	t.mu.Lock()
	t.totals[idx] = total
	sumDone, sumTotal := t.sums()
	t.mu.Unlock()

	t.job.ReportProgress(sumDone, sumTotal)
	if t.notify != nil {
		t.notify(t.job)
	}
}

func (t *tracker) sums() (done, total int64) {
	for _, d := range t.done {
		done += d
	}
	for _, tt := range t.totals {
		if tt < 0 {
			return done, 0
		}
		total += tt
	}
	return done, total
}

// atomicTime is a monotonic "last activity" marker shared between the read
// loop and the stall watchdog.
type atomicTime struct {
	ns atomic.Int64
}

func newAtomicTime() *atomicTime {
	t := &atomicTime{}
	t.touch()
	return t
}

func (t *atomicTime) touch() {
	t.ns.Store(time.Now().UnixNano())
}

func (t *atomicTime) since() time.Duration {
	return time.Since(time.Unix(0, t.ns.Load()))
}

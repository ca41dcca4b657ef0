package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ytget/tubegrab/internal/model"
)

// Limits for the worker pool size
const (
	DefaultLimit = 2
	MaxLimit     = 10
)

// Runner executes one job to a terminal state. It must honor ctx.
type Runner func(ctx context.Context, job *model.Job)

// Queue runs jobs through a bounded worker pool. A queue serves exactly one
// Run call; a new batch gets a fresh queue.
type Queue struct {
	limit int
	feed  *feed
}

// New creates a queue with the given concurrency limit, clamped to [1, MaxLimit].
func New(limit int) *Queue {
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return &Queue{
		limit: limit,
		feed:  newFeed(),
	}
}

// Limit returns the concurrency limit.
func (q *Queue) Limit() int {
	return q.limit
}

// Subscribe returns a channel of job events. Each subscriber gets its own
// coalescing view; subscribe before Run. The channel closes when the run
// finishes and all pending events have been delivered.
func (q *Queue) Subscribe() <-chan Event {
	return q.feed.subscribe()
}

// Publish emits the job's current snapshot to all subscribers. It is handed
// to the executor as its notify callback.
func (q *Queue) Publish(job *model.Job) {
	q.feed.publish(Event{JobID: job.ID, Snapshot: job.Snapshot()})
}

// Run executes the jobs in submission order with at most the configured
// number running concurrently. When ctx is cancelled no new job starts,
// running jobs are expected to stop cooperatively, and jobs never admitted
// are marked Cancelled. Run returns only after every job reached a terminal
// state, then closes the feed.
func (q *Queue) Run(ctx context.Context, jobs []*model.Job, run Runner) {
	defer q.feed.close()

	work := make(chan *model.Job)
	var wg sync.WaitGroup

	for i := 0; i < q.limit; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for job := range work {
				if ctx.Err() != nil {
					q.markCancelled(job)
					continue
				}
				slog.Debug("job admitted", "worker", worker, "job_id", job.ID)
				run(ctx, job)
			}
		}(i)
	}

	for _, job := range jobs {
		work <- job
	}
	close(work)
	wg.Wait()

	// A runner that returned without reaching a terminal state would leave
	// the batch status stuck at Running; close that hole here.
	for _, job := range jobs {
		if !job.State().IsTerminal() {
			q.markCancelled(job)
		}
	}
}

func (q *Queue) markCancelled(job *model.Job) {
	if job.Cancel(context.Canceled) {
		q.Publish(job)
	}
}

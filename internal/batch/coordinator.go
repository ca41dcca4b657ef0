package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/tubegrab/internal/model"
	"github.com/ytget/tubegrab/internal/queue"
)

const batchIDPrefix = "batch-"

// ErrStillRunning is returned when an operation needs the batch to be done.
var ErrStillRunning = fmt.Errorf("batch is still running")

// Update is one batch-level observation: the member event that caused it
// plus the batch aggregate derived at that moment.
type Update struct {
	BatchID    string
	Job        queue.Event
	Status     model.BatchStatus
	BytesDone  int64
	BytesTotal int64
}

// RunnerFactory builds the per-job runner with the coordinator's publish
// hook injected, so every snapshot change the runner makes lands on the feed.
type RunnerFactory func(notify func(*model.Job)) queue.Runner

// Coordinator owns one batch: its jobs, their shared cancellation scope and
// concurrency budget. Batch status is always derived from member snapshots,
// never counted incrementally.
type Coordinator struct {
	ID   string
	jobs []*model.Job

	limit int
	run   queue.Runner

	mu     sync.Mutex
	queue  *queue.Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator for the given jobs. makeRunner receives the
// coordinator's notify hook and returns the function that executes a single
// job; limit bounds how many run at once.
func New(jobs []*model.Job, limit int, makeRunner RunnerFactory) *Coordinator {
	c := &Coordinator{
		ID:    generateBatchID(),
		jobs:  jobs,
		limit: limit,
		queue: queue.New(limit),
	}
	c.run = makeRunner(c.Notify)
	return c
}

// Jobs returns the member jobs in submission order.
func (c *Coordinator) Jobs() []*model.Job {
	return c.jobs
}

// Notify exposes the queue's publish hook for wiring into the executor.
func (c *Coordinator) Notify(job *model.Job) {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	q.Publish(job)
}

// Start begins executing the whole batch. It returns immediately; use
// Subscribe or Wait to observe completion.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrStillRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.runJobs(runCtx, c.queue, c.jobs, c.done)

	slog.Info("batch started", "batch_id", c.ID, "jobs", len(c.jobs), "limit", c.limit)
	return nil
}

func (c *Coordinator) runJobs(ctx context.Context, q *queue.Queue, jobs []*model.Job, done chan struct{}) {
	q.Run(ctx, jobs, c.run)

	c.mu.Lock()
	c.done = nil
	c.mu.Unlock()
	close(done)

	slog.Info("batch finished", "batch_id", c.ID, "status", c.Status())
}

// Wait blocks until the current run (initial or retry) has finished.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a run is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

// CancelAll asks every running job to stop and prevents pending ones from
// starting. It returns once every member job has reached a terminal state.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.Wait()
}

// RetryFailed resubmits only the Failed members, preserving original batch
// membership and order. Completed and Cancelled members are left untouched.
// It fails while a run is still in flight.
func (c *Coordinator) RetryFailed(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return ErrStillRunning
	}

	var retry []*model.Job
	for _, job := range c.jobs {
		if job.ResetForRetry() {
			retry = append(retry, job)
		}
	}
	if len(retry) == 0 {
		c.mu.Unlock()
		return nil
	}

	// A fresh queue gives the retry run its own feed and worker pool.
	q := queue.New(c.limit)
	c.queue = q
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	slog.Info("retrying failed jobs", "batch_id", c.ID, "jobs", len(retry))
	go c.runJobs(runCtx, q, retry, done)
	return nil
}

// Subscribe returns batch-level updates derived from the current run's job
// events. The channel closes when the run finishes.
func (c *Coordinator) Subscribe() <-chan Update {
	c.mu.Lock()
	src := c.queue.Subscribe()
	c.mu.Unlock()

	out := make(chan Update)
	go func() {
		defer close(out)
		for ev := range src {
			done, total := c.OverallProgress()
			out <- Update{
				BatchID:    c.ID,
				Job:        ev,
				Status:     c.Status(),
				BytesDone:  done,
				BytesTotal: total,
			}
		}
	}()
	return out
}

// Status derives the batch status from the current member states.
func (c *Coordinator) Status() model.BatchStatus {
	states := make([]model.JobState, len(c.jobs))
	for i, job := range c.jobs {
		states[i] = job.State()
	}
	return model.ComputeBatchStatus(states)
}

// OverallProgress sums progress over members whose total is known; members
// with an unknown total are excluded from both sums rather than counted as
// zero-length.
func (c *Coordinator) OverallProgress() (bytesDone, bytesTotal int64) {
	for _, job := range c.jobs {
		p := job.Snapshot().Progress
		if p.BytesTotal <= 0 {
			continue
		}
		bytesDone += p.BytesDone
		bytesTotal += p.BytesTotal
	}
	return bytesDone, bytesTotal
}

// generateBatchID generates a unique batch ID using UUID v7 for better
// uniqueness and time ordering.
func generateBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(batchIDPrefix+"%d", time.Now().UnixNano())
	}
	return batchIDPrefix + id.String()
}

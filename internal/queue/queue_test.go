package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ytget/tubegrab/internal/model"
)

func makeJobs(n int) []*model.Job {
	jobs := make([]*model.Job, n)
	for i := 0; i < n; i++ {
		jobs[i] = model.NewJob(
			"job-"+string(rune('a'+i)),
			model.MediaEntry{ID: "vid", Title: "Video"},
			nil, nil, "/tmp/out", "",
		)
	}
	return jobs
}

func TestQueue_New_ClampsLimit(t *testing.T) {
	tests := []struct {
		limit    int
		expected int
	}{
		{0, DefaultLimit},
		{-3, DefaultLimit},
		{1, 1},
		{5, 5},
		{MaxLimit, MaxLimit},
		{99, MaxLimit},
	}

	for _, test := range tests {
		q := New(test.limit)
		if q.Limit() != test.expected {
			t.Errorf("New(%d).Limit() = %d, expected %d", test.limit, q.Limit(), test.expected)
		}
	}
}

func TestQueue_Run_BoundsConcurrency(t *testing.T) {
	const limit = 2
	jobs := makeJobs(6)
	q := New(limit)

	var current, peak int64
	runner := func(ctx context.Context, job *model.Job) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		job.Complete()
	}

	q.Run(context.Background(), jobs, runner)

	if p := atomic.LoadInt64(&peak); p > limit {
		t.Errorf("observed %d concurrent jobs, limit is %d", p, limit)
	}
	for _, job := range jobs {
		if job.State() != model.JobStateCompleted {
			t.Errorf("job %s state = %s, expected Completed", job.ID, job.State())
		}
	}
}

func TestQueue_Run_AdmitsInSubmissionOrder(t *testing.T) {
	jobs := makeJobs(5)
	q := New(1)

	var mu sync.Mutex
	var order []string
	runner := func(ctx context.Context, job *model.Job) {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		job.Complete()
	}

	q.Run(context.Background(), jobs, runner)

	if len(order) != len(jobs) {
		t.Fatalf("ran %d jobs, expected %d", len(order), len(jobs))
	}
	for i, job := range jobs {
		if order[i] != job.ID {
			t.Errorf("admission order[%d] = %s, expected %s", i, order[i], job.ID)
		}
	}
}

func TestQueue_Run_CancelMarksUnstartedJobsCancelled(t *testing.T) {
	jobs := makeJobs(5)
	q := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once

	runner := func(ctx context.Context, job *model.Job) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		job.Cancel(ctx.Err())
	}

	go func() {
		<-started
		cancel()
	}()

	q.Run(ctx, jobs, runner)

	for _, job := range jobs {
		if job.State() != model.JobStateCancelled {
			t.Errorf("job %s state = %s, expected Cancelled", job.ID, job.State())
		}
	}
}

func TestQueue_Run_SweepsNonTerminalJobs(t *testing.T) {
	jobs := makeJobs(2)
	q := New(2)

	// A runner that returns without finishing its job must not leave the
	// batch stuck in a non-terminal state.
	runner := func(ctx context.Context, job *model.Job) {
		job.Transition(model.JobStateDownloading)
	}

	q.Run(context.Background(), jobs, runner)

	for _, job := range jobs {
		if !job.State().IsTerminal() {
			t.Errorf("job %s state = %s, expected a terminal state", job.ID, job.State())
		}
		if job.State() != model.JobStateCancelled {
			t.Errorf("job %s state = %s, expected Cancelled", job.ID, job.State())
		}
	}
}

func TestQueue_Subscribe_DeliversAndCloses(t *testing.T) {
	jobs := makeJobs(2)
	q := New(1)
	sub := q.Subscribe()

	runner := func(ctx context.Context, job *model.Job) {
		job.Transition(model.JobStateDownloading)
		q.Publish(job)
		job.Complete()
		q.Publish(job)
	}

	go q.Run(context.Background(), jobs, runner)

	seen := make(map[string]model.JobState)
	for ev := range sub {
		seen[ev.JobID] = ev.Snapshot.State
	}

	for _, job := range jobs {
		if seen[job.ID] != model.JobStateCompleted {
			t.Errorf("last observed state for %s = %s, expected Completed", job.ID, seen[job.ID])
		}
	}
}

func TestQueue_Subscribe_CoalescesForSlowConsumer(t *testing.T) {
	q := New(1)
	sub := q.Subscribe()

	job := makeJobs(1)[0]
	const updates = 100
	for i := 1; i <= updates; i++ {
		job.ReportProgress(int64(i), updates)
		q.Publish(job)
	}
	q.feed.close()

	var events []Event
	for ev := range sub {
		events = append(events, ev)
	}

	if len(events) == 0 {
		t.Fatal("subscriber received no events")
	}
	if len(events) >= updates {
		t.Errorf("received %d events for %d publishes, expected coalescing", len(events), updates)
	}
	last := events[len(events)-1]
	if last.Snapshot.Progress.BytesDone != updates {
		t.Errorf("last event BytesDone = %d, expected %d", last.Snapshot.Progress.BytesDone, updates)
	}
}

func TestQueue_SubscribeAfterClose(t *testing.T) {
	q := New(1)
	q.feed.close()

	sub := q.Subscribe()
	select {
	case _, ok := <-sub:
		if ok {
			t.Error("subscriber after close received an event, expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("subscriber channel not closed after feed close")
	}
}

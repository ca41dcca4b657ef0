package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ytget/tubegrab/internal/engine"
	"github.com/ytget/tubegrab/internal/model"
	"github.com/ytget/tubegrab/internal/platform"
)

// Defaults
const (
	DefaultStallTimeout = 30 * time.Second
	DefaultRetryBudget  = 3
	DefaultChunkSize    = 128 * 1024
	DefaultRetryBackoff = 2 * time.Second
)

// Config tunes the executor. Zero values fall back to the defaults above.
type Config struct {
	ScratchDir   string
	StallTimeout time.Duration
	RetryBudget  int
	ChunkSize    int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(os.TempDir(), "tubegrab")
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Executor runs single jobs through their state machine against the two
// external engines. It is safe for use by multiple queue workers at once.
type Executor struct {
	fetcher engine.Fetcher
	muxer   engine.Muxer
	cfg     Config
	notify  func(*model.Job) // combined state+progress event, may be nil
}

// New creates an executor. notify, when set, is invoked after every published
// snapshot change; it must not block for long.
func New(fetcher engine.Fetcher, muxer engine.Muxer, cfg Config, notify func(*model.Job)) *Executor {
	return &Executor{
		fetcher: fetcher,
		muxer:   muxer,
		cfg:     cfg.withDefaults(),
		notify:  notify,
	}
}

// Execute drives one job to a terminal state. Scratch files are removed on
// every outcome; the destination path only ever holds a complete file.
func (e *Executor) Execute(ctx context.Context, job *model.Job) {
	if ctx.Err() != nil {
		e.cancel(job)
		return
	}

	scratch, err := platform.JobScratchDir(e.cfg.ScratchDir, job.ID)
	if err != nil {
		e.fail(job, &JobError{Kind: ErrFinalizeFailed, Diagnostic: err.Error(), Err: err})
		return
	}
	defer func() {
		if err := platform.RemoveJobScratch(e.cfg.ScratchDir, job.ID); err != nil {
			slog.Warn("failed to remove scratch directory", "job_id", job.ID, "error", err)
		}
	}()

	if err := e.run(ctx, job, scratch); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			e.cancel(job)
			return
		}
		e.fail(job, err)
		return
	}

	if job.Complete() {
		slog.Info("job completed", "job_id", job.ID, "dest", job.DestPath)
		e.emit(job)
	}
}

func (e *Executor) run(ctx context.Context, job *model.Job, scratch string) error {
	e.transition(job, model.JobStateResolving)

	streams, err := e.resolveStreams(ctx, job, scratch)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.transition(job, model.JobStateDownloading)
	if err := e.downloadAll(ctx, job, streams); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	output := streams[0].path
	if container := muxContainer(job, streams); container != "" {
		e.transition(job, model.JobStateMuxing)
		output = filepath.Join(scratch, "output."+container)

		inputs := make([]string, len(streams))
		for i, st := range streams {
			inputs[i] = st.path
		}
		if err := e.muxer.Mux(ctx, inputs, output, container); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &JobError{Kind: ErrMuxFailed, Diagnostic: err.Error(), Err: err}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.transition(job, model.JobStateFinalizing)
	if err := platform.MoveFile(output, job.DestPath); err != nil {
		return &JobError{Kind: ErrFinalizeFailed, Diagnostic: err.Error(), Err: err}
	}
	return nil
}

// streamTask is one stream's download: a resolved locator and its scratch file.
type streamTask struct {
	token string
	loc   *engine.StreamLocator
	path  string
}

// resolveStreams turns every selected format into a locator and a scratch path.
func (e *Executor) resolveStreams(ctx context.Context, job *model.Job, scratch string) ([]*streamTask, error) {
	type selection struct {
		fmt  *model.FormatOption
		name string
	}
	var selected []selection
	if job.VideoFormat != nil {
		selected = append(selected, selection{job.VideoFormat, "video"})
	}
	if job.AudioFormat != nil {
		selected = append(selected, selection{job.AudioFormat, "audio"})
	}
	if len(selected) == 1 {
		selected[0].name = "media"
	}

	streams := make([]*streamTask, 0, len(selected))
	for _, sel := range selected {
		loc, err := e.resolveWithRetry(ctx, job.ID, sel.fmt.StreamToken)
		if err != nil {
			return nil, err
		}
		streams = append(streams, &streamTask{
			token: sel.fmt.StreamToken,
			loc:   loc,
			path:  filepath.Join(scratch, sel.name+"."+sel.fmt.Ext),
		})
	}
	return streams, nil
}

// resolveWithRetry retries expired tokens up to the budget; any other resolve
// failure ends the job immediately.
func (e *Executor) resolveWithRetry(ctx context.Context, jobID, token string) (*engine.StreamLocator, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			slog.Debug("retrying stream resolution", "job_id", jobID, "attempt", attempt+1)
		}

		loc, err := e.fetcher.ResolveStream(ctx, token)
		if err == nil {
			return loc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, engine.ErrStreamExpired) {
			return nil, fmt.Errorf("failed to resolve stream: %w", err)
		}
		lastErr = err
	}
	return nil, &JobError{Kind: ErrStreamExpired, Diagnostic: lastErr.Error(), Err: lastErr}
}

// downloadAll runs every stream download concurrently inside the job's worker
// slot. The first failure cancels the siblings; the job's progress is the sum
// over all streams.
func (e *Executor) downloadAll(ctx context.Context, job *model.Job, streams []*streamTask) error {
	dlCtx, cancelSiblings := context.WithCancel(ctx)
	defer cancelSiblings()

	tr := newTracker(job, len(streams), e.notify)
	errs := make([]error, len(streams))
	done := make(chan int, len(streams))

	for i, st := range streams {
		go func(i int, st *streamTask) {
			defer func() { done <- i }()
			if err := e.downloadStream(dlCtx, job.ID, st, tr, i); err != nil {
				errs[i] = err
				cancelSiblings()
			}
		}(i, st)
	}
	for range streams {
		<-done
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// downloadStream fetches one stream with the retry budget. Stalls and
// transient read errors are retried, resuming from the partial file when the
// source honors ranges; an expired locator is re-resolved before retrying.
func (e *Executor) downloadStream(ctx context.Context, jobID string, st *streamTask, tr *tracker, idx int) error {
	resumable := false
	var lastErr error

	for attempt := 0; attempt <= e.cfg.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			slog.Debug("retrying stream download", "job_id", jobID, "attempt", attempt+1, "resume", resumable)
		}

		err := e.downloadAttempt(ctx, st, tr, idx, attempt, &resumable)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		slog.Warn("download attempt failed", "job_id", jobID, "attempt", attempt+1, "error", err)

		if errors.Is(err, engine.ErrStreamExpired) {
			loc, rerr := e.fetcher.ResolveStream(ctx, st.token)
			if rerr == nil {
				st.loc = loc
			}
		}
	}
	return &JobError{Kind: ErrStalled, Diagnostic: lastErr.Error(), Err: lastErr}
}

func (e *Executor) downloadAttempt(ctx context.Context, st *streamTask, tr *tracker, idx, attempt int, resumable *bool) error {
	offset := int64(0)
	flags := os.O_CREATE | os.O_WRONLY
	if attempt > 0 && *resumable {
		if fi, err := os.Stat(st.path); err == nil {
			offset = fi.Size()
		}
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		tr.set(idx, 0)
	}

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	stream, err := e.fetcher.OpenStream(attemptCtx, st.loc, offset)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	*resumable = stream.SupportsResume
	if stream.Length >= 0 {
		tr.setTotal(idx, offset+stream.Length)
	}

	file, err := os.OpenFile(st.path, flags, platform.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to open scratch file: %w", err)
	}
	defer file.Close()

	// The watchdog cancels the attempt when no bytes arrive within the stall
	// timeout, turning a hung read into a retryable error.
	lastRead := newAtomicTime()
	stalled := make(chan struct{})
	watchStop := make(chan struct{})
	defer close(watchStop)
	go e.watchStall(attemptCtx, lastRead, cancelAttempt, stalled, watchStop)

	written := offset
	buf := make([]byte, e.cfg.ChunkSize)
	for {
		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write stream chunk: %w", werr)
			}
			written += int64(n)
			lastRead.touch()
			tr.set(idx, written)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-stalled:
				return fmt.Errorf("no bytes received within %s", e.cfg.StallTimeout)
			default:
			}
			return rerr
		}
		// Cancellation observed once per chunk.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (e *Executor) watchStall(ctx context.Context, lastRead *atomicTime, cancelAttempt context.CancelFunc, stalled, stop chan struct{}) {
	interval := e.cfg.StallTimeout / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lastRead.since() > e.cfg.StallTimeout {
				close(stalled)
				cancelAttempt()
				return
			}
		}
	}
}

// muxContainer decides whether a mux step runs and which container it targets.
func muxContainer(job *model.Job, streams []*streamTask) string {
	if job.TargetContainer == "" {
		return ""
	}
	if len(streams) > 1 {
		return job.TargetContainer
	}
	if filepath.Ext(streams[0].path) != "."+job.TargetContainer {
		return job.TargetContainer
	}
	return ""
}

func (e *Executor) transition(job *model.Job, state model.JobState) {
	if job.Transition(state) {
		slog.Debug("job state changed", "job_id", job.ID, "state", state)
		e.emit(job)
	}
}

func (e *Executor) fail(job *model.Job, err error) {
	if job.Fail(err) {
		slog.Error("job failed", "job_id", job.ID, "error", err)
		e.emit(job)
	}
}

func (e *Executor) cancel(job *model.Job) {
	if job.Cancel(&JobError{Kind: ErrCancelled}) {
		slog.Info("job cancelled", "job_id", job.ID)
		e.emit(job)
	}
}

func (e *Executor) emit(job *model.Job) {
	if e.notify != nil {
		e.notify(job)
	}
}

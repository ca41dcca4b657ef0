package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ytget/tubegrab/internal/engine"
	"github.com/ytget/tubegrab/internal/model"
)

// fakeFetcher serves in-memory stream bytes keyed by token and can be
// scripted to expire tokens or stall attempts.
type fakeFetcher struct {
	mu sync.Mutex

	streams      map[string][]byte
	expireFirst  map[string]int // resolve calls that fail with ErrStreamExpired
	stallFirst   map[string]int // open calls whose body hangs until cancelled
	resolveCalls map[string]int
	openCalls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		streams:      make(map[string][]byte),
		expireFirst:  make(map[string]int),
		stallFirst:   make(map[string]int),
		resolveCalls: make(map[string]int),
		openCalls:    make(map[string]int),
	}
}

func (f *fakeFetcher) Available() error { return nil }

func (f *fakeFetcher) Probe(ctx context.Context, url string) (*engine.Resolved, error) {
	return nil, errors.New("not used in executor tests")
}

func (f *fakeFetcher) ResolveStream(ctx context.Context, token string) (*engine.StreamLocator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolveCalls[token]++
	if f.expireFirst[token] > 0 {
		f.expireFirst[token]--
		return nil, engine.ErrStreamExpired
	}
	return &engine.StreamLocator{URL: token}, nil
}

func (f *fakeFetcher) OpenStream(ctx context.Context, loc *engine.StreamLocator, offset int64) (*engine.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.openCalls[loc.URL]++
	if f.stallFirst[loc.URL] > 0 {
		f.stallFirst[loc.URL]--
		return &engine.Stream{
			Body:           &hangingBody{ctx: ctx},
			Length:         -1,
			SupportsResume: false,
		}, nil
	}

	data, ok := f.streams[loc.URL]
	if !ok {
		return nil, fmt.Errorf("no stream for %s", loc.URL)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	rest := data[offset:]
	return &engine.Stream{
		Body:           io.NopCloser(bytes.NewReader(rest)),
		Length:         int64(len(rest)),
		SupportsResume: true,
	}, nil
}

func (f *fakeFetcher) resolves(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls[token]
}

// hangingBody never yields bytes; Read returns only when the attempt context
// is cancelled, the way a dead socket behaves under a deadline.
type hangingBody struct {
	ctx context.Context
}

func (b *hangingBody) Read(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *hangingBody) Close() error { return nil }

// dripBody yields one byte at a time forever, for cancellation tests.
type dripBody struct {
	ctx context.Context
}

func (b *dripBody) Read(p []byte) (int, error) {
	select {
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	if len(p) > 0 {
		p[0] = 'x'
		return 1, nil
	}
	return 0, nil
}

func (b *dripBody) Close() error { return nil }

// fakeMuxer concatenates its inputs into the output file.
type fakeMuxer struct {
	mu     sync.Mutex
	calls  int
	inputs []string
	fail   error
}

func (m *fakeMuxer) Available() error { return nil }

func (m *fakeMuxer) Mux(ctx context.Context, inputPaths []string, outputPath, container string) error {
	m.mu.Lock()
	m.calls++
	m.inputs = append([]string(nil), inputPaths...)
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		return fail
	}

	var merged []byte
	for _, in := range inputPaths {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		merged = append(merged, data...)
	}
	return os.WriteFile(outputPath, merged, 0644)
}

func testConfig(t *testing.T) Config {
	return Config{
		ScratchDir:   t.TempDir(),
		StallTimeout: 50 * time.Millisecond,
		RetryBudget:  2,
		ChunkSize:    16,
		RetryBackoff: time.Millisecond,
	}
}

func singleStreamJob(t *testing.T, token string) *model.Job {
	dest := filepath.Join(t.TempDir(), "out.mp4")
	f := &model.FormatOption{Kind: model.FormatCombined, Ext: "mp4", StreamToken: token}
	return model.NewJob("job-1", model.MediaEntry{ID: "vid", Title: "Video"}, f, nil, dest, "")
}

func dualStreamJob(t *testing.T, videoToken, audioToken string) *model.Job {
	dest := filepath.Join(t.TempDir(), "out.mkv")
	vf := &model.FormatOption{Kind: model.FormatVideoOnly, Ext: "mp4", StreamToken: videoToken}
	af := &model.FormatOption{Kind: model.FormatAudioOnly, Ext: "m4a", StreamToken: audioToken}
	return model.NewJob("job-1", model.MediaEntry{ID: "vid", Title: "Video"}, vf, af, dest, "mkv")
}

func TestExecutor_Execute_SingleStream(t *testing.T) {
	fetcher := newFakeFetcher()
	content := bytes.Repeat([]byte("abcdefgh"), 32)
	fetcher.streams["tok-c"] = content

	muxer := &fakeMuxer{}
	cfg := testConfig(t)
	exec := New(fetcher, muxer, cfg, nil)
	job := singleStreamJob(t, "tok-c")

	exec.Execute(context.Background(), job)

	snap := job.Snapshot()
	if snap.State != model.JobStateCompleted {
		t.Fatalf("job state = %s (err %v), expected Completed", snap.State, snap.Err)
	}
	if snap.Progress.BytesDone != int64(len(content)) || snap.Progress.BytesTotal != int64(len(content)) {
		t.Errorf("progress = %d/%d, expected %d/%d",
			snap.Progress.BytesDone, snap.Progress.BytesTotal, len(content), len(content))
	}

	got, err := os.ReadFile(job.DestPath)
	if err != nil {
		t.Fatalf("destination file missing: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("destination content differs: %d bytes, expected %d", len(got), len(content))
	}
	if muxer.calls != 0 {
		t.Errorf("muxer called %d times for a single combined stream, expected 0", muxer.calls)
	}

	scratch := filepath.Join(cfg.ScratchDir, job.ID)
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch directory %s still present after completion", scratch)
	}
}

func TestExecutor_Execute_DualStreamMuxes(t *testing.T) {
	fetcher := newFakeFetcher()
	video := bytes.Repeat([]byte("v"), 64)
	audio := bytes.Repeat([]byte("a"), 32)
	fetcher.streams["tok-v"] = video
	fetcher.streams["tok-a"] = audio

	muxer := &fakeMuxer{}
	exec := New(fetcher, muxer, testConfig(t), nil)
	job := dualStreamJob(t, "tok-v", "tok-a")

	exec.Execute(context.Background(), job)

	snap := job.Snapshot()
	if snap.State != model.JobStateCompleted {
		t.Fatalf("job state = %s (err %v), expected Completed", snap.State, snap.Err)
	}
	if muxer.calls != 1 {
		t.Fatalf("muxer called %d times, expected 1", muxer.calls)
	}
	if len(muxer.inputs) != 2 {
		t.Errorf("muxer received %d inputs, expected 2", len(muxer.inputs))
	}
	if snap.Progress.BytesTotal != int64(len(video)+len(audio)) {
		t.Errorf("BytesTotal = %d, expected %d", snap.Progress.BytesTotal, len(video)+len(audio))
	}

	got, err := os.ReadFile(job.DestPath)
	if err != nil {
		t.Fatalf("destination file missing: %v", err)
	}
	if len(got) != len(video)+len(audio) {
		t.Errorf("destination size = %d, expected %d", len(got), len(video)+len(audio))
	}
}

func TestExecutor_Execute_ExpiredTokenWithinBudget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.streams["tok-c"] = []byte("payload")
	fetcher.expireFirst["tok-c"] = 1

	exec := New(fetcher, &fakeMuxer{}, testConfig(t), nil)
	job := singleStreamJob(t, "tok-c")

	exec.Execute(context.Background(), job)

	if job.State() != model.JobStateCompleted {
		t.Errorf("job state = %s, expected Completed after one expired resolve", job.State())
	}
	if n := fetcher.resolves("tok-c"); n != 2 {
		t.Errorf("resolve calls = %d, expected 2", n)
	}
}

func TestExecutor_Execute_ExpiredTokenExhaustsBudget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.streams["tok-c"] = []byte("payload")
	fetcher.expireFirst["tok-c"] = 100

	cfg := testConfig(t)
	exec := New(fetcher, &fakeMuxer{}, cfg, nil)
	job := singleStreamJob(t, "tok-c")

	exec.Execute(context.Background(), job)

	snap := job.Snapshot()
	if snap.State != model.JobStateFailed {
		t.Fatalf("job state = %s, expected Failed", snap.State)
	}
	var jerr *JobError
	if !errors.As(snap.Err, &jerr) || jerr.Kind != ErrStreamExpired {
		t.Errorf("job error = %v, expected kind %s", snap.Err, ErrStreamExpired)
	}
	if n := fetcher.resolves("tok-c"); n != cfg.RetryBudget+1 {
		t.Errorf("resolve calls = %d, expected %d", n, cfg.RetryBudget+1)
	}
	if _, err := os.Stat(job.DestPath); !os.IsNotExist(err) {
		t.Errorf("destination %s exists after failure", job.DestPath)
	}
}

func TestExecutor_Execute_StallRetriesThenSucceeds(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.streams["tok-c"] = []byte("recovered payload")
	fetcher.stallFirst["tok-c"] = 1

	exec := New(fetcher, &fakeMuxer{}, testConfig(t), nil)
	job := singleStreamJob(t, "tok-c")

	exec.Execute(context.Background(), job)

	if job.State() != model.JobStateCompleted {
		t.Fatalf("job state = %s (err %v), expected Completed after stall retry",
			job.State(), job.Snapshot().Err)
	}
	got, err := os.ReadFile(job.DestPath)
	if err != nil {
		t.Fatalf("destination file missing: %v", err)
	}
	if string(got) != "recovered payload" {
		t.Errorf("destination content = %q, expected %q", got, "recovered payload")
	}
}

func TestExecutor_Execute_StallExhaustsBudget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.streams["tok-c"] = []byte("never delivered")
	fetcher.stallFirst["tok-c"] = 100

	exec := New(fetcher, &fakeMuxer{}, testConfig(t), nil)
	job := singleStreamJob(t, "tok-c")

	exec.Execute(context.Background(), job)

	snap := job.Snapshot()
	if snap.State != model.JobStateFailed {
		t.Fatalf("job state = %s, expected Failed", snap.State)
	}
	var jerr *JobError
	if !errors.As(snap.Err, &jerr) || jerr.Kind != ErrStalled {
		t.Errorf("job error = %v, expected kind %s", snap.Err, ErrStalled)
	}
}

func TestExecutor_Execute_CancelledMidDownload(t *testing.T) {
	cfg := testConfig(t)
	cfg.StallTimeout = 10 * time.Second // the drip never stalls, only ctx stops it

	ctx, cancel := context.WithCancel(context.Background())
	exec := New(&drippingFetcher{}, &fakeMuxer{}, cfg, nil)
	job := singleStreamJob(t, "tok-c")

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	exec.Execute(ctx, job)

	snap := job.Snapshot()
	if snap.State != model.JobStateCancelled {
		t.Fatalf("job state = %s, expected Cancelled", snap.State)
	}
	var jerr *JobError
	if !errors.As(snap.Err, &jerr) || jerr.Kind != ErrCancelled {
		t.Errorf("job error = %v, expected kind %s", snap.Err, ErrCancelled)
	}
	if _, err := os.Stat(job.DestPath); !os.IsNotExist(err) {
		t.Errorf("destination %s exists after cancellation", job.DestPath)
	}
	scratch := filepath.Join(cfg.ScratchDir, job.ID)
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch directory %s still present after cancellation", scratch)
	}
}

// drippingFetcher serves an endless slow stream for every token.
type drippingFetcher struct{}

func (d *drippingFetcher) Available() error { return nil }

func (d *drippingFetcher) Probe(ctx context.Context, url string) (*engine.Resolved, error) {
	return nil, errors.New("not used in executor tests")
}

func (d *drippingFetcher) ResolveStream(ctx context.Context, token string) (*engine.StreamLocator, error) {
	return &engine.StreamLocator{URL: token}, nil
}

func (d *drippingFetcher) OpenStream(ctx context.Context, loc *engine.StreamLocator, offset int64) (*engine.Stream, error) {
	return &engine.Stream{Body: &dripBody{ctx: ctx}, Length: -1, SupportsResume: false}, nil
}

func TestExecutor_Execute_MuxFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.streams["tok-v"] = []byte("video")
	fetcher.streams["tok-a"] = []byte("audio")

	muxer := &fakeMuxer{fail: errors.New("mux failed: Invalid data found when processing input")}
	exec := New(fetcher, muxer, testConfig(t), nil)
	job := dualStreamJob(t, "tok-v", "tok-a")

	exec.Execute(context.Background(), job)

	snap := job.Snapshot()
	if snap.State != model.JobStateFailed {
		t.Fatalf("job state = %s, expected Failed", snap.State)
	}
	var jerr *JobError
	if !errors.As(snap.Err, &jerr) || jerr.Kind != ErrMuxFailed {
		t.Fatalf("job error = %v, expected kind %s", snap.Err, ErrMuxFailed)
	}
	if jerr.Diagnostic == "" {
		t.Error("mux failure lost the engine diagnostic")
	}
	if _, err := os.Stat(job.DestPath); !os.IsNotExist(err) {
		t.Errorf("destination %s exists after mux failure", job.DestPath)
	}
}

func TestExecutor_Execute_NotifiesOnTransitions(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.streams["tok-c"] = []byte("payload")

	var mu sync.Mutex
	var states []model.JobState
	notify := func(j *model.Job) {
		mu.Lock()
		states = append(states, j.State())
		mu.Unlock()
	}

	exec := New(fetcher, &fakeMuxer{}, testConfig(t), notify)
	job := singleStreamJob(t, "tok-c")

	exec.Execute(context.Background(), job)

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 {
		t.Fatal("notify was never invoked")
	}
	expected := []model.JobState{model.JobStateResolving, model.JobStateDownloading}
	for i, want := range expected {
		if i >= len(states) || states[i] != want {
			t.Fatalf("notification order = %v, expected prefix %v", states, expected)
		}
	}
	if states[len(states)-1] != model.JobStateCompleted {
		t.Errorf("last notification = %s, expected Completed", states[len(states)-1])
	}
}

func TestMuxContainer(t *testing.T) {
	mkvJob := &model.Job{TargetContainer: "mkv"}
	plainJob := &model.Job{}

	tests := []struct {
		name     string
		job      *model.Job
		paths    []string
		expected string
	}{
		{"no container requested", plainJob, []string{"/s/media.mp4"}, ""},
		{"two streams", mkvJob, []string{"/s/video.mp4", "/s/audio.m4a"}, "mkv"},
		{"one stream wrong container", mkvJob, []string{"/s/media.mp4"}, "mkv"},
		{"one stream already matching", mkvJob, []string{"/s/media.mkv"}, ""},
	}

	for _, test := range tests {
		streams := make([]*streamTask, len(test.paths))
		for i, p := range test.paths {
			streams[i] = &streamTask{path: p}
		}
		result := muxContainer(test.job, streams)
		if result != test.expected {
			t.Errorf("%s: muxContainer() = %q, expected %q", test.name, result, test.expected)
		}
	}
}

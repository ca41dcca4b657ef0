package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ytget/tubegrab/internal/batch"
	"github.com/ytget/tubegrab/internal/build"
	"github.com/ytget/tubegrab/internal/config"
	"github.com/ytget/tubegrab/internal/engine/ffmpeg"
	"github.com/ytget/tubegrab/internal/engine/ytdlp"
	"github.com/ytget/tubegrab/internal/executor"
	"github.com/ytget/tubegrab/internal/logging"
	"github.com/ytget/tubegrab/internal/metadata"
	"github.com/ytget/tubegrab/internal/model"
	"github.com/ytget/tubegrab/internal/platform"
	"github.com/ytget/tubegrab/internal/queue"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

const envConfigPath = "TUBEGRAB_CONFIG"

func main() {
	// Load .env file if it exists; env vars may also be set directly.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "tubegrab",
		Usage:   "download videos, audio, and whole playlists",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
				Value:   os.Getenv(envConfigPath),
			},
		},
		Commands: []*cli.Command{
			fetchCommand(),
			formatsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "download a video or a whole playlist",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "destination directory"},
			&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Usage: "quality preset: highest, medium, lowest"},
			&cli.BoolFlag{Name: "audio-only", Aliases: []string{"a"}, Usage: "extract audio only"},
			&cli.IntFlag{Name: "parallel", Aliases: []string{"p"}, Usage: "max concurrent downloads"},
			&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "output filename template"},
		},
		Action: runFetch,
	}
}

func formatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "formats",
		Usage:     "list available formats for a URL",
		ArgsUsage: "<url>",
		Action:    runFormats,
	}
}

func setup(c *cli.Context) (*config.Settings, *ytdlp.Fetcher, *ffmpeg.Muxer, error) {
	settings, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}
	applyFlags(c, settings)
	logging.Setup(settings.LogLevel, settings.LogFormat)

	fetcher := ytdlp.New()
	if err := fetcher.Available(); err != nil {
		return nil, nil, nil, err
	}
	muxer := ffmpeg.New()
	if err := muxer.Available(); err != nil {
		return nil, nil, nil, err
	}
	return settings, fetcher, muxer, nil
}

func applyFlags(c *cli.Context, s *config.Settings) {
	if dir := c.String("dir"); dir != "" {
		s.DownloadDir = dir
	}
	if q := c.String("quality"); q != "" {
		s.Quality = config.QualityPreset(q)
	}
	if p := c.Int("parallel"); p > 0 {
		s.MaxParallel = p
	}
	if t := c.String("template"); t != "" {
		s.FilenameTemplate = t
	}
}

func runFetch(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return cli.Exit("usage: tubegrab fetch <url>", 1)
	}

	settings, fetcher, muxer, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := metadata.NewResolver(fetcher)
	resolved, err := resolver.Resolve(ctx, url)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if resolved.Playlist {
		fmt.Printf("Playlist: %s (%d entries)\n", resolved.Title, len(resolved.Entries))
	}

	if err := platform.CreateDirectoryIfNotExists(settings.DownloadDir); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	jobs, err := buildJobs(resolved.Entries, settings, c.Bool("audio-only"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(jobs) == 0 {
		return cli.Exit("nothing to download: no entry has usable formats", 1)
	}

	mgr := batch.NewManager()
	coord, err := mgr.Submit(ctx, jobs, settings.MaxParallel, func(notify func(*model.Job)) queue.Runner {
		exec := executor.New(fetcher, muxer, executor.Config{
			ScratchDir:   settings.ScratchDir,
			StallTimeout: settings.StallTimeout(),
			RetryBudget:  settings.RetryBudget,
		}, notify)
		return exec.Execute
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// First SIGINT cancels the batch; the run still drains to terminal states.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\ninterrupted, cancelling batch...")
		coord.CancelAll()
	}()

	renderUpdates(coord, jobs)
	coord.Wait()

	printSummary(coord)
	if coord.Status() != model.BatchAllCompleted {
		return cli.Exit("", 1)
	}
	return nil
}

// buildJobs picks formats per the quality preset and builds one job per
// usable entry. Flagged entries are reported and skipped.
func buildJobs(entries []model.MediaEntry, settings *config.Settings, audioOnly bool) ([]*model.Job, error) {
	builder := build.NewBuilder(settings.DownloadDir, settings.FilenameTemplate)

	var jobs []*model.Job
	for i, entry := range entries {
		if entry.Unavailable {
			slog.Warn("skipping entry with no retrievable formats", "id", entry.ID, "title", entry.Title)
			continue
		}

		videoFmt, audioFmt := selectFormats(entry, settings.Quality, audioOnly)
		if videoFmt == nil && audioFmt == nil {
			slog.Warn("no matching formats for entry", "id", entry.ID, "title", entry.Title)
			continue
		}

		job, err := builder.Build(entry, videoFmt, audioFmt, i+1)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// selectFormats maps the preset onto an entry's format list. The default is
// a separate video+audio pair muxed afterwards; entries offering only
// combined formats fall back to one of those.
func selectFormats(entry model.MediaEntry, preset config.QualityPreset, audioOnly bool) (videoFmt, audioFmt *model.FormatOption) {
	if audioOnly {
		return nil, preset.Pick(entry.AudioFormats())
	}

	videoFmt = preset.Pick(entry.VideoFormats())
	if videoFmt != nil {
		if best := entry.AudioFormats(); len(best) > 0 {
			return videoFmt, &best[0]
		}
		// Video-only alone is not a valid selection; fall through to combined.
	}
	if combined := preset.Pick(entry.CombinedFormats()); combined != nil {
		return combined, nil
	}
	return nil, preset.Pick(entry.AudioFormats())
}

// renderUpdates prints job transitions and coarse progress until the feed closes.
func renderUpdates(coord *batch.Coordinator, jobs []*model.Job) {
	titles := make(map[string]string, len(jobs))
	for _, j := range jobs {
		titles[j.ID] = j.Entry.Title
	}

	lastState := make(map[string]model.JobState)
	lastPct := make(map[string]int)

	for up := range coord.Subscribe() {
		ev := up.Job
		title := titles[ev.JobID]

		if ev.Snapshot.State != lastState[ev.JobID] {
			lastState[ev.JobID] = ev.Snapshot.State
			if ev.Snapshot.Err != nil {
				fmt.Printf("[%s] %s: %v\n", ev.Snapshot.State, title, ev.Snapshot.Err)
			} else {
				fmt.Printf("[%s] %s\n", ev.Snapshot.State, title)
			}
			continue
		}

		p := ev.Snapshot.Progress
		if p.BytesTotal > 0 {
			pct := int(p.BytesDone * 100 / p.BytesTotal)
			if pct/10 > lastPct[ev.JobID]/10 {
				lastPct[ev.JobID] = pct
				fmt.Printf("[%s] %s: %d%% (%d/%d bytes, batch %d%%)\n",
					ev.Snapshot.State, title, pct, p.BytesDone, p.BytesTotal, batchPct(up))
			}
		}
	}
}

func batchPct(up batch.Update) int {
	if up.BytesTotal <= 0 {
		return 0
	}
	return int(up.BytesDone * 100 / up.BytesTotal)
}

func printSummary(coord *batch.Coordinator) {
	fmt.Println("\n=== Batch Summary ===")
	fmt.Printf("Status: %s\n", coord.Status())
	for _, job := range coord.Jobs() {
		snap := job.Snapshot()
		switch snap.State {
		case model.JobStateCompleted:
			fmt.Printf("  %-9s %s -> %s\n", snap.State, job.Entry.Title, job.DestPath)
		default:
			if snap.Err != nil {
				fmt.Printf("  %-9s %s (%v)\n", snap.State, job.Entry.Title, snap.Err)
			} else {
				fmt.Printf("  %-9s %s\n", snap.State, job.Entry.Title)
			}
		}
	}
}

func runFormats(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return cli.Exit("usage: tubegrab formats <url>", 1)
	}

	_, fetcher, _, err := setup(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	resolver := metadata.NewResolver(fetcher)
	resolved, err := resolver.Resolve(context.Background(), url)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	for _, entry := range resolved.Entries {
		fmt.Printf("%s (%s)\n", entry.Title, formatDuration(entry.DurationSeconds))
		if entry.Unavailable {
			fmt.Println("  no retrievable formats")
			continue
		}
		for _, f := range entry.Formats {
			fmt.Printf("  %-10s %-10s %-8s %s%s\n", f.Kind, f.Quality, f.Ext, f.Codec, approxSize(f))
		}
	}
	return nil
}

func approxSize(f model.FormatOption) string {
	if f.ApproxSize <= 0 {
		return ""
	}
	return fmt.Sprintf(" ~%.1fMB", float64(f.ApproxSize)/1024/1024)
}

// formatDuration formats seconds into HH:MM:SS format.
func formatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

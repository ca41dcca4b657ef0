package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	ytdlplib "github.com/ytget/ytdlp/v2"

	"github.com/ytget/tubegrab/internal/engine"
	"github.com/ytget/tubegrab/internal/model"
)

// Timeout constants
const (
	DefaultProbeTimeout = 60 * time.Second
	StreamClientTimeout = 30 * time.Minute // videos can be large
)

// Binary and argument constants
const (
	DefaultBinary = "yt-dlp"
	TokenSep      = "|"
)

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

const videoURLTemplate = "https://www.youtube.com/watch?v=%s"

// Fetcher implements engine.Fetcher using the yt-dlp binary for probing and
// URL resolution, the ytdlp library for playlist enumeration, and an HTTP
// client for the byte transport.
type Fetcher struct {
	binary       string
	client       *http.Client
	probeTimeout time.Duration
}

// New creates a Fetcher that expects yt-dlp on PATH.
func New() *Fetcher {
	return &Fetcher{
		binary: DefaultBinary,
		client: &http.Client{
			Timeout: StreamClientTimeout,
		},
		probeTimeout: DefaultProbeTimeout,
	}
}

// SetBinary overrides the yt-dlp binary path.
func (f *Fetcher) SetBinary(path string) {
	f.binary = path
}

// SetProbeTimeout sets the timeout for metadata probe operations.
func (f *Fetcher) SetProbeTimeout(timeout time.Duration) {
	f.probeTimeout = timeout
}

// Available checks that the yt-dlp binary can be found and executed.
func (f *Fetcher) Available() error {
	path, err := exec.LookPath(f.binary)
	if err != nil {
		return fmt.Errorf("fetching engine not found: %w", err)
	}
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return fmt.Errorf("fetching engine not runnable: %w", err)
	}
	slog.Debug("fetching engine available", "binary", path, "version", strings.TrimSpace(string(out)))
	return nil
}

// Probe resolves a URL into a single entry or a playlist of entries.
func (f *Fetcher) Probe(ctx context.Context, url string) (*engine.Resolved, error) {
	if isPlaylistURL(url) {
		return f.probePlaylist(ctx, url)
	}

	entry, err := f.probeEntry(ctx, url)
	if err != nil {
		return nil, err
	}
	return &engine.Resolved{
		Title:   entry.Title,
		Entries: []model.MediaEntry{entry},
	}, nil
}

// probePlaylist enumerates the playlist members, then probes each member for
// its formats. A member whose probe fails stays in the result flagged as
// unavailable rather than being dropped.
func (f *Fetcher) probePlaylist(ctx context.Context, url string) (*engine.Resolved, error) {
	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("%w: no playlist id in %s", engine.ErrUnsupportedURL, url)
	}

	d := ytdlplib.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate playlist %s: %w", playlistID, err)
	}

	entries := make([]model.MediaEntry, 0, len(items))
	for _, it := range items {
		videoURL := fmt.Sprintf(videoURLTemplate, it.VideoID)
		entry, err := f.probeEntry(ctx, videoURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("playlist member has no retrievable formats",
				"video_id", it.VideoID,
				"error", err,
			)
			entry = model.MediaEntry{
				ID:          it.VideoID,
				Title:       it.Title,
				Unavailable: true,
			}
		}
		entries = append(entries, entry)
	}

	return &engine.Resolved{
		Playlist: true,
		Title:    playlistTitle(entries),
		Entries:  entries,
	}, nil
}

// probeEntry runs a JSON metadata dump for one video URL.
func (f *Fetcher) probeEntry(ctx context.Context, url string) (model.MediaEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.binary, "-J", "--no-warnings", "--skip-download", url)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return model.MediaEntry{}, classifyProbeError(err, stderr.String())
	}
	return parseProbe(out.Bytes(), url)
}

// ResolveStream asks yt-dlp for a fresh direct URL for the token's format.
func (f *Fetcher) ResolveStream(ctx context.Context, token string) (*engine.StreamLocator, error) {
	url, formatID, err := splitToken(token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.binary, "-f", formatID, "--get-url", "--no-warnings", url)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyProbeError(err, stderr.String())
	}

	direct := strings.TrimSpace(out.String())
	if direct == "" {
		return nil, fmt.Errorf("engine returned no stream url for format %s", formatID)
	}
	// Multiple URLs can come back for merged selectors; the token always
	// names a single format, so take the first line.
	if i := strings.IndexByte(direct, '\n'); i >= 0 {
		direct = direct[:i]
	}

	return &engine.StreamLocator{URL: direct}, nil
}

// OpenStream opens the located stream over HTTP from the given byte offset.
func (f *Fetcher) OpenStream(ctx context.Context, loc *engine.StreamLocator, offset int64) (*engine.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusForbidden, http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: source answered %s", engine.ErrStreamExpired, resp.Status)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status opening stream: %s", resp.Status)
	}

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		// The source ignored the range request; caller must restart from zero.
		resp.Body.Close()
		return nil, fmt.Errorf("source does not honor byte ranges (status %s)", resp.Status)
	}

	length := resp.ContentLength
	resumable := resp.StatusCode == http.StatusPartialContent ||
		strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")

	return &engine.Stream{
		Body:           resp.Body,
		Length:         length,
		SupportsResume: resumable,
	}, nil
}

// classifyProbeError maps yt-dlp failures onto the engine error taxonomy.
func classifyProbeError(err error, stderr string) error {
	diag := strings.TrimSpace(stderr)
	lower := strings.ToLower(diag)
	if strings.Contains(lower, "unsupported url") ||
		strings.Contains(lower, "is not a valid url") ||
		strings.Contains(lower, "unable to extract") {
		return fmt.Errorf("%w: %s", engine.ErrUnsupportedURL, diag)
	}
	if diag != "" {
		return fmt.Errorf("engine probe failed: %v: %s", err, diag)
	}
	return fmt.Errorf("engine probe failed: %w", err)
}

// isPlaylistURL checks if the URL addresses a playlist.
func isPlaylistURL(url string) bool {
	return strings.Contains(url, PlaylistParam)
}

// extractPlaylistID extracts the playlist ID from various URL formats.
func extractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		return ""
	}
	parts := strings.Split(url, PlaylistParam)
	if len(parts) < 2 {
		return ""
	}
	id := parts[1]
	if strings.Contains(id, ParamSeparator) {
		id = strings.Split(id, ParamSeparator)[0]
	}
	return id
}

// joinToken packs a video URL and format id into one opaque stream token.
func joinToken(url, formatID string) string {
	return url + TokenSep + formatID
}

// splitToken unpacks a stream token produced by joinToken.
func splitToken(token string) (url, formatID string, err error) {
	i := strings.LastIndex(token, TokenSep)
	if i <= 0 || i == len(token)-1 {
		return "", "", fmt.Errorf("malformed stream token %q", token)
	}
	return token[:i], token[i+1:], nil
}

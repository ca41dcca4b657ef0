package ytdlp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ytget/tubegrab/internal/model"
)

// Playlist title heuristic constants
const (
	MinPrefixLength = 10
	PlaylistSuffix  = " Playlist"
	DefaultTitle    = "Unknown Playlist"
)

const codecNone = "none"

type probeJSON struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Duration  float64      `json:"duration"`
	Thumbnail string       `json:"thumbnail"`
	Formats   []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID       string  `json:"format_id"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	ABR            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// parseProbe converts a yt-dlp JSON dump into a MediaEntry with formats
// ordered best-first.
func parseProbe(data []byte, sourceURL string) (model.MediaEntry, error) {
	var p probeJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return model.MediaEntry{}, fmt.Errorf("failed to parse probe output: %w", err)
	}
	if p.ID == "" {
		return model.MediaEntry{}, fmt.Errorf("probe output has no video id")
	}

	formats := make([]model.FormatOption, 0, len(p.Formats))
	for _, f := range p.Formats {
		opt, ok := convertFormat(f, sourceURL)
		if !ok {
			continue
		}
		formats = append(formats, opt)
	}
	sort.SliceStable(formats, func(i, j int) bool {
		return formatRank(formats[i]) > formatRank(formats[j])
	})

	return model.MediaEntry{
		ID:              p.ID,
		Title:           p.Title,
		DurationSeconds: int(p.Duration),
		ThumbnailURL:    p.Thumbnail,
		Formats:         formats,
		Unavailable:     len(formats) == 0,
	}, nil
}

// convertFormat maps one yt-dlp format record onto a FormatOption. Records
// carrying neither audio nor video (storyboards, manifests) are skipped.
func convertFormat(f formatJSON, sourceURL string) (model.FormatOption, bool) {
	hasVideo := f.VCodec != "" && f.VCodec != codecNone
	hasAudio := f.ACodec != "" && f.ACodec != codecNone
	if !hasVideo && !hasAudio {
		return model.FormatOption{}, false
	}
	if f.FormatID == "" {
		return model.FormatOption{}, false
	}

	opt := model.FormatOption{
		Ext:         f.Ext,
		ApproxSize:  f.Filesize,
		StreamToken: joinToken(sourceURL, f.FormatID),
	}
	if opt.ApproxSize == 0 {
		opt.ApproxSize = f.FilesizeApprox
	}

	switch {
	case hasVideo && hasAudio:
		opt.Kind = model.FormatCombined
		opt.Codec = f.VCodec
		opt.Quality = fmt.Sprintf("%dp", f.Height)
	case hasVideo:
		opt.Kind = model.FormatVideoOnly
		opt.Codec = f.VCodec
		opt.Quality = fmt.Sprintf("%dp", f.Height)
	default:
		opt.Kind = model.FormatAudioOnly
		opt.Codec = f.ACodec
		opt.Quality = fmt.Sprintf("%dkbps", int(f.ABR))
	}
	return opt, true
}

// formatRank orders formats best-first within the entry: resolution for
// anything with video, bitrate for audio-only.
func formatRank(f model.FormatOption) int {
	var n int
	fmt.Sscanf(f.Quality, "%d", &n)
	if f.Kind == model.FormatAudioOnly {
		return n
	}
	return n * 1000
}

// playlistTitle derives a display title from member titles by shared prefix.
func playlistTitle(entries []model.MediaEntry) string {
	if len(entries) == 0 {
		return DefaultTitle
	}
	if len(entries) > 1 {
		prefix := commonPrefix(entries[0].Title, entries[1].Title)
		if len(prefix) > MinPrefixLength {
			return strings.TrimSpace(prefix) + PlaylistSuffix
		}
	}
	return entries[0].Title + PlaylistSuffix
}

// commonPrefix finds the common prefix between two strings.
func commonPrefix(s1, s2 string) string {
	n := min(len(s1), len(s2))
	for i := 0; i < n; i++ {
		if s1[i] != s2[i] {
			return s1[:i]
		}
	}
	return s1[:n]
}

// Package build converts a user's format selection for one media entry into
// a schedulable job: it validates the selection, renders the destination
// filename from a template, and guarantees the path is unique within the
// batch and against files already on disk.
package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/tubegrab/internal/model"
)

// ErrorKind classifies job construction failures
type ErrorKind string

const (
	// ErrInvalidSelection means the video/audio format combination is not allowed
	ErrInvalidSelection ErrorKind = "InvalidSelection"

	// ErrPathCollisionUnresolvable means no free destination path could be found
	ErrPathCollisionUnresolvable ErrorKind = "PathCollisionUnresolvable"
)

// Error is a job construction failure with its classification.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("build %s: %s", e.Kind, e.Msg)
}

// Template tokens, matching the yt-dlp output template style
const (
	TokenTitle = "%(title)s"
	TokenIndex = "%(index)s"
	TokenExt   = "%(ext)s"

	DefaultTemplate = "%(title)s.%(ext)s"

	// MuxedContainer can carry (almost) any codec pair
	MuxedContainer = "mkv"

	// Characters not allowed in filenames on common filesystems
	illegalChars = "<>:\"/\\|?*"

	jobIDPrefix = "job-"

	maxSuffixAttempts = 1000
)

// Builder constructs jobs for one batch. It remembers every path it has
// handed out so two entries rendering to the same filename get distinct
// destinations.
type Builder struct {
	destDir  string
	template string
	taken    map[string]struct{}
}

// NewBuilder creates a builder writing into destDir with the given filename
// template. An empty template falls back to DefaultTemplate.
func NewBuilder(destDir, template string) *Builder {
	if template == "" {
		template = DefaultTemplate
	}
	return &Builder{
		destDir:  destDir,
		template: template,
		taken:    make(map[string]struct{}),
	}
}

// Build validates the selection and produces a job. Allowed selections:
// exactly one combined format, a video-only plus an audio-only pair (muxed
// afterwards), or one audio-only format alone (audio extraction).
func (b *Builder) Build(entry model.MediaEntry, videoFmt, audioFmt *model.FormatOption, index int) (*model.Job, error) {
	ext, targetContainer, err := validateSelection(videoFmt, audioFmt)
	if err != nil {
		return nil, err
	}

	name := b.renderName(entry.Title, index, ext)
	dest, err := b.claimPath(name)
	if err != nil {
		return nil, err
	}

	return model.NewJob(generateJobID(), entry, videoFmt, audioFmt, dest, targetContainer), nil
}

// validateSelection enforces the allowed format combinations and returns the
// output extension plus the container to mux into (empty when no mux runs).
func validateSelection(videoFmt, audioFmt *model.FormatOption) (ext, targetContainer string, err error) {
	switch {
	case videoFmt != nil && audioFmt != nil:
		if videoFmt.Kind != model.FormatVideoOnly || audioFmt.Kind != model.FormatAudioOnly {
			return "", "", &Error{
				Kind: ErrInvalidSelection,
				Msg:  fmt.Sprintf("pair must be video-only + audio-only, got %s + %s", videoFmt.Kind, audioFmt.Kind),
			}
		}
		return MuxedContainer, MuxedContainer, nil

	case videoFmt != nil:
		if videoFmt.Kind != model.FormatCombined {
			return "", "", &Error{
				Kind: ErrInvalidSelection,
				Msg:  fmt.Sprintf("single video selection must be a combined format, got %s", videoFmt.Kind),
			}
		}
		return videoFmt.Ext, "", nil

	case audioFmt != nil:
		switch audioFmt.Kind {
		case model.FormatAudioOnly:
			return audioFmt.Ext, "", nil
		case model.FormatCombined:
			return audioFmt.Ext, "", nil
		default:
			return "", "", &Error{
				Kind: ErrInvalidSelection,
				Msg:  fmt.Sprintf("single audio selection must be audio-only or combined, got %s", audioFmt.Kind),
			}
		}

	default:
		return "", "", &Error{Kind: ErrInvalidSelection, Msg: "no format selected"}
	}
}

// renderName substitutes the template tokens and sanitizes the result.
func (b *Builder) renderName(title string, index int, ext string) string {
	name := b.template
	name = strings.ReplaceAll(name, TokenTitle, SanitizeTitle(title))
	name = strings.ReplaceAll(name, TokenIndex, strconv.Itoa(index))
	name = strings.ReplaceAll(name, TokenExt, ext)
	return name
}

// claimPath reserves a destination path, appending a numeric suffix while the
// candidate is already claimed by this batch or present on disk.
func (b *Builder) claimPath(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i <= maxSuffixAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(b.destDir, candidate)

		if _, claimed := b.taken[path]; claimed {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}

		b.taken[path] = struct{}{}
		return path, nil
	}

	return "", &Error{
		Kind: ErrPathCollisionUnresolvable,
		Msg:  fmt.Sprintf("no free path for %s after %d attempts", name, maxSuffixAttempts),
	}
}

// SanitizeTitle replaces filesystem-illegal characters with underscores.
func SanitizeTitle(title string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) {
			return '_'
		}
		return r
	}, title)
}

// generateJobID generates a unique job ID using UUID v7 for better uniqueness
// and time ordering.
func generateJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(jobIDPrefix+"%d", time.Now().UnixNano())
	}
	return jobIDPrefix + id.String()
}

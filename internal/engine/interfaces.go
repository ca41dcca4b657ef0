package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ytget/tubegrab/internal/model"
)

// ErrStreamExpired is reported by ResolveStream when a stream token is no
// longer valid and must be obtained again through metadata resolution.
var ErrStreamExpired = errors.New("stream token expired")

// ErrUnsupportedURL is reported by Probe when the engine does not recognize
// the URL as something it can fetch.
var ErrUnsupportedURL = errors.New("unsupported url")

// Resolved is the engine's answer for one URL: a single entry, or an ordered
// playlist of entries. Playlist members whose formats could not be retrieved
// are included with Unavailable set.
type Resolved struct {
	Playlist bool
	Title    string
	Entries  []model.MediaEntry
}

// StreamLocator is a concrete, time-limited handle to one stream, produced
// from an opaque stream token.
type StreamLocator struct {
	URL       string
	ExpiresAt time.Time // zero if the engine gave no expiry
}

// Stream is one opened byte stream. Length is the number of bytes remaining
// from the requested offset, or -1 if unknown. SupportsResume reports whether
// the source honored (or would honor) a byte-range request.
type Stream struct {
	Body           io.ReadCloser
	Length         int64
	SupportsResume bool
}

// Fetcher is the boundary to the external metadata/stream-fetching engine.
// The core treats it as a black box and never assumes a particular backend.
type Fetcher interface {
	// Available checks the engine is usable; called once at startup.
	Available() error

	// Probe resolves a URL into its entry (or playlist of entries) with
	// the selectable format options for each.
	Probe(ctx context.Context, url string) (*Resolved, error)

	// ResolveStream turns an opaque stream token into a concrete locator.
	// Returns ErrStreamExpired (possibly wrapped) when the token is stale.
	ResolveStream(ctx context.Context, token string) (*StreamLocator, error)

	// OpenStream opens the located stream starting at the given byte offset.
	OpenStream(ctx context.Context, loc *StreamLocator, offset int64) (*Stream, error)
}

// Muxer is the boundary to the external media-muxing engine. It combines
// separately downloaded streams (or converts a single one) into an output
// container, out of process.
type Muxer interface {
	// Available checks the engine is usable; called once at startup.
	Available() error

	// Mux merges the input files into outputPath using the given container
	// format. The returned error carries the engine's diagnostic text.
	Mux(ctx context.Context, inputPaths []string, outputPath, container string) error
}

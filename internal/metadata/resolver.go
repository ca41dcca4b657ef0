// Package metadata resolves a user-supplied URL into media entries with
// their selectable formats. It is a pure query layer: one engine call per
// URL, no retries, no mutation of anything it returns.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ytget/tubegrab/internal/engine"
	"github.com/ytget/tubegrab/internal/model"
)

// ErrorKind classifies metadata resolution failures
type ErrorKind string

const (
	// ErrUnreachable means the network or the fetching engine is unavailable
	ErrUnreachable ErrorKind = "Unreachable"

	// ErrUnsupported means the URL is not recognized as fetchable
	ErrUnsupported ErrorKind = "Unsupported"

	// ErrEmpty means a playlist resolved to zero entries
	ErrEmpty ErrorKind = "Empty"
)

// Error is a metadata resolution failure with its classification.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata %s for %s: %v", strings.ToLower(string(e.Kind)), e.URL, e.Err)
	}
	return fmt.Sprintf("metadata %s for %s", strings.ToLower(string(e.Kind)), e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ResolvedMetadata is the result of resolving one URL: a single entry, or an
// ordered playlist of entries.
type ResolvedMetadata struct {
	Playlist bool
	Title    string
	Entries  []model.MediaEntry
}

// Single reports whether the URL resolved to exactly one standalone entry.
func (r *ResolvedMetadata) Single() bool {
	return !r.Playlist
}

// Resolver turns URLs into resolved metadata through the fetching engine.
type Resolver struct {
	fetcher engine.Fetcher
}

// NewResolver creates a resolver backed by the given fetching engine.
func NewResolver(fetcher engine.Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// Resolve fetches metadata for the URL. Playlist members without retrievable
// formats are kept, flagged, so the caller can show a partial playlist.
func (r *Resolver) Resolve(ctx context.Context, url string) (*ResolvedMetadata, error) {
	if strings.TrimSpace(url) == "" {
		return nil, &Error{Kind: ErrUnsupported, URL: url, Err: fmt.Errorf("empty url")}
	}

	res, err := r.fetcher.Probe(ctx, url)
	if err != nil {
		return nil, classify(url, err)
	}

	if res.Playlist && len(res.Entries) == 0 {
		return nil, &Error{Kind: ErrEmpty, URL: url}
	}
	if len(res.Entries) == 0 {
		return nil, &Error{Kind: ErrUnsupported, URL: url, Err: fmt.Errorf("no entries resolved")}
	}

	return &ResolvedMetadata{
		Playlist: res.Playlist,
		Title:    res.Title,
		Entries:  res.Entries,
	}, nil
}

func classify(url string, err error) error {
	if errors.Is(err, engine.ErrUnsupportedURL) {
		return &Error{Kind: ErrUnsupported, URL: url, Err: err}
	}
	return &Error{Kind: ErrUnreachable, URL: url, Err: err}
}

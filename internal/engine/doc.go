package engine

// Package engine declares the boundaries to the two external engines the
// core orchestrates: a metadata/stream-fetching engine and a media-muxing
// engine. Production adapters live in the ytdlp and ffmpeg subpackages; the
// core depends only on the interfaces here.

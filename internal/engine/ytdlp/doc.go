package ytdlp

// Package ytdlp implements the fetching-engine boundary on top of yt-dlp:
// playlist enumeration via the ytdlp library, per-entry format probing via
// the yt-dlp binary's JSON dump, and stream transport over plain HTTP with
// byte-range resume.

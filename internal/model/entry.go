package model

// FormatKind classifies what a format option carries.
type FormatKind string

const (
	// FormatVideoOnly is a video stream without audio
	FormatVideoOnly FormatKind = "video-only"

	// FormatAudioOnly is an audio stream without video
	FormatAudioOnly FormatKind = "audio-only"

	// FormatCombined carries both video and audio in one stream
	FormatCombined FormatKind = "combined"
)

// String returns the string representation of FormatKind
func (fk FormatKind) String() string {
	return string(fk)
}

// FormatOption is one selectable quality/format combination for an entry.
// The StreamToken is an opaque handle the fetching engine needs to retrieve
// this exact stream later; nothing outside the engine interprets it.
type FormatOption struct {
	Kind        FormatKind
	Codec       string
	Quality     string // resolution ("1080p") or bitrate ("128kbps")
	Ext         string // container extension without the dot ("mp4", "m4a")
	ApproxSize  int64  // bytes, 0 if unknown
	StreamToken string
}

// MediaEntry is the immutable result of metadata resolution for one video.
// Formats are ordered best-first. Playlist members whose formats could not
// be retrieved are kept with Unavailable set instead of being dropped, so a
// partial playlist is still visible as a whole.
type MediaEntry struct {
	ID              string
	Title           string
	DurationSeconds int
	ThumbnailURL    string
	Formats         []FormatOption
	Unavailable     bool
}

// VideoFormats returns the video-only formats of the entry, in order.
func (e MediaEntry) VideoFormats() []FormatOption {
	return e.formatsOfKind(FormatVideoOnly)
}

// AudioFormats returns the audio-only formats of the entry, in order.
func (e MediaEntry) AudioFormats() []FormatOption {
	return e.formatsOfKind(FormatAudioOnly)
}

// CombinedFormats returns the combined formats of the entry, in order.
func (e MediaEntry) CombinedFormats() []FormatOption {
	return e.formatsOfKind(FormatCombined)
}

func (e MediaEntry) formatsOfKind(kind FormatKind) []FormatOption {
	var out []FormatOption
	for _, f := range e.Formats {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

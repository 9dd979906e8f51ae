package transcribe

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

// ErrTranscription is returned (wrapped) by engines when a model invocation
// fails. Audio without speech is not an error and yields an empty Result.
var ErrTranscription = errors.New("transcription failed")

type Transcriber interface {
	// Transcribe runs the model over the given 16KHz mono samples.
	// Word timings in the returned result are relative to the start of samples.
	Transcribe(ctx context.Context, samples []float32, language string) (Result, error)
	Destroy() error
}

// Word is a single recognized word. Timestamps are in milliseconds.
type Word struct {
	Text       string
	StartTS    int64
	EndTS      int64
	Confidence float32
}

type Segment struct {
	Text    string
	StartTS int64
	EndTS   int64
}

// Result is the output of a single Transcribe call for one planned segment.
// Words may be empty for engines that don't provide word level timings.
type Result struct {
	SegmentIndex int
	Text         string
	Words        []Word
	Language     string
}

func (r Result) IsEmpty() bool {
	return strings.TrimSpace(r.Text) == "" && len(r.Words) == 0
}

// HasWords reports whether the result carries usable word timings.
func (r Result) HasWords() bool {
	return len(r.Words) > 0
}

type OverlapResolution struct {
	Previous int
	Current  int
	// Method is one of the Resolution* constants.
	Method             string
	DiscardedWords     int
	KeptBoundaryOffset time.Duration
}

const (
	ResolutionWords = "words"
	ResolutionText  = "text"
	ResolutionNone  = "none"
)

// Transcription is the merged transcript of a whole source.
type Transcription struct {
	Text     string
	Language string

	SegmentsUsed       []int
	OverlapResolutions []OverlapResolution

	// Segments holds the text each source segment contributed, with
	// absolute timings.
	Segments []Segment
	// Words is only populated when every contributing segment had word timings.
	// Timestamps are absolute.
	Words []Word
}

// NormalizeWord lowercases w and strips punctuation and symbols so that
// tokens coming from different segments can be compared.
func NormalizeWord(w string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, w)
}

package transcribe

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	spacesRE         = regexp.MustCompile(`\s+`)
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
)

// sanitize collapses whitespace and applies the optional escape functions.
func (s *Segment) sanitize(escapeFns ...func(string) string) {
	s.Text = spacesRE.ReplaceAllString(strings.TrimSpace(s.Text), " ")
	s.Text = spaceBeforePunct.ReplaceAllString(s.Text, "$1")
	for _, fn := range escapeFns {
		s.Text = fn(s.Text)
	}
}

// vttTS converts ts milliseconds in the 00:00:00.000 format.
func vttTS(ts int64, withMs bool) string {
	sMs := int64(1000)
	mMs := 60 * sMs
	hMs := 60 * mMs

	h := ts / hMs
	m := (ts - (h * hMs)) / mMs

	if withMs {
		s := ((ts - (h * hMs)) - m*mMs) / sMs
		ms := ((ts - (h * hMs)) - m*mMs) - s*sMs
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
	}

	s := int64(math.Round(float64(((ts - (h * hMs)) - m*mMs)) / float64(sMs)))
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// cues returns the timed entries used by the writers. Word timings are
// preferred since they give much shorter cues than whole segments.
func (t Transcription) cues(opts CompactOptions) []Segment {
	if len(t.Words) == 0 {
		out := make([]Segment, 0, len(t.Segments))
		for _, s := range t.Segments {
			if strings.TrimSpace(s.Text) == "" {
				continue
			}
			out = append(out, s)
		}
		return out
	}

	words := make([]Segment, len(t.Words))
	for i, w := range t.Words {
		words[i] = Segment{
			Text:    w.Text,
			StartTS: w.StartTS,
			EndTS:   w.EndTS,
		}
	}

	return compactSegments(words, opts)
}

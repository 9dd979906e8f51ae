package whisper

import (
	"strings"

	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"
)

type token struct {
	text string
	// Timestamps in milliseconds.
	t0 int64
	t1 int64
	p  float32
	// Whether this is the first token of a decoded segment.
	first bool
}

// mergeTokens groups sub-word tokens into words. A token starting with a
// space (or the first one of a segment) begins a new word. Word confidence
// is the mean probability of its tokens.
func mergeTokens(tks []token) []transcribe.Word {
	var words []transcribe.Word
	var count int

	flush := func() {
		if count == 0 {
			return
		}
		w := &words[len(words)-1]
		w.Text = strings.TrimSpace(w.Text)
		w.Confidence /= float32(count)
		if w.Text == "" {
			words = words[:len(words)-1]
		}
		count = 0
	}

	for _, tk := range tks {
		if tk.text == "" {
			continue
		}

		if count == 0 || tk.first || strings.HasPrefix(tk.text, " ") {
			flush()
			words = append(words, transcribe.Word{
				StartTS: tk.t0,
			})
		}

		w := &words[len(words)-1]
		w.Text += tk.text
		w.EndTS = max(w.EndTS, tk.t1)
		w.Confidence += tk.p
		count++
	}
	flush()

	return words
}

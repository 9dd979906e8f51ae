package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"
)

type Config struct {
	// Number of consecutive copies of a phrase that are kept.
	MaxConsecutiveRepeats int
	// Shortest phrase, in words, considered for collapsing.
	MinPhraseLength int
	// Longest phrase, in words, considered for collapsing.
	MaxPhraseLength int
	// Fraction of words that must match for two copies of a phrase to be
	// considered the same. 1.0 requires an exact (normalized) match.
	SimilarityThreshold float64
}

func (c *Config) SetDefaults() {
	c.MaxConsecutiveRepeats = 2
	c.MinPhraseLength = 1
	c.MaxPhraseLength = 10
	c.SimilarityThreshold = 1.0
}

func (c *Config) IsEmpty() bool {
	return c == nil || *c == Config{}
}

func (c Config) IsValid() error {
	if c.MaxConsecutiveRepeats < 1 {
		return fmt.Errorf("MaxConsecutiveRepeats should be a positive number")
	}
	if c.MinPhraseLength < 1 {
		return fmt.Errorf("MinPhraseLength should be a positive number")
	}
	if c.MaxPhraseLength < c.MinPhraseLength {
		return fmt.Errorf("MaxPhraseLength should not be less than MinPhraseLength")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SimilarityThreshold should be in the range (0, 1]")
	}
	return nil
}

type repetitionSpan struct {
	phrase      string
	repeatCount int
	startIndex  int
	endIndex    int
}

// Normalize collapses any phrase repeated more than MaxConsecutiveRepeats
// times in a row down to MaxConsecutiveRepeats copies. This is meant to
// remove the looping output speech models tend to produce on silence or
// noise. Text that has nothing to collapse is returned unchanged.
//
// Normalize never fails: on invalid config or unexpected errors the input is
// returned as is.
func Normalize(text string, cfg Config) (out string) {
	if !prepare(&cfg) {
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("normalization failed", slog.Any("err", r))
			out = text
		}
	}()

	tokens := strings.Fields(text)
	kept := collapseAll(tokens, cfg)
	if kept == nil {
		return text
	}

	res := make([]string, len(kept))
	for i, k := range kept {
		res[i] = tokens[k]
	}

	return strings.Join(res, " ")
}

// NormalizeWords applies the same collapsing as Normalize to timed words, so
// that cues built from them agree with the normalized text. Timings of the
// words that are kept are left untouched.
func NormalizeWords(words []transcribe.Word, cfg Config) (out []transcribe.Word) {
	if !prepare(&cfg) {
		return words
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("normalization failed", slog.Any("err", r))
			out = words
		}
	}()

	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = strings.TrimSpace(w.Text)
	}

	kept := collapseAll(tokens, cfg)
	if kept == nil {
		return words
	}

	res := make([]transcribe.Word, len(kept))
	for i, k := range kept {
		res[i] = words[k]
	}

	return res
}

func prepare(cfg *Config) bool {
	if cfg.IsEmpty() {
		cfg.SetDefaults()
	}
	if err := cfg.IsValid(); err != nil {
		slog.Warn("skipping normalization", slog.String("err", err.Error()))
		return false
	}
	return true
}

// collapseAll collapses repetitions until nothing changes and returns the
// indices of the surviving tokens, or nil if nothing was collapsed.
func collapseAll(tokens []string, cfg Config) []int {
	idx := make([]int, len(tokens))
	for i := range idx {
		idx[i] = i
	}

	cur := tokens
	collapsed := false
	for {
		kept, spans := collapse(cur, cfg)
		if len(spans) == 0 {
			break
		}
		collapsed = true

		for _, s := range spans {
			slog.Debug("collapsed repetition",
				slog.String("phrase", s.phrase),
				slog.Int("count", s.repeatCount),
				slog.Int("start", s.startIndex),
				slog.Int("end", s.endIndex))
		}

		next := make([]string, len(kept))
		nextIdx := make([]int, len(kept))
		for i, k := range kept {
			next[i] = cur[k]
			nextIdx[i] = idx[k]
		}
		cur, idx = next, nextIdx
	}

	if !collapsed {
		return nil
	}

	return idx
}

// collapse does a single left to right pass over tokens and returns the
// indices of the tokens to keep.
func collapse(tokens []string, cfg Config) ([]int, []repetitionSpan) {
	norm := make([]string, len(tokens))
	for i, tk := range tokens {
		norm[i] = transcribe.NormalizeWord(tk)
	}

	var spans []repetitionSpan
	kept := make([]int, 0, len(tokens))
	for i := 0; i < len(tokens); {
		var bestLen, bestCount int
		for l := cfg.MinPhraseLength; l <= cfg.MaxPhraseLength && i+l <= len(tokens); l++ {
			if blank(norm[i : i+l]) {
				continue
			}
			count := repeats(norm, i, l, cfg.SimilarityThreshold)
			if count > cfg.MaxConsecutiveRepeats && count*l > bestCount*bestLen {
				bestLen, bestCount = l, count
			}
		}

		if bestLen == 0 {
			kept = append(kept, i)
			i++
			continue
		}

		end := i + bestLen*bestCount
		spans = append(spans, repetitionSpan{
			phrase:      strings.Join(tokens[i:i+bestLen], " "),
			repeatCount: bestCount,
			startIndex:  i,
			endIndex:    end,
		})

		// The last copy is kept so that whatever punctuation closes the run
		// survives.
		for j := i; j < i+(cfg.MaxConsecutiveRepeats-1)*bestLen; j++ {
			kept = append(kept, j)
		}
		for j := end - bestLen; j < end; j++ {
			kept = append(kept, j)
		}
		i = end
	}

	return kept, spans
}

// repeats counts how many consecutive copies of norm[start:start+l] begin at start.
func repeats(norm []string, start, l int, threshold float64) int {
	phrase := norm[start : start+l]
	count := 1
	for next := start + l; next+l <= len(norm); next += l {
		if similarity(phrase, norm[next:next+l]) < threshold {
			break
		}
		count++
	}
	return count
}

func similarity(a, b []string) float64 {
	var same int
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(len(a))
}

func blank(tokens []string) bool {
	for _, tk := range tokens {
		if tk != "" {
			return false
		}
	}
	return true
}

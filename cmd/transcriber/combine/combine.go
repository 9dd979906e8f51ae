package combine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/segment"
	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"
)

// ErrInvariant signals inconsistent input (e.g. results not matching the
// plan). It's a programming error and should never be worked around.
var ErrInvariant = errors.New("combiner invariant violated")

type Config struct {
	// Minimum number of aligned words needed to trust a word level overlap match.
	MinWordMatch int
	// Minimum fraction of the shorter overlap window that must align.
	MinMatchRatio float64
	// Minimum suffix/prefix length, in words, for the text only fallback.
	MinTextMatch int
	// Upper bound on speech rate, used to limit the text only search.
	MaxWordsPerSecond float64
	// When set, the later segment's wording is kept for the matched region.
	PreferLater bool
}

func (c *Config) SetDefaults() {
	c.MinWordMatch = 2
	c.MinMatchRatio = 0.5
	c.MinTextMatch = 3
	c.MaxWordsPerSecond = 5
}

func (c *Config) IsEmpty() bool {
	return c == nil || *c == Config{}
}

func (c Config) IsValid() error {
	if c.MinWordMatch < 1 {
		return fmt.Errorf("MinWordMatch should be a positive number")
	}
	if c.MinMatchRatio <= 0 || c.MinMatchRatio > 1 {
		return fmt.Errorf("MinMatchRatio should be in the range (0, 1]")
	}
	if c.MinTextMatch < 1 {
		return fmt.Errorf("MinTextMatch should be a positive number")
	}
	if c.MaxWordsPerSecond <= 0 {
		return fmt.Errorf("MaxWordsPerSecond should be a positive number")
	}
	return nil
}

// Pair ties a planned segment to the transcription of its audio.
type Pair struct {
	Segment segment.Segment
	Result  transcribe.Result
}

// fragment tracks what is left of a segment's transcription while
// overlaps are being resolved. tokens[start:end] is the kept range; words,
// when present, is parallel to tokens.
type fragment struct {
	seg    segment.Segment
	tokens []string
	norm   []string
	words  []transcribe.Word
	start  int
	end    int
}

func (f *fragment) hasWords() bool {
	return f.words != nil
}

func newFragment(p Pair) *fragment {
	f := &fragment{seg: p.Segment}

	if p.Result.HasWords() {
		for _, w := range p.Result.Words {
			w.Text = strings.TrimSpace(w.Text)
			if w.Text == "" {
				continue
			}
			f.words = append(f.words, w)
			f.tokens = append(f.tokens, w.Text)
		}
	}

	if len(f.tokens) == 0 {
		f.words = nil
		f.tokens = strings.Fields(p.Result.Text)
	}

	if len(f.tokens) == 0 {
		return nil
	}

	f.norm = make([]string, len(f.tokens))
	for i, tk := range f.tokens {
		f.norm[i] = transcribe.NormalizeWord(tk)
	}
	f.end = len(f.tokens)

	return f
}

func validate(pairs []Pair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: no segments to combine", ErrInvariant)
	}

	for i, p := range pairs {
		if p.Segment.Index != i {
			return fmt.Errorf("%w: segment at position %d has index %d", ErrInvariant, i, p.Segment.Index)
		}
		if p.Result.SegmentIndex != p.Segment.Index {
			return fmt.Errorf("%w: result for segment %d has index %d", ErrInvariant, p.Segment.Index, p.Result.SegmentIndex)
		}
		if p.Segment.End <= p.Segment.Start {
			return fmt.Errorf("%w: %s is empty", ErrInvariant, p.Segment)
		}
		if i == 0 {
			continue
		}
		if prev := pairs[i-1].Segment; p.Segment.Start != prev.End-p.Segment.OverlapWithPrevious {
			return fmt.Errorf("%w: %s does not follow %s", ErrInvariant, p.Segment, prev)
		}
	}

	return nil
}

// Combine merges the per segment transcriptions, given in plan order, into a
// single transcript. Text covered by two adjacent segments is kept only once
// when the overlap can be confidently aligned. Otherwise both copies are kept:
// a duplicated phrase is better than losing speech.
func Combine(pairs []Pair, cfg Config) (transcribe.Transcription, error) {
	if err := validate(pairs); err != nil {
		return transcribe.Transcription{}, err
	}

	if cfg.IsEmpty() {
		cfg.SetDefaults()
	}
	if err := cfg.IsValid(); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("invalid config: %w", err)
	}

	frags := make([]*fragment, len(pairs))
	for i, p := range pairs {
		frags[i] = newFragment(p)
	}

	if len(pairs) == 1 {
		return single(pairs[0], frags[0]), nil
	}

	var resolutions []transcribe.OverlapResolution
	for i := 1; i < len(frags); i++ {
		res := transcribe.OverlapResolution{
			Previous: i - 1,
			Current:  i,
			Method:   transcribe.ResolutionNone,
		}

		prev, curr := frags[i-1], frags[i]
		overlap := pairs[i].Segment.OverlapWithPrevious
		if prev != nil && curr != nil && overlap > 0 && prev.start < prev.end {
			if prev.hasWords() && curr.hasWords() {
				resolveWords(prev, curr, overlap, cfg, &res)
			}
			if res.Method == transcribe.ResolutionNone {
				resolveText(prev, curr, overlap, cfg, &res)
			}
		}

		resolutions = append(resolutions, res)
	}

	tr := assemble(pairs, frags)
	tr.OverlapResolutions = resolutions

	return tr, nil
}

func single(p Pair, f *fragment) transcribe.Transcription {
	tr := transcribe.Transcription{
		Text:     strings.TrimSpace(p.Result.Text),
		Language: p.Result.Language,
	}

	if f == nil {
		return tr
	}

	if tr.Text == "" {
		tr.Text = strings.Join(f.tokens, " ")
	}

	tr.SegmentsUsed = []int{p.Segment.Index}
	tr.Segments = []transcribe.Segment{f.segment(tr.Text)}
	if f.hasWords() {
		tr.Words = f.absoluteWords()
	}

	return tr
}

func assemble(pairs []Pair, frags []*fragment) transcribe.Transcription {
	var tr transcribe.Transcription
	var texts []string

	allWords := true
	for i, f := range frags {
		if tr.Language == "" {
			tr.Language = pairs[i].Result.Language
		}

		if f == nil || f.start >= f.end {
			continue
		}

		text := strings.Join(f.tokens[f.start:f.end], " ")
		texts = append(texts, text)

		tr.SegmentsUsed = append(tr.SegmentsUsed, f.seg.Index)
		tr.Segments = append(tr.Segments, f.segment(text))

		if !f.hasWords() {
			allWords = false
			continue
		}
		tr.Words = append(tr.Words, f.absoluteWords()...)
	}

	if !allWords {
		tr.Words = nil
	}

	tr.Text = joinFragments(texts)

	return tr
}

func (f *fragment) absoluteWords() []transcribe.Word {
	offset := f.seg.Start.Milliseconds()
	words := make([]transcribe.Word, 0, f.end-f.start)
	for _, w := range f.words[f.start:f.end] {
		w.StartTS += offset
		w.EndTS += offset
		words = append(words, w)
	}
	return words
}

func (f *fragment) segment(text string) transcribe.Segment {
	s := transcribe.Segment{
		Text:    text,
		StartTS: f.seg.Start.Milliseconds(),
		EndTS:   f.seg.End.Milliseconds(),
	}

	if f.hasWords() {
		s.StartTS += f.words[f.start].StartTS
		s.EndTS = f.seg.Start.Milliseconds() + f.words[f.end-1].EndTS
	} else if f.start > 0 {
		s.StartTS += f.seg.OverlapWithPrevious.Milliseconds()
	}

	return s
}

// resolveWords aligns the words spoken in the last overlap of prev with the
// ones spoken in the first overlap of curr.
func resolveWords(prev, curr *fragment, overlap time.Duration, cfg Config, res *transcribe.OverlapResolution) {
	ov := overlap.Milliseconds()
	cutoff := prev.seg.Duration().Milliseconds() - ov

	tailStart := prev.end
	for i := prev.start; i < prev.end; i++ {
		if prev.words[i].EndTS > cutoff {
			tailStart = i
			break
		}
	}

	headEnd := curr.start
	for headEnd < curr.end && curr.words[headEnd].StartTS < ov {
		headEnd++
	}

	tail := prev.norm[tailStart:prev.end]
	head := curr.norm[curr.start:headEnd]
	if len(tail) == 0 || len(head) == 0 {
		return
	}

	matches := lcs(tail, head)
	if !confident(matches, tail, head, cfg) {
		return
	}

	res.Method = transcribe.ResolutionWords

	if cfg.PreferLater {
		first := matches[0]
		res.DiscardedWords = (len(tail) - first.a) + first.b
		prev.end = tailStart + first.a
		curr.start += first.b
		res.KeptBoundaryOffset = curr.absStart(curr.start)
		return
	}

	// The earlier segment wins the aligned region. Words it transcribed after
	// the last agreed word are kept as long as they end before the next word
	// of the later segment starts. The first one that runs into it was cut
	// off by the boundary and is left to the later segment.
	last := matches[len(matches)-1]
	curr.start += last.b + 1

	prevEnd := tailStart + last.a + 1
	if curr.start < curr.end {
		nextStart := curr.absStart(curr.start)
		for prevEnd < prev.end && prev.absEnd(prevEnd) <= nextStart {
			prevEnd++
		}
	} else {
		prevEnd = prev.end
	}

	res.DiscardedWords = (last.b + 1) + (prev.end - prevEnd)
	prev.end = prevEnd
	res.KeptBoundaryOffset = prev.absEnd(prev.end - 1)
}

func (f *fragment) absStart(i int) time.Duration {
	return f.seg.Start + time.Duration(f.words[i].StartTS)*time.Millisecond
}

func (f *fragment) absEnd(i int) time.Duration {
	return f.seg.Start + time.Duration(f.words[i].EndTS)*time.Millisecond
}

func confident(matches []match, a, b []string, cfg Config) bool {
	if len(matches) == 0 {
		return false
	}
	if len(matches) == len(a) && len(a) == len(b) {
		return true
	}
	if len(matches) < cfg.MinWordMatch {
		return false
	}
	return float64(len(matches))/float64(min(len(a), len(b))) >= cfg.MinMatchRatio
}

// resolveText collapses the longest run of words that ends prev and starts
// curr.
func resolveText(prev, curr *fragment, overlap time.Duration, cfg Config, res *transcribe.OverlapResolution) {
	a := prev.norm[prev.start:prev.end]
	b := curr.norm[curr.start:curr.end]

	bound := max(cfg.MinTextMatch, int(math.Ceil(overlap.Seconds()*cfg.MaxWordsPerSecond)))
	k := suffixPrefix(a, b, min(len(a), len(b), bound), cfg.MinTextMatch)
	if k == 0 {
		return
	}

	res.Method = transcribe.ResolutionText
	res.DiscardedWords = k
	res.KeptBoundaryOffset = curr.seg.Start + overlap

	if cfg.PreferLater {
		prev.end -= k
		return
	}
	curr.start += k
}

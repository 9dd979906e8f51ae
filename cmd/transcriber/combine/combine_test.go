package combine

import (
	"testing"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/segment"
	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"

	"github.com/stretchr/testify/require"
)

func seg(idx int, start, end, overlap time.Duration) segment.Segment {
	return segment.Segment{
		Index:               idx,
		Start:               start,
		End:                 end,
		OverlapWithPrevious: overlap,
	}
}

func textPair(s segment.Segment, text string) Pair {
	return Pair{
		Segment: s,
		Result: transcribe.Result{
			SegmentIndex: s.Index,
			Text:         text,
			Language:     "en",
		},
	}
}

func wordsPair(s segment.Segment, words ...transcribe.Word) Pair {
	p := textPair(s, "")
	p.Result.Words = words
	return p
}

func w(text string, start, end int64) transcribe.Word {
	return transcribe.Word{Text: text, StartTS: start, EndTS: end, Confidence: 0.9}
}

func TestCombineInvariants(t *testing.T) {
	tcs := []struct {
		name  string
		pairs []Pair
		err   string
	}{
		{
			name: "no segments",
			err:  "combiner invariant violated: no segments to combine",
		},
		{
			name: "segment out of order",
			pairs: []Pair{
				textPair(seg(1, 0, 10*time.Second, 0), "hello"),
			},
			err: "combiner invariant violated: segment at position 0 has index 1",
		},
		{
			name: "result for another segment",
			pairs: []Pair{
				{
					Segment: seg(0, 0, 10*time.Second, 0),
					Result:  transcribe.Result{SegmentIndex: 3, Text: "hello"},
				},
			},
			err: "combiner invariant violated: result for segment 0 has index 3",
		},
		{
			name: "segment not following previous",
			pairs: []Pair{
				textPair(seg(0, 0, 10*time.Second, 0), "hello"),
				textPair(seg(1, 9*time.Second, 20*time.Second, 2*time.Second), "world"),
			},
			err: "combiner invariant violated: segment 1: 9s-20s (overlap 2s) does not follow segment 0: 0s-10s (overlap 0s)",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Combine(tc.pairs, Config{})
			require.EqualError(t, err, tc.err)
			require.ErrorIs(t, err, ErrInvariant)
		})
	}
}

func TestCombineInvalidConfig(t *testing.T) {
	_, err := Combine([]Pair{textPair(seg(0, 0, time.Second, 0), "hi")}, Config{MinWordMatch: -1})
	require.EqualError(t, err, "invalid config: MinWordMatch should be a positive number")
}

func TestCombineSingleSegment(t *testing.T) {
	t.Run("text is kept verbatim", func(t *testing.T) {
		tr, err := Combine([]Pair{
			textPair(seg(0, 0, 30*time.Second, 0), "  Hello,   world.\n"),
		}, Config{})
		require.NoError(t, err)
		require.Equal(t, "Hello,   world.", tr.Text)
		require.Equal(t, []int{0}, tr.SegmentsUsed)
		require.Equal(t, "en", tr.Language)
		require.Empty(t, tr.OverlapResolutions)
	})

	t.Run("words are made absolute", func(t *testing.T) {
		p := wordsPair(seg(0, 0, 30*time.Second, 0), w("Hello", 100, 400), w("world", 500, 900))
		p.Result.Text = "Hello world"
		tr, err := Combine([]Pair{p}, Config{})
		require.NoError(t, err)
		require.Equal(t, "Hello world", tr.Text)
		require.Equal(t, []transcribe.Word{w("Hello", 100, 400), w("world", 500, 900)}, tr.Words)
		require.Equal(t, []transcribe.Segment{{Text: "Hello world", StartTS: 100, EndTS: 900}}, tr.Segments)
	})

	t.Run("empty", func(t *testing.T) {
		tr, err := Combine([]Pair{textPair(seg(0, 0, 30*time.Second, 0), " ")}, Config{})
		require.NoError(t, err)
		require.Empty(t, tr.Text)
		require.Empty(t, tr.SegmentsUsed)
	})
}

func TestCombineWords(t *testing.T) {
	first := seg(0, 0, 10*time.Second, 0)
	second := seg(1, 8*time.Second, 18*time.Second, 2*time.Second)

	t.Run("identical overlap is kept once", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first,
				w("Hello", 0, 500),
				w("world.", 1000, 1500),
				w("This", 8200, 8600),
				w("is", 8700, 9000),
				w("great,", 9200, 9800),
			),
			wordsPair(second,
				w("this", 200, 600),
				w("is", 700, 1000),
				w("great", 1200, 1800),
				w("indeed.", 3000, 3500),
			),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "Hello world. This is great, indeed.", tr.Text)
		require.Equal(t, []int{0, 1}, tr.SegmentsUsed)
		require.Equal(t, []transcribe.OverlapResolution{
			{
				Previous:           0,
				Current:            1,
				Method:             transcribe.ResolutionWords,
				DiscardedWords:     3,
				KeptBoundaryOffset: 9800 * time.Millisecond,
			},
		}, tr.OverlapResolutions)
		require.Len(t, tr.Words, 6)
		require.Equal(t, w("indeed.", 11000, 11500), tr.Words[5])
		require.Equal(t, []transcribe.Segment{
			{Text: "Hello world. This is great,", StartTS: 0, EndTS: 9800},
			{Text: "indeed.", StartTS: 11000, EndTS: 11500},
		}, tr.Segments)
	})

	t.Run("prefer later", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first,
				w("Hello", 0, 500),
				w("world.", 1000, 1500),
				w("This", 8200, 8600),
				w("is", 8700, 9000),
				w("great,", 9200, 9800),
			),
			wordsPair(second,
				w("this", 200, 600),
				w("is", 700, 1000),
				w("great", 1200, 1800),
				w("indeed.", 3000, 3500),
			),
		}

		tr, err := Combine(pairs, Config{
			MinWordMatch:      2,
			MinMatchRatio:     0.5,
			MinTextMatch:      3,
			MaxWordsPerSecond: 5,
			PreferLater:       true,
		})
		require.NoError(t, err)
		require.Equal(t, "Hello world. this is great indeed.", tr.Text)
		require.Equal(t, 3, tr.OverlapResolutions[0].DiscardedWords)
		require.Equal(t, 8200*time.Millisecond, tr.OverlapResolutions[0].KeptBoundaryOffset)
	})

	t.Run("cut off word yields to later segment", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first,
				w("Hello", 0, 500),
				w("This", 8200, 8600),
				w("is", 8700, 9000),
				w("gre", 9500, 10000),
			),
			wordsPair(second,
				w("this", 200, 600),
				w("is", 700, 1000),
				w("great", 1500, 2100),
				w("indeed", 3000, 3500),
			),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "Hello This is great indeed", tr.Text)
		require.Equal(t, transcribe.ResolutionWords, tr.OverlapResolutions[0].Method)
		require.Equal(t, 3, tr.OverlapResolutions[0].DiscardedWords)
		require.Equal(t, 9*time.Second, tr.OverlapResolutions[0].KeptBoundaryOffset)
	})

	t.Run("words heard only by the earlier segment are kept", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first,
				w("Then", 7000, 7500),
				w("we", 8100, 8300),
				w("went", 8400, 8700),
				w("home", 8800, 9200),
				w("yesterday.", 9300, 9800),
			),
			wordsPair(second,
				w("we", 100, 300),
				w("went", 400, 700),
				w("home", 800, 1200),
				w("And", 2000, 2300),
				w("slept.", 2400, 2900),
			),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "Then we went home yesterday. And slept.", tr.Text)
		require.Equal(t, transcribe.ResolutionWords, tr.OverlapResolutions[0].Method)
		require.Equal(t, 3, tr.OverlapResolutions[0].DiscardedWords)
		require.Equal(t, 9800*time.Millisecond, tr.OverlapResolutions[0].KeptBoundaryOffset)
		require.Len(t, tr.Words, 7)
		require.Equal(t, w("yesterday.", 9300, 9800), tr.Words[4])
		require.Equal(t, w("And", 10000, 10300), tr.Words[5])
	})

	t.Run("trailing words overlapping the later segment give way", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first,
				w("we", 8100, 8300),
				w("went", 8400, 8700),
				w("home", 8800, 9200),
				w("late", 9300, 9600),
				w("yest", 9700, 10000),
			),
			wordsPair(second,
				w("we", 100, 300),
				w("went", 400, 700),
				w("home", 800, 1200),
				w("yesterday.", 1600, 2200),
			),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "we went home late yesterday.", tr.Text)
		require.Equal(t, 4, tr.OverlapResolutions[0].DiscardedWords)
		require.Equal(t, 9600*time.Millisecond, tr.OverlapResolutions[0].KeptBoundaryOffset)
	})

	t.Run("mismatched overlap keeps both", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first, w("alpha", 8500, 9000), w("beta", 9100, 9600)),
			wordsPair(second, w("gamma", 100, 600), w("delta", 700, 1200)),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "alpha beta gamma delta", tr.Text)
		require.Equal(t, transcribe.ResolutionNone, tr.OverlapResolutions[0].Method)
		require.Zero(t, tr.OverlapResolutions[0].DiscardedWords)
	})

	t.Run("single word agreement is not enough", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first, w("the", 8500, 9000), w("cat", 9100, 9600)),
			wordsPair(second, w("the", 100, 600), w("dog", 700, 1200)),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "the cat the dog", tr.Text)
		require.Zero(t, tr.OverlapResolutions[0].DiscardedWords)
	})

	t.Run("no overlap never discards", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(seg(0, 0, 10*time.Second, 0), w("one", 8000, 8500), w("two", 9000, 9500)),
			wordsPair(seg(1, 10*time.Second, 20*time.Second, 0), w("one", 0, 500), w("two", 600, 900)),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "one two one two", tr.Text)
		require.Equal(t, transcribe.ResolutionNone, tr.OverlapResolutions[0].Method)
		require.Zero(t, tr.OverlapResolutions[0].DiscardedWords)
	})

	t.Run("no words in overlap window", func(t *testing.T) {
		pairs := []Pair{
			wordsPair(first, w("early", 1000, 1500)),
			wordsPair(second, w("late", 5000, 5500)),
		}

		tr, err := Combine(pairs, Config{})
		require.NoError(t, err)
		require.Equal(t, "early late", tr.Text)
		require.Len(t, tr.Words, 2)
	})
}

func TestCombineText(t *testing.T) {
	first := seg(0, 0, 10*time.Second, 0)
	second := seg(1, 8*time.Second, 18*time.Second, 2*time.Second)

	t.Run("suffix matching prefix is kept once", func(t *testing.T) {
		tr, err := Combine([]Pair{
			textPair(first, "We are going to the store today."),
			textPair(second, "to the store today and then home."),
		}, Config{})
		require.NoError(t, err)
		require.Equal(t, "We are going to the store today. and then home.", tr.Text)
		require.Equal(t, []transcribe.OverlapResolution{
			{
				Previous:           0,
				Current:            1,
				Method:             transcribe.ResolutionText,
				DiscardedWords:     4,
				KeptBoundaryOffset: 10 * time.Second,
			},
		}, tr.OverlapResolutions)
		require.Nil(t, tr.Words)
	})

	t.Run("short agreement keeps both", func(t *testing.T) {
		tr, err := Combine([]Pair{
			textPair(first, "I said yes"),
			textPair(second, "yes indeed"),
		}, Config{})
		require.NoError(t, err)
		require.Equal(t, "I said yes yes indeed", tr.Text)
		require.Equal(t, transcribe.ResolutionNone, tr.OverlapResolutions[0].Method)
	})

	t.Run("mixed engines fall back to text", func(t *testing.T) {
		p := wordsPair(first, w("going", 8100, 8500), w("to", 8600, 8800), w("the", 8900, 9100), w("park", 9200, 9700))
		tr, err := Combine([]Pair{
			p,
			textPair(second, "going to the park now"),
		}, Config{})
		require.NoError(t, err)
		require.Equal(t, "going to the park now", tr.Text)
		require.Equal(t, transcribe.ResolutionText, tr.OverlapResolutions[0].Method)
		require.Nil(t, tr.Words)
	})

	t.Run("punctuation is attached to previous fragment", func(t *testing.T) {
		tr, err := Combine([]Pair{
			textPair(seg(0, 0, 10*time.Second, 0), "Hello there"),
			textPair(seg(1, 10*time.Second, 20*time.Second, 0), ", friend."),
		}, Config{})
		require.NoError(t, err)
		require.Equal(t, "Hello there, friend.", tr.Text)
	})
}

func TestCombineEmptySegments(t *testing.T) {
	segs := []segment.Segment{
		seg(0, 0, 10*time.Second, 0),
		seg(1, 8*time.Second, 18*time.Second, 2*time.Second),
		seg(2, 16*time.Second, 26*time.Second, 2*time.Second),
	}

	tcs := []struct {
		name  string
		texts []string
		text  string
		used  []int
	}{
		{
			name:  "first",
			texts: []string{"", "second part", "third part"},
			text:  "second part third part",
			used:  []int{1, 2},
		},
		{
			name:  "middle",
			texts: []string{"first part", "  ", "third part"},
			text:  "first part third part",
			used:  []int{0, 2},
		},
		{
			name:  "last",
			texts: []string{"first part", "second part", ""},
			text:  "first part second part",
			used:  []int{0, 1},
		},
		{
			name:  "all",
			texts: []string{"", "", ""},
			text:  "",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var pairs []Pair
			for i, s := range segs {
				pairs = append(pairs, textPair(s, tc.texts[i]))
			}

			tr, err := Combine(pairs, Config{})
			require.NoError(t, err)
			require.Equal(t, tc.text, tr.Text)
			require.Equal(t, tc.used, tr.SegmentsUsed)
			require.Len(t, tr.OverlapResolutions, 2)
			require.Equal(t, "en", tr.Language)
		})
	}
}

func TestLCS(t *testing.T) {
	require.Nil(t, lcs(nil, []string{"a"}))
	require.Equal(t, []match{{0, 0}, {2, 1}}, lcs([]string{"a", "b", "c"}, []string{"a", "c"}))
	require.Empty(t, lcs([]string{""}, []string{""}))
}

func TestSuffixPrefix(t *testing.T) {
	a := []string{"a", "b", "c", "d"}
	require.Equal(t, 3, suffixPrefix(a, []string{"b", "c", "d", "e"}, 4, 3))
	require.Equal(t, 0, suffixPrefix(a, []string{"c", "d", "e"}, 3, 3))
	require.Equal(t, 2, suffixPrefix(a, []string{"c", "d", "e"}, 3, 1))
	require.Equal(t, 0, suffixPrefix(a, []string{"b", "c", "d", "e"}, 2, 2))
}

func TestJoinFragments(t *testing.T) {
	require.Equal(t, "", joinFragments(nil))
	require.Equal(t, "a b", joinFragments([]string{" a ", "", "b"}))
	require.Equal(t, "Hi. How are you?", joinFragments([]string{"Hi", ". How", "are  you", "?"}))
	require.Equal(t, `say "hi"`, joinFragments([]string{"say", `"hi"`}))
}

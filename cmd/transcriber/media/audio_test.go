package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPCM(t *testing.T) {
	samples := make([]float32, 3*SampleRate)
	for i := range samples {
		samples[i] = float32(i)
	}
	pcm := NewPCM(samples)

	require.Equal(t, 3*time.Second, pcm.Duration())

	t.Run("valid ranges", func(t *testing.T) {
		tcs := []struct {
			name  string
			start time.Duration
			end   time.Duration
			first float32
			len   int
		}{
			{
				name:  "whole",
				end:   3 * time.Second,
				first: 0,
				len:   3 * SampleRate,
			},
			{
				name:  "middle",
				start: time.Second,
				end:   1500 * time.Millisecond,
				first: SampleRate,
				len:   SampleRate / 2,
			},
			{
				name:  "end past duration is clamped",
				start: 2 * time.Second,
				end:   4 * time.Second,
				first: 2 * SampleRate,
				len:   SampleRate,
			},
		}

		for _, tc := range tcs {
			t.Run(tc.name, func(t *testing.T) {
				s, err := pcm.Slice(tc.start, tc.end)
				require.NoError(t, err)
				require.Len(t, s, tc.len)
				require.Equal(t, tc.first, s[0])
			})
		}
	})

	t.Run("invalid ranges", func(t *testing.T) {
		tcs := []struct {
			name  string
			start time.Duration
			end   time.Duration
			err   string
		}{
			{
				name:  "negative start",
				start: -time.Second,
				end:   time.Second,
				err:   "invalid range [-1s, 1s)",
			},
			{
				name:  "empty",
				start: time.Second,
				end:   time.Second,
				err:   "invalid range [1s, 1s)",
			},
			{
				name:  "out of bounds",
				start: 3 * time.Second,
				end:   4 * time.Second,
				err:   "range [3s, 4s) is out of bounds (3s)",
			},
		}

		for _, tc := range tcs {
			t.Run(tc.name, func(t *testing.T) {
				s, err := pcm.Slice(tc.start, tc.end)
				require.EqualError(t, err, tc.err)
				require.Nil(t, s)
			})
		}
	})

	t.Run("slices can't grow into the next one", func(t *testing.T) {
		s, err := pcm.Slice(0, time.Second)
		require.NoError(t, err)
		require.Equal(t, len(s), cap(s))
		s = append(s, -1)
		require.Equal(t, float32(SampleRate), samples[SampleRate])
	})
}

package media

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	stdout []byte
	stderr string
	err    error

	name string
	args []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.name = name
	r.args = args
	return r.stdout, []byte(r.stderr), r.err
}

func encodeF32LE(samples ...float32) []byte {
	data := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return data
}

func newSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really media"), 0600))
	return path
}

func TestFFmpegExtractor(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		e := NewFFmpegExtractor(WithCommandRunner(&fakeRunner{}))
		_, err := e.ExtractAudio(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("success", func(t *testing.T) {
		path := newSource(t, "call.mp4")
		runner := &fakeRunner{stdout: encodeF32LE(0.5, -0.5, 0.25)}
		e := NewFFmpegExtractor(WithCommandRunner(runner), WithFFmpegPath("/opt/ffmpeg"))

		audio, err := e.ExtractAudio(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, "/opt/ffmpeg", runner.name)
		require.Contains(t, runner.args, path)
		require.Contains(t, runner.args, "16000")

		samples, err := audio.Slice(0, audio.Duration()+1)
		require.NoError(t, err)
		require.Equal(t, []float32{0.5, -0.5, 0.25}, samples)
	})

	t.Run("empty output", func(t *testing.T) {
		e := NewFFmpegExtractor(WithCommandRunner(&fakeRunner{}))
		_, err := e.ExtractAudio(context.Background(), newSource(t, "video.mkv"))
		require.ErrorIs(t, err, ErrNoAudioTrack)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		e := NewFFmpegExtractor(WithCommandRunner(&fakeRunner{err: errors.New("signal: killed")}))
		_, err := e.ExtractAudio(ctx, newSource(t, "video.mkv"))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("non opus ogg falls back to ffmpeg", func(t *testing.T) {
		runner := &fakeRunner{stdout: encodeF32LE(0.1)}
		e := NewFFmpegExtractor(WithCommandRunner(runner))
		path := newSource(t, "vorbis.ogg")
		_, err := e.ExtractAudio(context.Background(), path)
		require.NoError(t, err)
		require.Contains(t, runner.args, path)
	})
}

func TestClassifyFFmpegError(t *testing.T) {
	tcs := []struct {
		name   string
		stderr string
		err    error
	}{
		{
			name:   "video only",
			stderr: "Stream map '0:a:0' matches no streams.\nTo ignore this, add a trailing '?' to the map.",
			err:    ErrNoAudioTrack,
		},
		{
			name:   "no streams",
			stderr: "Output file #0 does not contain any stream",
			err:    ErrNoAudioTrack,
		},
		{
			name:   "garbage",
			stderr: "input.mp4: Invalid data found when processing input",
			err:    ErrUnsupportedFormat,
		},
		{
			name:   "unknown codec",
			stderr: "Decoder not found for stream #0:0",
			err:    ErrUnsupportedFormat,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			e := NewFFmpegExtractor(WithCommandRunner(&fakeRunner{
				stderr: tc.stderr,
				err:    errors.New("exit status 1"),
			}))
			_, err := e.ExtractAudio(context.Background(), newSource(t, "input.mp4"))
			require.ErrorIs(t, err, tc.err)
		})
	}

	t.Run("other failures", func(t *testing.T) {
		err := classifyFFmpegError(errors.New("exit status 137"), "Killed\n")
		require.EqualError(t, err, "ffmpeg failed: exit status 137: Killed")
		require.False(t, errors.Is(err, ErrNoAudioTrack))
		require.False(t, errors.Is(err, ErrUnsupportedFormat))
	})
}

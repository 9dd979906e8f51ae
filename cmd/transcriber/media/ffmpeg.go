package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultFFmpegPath = "ffmpeg"

// ffmpeg error messages that tell us something about the input.
var (
	noAudioMessages = []string{
		"matches no streams",
		"does not contain any stream",
	}
	unsupportedMessages = []string{
		"Invalid data found when processing input",
		"Unknown input format",
		"could not find codec parameters",
		"Decoder not found",
	}
)

// CommandRunner runs an external program returning what it wrote to
// stdout and stderr.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FFmpegExtractor decodes the first audio track of any media file ffmpeg
// understands. Ogg/Opus files (such as call recordings) are decoded natively.
type FFmpegExtractor struct {
	ffmpegPath string
	cmd        CommandRunner
}

type ExtractorOption func(*FFmpegExtractor)

func WithFFmpegPath(path string) ExtractorOption {
	return func(e *FFmpegExtractor) {
		e.ffmpegPath = path
	}
}

func WithCommandRunner(r CommandRunner) ExtractorOption {
	return func(e *FFmpegExtractor) {
		e.cmd = r
	}
}

func NewFFmpegExtractor(opts ...ExtractorOption) *FFmpegExtractor {
	e := &FFmpegExtractor{
		ffmpegPath: defaultFFmpegPath,
		cmd:        execRunner{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *FFmpegExtractor) ExtractAudio(ctx context.Context, path string) (Audio, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus":
		pcm, err := e.decodeOgg(ctx, path)
		if err == nil {
			return pcm, nil
		} else if !errors.Is(err, errNotOpus) {
			return nil, err
		}
		slog.Debug("falling back to ffmpeg", slog.String("path", path), slog.String("reason", err.Error()))
	}

	return e.decodeFFmpeg(ctx, path)
}

func (e *FFmpegExtractor) decodeOgg(ctx context.Context, path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	return decodeOggOpus(ctx, f)
}

func (e *FFmpegExtractor) decodeFFmpeg(ctx context.Context, path string) (*PCM, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-map", "0:a:0",
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-f", "f32le",
		"pipe:1",
	}

	stdout, stderr, err := e.cmd.Run(ctx, e.ffmpegPath, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, classifyFFmpegError(err, string(stderr))
	}

	samples := decodeF32LE(stdout)
	if len(samples) == 0 {
		return nil, ErrNoAudioTrack
	}

	return NewPCM(samples), nil
}

func classifyFFmpegError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)

	for _, msg := range noAudioMessages {
		if strings.Contains(stderr, msg) {
			return fmt.Errorf("%w: %s", ErrNoAudioTrack, stderr)
		}
	}

	for _, msg := range unsupportedMessages {
		if strings.Contains(stderr, msg) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, stderr)
		}
	}

	return fmt.Errorf("ffmpeg failed: %w: %s", err, stderr)
}

func decodeF32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

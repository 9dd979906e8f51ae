package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// SampleRate is the rate, in Hz, of all the audio handed to transcription engines.
	SampleRate = 16000
	// Audio is always downmixed to a single channel.
	Channels = 1
)

var (
	ErrUnsupportedFormat = errors.New("unsupported media format")
	ErrNoAudioTrack      = errors.New("no audio track")
)

// Audio gives random access to the decoded audio of a media source.
type Audio interface {
	Duration() time.Duration
	// Slice returns the samples in [start, end). The returned slice must be
	// treated as read only.
	Slice(start, end time.Duration) ([]float32, error)
}

type Extractor interface {
	ExtractAudio(ctx context.Context, path string) (Audio, error)
}

// PCM holds 16KHz mono float32 samples in memory.
type PCM struct {
	samples []float32
}

func NewPCM(samples []float32) *PCM {
	return &PCM{samples: samples}
}

func (p *PCM) Duration() time.Duration {
	return samplesToDuration(len(p.samples))
}

func (p *PCM) Slice(start, end time.Duration) ([]float32, error) {
	if start < 0 || end <= start {
		return nil, fmt.Errorf("invalid range [%v, %v)", start, end)
	}

	from := durationToSamples(start)
	to := min(durationToSamples(end), len(p.samples))
	if from >= to {
		return nil, fmt.Errorf("range [%v, %v) is out of bounds (%v)", start, end, p.Duration())
	}

	return p.samples[from:to:to], nil
}

func durationToSamples(d time.Duration) int {
	return int(int64(d) * SampleRate / int64(time.Second))
}

func samplesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

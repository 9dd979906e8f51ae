package vad

import (
	"fmt"
	"sync"

	"github.com/mattermost/media-transcriber/cmd/transcriber/media"

	"github.com/streamer45/silero-vad-go/speech"
)

const (
	// Smallest window the model accepts at 16KHz, to get as fine-grained
	// detection as possible.
	windowSizeInSamples = 512
)

type Config struct {
	ModelPath            string
	Threshold            float32
	MinSilenceDurationMs int
	MinSpeechDurationMs  int
	SilencePadMs         int
}

func (c *Config) SetDefaults() {
	c.Threshold = 0.5
	c.MinSilenceDurationMs = 150
	c.MinSpeechDurationMs = 200
	c.SilencePadMs = 32
}

func (c Config) IsValid() error {
	if c.ModelPath == "" {
		return fmt.Errorf("invalid ModelPath: should not be empty")
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("invalid Threshold: should be in the range (0, 1)")
	}
	if c.MinSilenceDurationMs < 0 || c.MinSpeechDurationMs < 0 || c.SilencePadMs < 0 {
		return fmt.Errorf("invalid durations: should not be negative")
	}
	return nil
}

// SileroDetector tells whether some audio contains speech. It's safe for
// concurrent use, calls are serialized.
type SileroDetector struct {
	mut sync.Mutex
	sd  *speech.Detector
}

func NewSileroDetector(cfg Config) (*SileroDetector, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           media.SampleRate,
		WindowSize:           windowSizeInSamples,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		MinSpeechDurationMs:  cfg.MinSpeechDurationMs,
		SilencePadMs:         cfg.SilencePadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech detector: %w", err)
	}

	return &SileroDetector{sd: sd}, nil
}

func (d *SileroDetector) HasSpeech(samples []float32) (bool, error) {
	if len(samples) < windowSizeInSamples {
		return false, nil
	}

	d.mut.Lock()
	defer d.mut.Unlock()

	if d.sd == nil {
		return false, fmt.Errorf("detector is not initialized")
	}

	// Every call is an independent piece of audio.
	defer func() {
		_ = d.sd.Reset()
	}()

	segments, err := d.sd.Detect(samples)
	if err != nil {
		return false, fmt.Errorf("failed to detect speech: %w", err)
	}

	return len(segments) > 0, nil
}

func (d *SileroDetector) Destroy() error {
	d.mut.Lock()
	defer d.mut.Unlock()

	if d.sd == nil {
		return fmt.Errorf("detector is not initialized")
	}

	err := d.sd.Destroy()
	d.sd = nil
	return err
}

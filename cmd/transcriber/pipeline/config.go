package pipeline

import (
	"fmt"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/combine"
	"github.com/mattermost/media-transcriber/cmd/transcriber/normalize"
	"github.com/mattermost/media-transcriber/cmd/transcriber/segment"
)

const (
	defaultMaxSegmentDuration = 10 * time.Minute
	defaultOverlapDuration    = 5 * time.Second
	defaultNumWorkers         = 1
	defaultMaxAttempts        = 2
	defaultRetryDelay         = 500 * time.Millisecond
)

type Config struct {
	// Longest audio window handed to the transcription engine at once.
	MaxSegmentDuration time.Duration
	// Audio shared by consecutive windows so that words cut by a boundary
	// are heard whole at least once.
	OverlapDuration time.Duration
	// Language hint passed through to the engine. Empty means autodetect.
	Language string
	// Number of segments transcribed concurrently.
	NumWorkers int
	// Number of times a segment is attempted before failing the run.
	MaxAttempts int
	// Pause between attempts.
	RetryDelay time.Duration

	Combine    combine.Config
	Normalizer normalize.Config
}

func (c *Config) SetDefaults() {
	c.MaxSegmentDuration = defaultMaxSegmentDuration
	c.OverlapDuration = defaultOverlapDuration
	c.NumWorkers = defaultNumWorkers
	c.MaxAttempts = defaultMaxAttempts
	c.RetryDelay = defaultRetryDelay
	c.Combine.SetDefaults()
	c.Normalizer.SetDefaults()
}

func (c Config) IsValid() error {
	if err := segment.ValidateParams(c.MaxSegmentDuration, c.OverlapDuration); err != nil {
		return err
	}

	if c.NumWorkers < 1 {
		return fmt.Errorf("%w: NumWorkers should be a positive number", ErrInvalidConfiguration)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: MaxAttempts should be a positive number", ErrInvalidConfiguration)
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: RetryDelay should not be negative", ErrInvalidConfiguration)
	}

	// Empty sub-configs fall back to their defaults.
	if !c.Combine.IsEmpty() {
		if err := c.Combine.IsValid(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}

	if !c.Normalizer.IsEmpty() {
		if err := c.Normalizer.IsValid(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}

	return nil
}

package azure

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"
)

const (
	audioSampleRate = 16000
	audioBitDepth   = 16
	audioChannels   = 1

	minRecognitionTimeout = 30 * time.Second
)

type SpeechRecognizerConfig struct {
	SpeechKey    string
	SpeechRegion string
	// Language used when none is given to Transcribe (e.g. "en-US").
	Language string
}

func (c SpeechRecognizerConfig) IsValid() error {
	if c.SpeechKey == "" {
		return fmt.Errorf("invalid SpeechKey: should not be empty")
	}

	if c.SpeechRegion == "" {
		return fmt.Errorf("invalid SpeechRegion: should not be empty")
	}

	return nil
}

// SpeechRecognizer transcribes audio through the Azure Speech service. The
// service doesn't return word timings so results only carry text.
type SpeechRecognizer struct {
	cfg SpeechRecognizerConfig
}

func NewSpeechRecognizer(cfg SpeechRecognizerConfig) (*SpeechRecognizer, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	return &SpeechRecognizer{
		cfg: cfg,
	}, nil
}

// recognition collects the utterances recognized during a session.
type recognition struct {
	mut    sync.Mutex
	texts  []string
	err    error
	doneCh chan struct{}
	once   sync.Once
}

func (r *recognition) add(text string) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if text = strings.TrimSpace(text); text != "" {
		r.texts = append(r.texts, text)
	}
}

func (r *recognition) done(err error) {
	r.once.Do(func() {
		r.mut.Lock()
		r.err = err
		r.mut.Unlock()
		close(r.doneCh)
	})
}

func (r *recognition) result() (string, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	return strings.Join(r.texts, " "), r.err
}

func (s *SpeechRecognizer) Transcribe(ctx context.Context, samples []float32, language string) (transcribe.Result, error) {
	if len(samples) == 0 {
		return transcribe.Result{}, fmt.Errorf("samples should not be empty")
	}

	if language == "" {
		language = s.cfg.Language
	}

	cfg, err := speech.NewSpeechConfigFromSubscription(s.cfg.SpeechKey, s.cfg.SpeechRegion)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("failed to create speech config: %w", err)
	}
	defer cfg.Close()

	if language != "" {
		if err := cfg.SetSpeechRecognitionLanguage(language); err != nil {
			return transcribe.Result{}, fmt.Errorf("failed to set language: %w", err)
		}
	}

	stream, err := audio.CreatePushAudioInputStream()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("failed to create audio stream: %w", err)
	}
	defer stream.Close()

	audioConfig, err := audio.NewAudioConfigFromStreamInput(stream)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("failed to create audio config: %w", err)
	}
	defer audioConfig.Close()

	speechRecognizer, err := speech.NewSpeechRecognizerFromConfig(cfg, audioConfig)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("failed to create speech recognizer: %w", err)
	}
	defer speechRecognizer.Close()

	rec := &recognition{
		doneCh: make(chan struct{}),
	}

	speechRecognizer.SessionStarted(func(event speech.SessionEventArgs) {
		defer event.Close()
		slog.Debug("session started", slog.String("sessionID", event.SessionID))
	})
	speechRecognizer.SessionStopped(func(event speech.SessionEventArgs) {
		defer event.Close()
		slog.Debug("session stopped", slog.String("sessionID", event.SessionID))
		rec.done(nil)
	})

	speechRecognizer.Canceled(func(event speech.SpeechRecognitionCanceledEventArgs) {
		defer event.Close()
		if event.Reason == common.Error {
			rec.done(fmt.Errorf("recognition canceled: %s", event.ErrorDetails))
			return
		}
		// End of stream.
		rec.done(nil)
	})

	speechRecognizer.Recognized(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()

		if event.Result.Reason == common.NoMatch {
			slog.Debug("no speech recognized", slog.Duration("offset", event.Result.Offset))
			return
		}

		rec.add(event.Result.Text)
	})

	if err := stream.Write(f32PCMToWAV(samples)); err != nil {
		return transcribe.Result{}, fmt.Errorf("failed to write audio data: %w", err)
	}

	err = <-speechRecognizer.StartContinuousRecognitionAsync()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("%w: failed to start recognizer: %w", transcribe.ErrTranscription, err)
	}
	defer func() {
		err := <-speechRecognizer.StopContinuousRecognitionAsync()
		if err != nil {
			slog.Error("failed to stop recognizer", slog.String("err", err.Error()))
		}
	}()

	// This is important as it flushes out any remaining audio data.
	stream.CloseStream()

	audioDur := time.Duration(len(samples)) * time.Second / audioSampleRate
	timer := time.NewTimer(max(minRecognitionTimeout, 2*audioDur))
	defer timer.Stop()

	select {
	case <-rec.doneCh:
	case <-timer.C:
		return transcribe.Result{}, fmt.Errorf("%w: timed out waiting for recognition", transcribe.ErrTranscription)
	case <-ctx.Done():
		return transcribe.Result{}, ctx.Err()
	}

	text, err := rec.result()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("%w: %w", transcribe.ErrTranscription, err)
	}

	return transcribe.Result{
		Text:     text,
		Language: language,
	}, nil
}

func (s *SpeechRecognizer) Destroy() error {
	return nil
}

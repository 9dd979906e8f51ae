package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/combine"
	"github.com/mattermost/media-transcriber/cmd/transcriber/media"
	"github.com/mattermost/media-transcriber/cmd/transcriber/normalize"
	"github.com/mattermost/media-transcriber/cmd/transcriber/segment"
	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// SpeechDetector is used to skip transcribing segments with no speech in them.
type SpeechDetector interface {
	HasSpeech(samples []float32) (bool, error)
}

// Pipeline turns a media file into a single transcript. It holds no per-run
// state so multiple files can be processed concurrently.
type Pipeline struct {
	extractor   media.Extractor
	transcriber transcribe.Transcriber
	detector    SpeechDetector
	metrics     *Metrics
	log         *slog.Logger
}

type Option func(*Pipeline)

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithSpeechDetector(d SpeechDetector) Option {
	return func(p *Pipeline) {
		p.detector = d
	}
}

func New(extractor media.Extractor, transcriber transcribe.Transcriber, opts ...Option) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor should not be nil")
	}
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber should not be nil")
	}

	p := &Pipeline{
		extractor:   extractor,
		transcriber: transcriber,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.log == nil {
		p.log = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(prometheus.NewRegistry())
	}

	return p, nil
}

// run holds the state of a single Run call.
type run struct {
	p          *Pipeline
	cfg        Config
	sourcePath string
	log        *slog.Logger

	progressMut sync.Mutex
	onProgress  ProgressFunc
}

func (r *run) progress(stage Stage, fraction float64, segmentIndex int) {
	if r.onProgress == nil {
		return
	}
	r.progressMut.Lock()
	defer r.progressMut.Unlock()
	r.onProgress(stage, fraction, segmentIndex)
}

func (r *run) observeStage(stage Stage, start time.Time) {
	dur := time.Since(start)
	r.p.metrics.StageDuration.WithLabelValues(stage.String()).Observe(dur.Seconds())
	r.log.Debug("stage completed", slog.String("stage", stage.String()), slog.Duration("duration", dur))
}

// Run transcribes the media file at sourcePath. On failure the returned
// error is a *StageError. A cancelled run fails with ErrCancelled and never
// returns a partial transcript.
func (p *Pipeline) Run(ctx context.Context, sourcePath string, cfg Config, onProgress ProgressFunc) (transcribe.Transcription, error) {
	r := &run{
		p:          p,
		cfg:        cfg,
		sourcePath: sourcePath,
		onProgress: onProgress,
		log:        p.log.With(slog.String("runID", uuid.NewString()), slog.String("source", sourcePath)),
	}

	start := time.Now()
	r.log.Info("starting run",
		slog.Duration("maxSegmentDuration", cfg.MaxSegmentDuration),
		slog.Duration("overlapDuration", cfg.OverlapDuration),
		slog.String("language", cfg.Language),
		slog.Int("numWorkers", cfg.NumWorkers))

	tr, err := r.execute(ctx)
	if err != nil {
		stageErr := newStageError(StageFailed, -1, err)
		if errors.Is(err, ErrCancelled) {
			p.metrics.Runs.WithLabelValues(runStatusCancelled).Inc()
			r.log.Info("run cancelled", slog.String("stage", stageErr.Stage.String()))
		} else {
			p.metrics.Runs.WithLabelValues(runStatusFailed).Inc()
			r.log.Error("run failed",
				slog.String("stage", stageErr.Stage.String()),
				slog.Int("segmentIndex", stageErr.SegmentIndex),
				slog.String("err", stageErr.Err.Error()))
		}
		r.progress(StageFailed, 0, stageErr.SegmentIndex)
		return transcribe.Transcription{}, stageErr
	}

	p.metrics.Runs.WithLabelValues(runStatusSucceeded).Inc()
	r.log.Info("run completed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("segmentsUsed", len(tr.SegmentsUsed)))
	r.progress(StageDone, 1, -1)

	return tr, nil
}

func (r *run) cancelled(ctx context.Context, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return newStageError(stage, -1, fmt.Errorf("%w: %w", ErrCancelled, err))
	}
	return nil
}

func (r *run) execute(ctx context.Context) (transcribe.Transcription, error) {
	// Planning
	r.progress(StagePlanning, 0, -1)
	start := time.Now()

	if err := r.cfg.IsValid(); err != nil {
		return transcribe.Transcription{}, newStageError(StagePlanning, -1, err)
	}

	audio, err := r.p.extractor.ExtractAudio(ctx, r.sourcePath)
	if err != nil {
		if cErr := r.cancelled(ctx, StagePlanning); cErr != nil {
			return transcribe.Transcription{}, cErr
		}
		// Problems with the source are reported as part of slicing, which
		// owns access to the media.
		return transcribe.Transcription{}, newStageError(StageSlicing, -1, fmt.Errorf("failed to extract audio: %w", err))
	}

	segments, err := segment.Plan(audio.Duration(), r.cfg.MaxSegmentDuration, r.cfg.OverlapDuration)
	if err != nil {
		return transcribe.Transcription{}, newStageError(StagePlanning, -1, err)
	}

	r.log.Info("segments planned",
		slog.Duration("audioDuration", audio.Duration()),
		slog.Int("numSegments", len(segments)))
	r.progress(StagePlanning, 1, -1)
	r.observeStage(StagePlanning, start)

	// Slicing
	start = time.Now()
	r.progress(StageSlicing, 0, -1)
	samples := make([][]float32, len(segments))
	for i, s := range segments {
		if err := r.cancelled(ctx, StageSlicing); err != nil {
			return transcribe.Transcription{}, err
		}
		samples[i], err = audio.Slice(s.Start, s.End)
		if err != nil {
			return transcribe.Transcription{}, newStageError(StageSlicing, s.Index, fmt.Errorf("failed to slice audio: %w", err))
		}
		r.progress(StageSlicing, float64(i+1)/float64(len(segments)), s.Index)
	}
	r.observeStage(StageSlicing, start)

	// Transcribing
	start = time.Now()
	r.progress(StageTranscribing, 0, -1)
	results, err := r.transcribe(ctx, segments, samples)
	if err != nil {
		return transcribe.Transcription{}, err
	}
	r.observeStage(StageTranscribing, start)

	// Combining
	if err := r.cancelled(ctx, StageCombining); err != nil {
		return transcribe.Transcription{}, err
	}
	start = time.Now()
	r.progress(StageCombining, 0, -1)
	pairs := make([]combine.Pair, len(segments))
	for i := range segments {
		pairs[i] = combine.Pair{Segment: segments[i], Result: results[i]}
	}
	tr, err := combine.Combine(pairs, r.cfg.Combine)
	if err != nil {
		r.log.Error("failed to combine transcriptions",
			slog.String("err", err.Error()),
			slog.Any("segments", segments))
		return transcribe.Transcription{}, newStageError(StageCombining, -1, err)
	}
	for _, res := range tr.OverlapResolutions {
		r.log.Debug("overlap resolution",
			slog.Int("previous", res.Previous),
			slog.Int("current", res.Current),
			slog.String("method", res.Method),
			slog.Int("discardedWords", res.DiscardedWords))
	}
	r.progress(StageCombining, 1, -1)
	r.observeStage(StageCombining, start)

	// Normalizing
	if err := r.cancelled(ctx, StageNormalizing); err != nil {
		return transcribe.Transcription{}, err
	}
	start = time.Now()
	r.progress(StageNormalizing, 0, -1)
	tr.Text = normalize.Normalize(tr.Text, r.cfg.Normalizer)
	for i := range tr.Segments {
		tr.Segments[i].Text = normalize.Normalize(tr.Segments[i].Text, r.cfg.Normalizer)
	}
	// Writers build cues from words when present.
	tr.Words = normalize.NormalizeWords(tr.Words, r.cfg.Normalizer)
	r.progress(StageNormalizing, 1, -1)
	r.observeStage(StageNormalizing, start)

	return tr, nil
}

// transcribe runs the engine over every segment, at most NumWorkers at a
// time. Results are indexed like segments, whatever the completion order.
func (r *run) transcribe(ctx context.Context, segments []segment.Segment, samples [][]float32) ([]transcribe.Result, error) {
	results := make([]transcribe.Result, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.NumWorkers)

	var doneMut sync.Mutex
	var done int

	for i, s := range segments {
		// Stop dispatching as soon as the run is cancelled or a segment failed.
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			res, err := r.transcribeSegment(gctx, s, samples[i])
			if err != nil {
				return err
			}
			results[i] = res

			// Reported under lock so fractions never go backwards.
			doneMut.Lock()
			defer doneMut.Unlock()
			done++
			r.progress(StageTranscribing, float64(done)/float64(len(segments)), s.Index)
			return nil
		})
	}

	err := g.Wait()
	if cErr := r.cancelled(ctx, StageTranscribing); cErr != nil {
		return nil, cErr
	}
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (r *run) transcribeSegment(ctx context.Context, s segment.Segment, samples []float32) (transcribe.Result, error) {
	log := r.log.With(slog.Int("segmentIndex", s.Index))

	if r.p.detector != nil {
		hasSpeech, err := r.p.detector.HasSpeech(samples)
		if err != nil {
			log.Warn("speech detection failed, transcribing anyway", slog.String("err", err.Error()))
		} else if !hasSpeech {
			log.Debug("no speech detected, skipping segment")
			r.p.metrics.Segments.WithLabelValues(segmentStatusSkipped).Inc()
			return transcribe.Result{SegmentIndex: s.Index}, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return transcribe.Result{}, err
		}

		r.p.metrics.Attempts.Inc()
		start := time.Now()
		res, err := r.p.transcriber.Transcribe(ctx, samples, r.cfg.Language)
		if err == nil {
			res.SegmentIndex = s.Index
			r.p.metrics.Segments.WithLabelValues(segmentStatusTranscribed).Inc()
			log.Debug("segment transcribed",
				slog.Duration("duration", time.Since(start)),
				slog.Int("attempt", attempt),
				slog.Int("numWords", len(res.Words)))
			return res, nil
		}

		if ctx.Err() != nil {
			return transcribe.Result{}, ctx.Err()
		}

		lastErr = err
		log.Warn("failed to transcribe segment",
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()))

		if attempt < r.cfg.MaxAttempts && r.cfg.RetryDelay > 0 {
			timer := time.NewTimer(r.cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return transcribe.Result{}, ctx.Err()
			}
		}
	}

	r.p.metrics.Segments.WithLabelValues(segmentStatusFailed).Inc()

	if !errors.Is(lastErr, transcribe.ErrTranscription) {
		lastErr = fmt.Errorf("%w: %w", transcribe.ErrTranscription, lastErr)
	}

	return transcribe.Result{}, newStageError(StageTranscribing, s.Index, lastErr)
}

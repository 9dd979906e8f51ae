package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/apis/azure"
	whisper "github.com/mattermost/media-transcriber/cmd/transcriber/apis/whisper.cpp"
	"github.com/mattermost/media-transcriber/cmd/transcriber/config"
	"github.com/mattermost/media-transcriber/cmd/transcriber/media"
	"github.com/mattermost/media-transcriber/cmd/transcriber/pipeline"
	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"
	"github.com/mattermost/media-transcriber/cmd/transcriber/vad"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsShutdownTimeout = 5 * time.Second
)

func slogReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		if source.File == "" {
			// Log from a dependency (e.g. speech SDK callbacks).
			if pc, file, line, ok := runtime.Caller(7); ok {
				if f := runtime.FuncForPC(pc); f != nil {
					source.File = filepath.Base(filepath.Dir(file)) + "/" + filepath.Base(file)
					source.Line = line
				}
			}
		} else {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelDebug,
		ReplaceAttr: slogReplaceAttr,
	}))
	slog.SetDefault(logger)

	// A missing .env file is fine, the environment is used as is.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("err", err.Error()))
	}

	pid := os.Getpid()
	if err := os.WriteFile("/tmp/transcriber.pid", []byte(fmt.Sprintf("%d", pid)), 0666); err != nil {
		slog.Error("failed to write pid file", slog.String("err", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cfg.SetDefaults()
	if err := cfg.IsValid(); err != nil {
		slog.Error("invalid config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting transcriber", slog.Any("cfg", cfg.ToMap()))

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, pipeline.ErrCancelled) {
			slog.Info("received SIGTERM, transcription was stopped")
		} else {
			slog.Error("transcriber failed", slog.String("err", err.Error()))
		}
		stop()
		os.Exit(1)
	}

	slog.Info("transcriber has finished, exiting")
}

func run(ctx context.Context, cfg config.TranscriberConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(reg)

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shutdown metrics server", slog.String("err", err.Error()))
			}
		}()
	}

	transcriber, err := newTranscriber(cfg)
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}
	defer func() {
		if err := transcriber.Destroy(); err != nil {
			slog.Error("failed to destroy transcriber", slog.String("err", err.Error()))
		}
	}()

	opts := []pipeline.Option{
		pipeline.WithLogger(slog.Default()),
		pipeline.WithMetrics(metrics),
	}

	if cfg.VADEnabled {
		var vadCfg vad.Config
		vadCfg.SetDefaults()
		vadCfg.ModelPath = cfg.VADModelFile()
		detector, err := vad.NewSileroDetector(vadCfg)
		if err != nil {
			return fmt.Errorf("failed to create speech detector: %w", err)
		}
		defer func() {
			if err := detector.Destroy(); err != nil {
				slog.Error("failed to destroy speech detector", slog.String("err", err.Error()))
			}
		}()
		opts = append(opts, pipeline.WithSpeechDetector(detector))
	}

	p, err := pipeline.New(media.NewFFmpegExtractor(), transcriber, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	tr, err := p.Run(ctx, cfg.InputPath, cfg.PipelineConfig(), logProgress)
	if err != nil {
		return err
	}

	return writeTranscription(tr, cfg)
}

func newTranscriber(cfg config.TranscriberConfig) (transcribe.Transcriber, error) {
	switch cfg.TranscribeAPI {
	case config.TranscribeAPIWhisperCPP:
		return whisper.NewContext(whisper.Config{
			ModelFile:  cfg.WhisperModelFile(),
			NumThreads: cfg.NumThreads,
		})
	case config.TranscribeAPIAzure:
		return azure.NewSpeechRecognizer(azure.SpeechRecognizerConfig{
			SpeechKey:    cfg.AzureSpeechKey,
			SpeechRegion: cfg.AzureSpeechRegion,
		})
	default:
		return nil, fmt.Errorf("transcribe API %q is not implemented", cfg.TranscribeAPI)
	}
}

func logProgress(stage pipeline.Stage, fraction float64, segmentIndex int) {
	attrs := []any{
		slog.String("stage", stage.String()),
		slog.String("progress", fmt.Sprintf("%.0f%%", fraction*100)),
	}
	if segmentIndex >= 0 {
		attrs = append(attrs, slog.Int("segmentIndex", segmentIndex))
	}
	slog.Debug("transcription progress", attrs...)
}

func writeTranscription(tr transcribe.Transcription, cfg config.TranscriberConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	fname := cfg.OutputFile()
	f, err := os.OpenFile(fname, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	if err := writeOutput(f, tr, cfg); err != nil {
		return err
	}

	slog.Info("transcription written",
		slog.String("filename", fname),
		slog.Int("segmentsUsed", len(tr.SegmentsUsed)),
		slog.String("language", tr.Language))

	return nil
}

// writeOutput writes tr in the configured format and closes w. Data is only
// considered written once Close succeeds.
func writeOutput(w io.WriteCloser, tr transcribe.Transcription, cfg config.TranscriberConfig) error {
	var err error
	switch cfg.OutputFormat {
	case config.OutputFormatText:
		err = tr.WriteText(w, cfg.OutputOptions.Text)
	default:
		err = tr.WebVTT(w, cfg.OutputOptions.WebVTT)
	}
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to write transcription: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		slog.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.String("err", err.Error()))
		}
	}()

	return srv
}

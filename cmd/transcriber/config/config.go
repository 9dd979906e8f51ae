package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/combine"
	"github.com/mattermost/media-transcriber/cmd/transcriber/normalize"
	"github.com/mattermost/media-transcriber/cmd/transcriber/pipeline"
	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"

	"github.com/kelseyhightower/envconfig"
)

const (
	// defaults
	ModelSizeDefault     = ModelSizeBase
	TranscribeAPIDefault = TranscribeAPIWhisperCPP
	OutputFormatDefault  = OutputFormatVTT
	DataDirDefault       = "/data"
	ModelsDirDefault     = "/models"

	MaxSegmentDurationMsDefault = 10 * 60 * 1000
	OverlapDurationMsDefault    = 5000
	NumWorkersDefault           = 1
	MaxAttemptsDefault          = 2
	RetryDelayMsDefault         = 500
)

type OutputFormat string

const (
	OutputFormatVTT  OutputFormat = "vtt"
	OutputFormatText OutputFormat = "text"
)

type ModelSize string

const (
	ModelSizeTiny   ModelSize = "tiny"
	ModelSizeBase   ModelSize = "base"
	ModelSizeSmall  ModelSize = "small"
	ModelSizeMedium ModelSize = "medium"
	ModelSizeLarge  ModelSize = "large"
)

type TranscribeAPI string

const (
	TranscribeAPIWhisperCPP TranscribeAPI = "whisper.cpp"
	TranscribeAPIAzure      TranscribeAPI = "azure"
)

type OutputOptions struct {
	WebVTT transcribe.WebVTTOptions
	Text   transcribe.TextOptions
}

type TranscriberConfig struct {
	// input config
	InputPath string `envconfig:"INPUT_PATH"`
	DataDir   string `envconfig:"DATA_DIR"`
	ModelsDir string `envconfig:"MODELS_DIR"`
	Language  string `envconfig:"TRANSCRIBE_LANGUAGE"`

	// engine config
	TranscribeAPI     TranscribeAPI `envconfig:"TRANSCRIBE_API"`
	ModelSize         ModelSize     `envconfig:"MODEL_SIZE"`
	NumThreads        int           `envconfig:"NUM_THREADS"`
	AzureSpeechKey    string        `envconfig:"AZURE_SPEECH_KEY"`
	AzureSpeechRegion string        `envconfig:"AZURE_SPEECH_REGION"`
	VADEnabled        bool          `envconfig:"VAD_ENABLED"`

	// pipeline config
	MaxSegmentDurationMs int `envconfig:"MAX_SEGMENT_DURATION_MS"`
	OverlapDurationMs    int `envconfig:"OVERLAP_DURATION_MS"`
	NumWorkers           int `envconfig:"NUM_WORKERS"`
	MaxAttempts          int `envconfig:"MAX_ATTEMPTS"`
	RetryDelayMs         int `envconfig:"RETRY_DELAY_MS"`

	// Zero values mean defaults.
	CombineMinWordMatch      int     `envconfig:"COMBINE_MIN_WORD_MATCH"`
	CombineMinMatchRatio     float64 `envconfig:"COMBINE_MIN_MATCH_RATIO"`
	CombineMinTextMatch      int     `envconfig:"COMBINE_MIN_TEXT_MATCH"`
	CombineMaxWordsPerSecond float64 `envconfig:"COMBINE_MAX_WORDS_PER_SECOND"`
	CombinePreferLater       bool    `envconfig:"COMBINE_PREFER_LATER"`

	NormalizeMaxConsecutiveRepeats int     `envconfig:"NORMALIZE_MAX_CONSECUTIVE_REPEATS"`
	NormalizeMinPhraseLength       int     `envconfig:"NORMALIZE_MIN_PHRASE_LENGTH"`
	NormalizeMaxPhraseLength       int     `envconfig:"NORMALIZE_MAX_PHRASE_LENGTH"`
	NormalizeSimilarityThreshold   float64 `envconfig:"NORMALIZE_SIMILARITY_THRESHOLD"`

	// output config
	OutputFormat  OutputFormat  `envconfig:"OUTPUT_FORMAT"`
	OutputOptions OutputOptions `ignored:"true"`
	MetricsAddr   string        `envconfig:"METRICS_ADDR"`
}

func (p ModelSize) IsValid() bool {
	switch p {
	case ModelSizeTiny, ModelSizeBase, ModelSizeSmall, ModelSizeMedium, ModelSizeLarge:
		return true
	default:
		return false
	}
}

func (a TranscribeAPI) IsValid() bool {
	switch a {
	case TranscribeAPIWhisperCPP, TranscribeAPIAzure:
		return true
	default:
		return false
	}
}

func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatVTT, OutputFormatText:
		return true
	default:
		return false
	}
}

func (f OutputFormat) Ext() string {
	if f == OutputFormatText {
		return ".txt"
	}
	return "." + string(f)
}

func (cfg TranscriberConfig) IsValid() error {
	if cfg == (TranscriberConfig{}) {
		return fmt.Errorf("config cannot be empty")
	}

	if cfg.InputPath == "" {
		return fmt.Errorf("InputPath cannot be empty")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("DataDir cannot be empty")
	}

	if !cfg.TranscribeAPI.IsValid() {
		return fmt.Errorf("TranscribeAPI value is not valid")
	}
	if cfg.TranscribeAPI == TranscribeAPIAzure {
		if cfg.AzureSpeechKey == "" {
			return fmt.Errorf("AzureSpeechKey cannot be empty")
		}
		if cfg.AzureSpeechRegion == "" {
			return fmt.Errorf("AzureSpeechRegion cannot be empty")
		}
	}
	if !cfg.ModelSize.IsValid() {
		return fmt.Errorf("ModelSize value is not valid")
	}
	if cfg.ModelsDir == "" && (cfg.TranscribeAPI == TranscribeAPIWhisperCPP || cfg.VADEnabled) {
		return fmt.Errorf("ModelsDir cannot be empty")
	}
	if !cfg.OutputFormat.IsValid() {
		return fmt.Errorf("OutputFormat value is not valid")
	}
	if numCPU := runtime.NumCPU(); cfg.NumThreads < 1 || cfg.NumThreads > numCPU {
		return fmt.Errorf("NumThreads should be in the range [1, %d]", numCPU)
	}

	if err := cfg.PipelineConfig().IsValid(); err != nil {
		return err
	}

	if err := cfg.OutputOptions.Text.IsValid(); err != nil {
		return err
	}

	return cfg.OutputOptions.WebVTT.IsValid()
}

func (cfg *TranscriberConfig) SetDefaults() {
	if cfg.DataDir == "" {
		cfg.DataDir = DataDirDefault
	}

	if cfg.ModelsDir == "" {
		cfg.ModelsDir = ModelsDirDefault
	}

	if cfg.TranscribeAPI == "" {
		cfg.TranscribeAPI = TranscribeAPIDefault
	}

	if cfg.ModelSize == "" {
		cfg.ModelSize = ModelSizeDefault
	}

	if cfg.OutputFormat == "" {
		cfg.OutputFormat = OutputFormatDefault
	}

	if cfg.NumThreads == 0 {
		cfg.NumThreads = max(1, runtime.NumCPU()/2)
	}

	if cfg.MaxSegmentDurationMs == 0 {
		cfg.MaxSegmentDurationMs = MaxSegmentDurationMsDefault
	}

	if cfg.OverlapDurationMs == 0 {
		cfg.OverlapDurationMs = OverlapDurationMsDefault
	}

	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = NumWorkersDefault
	}

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = MaxAttemptsDefault
	}

	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = RetryDelayMsDefault
	}

	if cfg.OutputOptions.WebVTT.IsEmpty() {
		cfg.OutputOptions.WebVTT.SetDefaults()
	}

	if cfg.OutputOptions.Text.IsEmpty() {
		cfg.OutputOptions.Text.SetDefaults()
	}
}

// PipelineConfig returns the options to run the pipeline with. Combiner and
// normalizer options that are left unset take their package defaults.
func (cfg TranscriberConfig) PipelineConfig() pipeline.Config {
	var c pipeline.Config
	c.SetDefaults()

	c.MaxSegmentDuration = time.Duration(cfg.MaxSegmentDurationMs) * time.Millisecond
	c.OverlapDuration = time.Duration(cfg.OverlapDurationMs) * time.Millisecond
	c.Language = cfg.Language
	c.NumWorkers = cfg.NumWorkers
	c.MaxAttempts = cfg.MaxAttempts
	c.RetryDelay = time.Duration(cfg.RetryDelayMs) * time.Millisecond

	c.Combine = combine.Config{
		MinWordMatch:      valueOr(cfg.CombineMinWordMatch, c.Combine.MinWordMatch),
		MinMatchRatio:     valueOr(cfg.CombineMinMatchRatio, c.Combine.MinMatchRatio),
		MinTextMatch:      valueOr(cfg.CombineMinTextMatch, c.Combine.MinTextMatch),
		MaxWordsPerSecond: valueOr(cfg.CombineMaxWordsPerSecond, c.Combine.MaxWordsPerSecond),
		PreferLater:       cfg.CombinePreferLater,
	}

	c.Normalizer = normalize.Config{
		MaxConsecutiveRepeats: valueOr(cfg.NormalizeMaxConsecutiveRepeats, c.Normalizer.MaxConsecutiveRepeats),
		MinPhraseLength:       valueOr(cfg.NormalizeMinPhraseLength, c.Normalizer.MinPhraseLength),
		MaxPhraseLength:       valueOr(cfg.NormalizeMaxPhraseLength, c.Normalizer.MaxPhraseLength),
		SimilarityThreshold:   valueOr(cfg.NormalizeSimilarityThreshold, c.Normalizer.SimilarityThreshold),
	}

	return c
}

func valueOr[T int | float64](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}

func (cfg TranscriberConfig) WhisperModelFile() string {
	return filepath.Join(cfg.ModelsDir, fmt.Sprintf("ggml-%s.bin", string(cfg.ModelSize)))
}

func (cfg TranscriberConfig) VADModelFile() string {
	return filepath.Join(cfg.ModelsDir, "silero_vad.onnx")
}

// OutputFile returns the path the transcript for InputPath is written to.
func (cfg TranscriberConfig) OutputFile() string {
	base := filepath.Base(cfg.InputPath)
	name := base[:len(base)-len(filepath.Ext(base))]
	return filepath.Join(cfg.DataDir, name+cfg.OutputFormat.Ext())
}

func (cfg TranscriberConfig) ToEnv() []string {
	if cfg == (TranscriberConfig{}) {
		return nil
	}

	vars := []string{
		fmt.Sprintf("INPUT_PATH=%s", cfg.InputPath),
		fmt.Sprintf("DATA_DIR=%s", cfg.DataDir),
		fmt.Sprintf("MODELS_DIR=%s", cfg.ModelsDir),
		fmt.Sprintf("TRANSCRIBE_LANGUAGE=%s", cfg.Language),
		fmt.Sprintf("TRANSCRIBE_API=%s", cfg.TranscribeAPI),
		fmt.Sprintf("MODEL_SIZE=%s", cfg.ModelSize),
		fmt.Sprintf("NUM_THREADS=%d", cfg.NumThreads),
		fmt.Sprintf("AZURE_SPEECH_KEY=%s", cfg.AzureSpeechKey),
		fmt.Sprintf("AZURE_SPEECH_REGION=%s", cfg.AzureSpeechRegion),
		fmt.Sprintf("VAD_ENABLED=%t", cfg.VADEnabled),
		fmt.Sprintf("MAX_SEGMENT_DURATION_MS=%d", cfg.MaxSegmentDurationMs),
		fmt.Sprintf("OVERLAP_DURATION_MS=%d", cfg.OverlapDurationMs),
		fmt.Sprintf("NUM_WORKERS=%d", cfg.NumWorkers),
		fmt.Sprintf("MAX_ATTEMPTS=%d", cfg.MaxAttempts),
		fmt.Sprintf("RETRY_DELAY_MS=%d", cfg.RetryDelayMs),
		fmt.Sprintf("COMBINE_MIN_WORD_MATCH=%d", cfg.CombineMinWordMatch),
		fmt.Sprintf("COMBINE_MIN_MATCH_RATIO=%g", cfg.CombineMinMatchRatio),
		fmt.Sprintf("COMBINE_MIN_TEXT_MATCH=%d", cfg.CombineMinTextMatch),
		fmt.Sprintf("COMBINE_MAX_WORDS_PER_SECOND=%g", cfg.CombineMaxWordsPerSecond),
		fmt.Sprintf("COMBINE_PREFER_LATER=%t", cfg.CombinePreferLater),
		fmt.Sprintf("NORMALIZE_MAX_CONSECUTIVE_REPEATS=%d", cfg.NormalizeMaxConsecutiveRepeats),
		fmt.Sprintf("NORMALIZE_MIN_PHRASE_LENGTH=%d", cfg.NormalizeMinPhraseLength),
		fmt.Sprintf("NORMALIZE_MAX_PHRASE_LENGTH=%d", cfg.NormalizeMaxPhraseLength),
		fmt.Sprintf("NORMALIZE_SIMILARITY_THRESHOLD=%g", cfg.NormalizeSimilarityThreshold),
		fmt.Sprintf("OUTPUT_FORMAT=%s", cfg.OutputFormat),
		fmt.Sprintf("METRICS_ADDR=%s", cfg.MetricsAddr),
	}

	vars = append(vars, cfg.OutputOptions.WebVTT.ToEnv()...)
	vars = append(vars, cfg.OutputOptions.Text.ToEnv()...)

	return vars
}

func (cfg TranscriberConfig) ToMap() map[string]any {
	if cfg == (TranscriberConfig{}) {
		return nil
	}

	m := map[string]any{
		"input_path":                        cfg.InputPath,
		"data_dir":                          cfg.DataDir,
		"models_dir":                        cfg.ModelsDir,
		"language":                          cfg.Language,
		"transcribe_api":                    cfg.TranscribeAPI,
		"model_size":                        cfg.ModelSize,
		"num_threads":                       cfg.NumThreads,
		"vad_enabled":                       cfg.VADEnabled,
		"max_segment_duration_ms":           cfg.MaxSegmentDurationMs,
		"overlap_duration_ms":               cfg.OverlapDurationMs,
		"num_workers":                       cfg.NumWorkers,
		"max_attempts":                      cfg.MaxAttempts,
		"retry_delay_ms":                    cfg.RetryDelayMs,
		"combine_min_word_match":            cfg.CombineMinWordMatch,
		"combine_min_match_ratio":           cfg.CombineMinMatchRatio,
		"combine_min_text_match":            cfg.CombineMinTextMatch,
		"combine_max_words_per_second":      cfg.CombineMaxWordsPerSecond,
		"combine_prefer_later":              cfg.CombinePreferLater,
		"normalize_max_consecutive_repeats": cfg.NormalizeMaxConsecutiveRepeats,
		"normalize_min_phrase_length":       cfg.NormalizeMinPhraseLength,
		"normalize_max_phrase_length":       cfg.NormalizeMaxPhraseLength,
		"normalize_similarity_threshold":    cfg.NormalizeSimilarityThreshold,
		"output_format":                     cfg.OutputFormat,
		"metrics_addr":                      cfg.MetricsAddr,
	}

	for k, v := range cfg.OutputOptions.WebVTT.ToMap() {
		m[k] = v
	}
	for k, v := range cfg.OutputOptions.Text.ToMap() {
		m[k] = v
	}

	return m
}

// Numbers can either be int or float64 depending on whether the map has been
// previously marshaled or not.
func intFromMap(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatFromMap(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// Credentials are never put in the map so they are left untouched.
func (cfg *TranscriberConfig) FromMap(m map[string]any) *TranscriberConfig {
	cfg.InputPath, _ = m["input_path"].(string)
	cfg.DataDir, _ = m["data_dir"].(string)
	cfg.ModelsDir, _ = m["models_dir"].(string)
	cfg.Language, _ = m["language"].(string)
	cfg.VADEnabled, _ = m["vad_enabled"].(bool)
	cfg.CombinePreferLater, _ = m["combine_prefer_later"].(bool)
	cfg.MetricsAddr, _ = m["metrics_addr"].(string)

	cfg.NumThreads = intFromMap(m, "num_threads")
	cfg.MaxSegmentDurationMs = intFromMap(m, "max_segment_duration_ms")
	cfg.OverlapDurationMs = intFromMap(m, "overlap_duration_ms")
	cfg.NumWorkers = intFromMap(m, "num_workers")
	cfg.MaxAttempts = intFromMap(m, "max_attempts")
	cfg.RetryDelayMs = intFromMap(m, "retry_delay_ms")
	cfg.CombineMinWordMatch = intFromMap(m, "combine_min_word_match")
	cfg.CombineMinMatchRatio = floatFromMap(m, "combine_min_match_ratio")
	cfg.CombineMinTextMatch = intFromMap(m, "combine_min_text_match")
	cfg.CombineMaxWordsPerSecond = floatFromMap(m, "combine_max_words_per_second")
	cfg.NormalizeMaxConsecutiveRepeats = intFromMap(m, "normalize_max_consecutive_repeats")
	cfg.NormalizeMinPhraseLength = intFromMap(m, "normalize_min_phrase_length")
	cfg.NormalizeMaxPhraseLength = intFromMap(m, "normalize_max_phrase_length")
	cfg.NormalizeSimilarityThreshold = floatFromMap(m, "normalize_similarity_threshold")

	if api, ok := m["transcribe_api"].(string); ok {
		cfg.TranscribeAPI = TranscribeAPI(api)
	} else {
		cfg.TranscribeAPI, _ = m["transcribe_api"].(TranscribeAPI)
	}
	if modelSize, ok := m["model_size"].(string); ok {
		cfg.ModelSize = ModelSize(modelSize)
	} else {
		cfg.ModelSize, _ = m["model_size"].(ModelSize)
	}
	if outputFormat, ok := m["output_format"].(string); ok {
		cfg.OutputFormat = OutputFormat(outputFormat)
	} else {
		cfg.OutputFormat, _ = m["output_format"].(OutputFormat)
	}

	cfg.OutputOptions.WebVTT.FromMap(m)
	cfg.OutputOptions.Text.FromMap(m)

	return cfg
}

func FromEnv() (TranscriberConfig, error) {
	var cfg TranscriberConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process env: %w", err)
	}

	cfg.OutputOptions.WebVTT.FromEnv()
	cfg.OutputOptions.Text.FromEnv()

	return cfg, nil
}

package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"

	"github.com/stretchr/testify/require"
)

func validConfig() TranscriberConfig {
	cfg := TranscriberConfig{
		InputPath:  "/recordings/meeting.mp4",
		NumThreads: 1,
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfigIsValid(t *testing.T) {
	tcs := []struct {
		name          string
		cfg           func() TranscriberConfig
		expectedError string
	}{
		{
			name: "empty config",
			cfg: func() TranscriberConfig {
				return TranscriberConfig{}
			},
			expectedError: "config cannot be empty",
		},
		{
			name: "missing InputPath",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.InputPath = ""
				return cfg
			},
			expectedError: "InputPath cannot be empty",
		},
		{
			name: "missing DataDir",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.DataDir = ""
				return cfg
			},
			expectedError: "DataDir cannot be empty",
		},
		{
			name: "invalid TranscribeAPI",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.TranscribeAPI = "openai/whisper"
				return cfg
			},
			expectedError: "TranscribeAPI value is not valid",
		},
		{
			name: "missing azure credentials",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.TranscribeAPI = TranscribeAPIAzure
				cfg.AzureSpeechKey = "key"
				return cfg
			},
			expectedError: "AzureSpeechRegion cannot be empty",
		},
		{
			name: "invalid ModelSize",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.ModelSize = "huge"
				return cfg
			},
			expectedError: "ModelSize value is not valid",
		},
		{
			name: "missing ModelsDir",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.ModelsDir = ""
				return cfg
			},
			expectedError: "ModelsDir cannot be empty",
		},
		{
			name: "invalid OutputFormat",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.OutputFormat = "srt"
				return cfg
			},
			expectedError: "OutputFormat value is not valid",
		},
		{
			name: "overlap too long",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.OverlapDurationMs = cfg.MaxSegmentDurationMs
				return cfg
			},
			expectedError: "invalid configuration: overlap 10m0s should be less than max segment duration 10m0s",
		},
		{
			name: "invalid combiner option",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.CombineMinMatchRatio = 1.5
				return cfg
			},
			expectedError: "invalid configuration: MinMatchRatio should be in the range (0, 1]",
		},
		{
			name: "invalid text options",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.OutputOptions.Text.CompactOptions.SilenceThresholdMs = -1
				return cfg
			},
			expectedError: "SilenceThresholdMs should be a positive number",
		},
		{
			name: "valid config",
			cfg:  validConfig,
		},
		{
			name: "valid azure config",
			cfg: func() TranscriberConfig {
				cfg := validConfig()
				cfg.TranscribeAPI = TranscribeAPIAzure
				cfg.AzureSpeechKey = "key"
				cfg.AzureSpeechRegion = "westeurope"
				cfg.ModelsDir = ""
				return cfg
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg().IsValid()
			if tc.expectedError == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.expectedError)
			}
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	t.Run("empty input config", func(t *testing.T) {
		var cfg TranscriberConfig
		cfg.SetDefaults()
		require.Equal(t, DataDirDefault, cfg.DataDir)
		require.Equal(t, ModelsDirDefault, cfg.ModelsDir)
		require.Equal(t, TranscribeAPIDefault, cfg.TranscribeAPI)
		require.Equal(t, ModelSizeDefault, cfg.ModelSize)
		require.Equal(t, OutputFormatDefault, cfg.OutputFormat)
		require.Equal(t, MaxSegmentDurationMsDefault, cfg.MaxSegmentDurationMs)
		require.Equal(t, OverlapDurationMsDefault, cfg.OverlapDurationMs)
		require.Equal(t, NumWorkersDefault, cfg.NumWorkers)
		require.Equal(t, MaxAttemptsDefault, cfg.MaxAttempts)
		require.Equal(t, RetryDelayMsDefault, cfg.RetryDelayMs)
		require.Positive(t, cfg.NumThreads)
		require.False(t, cfg.OutputOptions.WebVTT.IsEmpty())
		require.False(t, cfg.OutputOptions.Text.IsEmpty())
	})

	t.Run("no overrides", func(t *testing.T) {
		cfg := TranscriberConfig{
			ModelSize:         ModelSizeMedium,
			OutputFormat:      OutputFormatText,
			OverlapDurationMs: 2500,
			NumThreads:        1,
		}
		cfg.SetDefaults()
		require.Equal(t, ModelSizeMedium, cfg.ModelSize)
		require.Equal(t, OutputFormatText, cfg.OutputFormat)
		require.Equal(t, 2500, cfg.OverlapDurationMs)
		require.Equal(t, 1, cfg.NumThreads)
	})
}

func TestConfigPipelineConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Language = "it"
	cfg.MaxSegmentDurationMs = 25 * 60 * 1000
	cfg.OverlapDurationMs = 150 * 1000
	cfg.NumWorkers = 4
	cfg.CombineMinTextMatch = 5
	cfg.CombinePreferLater = true
	cfg.NormalizeSimilarityThreshold = 0.8

	pc := cfg.PipelineConfig()
	require.NoError(t, pc.IsValid())
	require.Equal(t, 25*time.Minute, pc.MaxSegmentDuration)
	require.Equal(t, 150*time.Second, pc.OverlapDuration)
	require.Equal(t, "it", pc.Language)
	require.Equal(t, 4, pc.NumWorkers)
	require.Equal(t, 2, pc.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, pc.RetryDelay)

	require.Equal(t, 5, pc.Combine.MinTextMatch)
	require.True(t, pc.Combine.PreferLater)
	require.Equal(t, 2, pc.Combine.MinWordMatch)
	require.Equal(t, 0.5, pc.Combine.MinMatchRatio)

	require.Equal(t, 0.8, pc.Normalizer.SimilarityThreshold)
	require.Equal(t, 2, pc.Normalizer.MaxConsecutiveRepeats)
}

func TestConfigPaths(t *testing.T) {
	cfg := validConfig()
	cfg.ModelSize = ModelSizeSmall

	require.Equal(t, "/models/ggml-small.bin", cfg.WhisperModelFile())
	require.Equal(t, "/models/silero_vad.onnx", cfg.VADModelFile())
	require.Equal(t, "/data/meeting.vtt", cfg.OutputFile())

	cfg.OutputFormat = OutputFormatText
	cfg.InputPath = "/recordings/call.2024.ogg"
	require.Equal(t, "/data/call.2024.txt", cfg.OutputFile())
}

func TestFromEnv(t *testing.T) {
	t.Run("no env set", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		require.Empty(t, cfg)
	})

	t.Run("valid config", func(t *testing.T) {
		os.Setenv("INPUT_PATH", "/recordings/meeting.mp4")
		defer os.Unsetenv("INPUT_PATH")
		os.Setenv("MODEL_SIZE", "medium")
		defer os.Unsetenv("MODEL_SIZE")
		os.Setenv("TRANSCRIBE_API", "azure")
		defer os.Unsetenv("TRANSCRIBE_API")
		os.Setenv("OVERLAP_DURATION_MS", "2500")
		defer os.Unsetenv("OVERLAP_DURATION_MS")
		os.Setenv("COMBINE_MIN_MATCH_RATIO", "0.75")
		defer os.Unsetenv("COMBINE_MIN_MATCH_RATIO")
		os.Setenv("VAD_ENABLED", "true")
		defer os.Unsetenv("VAD_ENABLED")
		os.Setenv("TEXT_WITH_TIMESTAMPS", "true")
		defer os.Unsetenv("TEXT_WITH_TIMESTAMPS")

		cfg, err := FromEnv()
		require.NoError(t, err)
		require.Equal(t, TranscriberConfig{
			InputPath:            "/recordings/meeting.mp4",
			ModelSize:            ModelSizeMedium,
			TranscribeAPI:        TranscribeAPIAzure,
			OverlapDurationMs:    2500,
			CombineMinMatchRatio: 0.75,
			VADEnabled:           true,
			OutputOptions: OutputOptions{
				Text: transcribe.TextOptions{
					WithTimestamps: true,
				},
			},
		}, cfg)
	})

	t.Run("invalid value", func(t *testing.T) {
		os.Setenv("NUM_WORKERS", "many")
		defer os.Unsetenv("NUM_WORKERS")

		_, err := FromEnv()
		require.ErrorContains(t, err, "failed to process env")
	})
}

func TestTranscriberConfigToEnv(t *testing.T) {
	cfg := validConfig()
	cfg.AzureSpeechKey = "key"

	vars := cfg.ToEnv()
	require.Contains(t, vars, "INPUT_PATH=/recordings/meeting.mp4")
	require.Contains(t, vars, "TRANSCRIBE_API=whisper.cpp")
	require.Contains(t, vars, "MODEL_SIZE=base")
	require.Contains(t, vars, "OUTPUT_FORMAT=vtt")
	require.Contains(t, vars, "MAX_SEGMENT_DURATION_MS=600000")
	require.Contains(t, vars, "OVERLAP_DURATION_MS=5000")
	require.Contains(t, vars, "AZURE_SPEECH_KEY=key")
	require.Contains(t, vars, "COMBINE_PREFER_LATER=false")
	require.Contains(t, vars, "WEBVTT_COMPACT_SILENCE_THRESHOLD_MS=1000")
	require.Contains(t, vars, "TEXT_WITH_TIMESTAMPS=false")

	require.Nil(t, TranscriberConfig{}.ToEnv())
}

func TestTranscriberConfigMap(t *testing.T) {
	cfg := validConfig()
	cfg.Language = "en"
	cfg.VADEnabled = true
	cfg.CombineMaxWordsPerSecond = 4.5
	cfg.NormalizeMaxPhraseLength = 12

	t.Run("default config", func(t *testing.T) {
		var c TranscriberConfig
		err := c.FromMap(cfg.ToMap()).IsValid()
		require.NoError(t, err)
		require.Equal(t, cfg, c)
	})

	t.Run("marshaled map", func(t *testing.T) {
		data, err := json.Marshal(cfg.ToMap())
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))

		var c TranscriberConfig
		c.FromMap(m)
		require.Equal(t, cfg, c)
	})

	t.Run("credentials are not exported", func(t *testing.T) {
		cfg := cfg
		cfg.TranscribeAPI = TranscribeAPIAzure
		cfg.AzureSpeechKey = "key"
		cfg.AzureSpeechRegion = "westeurope"

		m := cfg.ToMap()
		require.NotContains(t, m, "azure_speech_key")

		var c TranscriberConfig
		c.FromMap(m)
		require.Empty(t, c.AzureSpeechKey)
		require.Equal(t, TranscribeAPIAzure, c.TranscribeAPI)
	})

	require.Nil(t, TranscriberConfig{}.ToMap())
}

package transcribe

import (
	"fmt"
	"html"
	"io"
	"os"
	"strconv"
)

type WebVTTOptions struct {
	CompactOptions CompactOptions
}

func (o *WebVTTOptions) IsValid() error {
	return o.CompactOptions.IsValid()
}

func (o *WebVTTOptions) IsEmpty() bool {
	return o == nil || *o == WebVTTOptions{}
}

func (o *WebVTTOptions) SetDefaults() {
	o.CompactOptions = CompactOptions{
		SilenceThresholdMs:   1000,
		MaxSegmentDurationMs: 5000,
	}
}

func (o *WebVTTOptions) FromEnv() {
	o.CompactOptions.SilenceThresholdMs, _ = strconv.Atoi(os.Getenv("WEBVTT_COMPACT_SILENCE_THRESHOLD_MS"))
	o.CompactOptions.MaxSegmentDurationMs, _ = strconv.Atoi(os.Getenv("WEBVTT_COMPACT_MAX_SEGMENT_DURATION_MS"))
}

func (o *WebVTTOptions) ToEnv() []string {
	return []string{
		fmt.Sprintf("WEBVTT_COMPACT_SILENCE_THRESHOLD_MS=%d", o.CompactOptions.SilenceThresholdMs),
		fmt.Sprintf("WEBVTT_COMPACT_MAX_SEGMENT_DURATION_MS=%d", o.CompactOptions.MaxSegmentDurationMs),
	}
}

func (o *WebVTTOptions) FromMap(m map[string]any) {
	o.CompactOptions.SilenceThresholdMs = intFromMap(m, "webvtt_compact_silence_threshold_ms")
	o.CompactOptions.MaxSegmentDurationMs = intFromMap(m, "webvtt_compact_max_segment_duration_ms")
}

func (o *WebVTTOptions) ToMap() map[string]any {
	return map[string]any{
		"webvtt_compact_silence_threshold_ms":    o.CompactOptions.SilenceThresholdMs,
		"webvtt_compact_max_segment_duration_ms": o.CompactOptions.MaxSegmentDurationMs,
	}
}

func (t Transcription) WebVTT(w io.Writer, opts WebVTTOptions) error {
	_, err := fmt.Fprintf(w, "WEBVTT\n")
	if err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	for _, s := range t.cues(opts.CompactOptions) {
		s.sanitize(html.EscapeString)

		_, err = fmt.Fprintf(w, "\n%s --> %s\n", vttTS(s.StartTS, true), vttTS(s.EndTS, true))
		if err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", s.Text)
		if err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
	}

	return nil
}

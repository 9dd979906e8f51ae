package transcribe

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type CompactOptions struct {
	SilenceThresholdMs   int
	MaxSegmentDurationMs int
}

func (o *CompactOptions) SetDefaults() {
	o.SilenceThresholdMs = 2000
	o.MaxSegmentDurationMs = 10000
}

func (o *CompactOptions) IsEmpty() bool {
	return o == nil || *o == CompactOptions{}
}

func (o *CompactOptions) IsValid() error {
	if o.SilenceThresholdMs <= 0 {
		return fmt.Errorf("SilenceThresholdMs should be a positive number")
	}

	if o.MaxSegmentDurationMs <= 0 {
		return fmt.Errorf("MaxSegmentDurationMs should be a positive number")
	}

	return nil
}

type TextOptions struct {
	CompactOptions CompactOptions
	WithTimestamps bool
}

func (o *TextOptions) SetDefaults() {
	o.CompactOptions.SetDefaults()
}

func (o *TextOptions) IsValid() error {
	return o.CompactOptions.IsValid()
}

func (o *TextOptions) IsEmpty() bool {
	return o.CompactOptions.IsEmpty() && !o.WithTimestamps
}

func (o *TextOptions) ToEnv() []string {
	return []string{
		fmt.Sprintf("TEXT_COMPACT_SILENCE_THRESHOLD_MS=%d", o.CompactOptions.SilenceThresholdMs),
		fmt.Sprintf("TEXT_COMPACT_MAX_SEGMENT_DURATION_MS=%d", o.CompactOptions.MaxSegmentDurationMs),
		fmt.Sprintf("TEXT_WITH_TIMESTAMPS=%t", o.WithTimestamps),
	}
}

func (o *TextOptions) FromEnv() {
	o.CompactOptions.SilenceThresholdMs, _ = strconv.Atoi(os.Getenv("TEXT_COMPACT_SILENCE_THRESHOLD_MS"))
	o.CompactOptions.MaxSegmentDurationMs, _ = strconv.Atoi(os.Getenv("TEXT_COMPACT_MAX_SEGMENT_DURATION_MS"))
	o.WithTimestamps, _ = strconv.ParseBool(os.Getenv("TEXT_WITH_TIMESTAMPS"))
}

func (o *TextOptions) ToMap() map[string]any {
	return map[string]any{
		"text_compact_silence_threshold_ms":    o.CompactOptions.SilenceThresholdMs,
		"text_compact_max_segment_duration_ms": o.CompactOptions.MaxSegmentDurationMs,
		"text_with_timestamps":                 o.WithTimestamps,
	}
}

func (o *TextOptions) FromMap(m map[string]any) {
	o.CompactOptions.SilenceThresholdMs = intFromMap(m, "text_compact_silence_threshold_ms")
	o.CompactOptions.MaxSegmentDurationMs = intFromMap(m, "text_compact_max_segment_duration_ms")
	o.WithTimestamps, _ = m["text_with_timestamps"].(bool)
}

// intFromMap reads a value that can either be int or float64 depending
// whether it's been previously marshaled or not.
func intFromMap(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func compactSegments(segments []Segment, opts CompactOptions) []Segment {
	if len(segments) < 2 || opts.IsEmpty() {
		return segments
	}

	out := []Segment{segments[0]}

	for i := 1; i < len(segments); i++ {
		currSeg := segments[i]
		prevSeg := segments[i-1]

		// We join the segments if:
		// - There's less than silenceThresholdMs of pause between the end of a previous text segment and the start of the next one.
		// - The overall (running) duration of the joined segments is less than maxDurationMs.
		if int(currSeg.StartTS-prevSeg.EndTS) < opts.SilenceThresholdMs &&
			int(currSeg.EndTS-out[len(out)-1].StartTS) <= opts.MaxSegmentDurationMs {
			out[len(out)-1].Text += " " + currSeg.Text
			out[len(out)-1].EndTS = currSeg.EndTS
		} else {
			out = append(out, currSeg)
		}
	}

	slog.Debug("compact done", slog.Int("inLen", len(segments)), slog.Int("outLen", len(out)))

	return out
}

func (t Transcription) WriteText(w io.Writer, opts TextOptions) error {
	if !opts.WithTimestamps {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			return nil
		}
		if _, err := fmt.Fprintf(w, "%s\n", text); err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
		return nil
	}

	for i, s := range t.cues(opts.CompactOptions) {
		s.sanitize()

		nl := "\n"
		if i == 0 {
			nl = ""
		}
		_, err := fmt.Fprintf(w, "%s%v -> %v\n", nl, vttTS(s.StartTS, false), vttTS(s.EndTS, false))
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

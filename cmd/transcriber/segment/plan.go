package segment

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Segment is a single window of the source audio that gets transcribed on
// its own. Start and End are absolute offsets into the source.
type Segment struct {
	Index               int
	Start               time.Duration
	End                 time.Duration
	OverlapWithPrevious time.Duration
}

func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

func (s Segment) String() string {
	return fmt.Sprintf("segment %d: %v-%v (overlap %v)", s.Index, s.Start, s.End, s.OverlapWithPrevious)
}

// ValidateParams checks the planner inputs that don't depend on the source
// audio, so callers can fail before doing any work.
func ValidateParams(maxSegment, overlap time.Duration) error {
	if maxSegment <= 0 {
		return fmt.Errorf("%w: max segment duration should be positive", ErrInvalidConfiguration)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap duration should not be negative", ErrInvalidConfiguration)
	}
	if overlap >= maxSegment {
		return fmt.Errorf("%w: overlap %v should be less than max segment duration %v",
			ErrInvalidConfiguration, overlap, maxSegment)
	}
	return nil
}

// Plan splits [0, total] into windows of at most maxSegment, each one
// starting overlap before the end of the previous. Audio that fits in a
// single window is never split.
func Plan(total, maxSegment, overlap time.Duration) ([]Segment, error) {
	if err := ValidateParams(maxSegment, overlap); err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total duration should be positive", ErrInvalidConfiguration)
	}

	if total <= maxSegment {
		return []Segment{{Index: 0, Start: 0, End: total}}, nil
	}

	step := maxSegment - overlap
	var segments []Segment
	for start := time.Duration(0); ; start += step {
		end := min(start+maxSegment, total)

		s := Segment{
			Index: len(segments),
			Start: start,
			End:   end,
		}
		if s.Index > 0 {
			s.OverlapWithPrevious = segments[s.Index-1].End - start
		}
		segments = append(segments, s)

		// Every earlier window ended before total, so the last one always
		// reaches past the end of the previous and is longer than overlap.
		if end >= total {
			break
		}
	}

	return segments, nil
}

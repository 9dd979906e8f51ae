package pipeline

import (
	"errors"
	"fmt"

	"github.com/mattermost/media-transcriber/cmd/transcriber/segment"
)

type Stage int

const (
	StagePlanning Stage = iota
	StageSlicing
	StageTranscribing
	StageCombining
	StageNormalizing
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePlanning:
		return "planning"
	case StageSlicing:
		return "slicing"
	case StageTranscribing:
		return "transcribing"
	case StageCombining:
		return "combining"
	case StageNormalizing:
		return "normalizing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	ErrInvalidConfiguration = segment.ErrInvalidConfiguration
	ErrCancelled            = errors.New("run cancelled")
)

// StageError is returned by Run on failure. It tells in which stage the
// run failed and, when relevant, for which segment.
type StageError struct {
	Stage Stage
	// SegmentIndex is -1 when the failure isn't specific to a segment.
	SegmentIndex int
	Err          error
}

func (e *StageError) Error() string {
	if e.SegmentIndex >= 0 {
		return fmt.Sprintf("%s failed for segment %d: %s", e.Stage, e.SegmentIndex, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage Stage, segmentIndex int, err error) *StageError {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr
	}
	return &StageError{
		Stage:        stage,
		SegmentIndex: segmentIndex,
		Err:          err,
	}
}

// ProgressFunc gets called as the run advances. fraction is the completion
// within stage, in [0, 1]. segmentIndex is -1 when not applicable.
type ProgressFunc func(stage Stage, fraction float64, segmentIndex int)

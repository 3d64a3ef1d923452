package recorder

import (
	"errors"
	"fmt"
)

// Stage is the position of a job in the recording pipeline.
// Stages only move forward: Start, Capturing, Remuxing, Moving, Done.
// Abandoned is reachable from any non-terminal stage.
type Stage int

const (
	StageStart Stage = iota
	StageCapturing
	StageRemuxing
	StageMoving
	StageDone
	StageAbandoned
)

// String returns a human-readable name for the stage.
func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageCapturing:
		return "capturing"
	case StageRemuxing:
		return "remuxing"
	case StageMoving:
		return "moving"
	case StageDone:
		return "done"
	case StageAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool { return s == StageDone || s == StageAbandoned }

// Action is the side effect that performs a transition.
type Action int

const (
	ActionNone    Action = iota
	ActionCapture        // spawn the capture process
	ActionRemux          // run the remux process over the raw capture
	ActionMove           // delete the raw capture, then copy to the final directory
	ActionFinish         // delete the remuxed file
)

func (a Action) String() string {
	switch a {
	case ActionCapture:
		return "capture"
	case ActionRemux:
		return "remux"
	case ActionMove:
		return "move"
	case ActionFinish:
		return "finish"
	default:
		return "none"
	}
}

// ErrTerminalStage is returned when advancing a job that already finished.
var ErrTerminalStage = errors.New("stage is terminal")

// Advance returns the stage following from and the action that enters it.
func Advance(from Stage) (Stage, Action, error) {
	switch from {
	case StageStart:
		return StageCapturing, ActionCapture, nil
	case StageCapturing:
		return StageRemuxing, ActionRemux, nil
	case StageRemuxing:
		return StageMoving, ActionMove, nil
	case StageMoving:
		return StageDone, ActionFinish, nil
	case StageDone, StageAbandoned:
		return from, ActionNone, fmt.Errorf("advance %s: %w", from, ErrTerminalStage)
	default:
		return from, ActionNone, fmt.Errorf("advance %s: unknown stage", from)
	}
}

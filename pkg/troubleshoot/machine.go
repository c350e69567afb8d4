package troubleshoot

import (
	"errors"
	"fmt"
)

// Phase is the outer wizard state; SubPhase refines PhaseRunning.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseCompleted    Phase = "completed"
)

type SubPhase string

const (
	SubNone        SubPhase = ""
	SubExecuting   SubPhase = "executingStep"
	SubAwaitingFix SubPhase = "awaitingFixDecision"
	SubApplying    SubPhase = "applyingFix"
	SubVerifying   SubPhase = "verifyingFix"
)

// State is the full machine state as a discriminated (phase, sub) pair.
// Sub is meaningful only while Phase is PhaseRunning.
type State struct {
	Phase Phase
	Sub   SubPhase
}

func (s State) Name() string {
	if s.Phase == PhaseRunning && s.Sub != SubNone {
		return string(s.Phase) + "." + string(s.Sub)
	}
	return string(s.Phase)
}

// Busy reports whether a remote call is in flight in this state. External
// events other than CANCEL are rejected while busy.
func (s State) Busy() bool {
	if s.Phase == PhaseInitializing {
		return true
	}
	return s.Phase == PhaseRunning && (s.Sub == SubExecuting || s.Sub == SubApplying || s.Sub == SubVerifying)
}

// Event drives the machine. External events come from the caller; internal
// events are completions of remote calls delivered by the wizard.
type Event string

const (
	// external
	EventStart    Event = "START"
	EventApplyFix Event = "APPLY_FIX"
	EventSkipFix  Event = "SKIP_FIX"
	EventCancel   Event = "CANCEL"
	EventRestart  Event = "RESTART"

	// internal completions
	eventDetectOK     Event = "detect_ok"
	eventDetectFailed Event = "detect_failed"
	eventStepPassed   Event = "step_passed"
	eventStepFailed   Event = "step_failed"
	eventFixApplied   Event = "fix_applied"
	eventFixFailed    Event = "fix_failed"
	eventVerifyPassed Event = "verify_passed"
	eventVerifyFailed Event = "verify_failed"
)

var ErrInvalidTransition = errors.New("invalid transition")

var (
	stateIdle         = State{Phase: PhaseIdle}
	stateInitializing = State{Phase: PhaseInitializing}
	stateExecuting    = State{Phase: PhaseRunning, Sub: SubExecuting}
	stateAwaitingFix  = State{Phase: PhaseRunning, Sub: SubAwaitingFix}
	stateApplying     = State{Phase: PhaseRunning, Sub: SubApplying}
	stateVerifying    = State{Phase: PhaseRunning, Sub: SubVerifying}
	stateCompleted    = State{Phase: PhaseCompleted}
)

// Transition is the pure transition function. hasNext reports whether another
// step remains after the current one; it only matters for events that advance
// the step cursor. Effects (remote calls, context mutation) live in the
// wizard, never here.
func Transition(s State, ev Event, hasNext bool) (State, error) {
	// CANCEL wins from any non-idle, non-completed state.
	if ev == EventCancel {
		if s.Phase == PhaseIdle || s.Phase == PhaseCompleted {
			return s, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, s.Name())
		}
		return stateIdle, nil
	}

	switch s {
	case stateIdle:
		if ev == EventStart {
			return stateInitializing, nil
		}
	case stateInitializing:
		switch ev {
		case eventDetectOK:
			return stateExecuting, nil
		case eventDetectFailed:
			return stateIdle, nil
		}
	case stateExecuting:
		switch ev {
		case eventStepPassed:
			return advance(hasNext), nil
		case eventStepFailed:
			return stateAwaitingFix, nil
		}
	case stateAwaitingFix:
		switch ev {
		case EventApplyFix:
			return stateApplying, nil
		case EventSkipFix:
			return advance(hasNext), nil
		}
	case stateApplying:
		switch ev {
		case eventFixApplied:
			return stateVerifying, nil
		case eventFixFailed:
			return stateAwaitingFix, nil
		}
	case stateVerifying:
		switch ev {
		case eventVerifyPassed:
			return advance(hasNext), nil
		case eventVerifyFailed:
			return stateAwaitingFix, nil
		}
	case stateCompleted:
		if ev == EventRestart {
			return stateIdle, nil
		}
	}
	return s, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, s.Name())
}

func advance(hasNext bool) State {
	if hasNext {
		return stateExecuting
	}
	return stateCompleted
}

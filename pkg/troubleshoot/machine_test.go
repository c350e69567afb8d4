package troubleshoot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s, err := Transition(stateIdle, EventStart, false)
	require.NoError(t, err)
	assert.Equal(t, stateInitializing, s)

	s, err = Transition(s, eventDetectOK, false)
	require.NoError(t, err)
	assert.Equal(t, stateExecuting, s)

	// four passing steps advance, the fifth completes
	for i := 0; i < 4; i++ {
		s, err = Transition(s, eventStepPassed, true)
		require.NoError(t, err)
		assert.Equal(t, stateExecuting, s)
	}
	s, err = Transition(s, eventStepPassed, false)
	require.NoError(t, err)
	assert.Equal(t, stateCompleted, s)

	s, err = Transition(s, EventRestart, false)
	require.NoError(t, err)
	assert.Equal(t, stateIdle, s)
}

func TestTransitionFixLoop(t *testing.T) {
	s, err := Transition(stateExecuting, eventStepFailed, false)
	require.NoError(t, err)
	assert.Equal(t, stateAwaitingFix, s)

	s, err = Transition(s, EventApplyFix, false)
	require.NoError(t, err)
	assert.Equal(t, stateApplying, s)

	// a failed apply returns to the decision point
	s, err = Transition(s, eventFixFailed, false)
	require.NoError(t, err)
	assert.Equal(t, stateAwaitingFix, s)

	s, err = Transition(s, EventApplyFix, false)
	require.NoError(t, err)
	s, err = Transition(s, eventFixApplied, false)
	require.NoError(t, err)
	assert.Equal(t, stateVerifying, s)

	// verified regression also returns to the decision point
	s, err = Transition(s, eventVerifyFailed, false)
	require.NoError(t, err)
	assert.Equal(t, stateAwaitingFix, s)

	s, err = Transition(s, EventSkipFix, true)
	require.NoError(t, err)
	assert.Equal(t, stateExecuting, s)
}

func TestTransitionVerifyPassedAdvances(t *testing.T) {
	s, err := Transition(stateVerifying, eventVerifyPassed, true)
	require.NoError(t, err)
	assert.Equal(t, stateExecuting, s)

	s, err = Transition(stateVerifying, eventVerifyPassed, false)
	require.NoError(t, err)
	assert.Equal(t, stateCompleted, s)
}

func TestTransitionSkipLastStepCompletes(t *testing.T) {
	s, err := Transition(stateAwaitingFix, EventSkipFix, false)
	require.NoError(t, err)
	assert.Equal(t, stateCompleted, s)
}

func TestTransitionDetectFailureReturnsToIdle(t *testing.T) {
	s, err := Transition(stateInitializing, eventDetectFailed, false)
	require.NoError(t, err)
	assert.Equal(t, stateIdle, s)
}

func TestTransitionCancel(t *testing.T) {
	for _, from := range []State{stateInitializing, stateExecuting, stateAwaitingFix, stateApplying, stateVerifying} {
		s, err := Transition(from, EventCancel, false)
		require.NoError(t, err, "cancel from %s", from.Name())
		assert.Equal(t, stateIdle, s)
	}
	_, err := Transition(stateIdle, EventCancel, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Transition(stateCompleted, EventCancel, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionRejectsInvalidEvents(t *testing.T) {
	cases := []struct {
		state State
		ev    Event
	}{
		{stateIdle, EventApplyFix},
		{stateIdle, EventSkipFix},
		{stateIdle, EventRestart},
		{stateInitializing, EventStart},
		{stateExecuting, EventStart},
		{stateExecuting, EventApplyFix},
		{stateExecuting, EventSkipFix},
		{stateAwaitingFix, EventStart},
		{stateAwaitingFix, eventStepPassed},
		{stateApplying, EventApplyFix},
		{stateApplying, EventSkipFix},
		{stateVerifying, EventApplyFix},
		{stateCompleted, EventStart},
		{stateCompleted, EventApplyFix},
	}
	for _, c := range cases {
		got, err := Transition(c.state, c.ev, true)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s in %s", c.ev, c.state.Name())
		assert.Equal(t, c.state, got, "state must not change on rejection")
	}
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "idle", stateIdle.Name())
	assert.Equal(t, "initializing", stateInitializing.Name())
	assert.Equal(t, "running.executingStep", stateExecuting.Name())
	assert.Equal(t, "running.awaitingFixDecision", stateAwaitingFix.Name())
	assert.Equal(t, "running.applyingFix", stateApplying.Name())
	assert.Equal(t, "running.verifyingFix", stateVerifying.Name())
	assert.Equal(t, "completed", stateCompleted.Name())
}

func TestStateBusy(t *testing.T) {
	assert.True(t, stateInitializing.Busy())
	assert.True(t, stateExecuting.Busy())
	assert.True(t, stateApplying.Busy())
	assert.True(t, stateVerifying.Busy())
	assert.False(t, stateIdle.Busy())
	assert.False(t, stateAwaitingFix.Busy())
	assert.False(t, stateCompleted.Busy())
}

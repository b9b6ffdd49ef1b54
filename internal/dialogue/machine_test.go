package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(t *testing.T, s State, e Event, attempt, maxRetries int) State {
	t.Helper()
	next, err := Next(s, e, attempt, maxRetries)
	require.NoError(t, err)
	return next
}

func TestNextHappyPath(t *testing.T) {
	s := step(t, StatePromptBuilt, EventCall, 1, 2)
	assert.Equal(t, StateLLMCalled, s)
	s = step(t, s, EventParsed, 1, 2)
	assert.Equal(t, StateParsed, s)
	s = step(t, s, EventValid, 1, 2)
	assert.Equal(t, StateValidated, s)
	s = step(t, s, EventAccept, 1, 2)
	assert.Equal(t, StateAccepted, s)
	assert.True(t, s.Terminal())
}

func TestNextRetryBound(t *testing.T) {
	const maxRetries = 2
	s := StatePromptBuilt
	calls := 0
	for !s.Terminal() {
		calls++
		s = step(t, s, EventCall, calls, maxRetries)
		s = step(t, s, EventCallFailed, calls, maxRetries)
		assert.Equal(t, StateParseFailed, s)
		s = step(t, s, EventResolve, calls, maxRetries)
	}
	assert.Equal(t, StateRejected, s)
	assert.Equal(t, maxRetries+1, calls)
}

func TestNextValidationFailure(t *testing.T) {
	s := step(t, StateParsed, EventInvalid, 1, 1)
	assert.Equal(t, StateValidationFailed, s)
	assert.Equal(t, StateRetrying, step(t, s, EventResolve, 1, 1))
	assert.Equal(t, StateRejected, step(t, s, EventResolve, 2, 1))
}

func TestNextAcceptAfterExhaustionOnly(t *testing.T) {
	_, err := Next(StateValidationFailed, EventAccept, 1, 2)
	assert.Error(t, err)

	s, err := Next(StateValidationFailed, EventAccept, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, s)
}

func TestNextRejectsInvalidTransitions(t *testing.T) {
	for _, tc := range []struct {
		s State
		e Event
	}{
		{StatePromptBuilt, EventParsed},
		{StateLLMCalled, EventAccept},
		{StateParsed, EventCall},
		{StateAccepted, EventCall},
		{StateRejected, EventResolve},
		{StateParseFailed, EventAccept},
	} {
		s, err := Next(tc.s, tc.e, 1, 2)
		assert.Error(t, err, "%s on %s", tc.s, tc.e)
		assert.Equal(t, tc.s, s)
	}
}

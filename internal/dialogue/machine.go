package dialogue

import "fmt"

// State is a step in the lifecycle of one conversation attempt loop.
type State string

const (
	StatePromptBuilt      State = "PROMPT_BUILT"
	StateLLMCalled        State = "LLM_CALLED"
	StateParsed           State = "PARSED"
	StateParseFailed      State = "PARSE_FAILED"
	StateValidated        State = "VALIDATED"
	StateValidationFailed State = "VALIDATION_FAILED"
	StateAccepted         State = "ACCEPTED"
	StateRetrying         State = "RETRYING"
	StateRejected         State = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}

// Event drives a transition.
type Event string

const (
	EventCall        Event = "call"
	EventCallFailed  Event = "call_failed"
	EventParsed      Event = "parsed"
	EventParseFailed Event = "parse_failed"
	EventValid       Event = "valid"
	EventInvalid     Event = "invalid"
	EventAccept      Event = "accept"
	EventResolve     Event = "resolve"
)

// Next returns the state reached from s on e. attempt is the number of LLM
// calls made so far; a failure resolves to RETRYING while attempt <=
// maxRetries and to REJECTED after that. Accepting a failed validation is
// only allowed once the retries are spent.
func Next(s State, e Event, attempt, maxRetries int) (State, error) {
	switch s {
	case StatePromptBuilt, StateRetrying:
		if e == EventCall {
			return StateLLMCalled, nil
		}
	case StateLLMCalled:
		switch e {
		case EventParsed:
			return StateParsed, nil
		case EventParseFailed, EventCallFailed:
			return StateParseFailed, nil
		}
	case StateParsed:
		switch e {
		case EventValid:
			return StateValidated, nil
		case EventInvalid:
			return StateValidationFailed, nil
		}
	case StateValidated:
		if e == EventAccept {
			return StateAccepted, nil
		}
	case StateParseFailed:
		if e == EventResolve {
			return retryOrReject(attempt, maxRetries), nil
		}
	case StateValidationFailed:
		switch e {
		case EventResolve:
			return retryOrReject(attempt, maxRetries), nil
		case EventAccept:
			if attempt > maxRetries {
				return StateAccepted, nil
			}
		}
	}
	return s, fmt.Errorf("invalid transition from %s on %s", s, e)
}

func retryOrReject(attempt, maxRetries int) State {
	if attempt <= maxRetries {
		return StateRetrying
	}
	return StateRejected
}

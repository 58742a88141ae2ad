package workflow

import "fmt"

// State represents a status in the application lifecycle
type State string

const (
	StatePending            State = "PENDING"
	StateUnderReview        State = "UNDER_REVIEW"
	StateInterviewScheduled State = "INTERVIEW_SCHEDULED"
	StateInterviewCompleted State = "INTERVIEW_COMPLETED"
	StateAccepted           State = "ACCEPTED"
	StateHired              State = "HIRED"
	StateRejected           State = "REJECTED"
)

var validStates = map[State]bool{
	StatePending:            true,
	StateUnderReview:        true,
	StateInterviewScheduled: true,
	StateInterviewCompleted: true,
	StateAccepted:           true,
	StateHired:              true,
	StateRejected:           true,
}

var terminalStates = map[State]bool{
	StateHired:    true,
	StateRejected: true,
}

// AllStates returns every lifecycle state in pipeline order
func AllStates() []State {
	return []State{
		StatePending,
		StateUnderReview,
		StateInterviewScheduled,
		StateInterviewCompleted,
		StateAccepted,
		StateHired,
		StateRejected,
	}
}

// ParseState converts a raw string to a State
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return st, nil
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}

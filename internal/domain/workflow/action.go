package workflow

import "fmt"

// Action names a transition an actor can request
type Action string

const (
	ActionUnderReview       Action = "UNDER_REVIEW"
	ActionScheduleInterview Action = "SCHEDULE_INTERVIEW"
	ActionCompleteInterview Action = "COMPLETE_INTERVIEW"
	ActionAccept            Action = "ACCEPT"
	ActionHire              Action = "HIRE"
	ActionReject            Action = "REJECT"
	ActionFinalReject       Action = "FINAL_REJECT"
)

var validActions = map[Action]bool{
	ActionUnderReview:       true,
	ActionScheduleInterview: true,
	ActionCompleteInterview: true,
	ActionAccept:            true,
	ActionHire:              true,
	ActionReject:            true,
	ActionFinalReject:       true,
}

// ParseAction converts a raw string to an Action
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is known
func (a Action) IsValid() bool {
	return validActions[a]
}

package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// ChangeEvent is the ephemeral notification of an accepted transition. It is never persisted.
type ChangeEvent struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	ApplicationID string          `json:"application_id"`
	ApplicantRef  string          `json:"applicant_ref,omitempty"`
	OldStatus     workflow.State  `json:"old_status"`
	NewStatus     workflow.State  `json:"new_status"`
	Action        workflow.Action `json:"action"`
	ActorRole     workflow.Role   `json:"actor_role"`
	// Version is the application's version after the transition; clients drop events older than what they hold
	Version      int64     `json:"version"`
	AuditEntryID int64     `json:"audit_entry_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewChangeEvent creates a change event with a generated ID. The type follows the new status.
func NewChangeEvent(applicationID string, oldStatus, newStatus workflow.State, action workflow.Action, role workflow.Role, at time.Time) *ChangeEvent {
	return &ChangeEvent{
		ID:            uuid.NewString(),
		Type:          TypeFor(newStatus),
		ApplicationID: applicationID,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		Action:        action,
		ActorRole:     role,
		Timestamp:     at,
	}
}

// TypeFor maps a new status to the event type announcing it
func TypeFor(status workflow.State) Type {
	switch status {
	case workflow.StateHired:
		return TypeHired
	case workflow.StateRejected:
		return TypeRejected
	default:
		return TypeStatusChanged
	}
}

package entity

import (
	"time"

	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// AuditEntry is the immutable record of one accepted transition
type AuditEntry struct {
	ID                  int64           `json:"id"`
	ApplicationID       string          `json:"application_id"`
	FromStatus          workflow.State  `json:"from_status"`
	ToStatus            workflow.State  `json:"to_status"`
	Action              workflow.Action `json:"action"`
	PerformedByRole     workflow.Role   `json:"performed_by_role"`
	PerformedByIdentity string          `json:"performed_by_identity"`
	Note                *string         `json:"note,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
}

// Step returns the (from, action, to) triple used for replay
func (e *AuditEntry) Step() workflow.Step {
	return workflow.Step{From: e.FromStatus, To: e.ToStatus, Action: e.Action}
}

// NoteText returns the note or an empty string
func (e *AuditEntry) NoteText() string {
	if e.Note == nil {
		return ""
	}
	return *e.Note
}

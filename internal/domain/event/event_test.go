package event

import (
	"testing"
	"time"

	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"valid - status changed", TypeStatusChanged, true},
		{"valid - hired", TypeHired, true},
		{"valid - rejected", TypeRejected, true},
		{"invalid - unknown type", Type("unknown.type"), false},
		{"invalid - empty string", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewChangeEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	evt := NewChangeEvent("app-1", workflow.StateAccepted, workflow.StateHired, workflow.ActionHire, workflow.RoleAdmin, at)

	if evt.ID == "" {
		t.Error("expected generated ID")
	}
	if evt.Type != TypeHired {
		t.Errorf("Type = %s, want %s", evt.Type, TypeHired)
	}
	if evt.OldStatus != workflow.StateAccepted || evt.NewStatus != workflow.StateHired {
		t.Errorf("statuses = %s -> %s", evt.OldStatus, evt.NewStatus)
	}
	if !evt.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", evt.Timestamp, at)
	}

	other := NewChangeEvent("app-1", workflow.StatePending, workflow.StateUnderReview, workflow.ActionUnderReview, workflow.RoleHR, at)
	if other.ID == evt.ID {
		t.Error("expected unique IDs")
	}
	if other.Type != TypeStatusChanged {
		t.Errorf("Type = %s, want %s", other.Type, TypeStatusChanged)
	}
}

func TestTypeFor(t *testing.T) {
	if TypeFor(workflow.StateRejected) != TypeRejected {
		t.Error("REJECTED should map to TypeRejected")
	}
	if TypeFor(workflow.StateInterviewScheduled) != TypeStatusChanged {
		t.Error("non-terminal state should map to TypeStatusChanged")
	}
}

package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// ErrInvalidRequest is returned when a request is missing required fields
var ErrInvalidRequest = errors.New("invalid request")

// WorkflowEngine is the only writer of application status
type WorkflowEngine interface {
	// Register creates a new application in the catalog's initial state
	Register(ctx context.Context, req RegisterRequest) (*entity.Application, error)

	// ApplyTransition authorizes an action against the live state and, if allowed, commits the
	// status change and its audit entry atomically, then publishes a change event
	ApplyTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// Get returns an application with the actions the role may take next
	Get(ctx context.Context, applicationID string, role domainwf.Role) (*ApplicationView, error)

	// List returns applications newest first
	List(ctx context.Context, limit, offset int) ([]*entity.Application, error)

	// ListByApplicant returns the applications submitted by one applicant
	ListByApplicant(ctx context.Context, applicantRef string) ([]*entity.Application, error)

	// Catalog returns the transition table the engine enforces
	Catalog() *domainwf.Catalog
}

// RegisterRequest describes a new submission
type RegisterRequest struct {
	JobRef       string
	ApplicantRef string
}

// TransitionRequest is one actor's attempt to move an application.
// Role and Identity are trusted as handed over by the caller.
type TransitionRequest struct {
	ApplicationID string
	Action        domainwf.Action
	Role          domainwf.Role
	Identity      string
	Note          string
	// ExpectedVersion, when set, must equal the stored version or the request fails with ErrStaleState
	ExpectedVersion *int64
}

// TransitionResult reports the committed outcome
type TransitionResult struct {
	ApplicationID  string         `json:"application_id"`
	PreviousStatus domainwf.State `json:"previous_status"`
	Status         domainwf.State `json:"status"`
	Version        int64          `json:"version"`
	AuditEntryID   int64          `json:"audit_entry_id"`
	// Applied is false when a concurrent identical request already made this exact change
	Applied bool `json:"applied"`
}

// ApplicationView is an application plus what the viewer may do with it
type ApplicationView struct {
	Application      *entity.Application       `json:"application"`
	AvailableActions []domainwf.TransitionRule `json:"available_actions"`
	Terminal         bool                      `json:"terminal"`
}

// IsSemantic reports whether err is a workflow outcome rather than a store failure.
// Semantic errors are never retried.
func IsSemantic(err error) bool {
	return errors.Is(err, domainwf.ErrNotFound) ||
		errors.Is(err, domainwf.ErrInvalidTransition) ||
		errors.Is(err, domainwf.ErrRoleNotPermitted) ||
		errors.Is(err, domainwf.ErrNoteRequired) ||
		errors.Is(err, domainwf.ErrStaleState) ||
		errors.Is(err, ErrInvalidRequest)
}

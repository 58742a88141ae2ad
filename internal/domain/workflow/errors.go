package workflow

import "errors"

var (
	// ErrNotFound is returned when the application does not exist
	ErrNotFound = errors.New("application not found")

	// ErrInvalidTransition is returned when the action does not apply to the live current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRoleNotPermitted is returned when the actor's role may not perform the action
	ErrRoleNotPermitted = errors.New("role not permitted")

	// ErrNoteRequired is returned when the transition needs a non-empty note
	ErrNoteRequired = errors.New("note required")

	// ErrStaleState is returned when the caller's version token no longer matches the stored one
	ErrStaleState = errors.New("stale state")

	// ErrTransient is returned when the store failed for a non-semantic reason
	ErrTransient = errors.New("transient store failure")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidAction is returned when an action name is not known
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidCatalog is returned when the transition table is malformed
	ErrInvalidCatalog = errors.New("invalid transition catalog")
)

package workflow

import (
	"fmt"
	"strings"
)

// DenyReason explains why the authorizer refused a transition
type DenyReason string

const (
	ReasonNoSuchTransition DenyReason = "NO_SUCH_TRANSITION"
	ReasonRoleNotPermitted DenyReason = "ROLE_NOT_PERMITTED"
	ReasonNoteRequired     DenyReason = "NOTE_REQUIRED"
)

// Denial is the error form of a refused transition. It unwraps to the matching sentinel.
type Denial struct {
	Reason DenyReason
	State  State
	Action Action
	Role   Role
}

func (d *Denial) Error() string {
	switch d.Reason {
	case ReasonRoleNotPermitted:
		return fmt.Sprintf("role %s may not %s from %s", d.Role, d.Action, d.State)
	case ReasonNoteRequired:
		return fmt.Sprintf("%s from %s requires a note", d.Action, d.State)
	default:
		return fmt.Sprintf("no transition %s from %s", d.Action, d.State)
	}
}

// Unwrap maps the reason to ErrInvalidTransition, ErrRoleNotPermitted or ErrNoteRequired
func (d *Denial) Unwrap() error {
	switch d.Reason {
	case ReasonRoleNotPermitted:
		return ErrRoleNotPermitted
	case ReasonNoteRequired:
		return ErrNoteRequired
	default:
		return ErrInvalidTransition
	}
}

// Decision is the result of an authorization check
type Decision struct {
	Allowed bool
	Rule    TransitionRule
	Denial  *Denial
}

// Target returns the resolved target state of an allowed decision
func (d Decision) Target() State {
	return d.Rule.To
}

// Err returns nil when allowed and the Denial otherwise
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.Denial
}

// Authorizer decides whether an actor may apply an action. It holds no state besides the catalog.
type Authorizer struct {
	catalog *Catalog
}

// NewAuthorizer creates an authorizer over the given catalog
func NewAuthorizer(catalog *Catalog) *Authorizer {
	return &Authorizer{catalog: catalog}
}

// Catalog returns the catalog the authorizer checks against
func (a *Authorizer) Catalog() *Catalog {
	return a.catalog
}

// Authorize checks (current, action, role, note) against the catalog.
//
// A role that holds no write rule anywhere is refused with ROLE_NOT_PERMITTED before the
// rule lookup, so read-only actors never learn which transitions exist.
func (a *Authorizer) Authorize(current State, action Action, role Role, note string) Decision {
	deny := func(reason DenyReason) Decision {
		return Decision{Denial: &Denial{Reason: reason, State: current, Action: action, Role: role}}
	}

	if !a.catalog.HasWriteAccess(role) {
		return deny(ReasonRoleNotPermitted)
	}

	rule, ok := a.catalog.Rule(current, action)
	if !ok {
		return deny(ReasonNoSuchTransition)
	}

	if !rule.Permits(role) {
		return deny(ReasonRoleNotPermitted)
	}

	if rule.RequiresNote && strings.TrimSpace(note) == "" {
		return deny(ReasonNoteRequired)
	}

	return Decision{Allowed: true, Rule: rule}
}

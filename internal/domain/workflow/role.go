package workflow

import (
	"fmt"
	"strings"
)

// Role is the kind of actor performing a request
type Role string

const (
	RoleApplicant Role = "APPLICANT"
	RoleHR        Role = "HR"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole converts a raw string to a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// IsValid returns true if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleApplicant, RoleHR, RoleAdmin:
		return true
	}
	return false
}

// SeesAllApplications reports whether the role's dashboard covers every application
func (r Role) SeesAllApplications() bool {
	return r == RoleHR || r == RoleAdmin
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

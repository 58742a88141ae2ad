package dispatcher

import (
	"github.com/garyjia/recruit-workflow/internal/domain/event"
	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// Filter decides whether a subscriber receives an event
type Filter func(evt *event.ChangeEvent) bool

// All matches every event
func All() Filter {
	return func(*event.ChangeEvent) bool { return true }
}

// ForApplication matches events of a single application
func ForApplication(applicationID string) Filter {
	return func(evt *event.ChangeEvent) bool {
		return evt.ApplicationID == applicationID
	}
}

// ForApplications matches events of any of the given applications
func ForApplications(applicationIDs ...string) Filter {
	set := make(map[string]struct{}, len(applicationIDs))
	for _, id := range applicationIDs {
		set[id] = struct{}{}
	}
	return func(evt *event.ChangeEvent) bool {
		_, ok := set[evt.ApplicationID]
		return ok
	}
}

// ForApplicant matches events of applications submitted by applicantRef
func ForApplicant(applicantRef string) Filter {
	return func(evt *event.ChangeEvent) bool {
		return applicantRef != "" && evt.ApplicantRef == applicantRef
	}
}

// ForRole matches what a role may see. HR and ADMIN see every application; any other
// role sees only visibleIDs.
func ForRole(role workflow.Role, visibleIDs ...string) Filter {
	if role.SeesAllApplications() {
		return All()
	}
	return ForApplications(visibleIDs...)
}

// Any matches when at least one of filters matches
func Any(filters ...Filter) Filter {
	return func(evt *event.ChangeEvent) bool {
		for _, f := range filters {
			if f != nil && f(evt) {
				return true
			}
		}
		return false
	}
}

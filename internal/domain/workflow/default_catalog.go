package workflow

// DefaultCatalog builds the canonical recruitment lifecycle
func DefaultCatalog() (*Catalog, error) {
	builder := NewBuilder(StatePending)

	builder.Configure(StatePending).
		Permit(ActionUnderReview, StateUnderReview, RoleHR, RoleAdmin).
		Describe(ActionUnderReview, "Start reviewing the application").
		PermitWithNote(ActionReject, StateRejected, RoleHR, RoleAdmin).
		Describe(ActionReject, "Reject the application")

	builder.Configure(StateUnderReview).
		Permit(ActionScheduleInterview, StateInterviewScheduled, RoleHR, RoleAdmin).
		Describe(ActionScheduleInterview, "Schedule an interview with the applicant").
		PermitWithNote(ActionReject, StateRejected, RoleHR, RoleAdmin).
		Describe(ActionReject, "Reject after review")

	builder.Configure(StateInterviewScheduled).
		Permit(ActionCompleteInterview, StateInterviewCompleted, RoleHR, RoleAdmin).
		Describe(ActionCompleteInterview, "Mark the interview as completed")

	builder.Configure(StateInterviewCompleted).
		Permit(ActionAccept, StateAccepted, RoleHR, RoleAdmin).
		Describe(ActionAccept, "Accept the candidate").
		PermitWithNote(ActionReject, StateRejected, RoleHR, RoleAdmin).
		Describe(ActionReject, "Reject after interview")

	// Only ADMIN closes out an accepted application
	builder.Configure(StateAccepted).
		Permit(ActionHire, StateHired, RoleAdmin).
		Describe(ActionHire, "Hire the candidate").
		PermitWithNote(ActionFinalReject, StateRejected, RoleAdmin).
		Describe(ActionFinalReject, "Reject at final approval")

	// HIRED and REJECTED are terminal states - no outgoing transitions

	return builder.Build()
}

// MustDefaultCatalog is DefaultCatalog for package-level initialisation and tests
func MustDefaultCatalog() *Catalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

package entity

import (
	"time"

	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// Application is one candidate's submission to one job posting
type Application struct {
	ID           string         `json:"id"`
	JobRef       string         `json:"job_ref"`
	ApplicantRef string         `json:"applicant_ref"`
	Status       workflow.State `json:"status"`
	// Version is the optimistic concurrency token, bumped on every accepted transition
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

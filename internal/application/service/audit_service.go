package service

import (
	"context"
	"fmt"
	"iter"

	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Verification is the outcome of replaying an application's trail
type Verification struct {
	ApplicationID string         `json:"application_id"`
	Entries       int            `json:"entries"`
	CurrentStatus domainwf.State `json:"current_status"`
	ReplayedState domainwf.State `json:"replayed_state"`
	Consistent    bool           `json:"consistent"`
	Problem       string         `json:"problem,omitempty"`
}

// AuditTrailService reads the append-only transition history. Appends happen only inside
// the workflow engine's commit.
type AuditTrailService interface {
	// History returns the trail ordered by timestamp ascending
	History(ctx context.Context, applicationID string) ([]*entity.AuditEntry, error)

	// Entries is a lazy, restartable view of History. Each range over it reads the store afresh.
	Entries(ctx context.Context, applicationID string) iter.Seq2[*entity.AuditEntry, error]

	// Verify replays the trail from the initial state and compares it with the stored status
	Verify(ctx context.Context, applicationID string) (*Verification, error)
}

type auditTrailServiceImpl struct {
	appRepo   port.ApplicationRepository
	auditRepo port.AuditRepository
	catalog   *domainwf.Catalog
	logger    Logger
}

// NewAuditTrailService creates a new AuditTrailService
func NewAuditTrailService(
	appRepo port.ApplicationRepository,
	auditRepo port.AuditRepository,
	catalog *domainwf.Catalog,
	logger Logger,
) AuditTrailService {
	return &auditTrailServiceImpl{
		appRepo:   appRepo,
		auditRepo: auditRepo,
		catalog:   catalog,
		logger:    logger,
	}
}

// History returns the ordered trail, or ErrNotFound for an unknown application
func (s *auditTrailServiceImpl) History(ctx context.Context, applicationID string) ([]*entity.AuditEntry, error) {
	if _, err := s.appRepo.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}

	entries, err := s.auditRepo.ListByApplicationID(ctx, applicationID)
	if err != nil {
		s.logger.Error("Failed to read audit trail", "error", err, "application_id", applicationID)
		return nil, fmt.Errorf("read audit trail: %w", err)
	}
	if entries == nil {
		entries = []*entity.AuditEntry{}
	}
	return entries, nil
}

// Entries yields the trail one entry at a time. A read failure is yielded once as the error.
func (s *auditTrailServiceImpl) Entries(ctx context.Context, applicationID string) iter.Seq2[*entity.AuditEntry, error] {
	return func(yield func(*entity.AuditEntry, error) bool) {
		entries, err := s.History(ctx, applicationID)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, entry := range entries {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Verify folds the trail through the catalog
func (s *auditTrailServiceImpl) Verify(ctx context.Context, applicationID string) (*Verification, error) {
	app, err := s.appRepo.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var steps []domainwf.Step
	for entry, err := range s.Entries(ctx, applicationID) {
		if err != nil {
			return nil, err
		}
		steps = append(steps, entry.Step())
	}

	result := &Verification{
		ApplicationID: applicationID,
		Entries:       len(steps),
		CurrentStatus: app.Status,
	}

	replayed, err := domainwf.Replay(ctx, s.catalog, steps)
	result.ReplayedState = replayed
	switch {
	case err != nil:
		result.Problem = err.Error()
	case replayed != app.Status:
		result.Problem = fmt.Sprintf("trail ends at %s but application is %s", replayed, app.Status)
	default:
		result.Consistent = true
	}

	if !result.Consistent {
		s.logger.Error("Audit trail does not replay to current status",
			"application_id", applicationID,
			"problem", result.Problem)
	}

	return result, nil
}

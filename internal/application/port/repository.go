package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// ErrVersionConflict is returned by a compare-and-swap whose expected version no longer matches
var ErrVersionConflict = errors.New("version conflict")

// ApplicationRepository defines persistence operations for Application.
// Lookups of a missing id return workflow.ErrNotFound.
type ApplicationRepository interface {
	Create(ctx context.Context, app *entity.Application) error
	GetByID(ctx context.Context, id string) (*entity.Application, error)
	// CompareAndSwapStatus sets status and bumps the version only if the stored version equals
	// expectedVersion. It returns the new version or ErrVersionConflict.
	CompareAndSwapStatus(ctx context.Context, id string, expectedVersion int64, status workflow.State, at time.Time) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Application, error)
	ListByApplicant(ctx context.Context, applicantRef string) ([]*entity.Application, error)
}

// AuditRepository defines the append-only audit trail store
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	// ListByApplicationID returns entries ordered by timestamp ascending, ties broken by id
	ListByApplicationID(ctx context.Context, applicationID string) ([]*entity.AuditEntry, error)
	// Latest returns the most recent entry or nil when the trail is empty
	Latest(ctx context.Context, applicationID string) (*entity.AuditEntry, error)
}

// TransactionManager runs fn atomically; writes made through repositories with the
// returned context either all commit or all roll back
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const applicationColumns = `id, job_ref, applicant_ref, status, version, created_at, updated_at`

// ApplicationRepository implements port.ApplicationRepository
type ApplicationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *sql.DB, logger *zap.Logger) port.ApplicationRepository {
	return &ApplicationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new application
func (r *ApplicationRepository) Create(ctx context.Context, app *entity.Application) error {
	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		app.ID,
		app.JobRef,
		app.ApplicantRef,
		app.Status.String(),
		app.Version,
		app.CreatedAt.UTC(),
		app.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create application", zap.String("id", app.ID), zap.Error(err))
		return fmt.Errorf("failed to create application: %w", err)
	}

	return nil
}

// GetByID retrieves an application by ID
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = ?`

	app, err := scanApplication(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get application by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return app, nil
}

// CompareAndSwapStatus updates status only when the stored version matches
func (r *ApplicationRepository) CompareAndSwapStatus(ctx context.Context, id string, expectedVersion int64, status workflow.State, at time.Time) (int64, error) {
	query := `
		UPDATE applications
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, status.String(), at.UTC(), id, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to update status",
			zap.String("id", id),
			zap.String("status", status.String()),
			zap.Error(err))
		return 0, fmt.Errorf("failed to update status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: application %s at version %d", port.ErrVersionConflict, id, expectedVersion)
	}

	return expectedVersion + 1, nil
}

// List retrieves applications with pagination, newest first
func (r *ApplicationRepository) List(ctx context.Context, limit, offset int) ([]*entity.Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list applications", zap.Error(err))
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

// ListByApplicant retrieves every application submitted by an applicant
func (r *ApplicationRepository) ListByApplicant(ctx context.Context, applicantRef string) ([]*entity.Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE applicant_ref = ?
		ORDER BY created_at DESC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, applicantRef)
	if err != nil {
		r.logger.Error("Failed to list applications by applicant", zap.String("applicant_ref", applicantRef), zap.Error(err))
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*entity.Application, error) {
	var app entity.Application
	var status string

	err := row.Scan(
		&app.ID,
		&app.JobRef,
		&app.ApplicantRef,
		&status,
		&app.Version,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Status, err = workflow.ParseState(status)
	if err != nil {
		return nil, fmt.Errorf("application %s: %w", app.ID, err)
	}

	return &app, nil
}

func collectApplications(rows *sql.Rows) ([]*entity.Application, error) {
	var apps []*entity.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// Verify interface compliance
var _ port.ApplicationRepository = (*ApplicationRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const auditColumns = `id, application_id, from_status, to_status, action,
	performed_by_role, performed_by_identity, note, occurred_at`

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a new audit entry and sets its ID
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			application_id, from_status, to_status, action,
			performed_by_role, performed_by_identity, note, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var note sql.NullString
	if entry.Note != nil {
		note = sql.NullString{String: *entry.Note, Valid: true}
	}

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		entry.ApplicationID,
		entry.FromStatus.String(),
		entry.ToStatus.String(),
		entry.Action.String(),
		entry.PerformedByRole.String(),
		entry.PerformedByIdentity,
		note,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry", zap.String("application_id", entry.ApplicationID), zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// ListByApplicationID retrieves the trail of an application in commit order
func (r *AuditRepository) ListByApplicationID(ctx context.Context, applicationID string) ([]*entity.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE application_id = ?
		ORDER BY occurred_at ASC, id ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, applicationID)
	if err != nil {
		r.logger.Error("Failed to get audit trail", zap.String("application_id", applicationID), zap.Error(err))
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Latest retrieves the most recent entry of an application, or nil
func (r *AuditRepository) Latest(ctx context.Context, applicationID string) (*entity.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE application_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1
	`

	entry, err := scanAuditEntry(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, applicationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit entry: %w", err)
	}

	return entry, nil
}

func scanAuditEntry(row rowScanner) (*entity.AuditEntry, error) {
	var entry entity.AuditEntry
	var from, to, action, role string
	var note sql.NullString

	err := row.Scan(
		&entry.ID,
		&entry.ApplicationID,
		&from,
		&to,
		&action,
		&role,
		&entry.PerformedByIdentity,
		&note,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	entry.FromStatus = workflow.State(from)
	entry.ToStatus = workflow.State(to)
	entry.Action = workflow.Action(action)
	entry.PerformedByRole = workflow.Role(role)
	if note.Valid {
		entry.Note = &note.String
	}

	return &entry, nil
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)

package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// EmbeddedMigrations returns the schema migrations compiled into the binary
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one numbered schema file, e.g. 002_audit_entries.sql
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies numbered SQL files in order and records them in schema_migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// RunMigrationsDir applies pending migrations from a directory on disk
func (m *Migrator) RunMigrationsDir(dir string) error {
	_, err := m.Up(context.Background(), os.DirFS(dir))
	return err
}

// RunMigrations applies pending migrations found in fsys
func (m *Migrator) RunMigrations(fsys fs.FS) error {
	_, err := m.Up(context.Background(), fsys)
	return err
}

// Up applies every migration in fsys that is not yet recorded and returns the ones it applied.
// Each migration runs in its own transaction together with its bookkeeping row.
func (m *Migrator) Up(ctx context.Context, fsys fs.FS) ([]Migration, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	var applied []Migration
	for _, mig := range all {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
		}
		m.logger.Info("Applied migration", zap.Int("version", mig.Version), zap.String("name", mig.Name))
		applied = append(applied, mig)
	}

	if len(applied) == 0 {
		m.logger.Debug("Schema up to date", zap.Int("version", current))
	}
	return applied, nil
}

// Version returns the highest applied migration, 0 for a fresh database
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// LoadMigrations reads NNN_name.sql files from the root of fsys, ordered by version.
// Duplicate versions are rejected.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string, len(files))
	migrations := make([]Migration, 0, len(files))
	for _, file := range files {
		base := strings.TrimSuffix(path.Base(file), ".sql")
		prefix, name, _ := strings.Cut(base, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("invalid migration filename %q", file)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %d", other, file, version)
		}
		seen[version] = file

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })
	return migrations, nil
}

// Package memory provides a process-local implementation of the application and audit
// repositories with the same compare-and-swap and transaction semantics as the sqlite store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	"github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

type contextKey string

const txKey contextKey = "memory-tx"

// Store keeps applications and audit trails in maps. Writes are serialized by writeMu;
// reads only take dataMu.
type Store struct {
	writeMu sync.Mutex
	dataMu  sync.RWMutex
	apps    map[string]*entity.Application
	order   []string
	trails  map[string][]*entity.AuditEntry
	nextID  int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		apps:   make(map[string]*entity.Application),
		trails: make(map[string][]*entity.AuditEntry),
	}
}

// tx stages writes until the transaction commits
type tx struct {
	creates  []*entity.Application
	statuses map[string]*entity.Application
	appended []*entity.AuditEntry
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey).(*tx)
	return t
}

// WithTransaction implements port.TransactionManager
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{statuses: make(map[string]*entity.Application)}
	if err := fn(context.WithValue(ctx, txKey, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	for _, app := range t.creates {
		s.apps[app.ID] = app
		s.order = append(s.order, app.ID)
	}
	for id, app := range t.statuses {
		s.apps[id] = app
	}
	for _, entry := range t.appended {
		s.appendLocked(entry)
	}
	return nil
}

// Applications returns the store as a port.ApplicationRepository
func (s *Store) Applications() port.ApplicationRepository {
	return &applicationRepo{s}
}

// Audit returns the store as a port.AuditRepository
func (s *Store) Audit() port.AuditRepository {
	return &auditRepo{s}
}

func (s *Store) appendLocked(entry *entity.AuditEntry) {
	s.nextID++
	entry.ID = s.nextID
	stored := *entry
	s.trails[entry.ApplicationID] = append(s.trails[entry.ApplicationID], &stored)
}

// lookup returns the application as seen from ctx, including staged writes
func (s *Store) lookup(ctx context.Context, id string) (*entity.Application, bool) {
	if t := txFrom(ctx); t != nil {
		if app, ok := t.statuses[id]; ok {
			return app, true
		}
		for _, app := range t.creates {
			if app.ID == id {
				return app, true
			}
		}
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	app, ok := s.apps[id]
	return app, ok
}

type applicationRepo struct{ s *Store }

func (r *applicationRepo) Create(ctx context.Context, app *entity.Application) error {
	if _, exists := r.s.lookup(ctx, app.ID); exists {
		return fmt.Errorf("failed to create application: duplicate id %s", app.ID)
	}

	stored := *app
	if t := txFrom(ctx); t != nil {
		t.creates = append(t.creates, &stored)
		return nil
	}

	r.s.writeMu.Lock()
	defer r.s.writeMu.Unlock()
	r.s.dataMu.Lock()
	defer r.s.dataMu.Unlock()
	if _, exists := r.s.apps[app.ID]; exists {
		return fmt.Errorf("failed to create application: duplicate id %s", app.ID)
	}
	r.s.apps[app.ID] = &stored
	r.s.order = append(r.s.order, app.ID)
	return nil
}

func (r *applicationRepo) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	app, ok := r.s.lookup(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	out := *app
	return &out, nil
}

func (r *applicationRepo) CompareAndSwapStatus(ctx context.Context, id string, expectedVersion int64, status workflow.State, at time.Time) (int64, error) {
	t := txFrom(ctx)
	if t == nil {
		r.s.writeMu.Lock()
		defer r.s.writeMu.Unlock()
	}

	current, ok := r.s.lookup(ctx, id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	if current.Version != expectedVersion {
		return 0, fmt.Errorf("%w: application %s at version %d", port.ErrVersionConflict, id, expectedVersion)
	}

	next := *current
	next.Status = status
	next.Version = expectedVersion + 1
	next.UpdatedAt = at

	if t != nil {
		t.statuses[id] = &next
	} else {
		r.s.dataMu.Lock()
		r.s.apps[id] = &next
		r.s.dataMu.Unlock()
	}
	return next.Version, nil
}

func (r *applicationRepo) List(ctx context.Context, limit, offset int) ([]*entity.Application, error) {
	r.s.dataMu.RLock()
	defer r.s.dataMu.RUnlock()

	var out []*entity.Application
	for i := len(r.s.order) - 1; i >= 0; i-- {
		if offset > 0 {
			offset--
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		app := *r.s.apps[r.s.order[i]]
		out = append(out, &app)
	}
	return out, nil
}

func (r *applicationRepo) ListByApplicant(ctx context.Context, applicantRef string) ([]*entity.Application, error) {
	r.s.dataMu.RLock()
	defer r.s.dataMu.RUnlock()

	var out []*entity.Application
	for i := len(r.s.order) - 1; i >= 0; i-- {
		app := r.s.apps[r.s.order[i]]
		if app.ApplicantRef == applicantRef {
			cp := *app
			out = append(out, &cp)
		}
	}
	return out, nil
}

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if t := txFrom(ctx); t != nil {
		t.appended = append(t.appended, entry)
		return nil
	}

	r.s.writeMu.Lock()
	defer r.s.writeMu.Unlock()
	r.s.dataMu.Lock()
	defer r.s.dataMu.Unlock()
	r.s.appendLocked(entry)
	return nil
}

func (r *auditRepo) ListByApplicationID(ctx context.Context, applicationID string) ([]*entity.AuditEntry, error) {
	r.s.dataMu.RLock()
	defer r.s.dataMu.RUnlock()

	trail := r.s.trails[applicationID]
	out := make([]*entity.AuditEntry, 0, len(trail))
	for _, e := range trail {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *auditRepo) Latest(ctx context.Context, applicationID string) (*entity.AuditEntry, error) {
	r.s.dataMu.RLock()
	defer r.s.dataMu.RUnlock()

	trail := r.s.trails[applicationID]
	if len(trail) == 0 {
		return nil, nil
	}
	cp := *trail[len(trail)-1]
	return &cp, nil
}

// Verify interface compliance
var (
	_ port.TransactionManager    = (*Store)(nil)
	_ port.ApplicationRepository = (*applicationRepo)(nil)
	_ port.AuditRepository       = (*auditRepo)(nil)
)

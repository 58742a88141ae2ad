package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	"github.com/garyjia/recruit-workflow/internal/domain/event"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

const (
	tracerName = "github.com/garyjia/recruit-workflow/internal/application/workflow"

	defaultStoreTimeout = 5 * time.Second

	// maxCASAttempts bounds re-reads after losing a compare-and-swap on an unversioned request
	maxCASAttempts = 3
)

// Publisher receives change events after a transition commits
type Publisher interface {
	Publish(ctx context.Context, evt *event.ChangeEvent) error
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	apps       port.ApplicationRepository
	audit      port.AuditRepository
	txManager  port.TransactionManager
	authorizer *domainwf.Authorizer
	publisher  Publisher
	logger     *zap.Logger
	tracer     trace.Tracer

	storeTimeout time.Duration
	now          func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithPublisher sets where change events go after commit
func WithPublisher(p Publisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStoreTimeout bounds each store round trip
func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	apps port.ApplicationRepository,
	audit port.AuditRepository,
	txManager port.TransactionManager,
	catalog *domainwf.Catalog,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		apps:         apps,
		audit:        audit,
		txManager:    txManager,
		authorizer:   domainwf.NewAuthorizer(catalog),
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Catalog returns the transition table the engine enforces
func (e *engineImpl) Catalog() *domainwf.Catalog {
	return e.authorizer.Catalog()
}

// Register creates a new application in the initial state
func (e *engineImpl) Register(ctx context.Context, req RegisterRequest) (*entity.Application, error) {
	jobRef := strings.TrimSpace(req.JobRef)
	applicantRef := strings.TrimSpace(req.ApplicantRef)
	if jobRef == "" || applicantRef == "" {
		return nil, fmt.Errorf("%w: job_ref and applicant_ref are required", ErrInvalidRequest)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.Register")
	defer span.End()

	now := e.now().UTC()
	app := &entity.Application{
		ID:           uuid.NewString(),
		JobRef:       jobRef,
		ApplicantRef: applicantRef,
		Status:       e.Catalog().InitialState(),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(attribute.String("application.id", app.ID))

	err := e.withRetry(ctx, "register", func(ctx context.Context) error {
		return e.apps.Create(ctx, app)
	})
	if err != nil {
		e.fail(span, err)
		return nil, err
	}

	e.logger.Info("Application registered",
		zap.String("application_id", app.ID),
		zap.String("job_ref", app.JobRef),
		zap.String("applicant_ref", app.ApplicantRef))

	return app, nil
}

// ApplyTransition runs the read, authorize, compare-and-swap and publish sequence
func (e *engineImpl) ApplyTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if strings.TrimSpace(req.ApplicationID) == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidRequest)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.ApplyTransition",
		trace.WithAttributes(
			attribute.String("application.id", req.ApplicationID),
			attribute.String("workflow.action", req.Action.String()),
			attribute.String("workflow.role", req.Role.String()),
			attribute.Bool("workflow.versioned", req.ExpectedVersion != nil),
		))
	defer span.End()

	var (
		result *TransitionResult
		evt    *event.ChangeEvent
	)
	err := e.withRetry(ctx, "apply_transition", func(ctx context.Context) error {
		var err error
		result, evt, err = e.applyOnce(ctx, req)
		return err
	})
	if err != nil {
		e.logDenied(req, err)
		e.fail(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("workflow.status", result.Status.String()),
		attribute.Bool("workflow.applied", result.Applied),
	)

	if !result.Applied {
		e.logger.Info("Transition already applied by a concurrent request",
			zap.String("application_id", req.ApplicationID),
			zap.String("action", req.Action.String()),
			zap.Int64("audit_entry_id", result.AuditEntryID))
		return result, nil
	}

	e.logger.Info("Transition applied",
		zap.String("application_id", result.ApplicationID),
		zap.String("action", req.Action.String()),
		zap.String("from", result.PreviousStatus.String()),
		zap.String("to", result.Status.String()),
		zap.String("role", req.Role.String()),
		zap.String("identity", req.Identity),
		zap.Int64("version", result.Version),
		zap.Int64("audit_entry_id", result.AuditEntryID))

	e.publish(ctx, evt)

	return result, nil
}

// applyOnce performs one attempt. A lost compare-and-swap on an unversioned request re-reads
// and re-authorizes against the new state.
func (e *engineImpl) applyOnce(ctx context.Context, req TransitionRequest) (*TransitionResult, *event.ChangeEvent, error) {
	var intended domainwf.TransitionRule

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		app, err := e.apps.GetByID(ctx, req.ApplicationID)
		if err != nil {
			return nil, nil, err
		}

		if req.ExpectedVersion != nil && *req.ExpectedVersion != app.Version {
			return nil, nil, fmt.Errorf("%w: application %s is at version %d, request expected %d",
				domainwf.ErrStaleState, app.ID, app.Version, *req.ExpectedVersion)
		}

		// A racer committed our exact change between our read and our write
		if attempt > 0 && app.Status == intended.To {
			if noop, err := e.concurrentDuplicate(ctx, app, intended); err != nil || noop != nil {
				return noop, nil, err
			}
		}

		decision := e.authorizer.Authorize(app.Status, req.Action, req.Role, req.Note)
		if !decision.Allowed {
			return nil, nil, decision.Err()
		}
		intended = decision.Rule

		result, evt, err := e.commit(ctx, app, decision.Rule, req)
		if errors.Is(err, port.ErrVersionConflict) {
			if req.ExpectedVersion != nil {
				return nil, nil, fmt.Errorf("%w: application %s changed while the request was in flight",
					domainwf.ErrStaleState, app.ID)
			}
			e.logger.Debug("Compare-and-swap lost, re-reading",
				zap.String("application_id", app.ID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return result, evt, nil
	}

	return nil, nil, fmt.Errorf("%w: application %s kept changing under the request", domainwf.ErrStaleState, req.ApplicationID)
}

// concurrentDuplicate returns a no-op result when the latest audit entry is the same move the
// request wanted to make
func (e *engineImpl) concurrentDuplicate(ctx context.Context, app *entity.Application, rule domainwf.TransitionRule) (*TransitionResult, error) {
	latest, err := e.audit.Latest(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Action != rule.Action || latest.FromStatus != rule.From || latest.ToStatus != rule.To {
		return nil, nil
	}

	return &TransitionResult{
		ApplicationID:  app.ID,
		PreviousStatus: latest.FromStatus,
		Status:         app.Status,
		Version:        app.Version,
		AuditEntryID:   latest.ID,
		Applied:        false,
	}, nil
}

// commit writes the status change and the audit entry as one unit
func (e *engineImpl) commit(ctx context.Context, app *entity.Application, rule domainwf.TransitionRule, req TransitionRequest) (*TransitionResult, *event.ChangeEvent, error) {
	now := e.now().UTC()

	entry := &entity.AuditEntry{
		ApplicationID:       app.ID,
		FromStatus:          app.Status,
		ToStatus:            rule.To,
		Action:              rule.Action,
		PerformedByRole:     req.Role,
		PerformedByIdentity: req.Identity,
		Note:                normalizeNote(req.Note),
		Timestamp:           now,
	}

	var version int64
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		v, err := e.apps.CompareAndSwapStatus(txCtx, app.ID, app.Version, rule.To, now)
		if err != nil {
			return err
		}
		version = v
		return e.audit.Append(txCtx, entry)
	})
	if err != nil {
		return nil, nil, err
	}

	evt := event.NewChangeEvent(app.ID, app.Status, rule.To, rule.Action, req.Role, now)
	evt.ApplicantRef = app.ApplicantRef
	evt.Version = version
	evt.AuditEntryID = entry.ID

	return &TransitionResult{
		ApplicationID:  app.ID,
		PreviousStatus: app.Status,
		Status:         rule.To,
		Version:        version,
		AuditEntryID:   entry.ID,
		Applied:        true,
	}, evt, nil
}

// publish hands the event to the publisher. Failures are logged and never reach the caller.
func (e *engineImpl) publish(ctx context.Context, evt *event.ChangeEvent) {
	if e.publisher == nil || evt == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Publisher panic recovered",
				zap.String("event_id", evt.ID),
				zap.Any("panic", r))
		}
	}()

	if err := e.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.Warn("Delivery failure, change event not published",
			zap.String("event_id", evt.ID),
			zap.String("application_id", evt.ApplicationID),
			zap.Error(err))
	}
}

// Get returns the application and the rules the role may invoke next
func (e *engineImpl) Get(ctx context.Context, applicationID string, role domainwf.Role) (*ApplicationView, error) {
	var app *entity.Application
	err := e.withRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		app, err = e.apps.GetByID(ctx, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	actions := e.Catalog().AvailableActions(app.Status, role)
	if actions == nil {
		actions = []domainwf.TransitionRule{}
	}

	return &ApplicationView{
		Application:      app,
		AvailableActions: actions,
		Terminal:         e.Catalog().IsTerminal(app.Status),
	}, nil
}

// List returns applications newest first
func (e *engineImpl) List(ctx context.Context, limit, offset int) ([]*entity.Application, error) {
	var apps []*entity.Application
	err := e.withRetry(ctx, "list", func(ctx context.Context) error {
		var err error
		apps, err = e.apps.List(ctx, limit, offset)
		return err
	})
	return apps, err
}

// ListByApplicant returns one applicant's applications
func (e *engineImpl) ListByApplicant(ctx context.Context, applicantRef string) ([]*entity.Application, error) {
	var apps []*entity.Application
	err := e.withRetry(ctx, "list_by_applicant", func(ctx context.Context) error {
		var err error
		apps, err = e.apps.ListByApplicant(ctx, applicantRef)
		return err
	})
	return apps, err
}

// withRetry runs op under the store timeout and retries a non-semantic failure once.
// A second failure is wrapped with ErrTransient.
func (e *engineImpl) withRetry(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = e.callStore(ctx, op)
		if err == nil || IsSemantic(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == 1 {
			e.logger.Warn("Store operation failed, retrying",
				zap.String("operation", operation),
				zap.Error(err))
		}
	}

	e.logger.Error("Store operation failed",
		zap.String("operation", operation),
		zap.Error(err))
	return fmt.Errorf("%w: %s: %w", domainwf.ErrTransient, operation, err)
}

func (e *engineImpl) callStore(ctx context.Context, op func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return op(callCtx)
}

func (e *engineImpl) logDenied(req TransitionRequest, err error) {
	if !IsSemantic(err) {
		return
	}
	e.logger.Info("Transition denied",
		zap.String("application_id", req.ApplicationID),
		zap.String("action", req.Action.String()),
		zap.String("role", req.Role.String()),
		zap.String("identity", req.Identity),
		zap.String("reason", err.Error()))
}

// fail marks the span; semantic denials are not span errors
func (e *engineImpl) fail(span trace.Span, err error) {
	span.RecordError(err)
	if !IsSemantic(err) {
		span.SetStatus(codes.Error, err.Error())
	}
}

func normalizeNote(note string) *string {
	trimmed := strings.TrimSpace(note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Verify interface compliance
var _ WorkflowEngine = (*engineImpl)(nil)

package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	"github.com/garyjia/recruit-workflow/internal/domain/event"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/memory"
)

// Mock implementations

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *event.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Events() []*event.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.ChangeEvent(nil), p.events...)
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(ctx context.Context, evt *event.ChangeEvent) error {
	panic("subscriber exploded")
}

// flakyApps fails the first failures calls to GetByID
type flakyApps struct {
	port.ApplicationRepository
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyApps) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return nil, errors.New("database is locked")
	}
	return f.ApplicationRepository.GetByID(ctx, id)
}

// slowApps blocks GetByID until the context ends
type slowApps struct {
	port.ApplicationRepository
}

func (s *slowApps) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// racingApps lets another writer commit right after the first read
type racingApps struct {
	port.ApplicationRepository
	once sync.Once
	race func()
}

func (r *racingApps) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	app, err := r.ApplicationRepository.GetByID(ctx, id)
	r.once.Do(r.race)
	return app, err
}

type harness struct {
	store     *memory.Store
	engine    WorkflowEngine
	publisher *recordingPublisher
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	store := memory.NewStore()
	publisher := &recordingPublisher{}
	opts = append([]EngineOption{WithPublisher(publisher), WithLogger(zap.NewNop())}, opts...)
	return &harness{
		store:     store,
		engine:    NewEngine(store.Applications(), store.Audit(), store, domainwf.MustDefaultCatalog(), opts...),
		publisher: publisher,
	}
}

func (h *harness) register(t *testing.T) *entity.Application {
	t.Helper()
	app, err := h.engine.Register(context.Background(), RegisterRequest{JobRef: "job-1", ApplicantRef: "cand-1"})
	require.NoError(t, err)
	return app
}

func (h *harness) trail(t *testing.T, id string) []*entity.AuditEntry {
	t.Helper()
	entries, err := h.store.Audit().ListByApplicationID(context.Background(), id)
	require.NoError(t, err)
	return entries
}

func (h *harness) status(t *testing.T, id string) domainwf.State {
	t.Helper()
	app, err := h.store.Applications().GetByID(context.Background(), id)
	require.NoError(t, err)
	return app.Status
}

func apply(h *harness, id string, action domainwf.Action, role domainwf.Role, note string) (*TransitionResult, error) {
	return h.engine.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID: id,
		Action:        action,
		Role:          role,
		Identity:      "user-" + role.String(),
		Note:          note,
	})
}

func assertReplays(t *testing.T, h *harness, id string) {
	t.Helper()
	steps := make([]domainwf.Step, 0)
	for _, e := range h.trail(t, id) {
		steps = append(steps, e.Step())
	}
	state, err := domainwf.Replay(context.Background(), h.engine.Catalog(), steps)
	require.NoError(t, err)
	assert.Equal(t, h.status(t, id), state)
}

func TestEngine_Register(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	assert.NotEmpty(t, app.ID)
	assert.Equal(t, domainwf.StatePending, app.Status)
	assert.Equal(t, int64(1), app.Version)

	_, err := h.engine.Register(context.Background(), RegisterRequest{JobRef: " ", ApplicantRef: "cand"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEngine_HappyPath(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	steps := []struct {
		action domainwf.Action
		role   domainwf.Role
		want   domainwf.State
	}{
		{domainwf.ActionUnderReview, domainwf.RoleHR, domainwf.StateUnderReview},
		{domainwf.ActionScheduleInterview, domainwf.RoleHR, domainwf.StateInterviewScheduled},
		{domainwf.ActionCompleteInterview, domainwf.RoleHR, domainwf.StateInterviewCompleted},
		{domainwf.ActionAccept, domainwf.RoleHR, domainwf.StateAccepted},
		{domainwf.ActionHire, domainwf.RoleAdmin, domainwf.StateHired},
	}

	for i, step := range steps {
		result, err := apply(h, app.ID, step.action, step.role, "")
		require.NoError(t, err, "step %d", i)
		assert.True(t, result.Applied)
		assert.Equal(t, step.want, result.Status)
		assert.Equal(t, int64(i+2), result.Version)
		assert.NotZero(t, result.AuditEntryID)
		assert.Len(t, h.trail(t, app.ID), i+1)
	}

	for _, action := range []domainwf.Action{domainwf.ActionReject, domainwf.ActionFinalReject, domainwf.ActionHire} {
		_, err := apply(h, app.ID, action, domainwf.RoleAdmin, "late")
		assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
	}

	assert.Equal(t, domainwf.StateHired, h.status(t, app.ID))
	assert.Len(t, h.trail(t, app.ID), 5)
	assertReplays(t, h, app.ID)

	events := h.publisher.Events()
	require.Len(t, events, 5)
	last := events[4]
	assert.Equal(t, event.TypeHired, last.Type)
	assert.Equal(t, app.ID, last.ApplicationID)
	assert.Equal(t, "cand-1", last.ApplicantRef)
	assert.Equal(t, int64(6), last.Version)
}

func TestEngine_IllegalSkip(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	_, err := apply(h, app.ID, domainwf.ActionAccept, domainwf.RoleHR, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
	assert.False(t, errors.Is(err, domainwf.ErrRoleNotPermitted))

	assert.Equal(t, domainwf.StatePending, h.status(t, app.ID))
	assert.Empty(t, h.trail(t, app.ID))
	assert.Empty(t, h.publisher.Events())
}

func TestEngine_NoteRequired(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	for _, note := range []string{"", "   ", "\n\t"} {
		_, err := apply(h, app.ID, domainwf.ActionReject, domainwf.RoleHR, note)
		assert.ErrorIs(t, err, domainwf.ErrNoteRequired)
	}
	assert.Equal(t, domainwf.StatePending, h.status(t, app.ID))
	assert.Empty(t, h.trail(t, app.ID))

	result, err := apply(h, app.ID, domainwf.ActionReject, domainwf.RoleHR, "  not a fit  ")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, result.Status)

	trail := h.trail(t, app.ID)
	require.Len(t, trail, 1)
	require.NotNil(t, trail[0].Note)
	assert.Equal(t, "not a fit", *trail[0].Note)
	assert.Equal(t, "user-HR", trail[0].PerformedByIdentity)
}

func TestEngine_RoleEnforcement(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	for _, action := range []domainwf.Action{
		domainwf.ActionUnderReview, domainwf.ActionReject, domainwf.ActionHire, domainwf.Action("BOGUS"),
	} {
		_, err := apply(h, app.ID, action, domainwf.RoleApplicant, "note")
		assert.ErrorIs(t, err, domainwf.ErrRoleNotPermitted, "applicant %s", action)
	}

	for _, action := range []domainwf.Action{
		domainwf.ActionUnderReview, domainwf.ActionScheduleInterview, domainwf.ActionCompleteInterview, domainwf.ActionAccept,
	} {
		_, err := apply(h, app.ID, action, domainwf.RoleHR, "")
		require.NoError(t, err)
	}

	_, err := apply(h, app.ID, domainwf.ActionHire, domainwf.RoleHR, "")
	assert.ErrorIs(t, err, domainwf.ErrRoleNotPermitted)
	_, err = apply(h, app.ID, domainwf.ActionFinalReject, domainwf.RoleHR, "reason")
	assert.ErrorIs(t, err, domainwf.ErrRoleNotPermitted)

	assert.Equal(t, domainwf.StateAccepted, h.status(t, app.ID))
	assert.Len(t, h.trail(t, app.ID), 4)
}

func TestEngine_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := apply(h, "missing", domainwf.ActionUnderReview, domainwf.RoleHR, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = h.engine.Get(context.Background(), "missing", domainwf.RoleHR)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = apply(h, "", domainwf.ActionUnderReview, domainwf.RoleHR, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEngine_StaleState(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	stale := int64(1)
	_, err := apply(h, app.ID, domainwf.ActionUnderReview, domainwf.RoleHR, "")
	require.NoError(t, err)

	_, err = h.engine.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID:   app.ID,
		Action:          domainwf.ActionReject,
		Role:            domainwf.RoleHR,
		Note:            "overwrite",
		ExpectedVersion: &stale,
	})
	assert.ErrorIs(t, err, domainwf.ErrStaleState)
	assert.Equal(t, domainwf.StateUnderReview, h.status(t, app.ID))
	assert.Len(t, h.trail(t, app.ID), 1)

	current := int64(2)
	result, err := h.engine.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID:   app.ID,
		Action:          domainwf.ActionReject,
		Role:            domainwf.RoleHR,
		Note:            "not a fit",
		ExpectedVersion: &current,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Version)
}

func TestEngine_ConcurrentRejectCommitsOnce(t *testing.T) {
	for _, versioned := range []bool{false, true} {
		name := "unversioned"
		if versioned {
			name = "versioned"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			app := h.register(t)

			const racers = 8
			var wg sync.WaitGroup
			results := make([]*TransitionResult, racers)
			errs := make([]error, racers)
			start := make(chan struct{})

			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					req := TransitionRequest{
						ApplicationID: app.ID,
						Action:        domainwf.ActionReject,
						Role:          domainwf.RoleHR,
						Identity:      "hr",
						Note:          "duplicate click",
					}
					if versioned {
						v := int64(1)
						req.ExpectedVersion = &v
					}
					results[i], errs[i] = h.engine.ApplyTransition(context.Background(), req)
				}(i)
			}
			close(start)
			wg.Wait()

			applied := 0
			for i := 0; i < racers; i++ {
				if errs[i] != nil {
					if versioned {
						assert.ErrorIs(t, errs[i], domainwf.ErrStaleState)
					} else {
						assert.True(t, errors.Is(errs[i], domainwf.ErrInvalidTransition) || errors.Is(errs[i], domainwf.ErrStaleState),
							"unexpected error %v", errs[i])
					}
					continue
				}
				if results[i].Applied {
					applied++
				} else {
					assert.Equal(t, domainwf.StateRejected, results[i].Status)
				}
			}

			assert.Equal(t, 1, applied)
			assert.Len(t, h.trail(t, app.ID), 1)
			assert.Len(t, h.publisher.Events(), 1)
			assertReplays(t, h, app.ID)
		})
	}
}

func TestEngine_LostRaceOnSameTransitionIsNoop(t *testing.T) {
	store := memory.NewStore()
	catalog := domainwf.MustDefaultCatalog()
	publisher := &recordingPublisher{}

	seedEngine := NewEngine(store.Applications(), store.Audit(), store, catalog)
	app, err := seedEngine.Register(context.Background(), RegisterRequest{JobRef: "job", ApplicantRef: "cand"})
	require.NoError(t, err)

	var winner *TransitionResult
	racing := &racingApps{ApplicationRepository: store.Applications()}
	racing.race = func() {
		var err error
		winner, err = seedEngine.ApplyTransition(context.Background(), TransitionRequest{
			ApplicationID: app.ID,
			Action:        domainwf.ActionReject,
			Role:          domainwf.RoleAdmin,
			Note:          "first",
		})
		require.NoError(t, err)
	}

	loser := NewEngine(racing, store.Audit(), store, catalog, WithPublisher(publisher))
	result, err := loser.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID: app.ID,
		Action:        domainwf.ActionReject,
		Role:          domainwf.RoleHR,
		Note:          "second",
	})
	require.NoError(t, err)

	assert.False(t, result.Applied)
	assert.Equal(t, domainwf.StateRejected, result.Status)
	assert.Equal(t, winner.AuditEntryID, result.AuditEntryID)
	assert.Equal(t, winner.Version, result.Version)
	assert.Empty(t, publisher.Events())

	trail, err := store.Audit().ListByApplicationID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestEngine_LostRaceToDifferentTransition(t *testing.T) {
	store := memory.NewStore()
	catalog := domainwf.MustDefaultCatalog()

	seedEngine := NewEngine(store.Applications(), store.Audit(), store, catalog)
	app, err := seedEngine.Register(context.Background(), RegisterRequest{JobRef: "job", ApplicantRef: "cand"})
	require.NoError(t, err)

	racing := &racingApps{ApplicationRepository: store.Applications()}
	racing.race = func() {
		_, err := seedEngine.ApplyTransition(context.Background(), TransitionRequest{
			ApplicationID: app.ID,
			Action:        domainwf.ActionUnderReview,
			Role:          domainwf.RoleHR,
		})
		require.NoError(t, err)
	}

	loser := NewEngine(racing, store.Audit(), store, catalog)
	_, err = loser.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID: app.ID,
		Action:        domainwf.ActionReject,
		Role:          domainwf.RoleHR,
		Note:          "reject from pending",
	})
	// UNDER_REVIEW also allows REJECT, so the re-authorized request commits from the new state
	require.NoError(t, err)

	trail, err := store.Audit().ListByApplicationID(context.Background(), app.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, domainwf.StateUnderReview, trail[1].FromStatus)
	assert.Equal(t, domainwf.StateRejected, trail[1].ToStatus)
}

func TestEngine_TransientFailureRetriedOnce(t *testing.T) {
	store := memory.NewStore()
	catalog := domainwf.MustDefaultCatalog()
	seedEngine := NewEngine(store.Applications(), store.Audit(), store, catalog)
	app, err := seedEngine.Register(context.Background(), RegisterRequest{JobRef: "job", ApplicantRef: "cand"})
	require.NoError(t, err)

	t.Run("one failure is absorbed", func(t *testing.T) {
		flaky := &flakyApps{ApplicationRepository: store.Applications()}
		flaky.failures.Store(1)
		engine := NewEngine(flaky, store.Audit(), store, catalog)

		result, err := engine.ApplyTransition(context.Background(), TransitionRequest{
			ApplicationID: app.ID, Action: domainwf.ActionUnderReview, Role: domainwf.RoleHR,
		})
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, int32(2), flaky.calls.Load())
	})

	t.Run("two failures surface as transient", func(t *testing.T) {
		flaky := &flakyApps{ApplicationRepository: store.Applications()}
		flaky.failures.Store(2)
		engine := NewEngine(flaky, store.Audit(), store, catalog)

		_, err := engine.ApplyTransition(context.Background(), TransitionRequest{
			ApplicationID: app.ID, Action: domainwf.ActionScheduleInterview, Role: domainwf.RoleHR,
		})
		assert.ErrorIs(t, err, domainwf.ErrTransient)
		assert.False(t, IsSemantic(err))
		assert.Equal(t, int32(2), flaky.calls.Load())

		got, err := store.Applications().GetByID(context.Background(), app.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateUnderReview, got.Status)
	})
}

func TestEngine_StoreTimeoutIsNotApplied(t *testing.T) {
	store := memory.NewStore()
	catalog := domainwf.MustDefaultCatalog()
	seedEngine := NewEngine(store.Applications(), store.Audit(), store, catalog)
	app, err := seedEngine.Register(context.Background(), RegisterRequest{JobRef: "job", ApplicantRef: "cand"})
	require.NoError(t, err)

	engine := NewEngine(&slowApps{ApplicationRepository: store.Applications()}, store.Audit(), store, catalog,
		WithStoreTimeout(10*time.Millisecond))

	_, err = engine.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID: app.ID, Action: domainwf.ActionUnderReview, Role: domainwf.RoleHR,
	})
	assert.ErrorIs(t, err, domainwf.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	trail, err := store.Audit().ListByApplicationID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestEngine_PublishFailureDoesNotFailCommit(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broadcaster closed")
	app := h.register(t)

	result, err := apply(h, app.ID, domainwf.ActionUnderReview, domainwf.RoleHR, "")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Len(t, h.trail(t, app.ID), 1)

	store := memory.NewStore()
	engine := NewEngine(store.Applications(), store.Audit(), store, domainwf.MustDefaultCatalog(),
		WithPublisher(panickingPublisher{}))
	other, err := engine.Register(context.Background(), RegisterRequest{JobRef: "job", ApplicantRef: "cand"})
	require.NoError(t, err)

	result, err = engine.ApplyTransition(context.Background(), TransitionRequest{
		ApplicationID: other.ID, Action: domainwf.ActionUnderReview, Role: domainwf.RoleHR,
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateUnderReview, result.Status)
}

func TestEngine_Get(t *testing.T) {
	h := newHarness(t)
	app := h.register(t)

	view, err := h.engine.Get(context.Background(), app.ID, domainwf.RoleHR)
	require.NoError(t, err)
	assert.False(t, view.Terminal)
	actions := make([]domainwf.Action, 0, len(view.AvailableActions))
	for _, r := range view.AvailableActions {
		actions = append(actions, r.Action)
	}
	assert.ElementsMatch(t, []domainwf.Action{domainwf.ActionUnderReview, domainwf.ActionReject}, actions)

	view, err = h.engine.Get(context.Background(), app.ID, domainwf.RoleApplicant)
	require.NoError(t, err)
	assert.NotNil(t, view.AvailableActions)
	assert.Empty(t, view.AvailableActions)

	_, err = apply(h, app.ID, domainwf.ActionReject, domainwf.RoleHR, "no")
	require.NoError(t, err)
	view, err = h.engine.Get(context.Background(), app.ID, domainwf.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, view.Terminal)
	assert.Empty(t, view.AvailableActions)
}

func TestEngine_List(t *testing.T) {
	h := newHarness(t)
	first := h.register(t)
	second, err := h.engine.Register(context.Background(), RegisterRequest{JobRef: "job-2", ApplicantRef: "cand-2"})
	require.NoError(t, err)

	all, err := h.engine.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	mine, err := h.engine.ListByApplicant(context.Background(), "cand-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, catalog.InitialState())

	_, err = LoadCatalog("/nonexistent/catalog.yaml")
	assert.Error(t, err)
}

func TestEngine_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h := newHarness(t, WithTracer(provider.Tracer("test")))
	app := h.register(t)

	_, err := apply(h, app.ID, domainwf.ActionUnderReview, domainwf.RoleHR, "")
	require.NoError(t, err)
	_, err = apply(h, app.ID, domainwf.ActionHire, domainwf.RoleHR, "")
	require.Error(t, err)

	var applied []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "workflow.ApplyTransition" {
			applied = append(applied, s)
		}
	}
	require.Len(t, applied, 2)

	attrs := func(s sdktrace.ReadOnlySpan) map[string]string {
		out := make(map[string]string)
		for _, kv := range s.Attributes() {
			out[string(kv.Key)] = kv.Value.Emit()
		}
		return out
	}

	ok := attrs(applied[0])
	assert.Equal(t, app.ID, ok["application.id"])
	assert.Equal(t, "UNDER_REVIEW", ok["workflow.status"])
	assert.Equal(t, "true", ok["workflow.applied"])
	assert.Equal(t, codes.Unset, applied[0].Status().Code)

	// A denial is recorded but does not mark the span failed.
	assert.Equal(t, codes.Unset, applied[1].Status().Code)
	assert.NotEmpty(t, applied[1].Events())
}

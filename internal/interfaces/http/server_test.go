package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/dispatcher"
	"github.com/garyjia/recruit-workflow/internal/application/service"
	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/persistence/memory"
	"github.com/garyjia/recruit-workflow/pkg/utils"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server      *Server
	engine      workflow.WorkflowEngine
	broadcaster dispatcher.Broadcaster
	auth        *Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	catalog := domainwf.MustDefaultCatalog()
	logger := zap.NewNop()

	broadcaster := dispatcher.NewBroadcaster()
	require.NoError(t, broadcaster.Start(context.Background()))
	t.Cleanup(func() { _ = broadcaster.Stop() })

	engine := workflow.NewEngine(store.Applications(), store.Audit(), store, catalog,
		workflow.WithPublisher(broadcaster))
	trail := service.NewAuditTrailService(store.Applications(), store.Audit(), catalog, utils.NewKVLogger(logger))
	auth := NewAuthenticator(testSecret, "recruit-test")

	cfg := DefaultServerConfig()
	cfg.Heartbeat = time.Hour
	server := NewServer(cfg, Deps{
		Engine:        engine,
		Trail:         trail,
		Exporter:      service.NewHistoryExporter(trail, utils.NewKVLogger(logger)),
		Broadcaster:   broadcaster,
		Authenticator: auth,
		Health: func() (bool, interface{}) {
			return true, map[string]string{"database": "ok"}
		},
		Logger: logger,
	})
	t.Cleanup(func() { _ = server.Stop() })

	return &testEnv{server: server, engine: engine, broadcaster: broadcaster, auth: auth}
}

func (e *testEnv) token(t *testing.T, role domainwf.Role, identity string) string {
	t.Helper()
	tok, err := e.auth.Issue(role, identity, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, applicant string) *entity.Application {
	t.Helper()
	app, err := e.engine.Register(context.Background(), workflow.RegisterRequest{JobRef: "job-1", ApplicantRef: applicant})
	require.NoError(t, err)
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
}

func TestAuth_Rejections(t *testing.T) {
	env := newTestEnv(t)

	expired := NewAuthenticator(testSecret, "recruit-test")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Issue(domainwf.RoleHR, "hr-1", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewAuthenticator(testSecret, "someone-else").Issue(domainwf.RoleHR, "hr-1", time.Hour)
	require.NoError(t, err)

	wrongKey, err := NewAuthenticator("other-secret", "recruit-test").Issue(domainwf.RoleHR, "hr-1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing", header: "", want: "missing bearer token"},
		{name: "malformed", header: "Token abc", want: "malformed authorization header"},
		{name: "expired", header: "Bearer " + expiredToken, want: "access token expired"},
		{name: "wrong issuer", header: "Bearer " + otherIssuer, want: "invalid token issuer"},
		{name: "wrong key", header: "Bearer " + wrongKey, want: "invalid access token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.server.Router().ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			resp := decode(t, w, nil)
			assert.Equal(t, tt.want, resp.Error)
			assert.Equal(t, "unauthorized", resp.Code)
		})
	}
}

func TestAuthenticator_IssueValidation(t *testing.T) {
	auth := NewAuthenticator(testSecret, "recruit-test")

	_, err := auth.Issue(domainwf.Role("INTERN"), "x", time.Hour)
	assert.Error(t, err)

	_, err = auth.Issue(domainwf.RoleHR, " ", time.Hour)
	assert.Error(t, err)

	tok, err := auth.Issue(domainwf.RoleApplicant, "alice", time.Hour)
	require.NoError(t, err)
	p, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{Role: domainwf.RoleApplicant, Identity: "alice"}, p)
}

func TestGetCatalog(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/catalog", env.token(t, domainwf.RoleApplicant, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var catalog CatalogResponse
	decode(t, w, &catalog)
	assert.Equal(t, domainwf.StatePending, catalog.InitialState)
	assert.ElementsMatch(t, []domainwf.State{domainwf.StateHired, domainwf.StateRejected}, catalog.TerminalStates)
	assert.NotEmpty(t, catalog.Rules)
}

func TestRegisterApplication(t *testing.T) {
	env := newTestEnv(t)

	// Applicants register for themselves whatever the body says
	w := env.do(t, http.MethodPost, "/api/applications", env.token(t, domainwf.RoleApplicant, "alice"),
		RegisterApplicationRequest{JobRef: "job-7", ApplicantRef: "mallory"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var app entity.Application
	decode(t, w, &app)
	assert.Equal(t, "alice", app.ApplicantRef)
	assert.Equal(t, domainwf.StatePending, app.Status)
	assert.Equal(t, int64(1), app.Version)

	// HR registers on behalf of an applicant and must name one
	w = env.do(t, http.MethodPost, "/api/applications", env.token(t, domainwf.RoleHR, "hr-1"),
		RegisterApplicationRequest{JobRef: "job-7"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", decode(t, w, nil).Code)

	w = env.do(t, http.MethodPost, "/api/applications", env.token(t, domainwf.RoleHR, "hr-1"),
		map[string]string{"applicant_ref": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListApplications_ScopedByRole(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.register(t, "bob")
	env.register(t, "alice")

	var apps []entity.Application
	w := env.do(t, http.MethodGet, "/api/applications", env.token(t, domainwf.RoleHR, "hr-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &apps)
	assert.Len(t, apps, 3)

	w = env.do(t, http.MethodGet, "/api/applications?limit=2", env.token(t, domainwf.RoleAdmin, "root"), nil)
	decode(t, w, &apps)
	assert.Len(t, apps, 2)

	w = env.do(t, http.MethodGet, "/api/applications", env.token(t, domainwf.RoleApplicant, "alice"), nil)
	decode(t, w, &apps)
	assert.Len(t, apps, 2)
	for _, a := range apps {
		assert.Equal(t, "alice", a.ApplicantRef)
	}

	w = env.do(t, http.MethodGet, "/api/applications", env.token(t, domainwf.RoleApplicant, "nobody"), nil)
	decode(t, w, &apps)
	assert.Empty(t, apps)
}

func TestGetApplication_ApplicantSeesOnlyOwn(t *testing.T) {
	env := newTestEnv(t)
	app := env.register(t, "alice")

	w := env.do(t, http.MethodGet, "/api/applications/"+app.ID, env.token(t, domainwf.RoleApplicant, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view workflow.ApplicationView
	decode(t, w, &view)
	assert.Equal(t, app.ID, view.Application.ID)
	assert.Empty(t, view.AvailableActions)

	w = env.do(t, http.MethodGet, "/api/applications/"+app.ID, env.token(t, domainwf.RoleApplicant, "bob"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/applications/"+app.ID, env.token(t, domainwf.RoleHR, "hr-1"), nil)
	decode(t, w, &view)
	assert.Len(t, view.AvailableActions, 2)

	w = env.do(t, http.MethodGet, "/api/applications/missing", env.token(t, domainwf.RoleHR, "hr-1"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w, nil).Code)
}

func TestApplyTransition_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	hr := env.token(t, domainwf.RoleHR, "hr-1")

	app := env.register(t, "alice")
	stale := int64(7)

	tests := []struct {
		name   string
		token  string
		body   TransitionRequest
		status int
		code   string
	}{
		{name: "applicant cannot act", token: env.token(t, domainwf.RoleApplicant, "alice"),
			body: TransitionRequest{Action: "UNDER_REVIEW"}, status: http.StatusForbidden, code: "role_not_permitted"},
		{name: "skip ahead", token: hr,
			body: TransitionRequest{Action: "HIRE"}, status: http.StatusConflict, code: "invalid_transition"},
		{name: "unknown action", token: hr,
			body: TransitionRequest{Action: "PROMOTE"}, status: http.StatusConflict, code: "invalid_transition"},
		{name: "reject needs note", token: hr,
			body: TransitionRequest{Action: "REJECT", Note: "   "}, status: http.StatusUnprocessableEntity, code: "note_required"},
		{name: "stale version", token: hr,
			body: TransitionRequest{Action: "UNDER_REVIEW", ExpectedVersion: &stale}, status: http.StatusConflict, code: "stale_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/applications/"+app.ID+"/transitions", tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode(t, w, nil).Code)
		})
	}

	w := env.do(t, http.MethodPost, "/api/applications/missing/transitions", hr, TransitionRequest{Action: "UNDER_REVIEW"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/applications/"+app.ID+"/transitions", hr, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyTransition_FullLifecycleAndHistory(t *testing.T) {
	env := newTestEnv(t)
	hr := env.token(t, domainwf.RoleHR, "hr-1")
	admin := env.token(t, domainwf.RoleAdmin, "root")

	app := env.register(t, "alice")
	path := "/api/applications/" + app.ID + "/transitions"

	version := int64(1)
	for _, action := range []string{"under_review", "SCHEDULE_INTERVIEW", "COMPLETE_INTERVIEW", "ACCEPT"} {
		w := env.do(t, http.MethodPost, path, hr, TransitionRequest{Action: action, ExpectedVersion: &version})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result workflow.TransitionResult
		decode(t, w, &result)
		assert.True(t, result.Applied)
		version = result.Version
	}

	// HR cannot close out an accepted application
	w := env.do(t, http.MethodPost, path, hr, TransitionRequest{Action: "HIRE"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, path, admin, TransitionRequest{Action: "HIRE"})
	require.Equal(t, http.StatusOK, w.Code)

	var entries []entity.AuditEntry
	w = env.do(t, http.MethodGet, "/api/applications/"+app.ID+"/history", env.token(t, domainwf.RoleApplicant, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &entries)
	require.Len(t, entries, 5)
	assert.Equal(t, domainwf.StatePending, entries[0].FromStatus)
	assert.Equal(t, domainwf.StateHired, entries[4].ToStatus)
	assert.Equal(t, domainwf.RoleAdmin, entries[4].PerformedByRole)
	assert.Equal(t, "root", entries[4].PerformedByIdentity)

	w = env.do(t, http.MethodGet, "/api/applications/"+app.ID+"/history", env.token(t, domainwf.RoleApplicant, "bob"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Terminal: nothing more is accepted
	w = env.do(t, http.MethodPost, path, admin, TransitionRequest{Action: "FINAL_REJECT", Note: "changed mind"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVerifyHistory_RoleGuard(t *testing.T) {
	env := newTestEnv(t)
	app := env.register(t, "alice")

	w := env.do(t, http.MethodGet, "/api/applications/"+app.ID+"/history/verify", env.token(t, domainwf.RoleApplicant, "alice"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/applications/"+app.ID+"/history/verify", env.token(t, domainwf.RoleAdmin, "root"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v service.Verification
	decode(t, w, &v)
	assert.True(t, v.Consistent)
	assert.Equal(t, 0, v.Entries)
}

func TestExportHistory(t *testing.T) {
	env := newTestEnv(t)
	app := env.register(t, "alice")

	w := env.do(t, http.MethodGet, "/api/applications/"+app.ID+"/history.xlsx", env.token(t, domainwf.RoleHR, "hr-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, w.Header().Get("Content-Disposition"), app.ID)
	// XLSX files are zip archives
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = env.do(t, http.MethodGet, "/api/applications/missing/history.xlsx", env.token(t, domainwf.RoleHR, "hr-1"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// readSSE collects server-sent events until want events of the given name arrived
func readSSE(t *testing.T, scanner *bufio.Scanner, name string) string {
	t.Helper()
	var current string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && current == name:
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	t.Fatalf("stream ended before %q: %v", name, scanner.Err())
	return ""
}

func TestStreamEvents_DeliversOwnApplicationsOnly(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	mine := env.register(t, "alice")
	theirs := env.register(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/api/events?session_id=tab-1&access_token="+env.token(t, domainwf.RoleApplicant, "alice"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	hello := readSSE(t, scanner, "subscribed")
	assert.Contains(t, hello, "alice/tab-1")

	for _, id := range []string{theirs.ID, mine.ID} {
		_, err := env.engine.ApplyTransition(context.Background(), workflow.TransitionRequest{
			ApplicationID: id, Action: domainwf.ActionUnderReview, Role: domainwf.RoleHR, Identity: "hr-1",
		})
		require.NoError(t, err)
	}

	data := readSSE(t, scanner, "application.status_changed")
	assert.Contains(t, data, mine.ID)
	assert.NotContains(t, data, theirs.ID)
}

func TestStreamEvents_ApplicantCannotWatchOthers(t *testing.T) {
	env := newTestEnv(t)
	theirs := env.register(t, "bob")

	w := env.do(t, http.MethodGet, "/api/events?application_id="+theirs.ID, env.token(t, domainwf.RoleApplicant, "alice"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, env.broadcaster.SubscriberCount())
}

func TestServer_RequestIDEchoed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestServer_ServeAndStopOnCancel(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return env.server.ListenAddr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + env.server.ListenAddr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/recruit-workflow/internal/application/service"
	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	"github.com/garyjia/recruit-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// HistoryExporter renders an audit trail as a spreadsheet
type HistoryExporter interface {
	WriteXLSX(ctx context.Context, applicationID string, w io.Writer) error
}

// HealthFunc reports overall health plus component details
type HealthFunc func() (healthy bool, details interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine   workflow.WorkflowEngine
	trail    service.AuditTrailService
	exporter HistoryExporter
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine workflow.WorkflowEngine,
	trail service.AuditTrailService,
	exporter HistoryExporter,
	health HealthFunc,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:   engine,
		trail:    trail,
		exporter: exporter,
		health:   health,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// RegisterApplicationRequest is the body of POST /api/applications
type RegisterApplicationRequest struct {
	JobRef       string `json:"job_ref" binding:"required"`
	ApplicantRef string `json:"applicant_ref"`
}

// TransitionRequest is the body of POST /api/applications/:id/transitions
type TransitionRequest struct {
	Action string `json:"action" binding:"required"`
	Note   string `json:"note"`
	// ExpectedVersion opts into stale-state detection
	ExpectedVersion *int64 `json:"expected_version"`
}

// ListApplicationsRequest represents query parameters for listing applications
type ListApplicationsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// CatalogResponse describes the transition table
type CatalogResponse struct {
	InitialState   domainwf.State            `json:"initial_state"`
	States         []domainwf.State          `json:"states"`
	TerminalStates []domainwf.State          `json:"terminal_states"`
	Rules          []domainwf.TransitionRule `json:"rules"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, details := h.health()
		response.Components = details
		if !healthy {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// GetCatalog handles GET /api/catalog
func (h *Handlers) GetCatalog(c *gin.Context) {
	catalog := h.engine.Catalog()
	respondOK(c, http.StatusOK, CatalogResponse{
		InitialState:   catalog.InitialState(),
		States:         catalog.AllStates(),
		TerminalStates: catalog.TerminalStates(),
		Rules:          catalog.Rules(),
	})
}

// RegisterApplication handles POST /api/applications.
// Applicants always register for themselves.
func (h *Handlers) RegisterApplication(c *gin.Context) {
	var req RegisterApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	principal := principalFrom(c)
	applicantRef := req.ApplicantRef
	if principal.Role == domainwf.RoleApplicant {
		applicantRef = principal.Identity
	}

	app, err := h.engine.Register(c.Request.Context(), workflow.RegisterRequest{
		JobRef:       req.JobRef,
		ApplicantRef: applicantRef,
	})
	if err != nil {
		h.logFailure("Failed to register application", err)
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, app)
}

// ListApplications handles GET /api/applications
func (h *Handlers) ListApplications(c *gin.Context) {
	var req ListApplicationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", "invalid query parameters")
		return
	}

	// Set defaults
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	principal := principalFrom(c)

	var (
		apps []*entity.Application
		err  error
	)
	if principal.Role.SeesAllApplications() {
		apps, err = h.engine.List(c.Request.Context(), req.Limit, req.Offset)
	} else {
		apps, err = h.engine.ListByApplicant(c.Request.Context(), principal.Identity)
	}
	if err != nil {
		h.logFailure("Failed to list applications", err)
		respondError(c, err)
		return
	}
	if apps == nil {
		apps = []*entity.Application{}
	}

	respondOK(c, http.StatusOK, apps)
}

// GetApplication handles GET /api/applications/:id
func (h *Handlers) GetApplication(c *gin.Context) {
	view, ok := h.readableApplication(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, view)
}

// ApplyTransition handles POST /api/applications/:id/transitions
func (h *Handlers) ApplyTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	principal := principalFrom(c)
	result, err := h.engine.ApplyTransition(c.Request.Context(), workflow.TransitionRequest{
		ApplicationID:   c.Param("id"),
		Action:          domainwf.Action(strings.ToUpper(strings.TrimSpace(req.Action))),
		Role:            principal.Role,
		Identity:        principal.Identity,
		Note:            req.Note,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.logFailure("Transition rejected", err)
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result)
}

// GetHistory handles GET /api/applications/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	if _, ok := h.readableApplication(c); !ok {
		return
	}

	entries, err := h.trail.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logFailure("Failed to read history", err)
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, entries)
}

// ExportHistory handles GET /api/applications/:id/history.xlsx
func (h *Handlers) ExportHistory(c *gin.Context) {
	if _, ok := h.readableApplication(c); !ok {
		return
	}

	id := c.Param("id")
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="history-%s.xlsx"`, id))

	if err := h.exporter.WriteXLSX(c.Request.Context(), id, c.Writer); err != nil {
		h.logFailure("Failed to export history", err)
		if !c.Writer.Written() {
			c.Header("Content-Type", "application/json")
			c.Header("Content-Disposition", "")
			respondError(c, err)
		}
		return
	}
}

// VerifyHistory handles GET /api/applications/:id/history/verify
func (h *Handlers) VerifyHistory(c *gin.Context) {
	verification, err := h.trail.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logFailure("Failed to verify history", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, verification)
}

// readableApplication loads the application named in the path and hides other
// applicants' applications behind a 404
func (h *Handlers) readableApplication(c *gin.Context) (*workflow.ApplicationView, bool) {
	principal := principalFrom(c)

	view, err := h.engine.Get(c.Request.Context(), c.Param("id"), principal.Role)
	if err != nil {
		h.logFailure("Failed to load application", err)
		respondError(c, err)
		return nil, false
	}

	if !principal.Role.SeesAllApplications() && view.Application.ApplicantRef != principal.Identity {
		respondError(c, fmt.Errorf("%w: %s", domainwf.ErrNotFound, c.Param("id")))
		return nil, false
	}
	return view, true
}

func (h *Handlers) logFailure(msg string, err error) {
	if workflow.IsSemantic(err) {
		h.logger.Info(msg, "reason", err.Error())
		return
	}
	h.logger.Error(msg, "error", err)
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// statusFor maps an application error to an HTTP status and a machine-readable code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domainwf.ErrRoleNotPermitted):
		return http.StatusForbidden, "role_not_permitted"
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domainwf.ErrStaleState):
		return http.StatusConflict, "stale_state"
	case errors.Is(err, domainwf.ErrNoteRequired):
		return http.StatusUnprocessableEntity, "note_required"
	case errors.Is(err, domainwf.ErrTransient):
		return http.StatusServiceUnavailable, "transient"
	case errors.Is(err, workflow.ErrInvalidRequest),
		errors.Is(err, domainwf.ErrInvalidAction),
		errors.Is(err, domainwf.ErrInvalidState):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, Response{Success: false, Error: msg, Code: code})
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg, Code: code})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

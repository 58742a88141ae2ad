package http

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/recruit-workflow/internal/application/dispatcher"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

// eventFilter picks the subscription filter for the caller. HR and ADMIN see every
// application; an applicant sees only their own. An application_id query narrows either.
func (h *Handlers) eventFilter(c *gin.Context) (dispatcher.Filter, bool) {
	principal := principalFrom(c)
	applicationID := c.Query("application_id")

	if applicationID == "" {
		if principal.Role.SeesAllApplications() {
			return dispatcher.ForRole(principal.Role), true
		}
		return dispatcher.ForApplicant(principal.Identity), true
	}

	if !principal.Role.SeesAllApplications() {
		view, err := h.engine.Get(c.Request.Context(), applicationID, principal.Role)
		if err != nil {
			respondError(c, err)
			return nil, false
		}
		if view.Application.ApplicantRef != principal.Identity {
			respondError(c, fmt.Errorf("%w: %s", domainwf.ErrNotFound, applicationID))
			return nil, false
		}
	}
	return dispatcher.ForApplication(applicationID), true
}

// sessionID scopes the client's session id to its identity so one caller
// cannot replace another caller's subscription
func sessionID(c *gin.Context) string {
	id := c.Query("session_id")
	if id == "" {
		return ""
	}
	return principalFrom(c).Identity + "/" + id
}

// StreamEvents handles GET /api/events as a server-sent event stream.
// Clients should re-fetch state after connecting; missed events are never replayed.
func (s *Server) StreamEvents(c *gin.Context) {
	filter, ok := s.handlers.eventFilter(c)
	if !ok {
		return
	}

	sub, err := s.broadcaster.Subscribe(sessionID(c), filter)
	if err != nil {
		abortWithError(c, http.StatusServiceUnavailable, "transient", err.Error())
		return
	}
	defer s.broadcaster.Release(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("subscribed", gin.H{"session_id": sub.ID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.config.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.streams.Done():
			c.SSEvent("closed", gin.H{"reason": "shutdown"})
			return false
		case evt, open := <-sub.Events():
			if !open {
				c.SSEvent("closed", gin.H{"reason": dispatcher.CloseReason(sub.Err())})
				return false
			}
			c.SSEvent(evt.Type.String(), evt)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC().Format(time.RFC3339)})
			return true
		}
	})
}

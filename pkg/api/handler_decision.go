package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resolvd/decisiond/pkg/services"
)

// submitDecisionHandler handles POST /api/v1/decisions.
//
// A fresh turn answers 202 with the session and resume token. A turn already
// completed under the same (scenario_id, client_turn_id) answers 200 from
// the idempotency cache. A turn still executing answers 409 pointing at the
// original's stream.
func (s *Server) submitDecisionHandler(c *gin.Context) {
	var req SubmitDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Brief)+len(req.Context) > maxBriefSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("brief and context exceed maximum size of %d bytes", maxBriefSize),
		})
		return
	}

	result, err := s.decisions.Submit(c.Request.Context(), services.SubmitInput{
		ScenarioID:   req.ScenarioID,
		ClientTurnID: req.ClientTurnID,
		Brief:        req.Brief,
		Context:      req.Context,
	})
	if err != nil {
		if sessionID, ok := services.IsDuplicateError(err); ok {
			c.JSON(http.StatusConflict, DuplicateDecisionResponse{
				SessionID: sessionID,
				Status:    "in_flight",
				StreamURL: streamURL(sessionID),
				Detail:    "an identical submission is already executing; follow its stream",
			})
			return
		}
		mapServiceError(c, err)
		return
	}

	if result.Cached != nil {
		resp := CachedDecisionResponse{
			SessionID: result.Cached.SessionID,
			Status:    "completed",
			Cached:    true,
			Result:    result.Cached.Result,
		}
		if result.Cached.ErrorKind != "" {
			resp.Status = "failed"
			resp.Error = &CachedError{
				Kind:    string(result.Cached.ErrorKind),
				Message: result.Cached.ErrorMessage,
			}
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	if result.Degraded {
		c.Header(degradedHeader, degradedDependency)
	}
	c.JSON(http.StatusAccepted, SubmitDecisionResponse{
		SessionID:   result.SessionID,
		ResumeToken: result.ResumeToken,
		StreamURL:   streamURL(result.SessionID),
		Degraded:    result.Degraded,
		Status:      "accepted",
	})
}

func streamURL(sessionID string) string {
	return "/api/v1/sessions/" + sessionID + "/stream"
}

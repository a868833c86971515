package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/sdk"
	"github.com/caster-net/caster/pkg/tools"
)

// handleExecuteTool handles POST /v1/tools/execute.
//
// Flow:
//  1. Decode the body; malformed bodies or session ids are an invalid
//     request.
//  2. Resolve the bearer token: the x-caster-token header wins, the body
//     field is the fallback.
//  3. Run the dispatcher.
//  4. Map failures onto the sanitized enum; success returns the dispatcher
//     result as-is.
func (s *Server) handleExecuteTool(c *gin.Context) {
	var req executeToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	token := c.GetHeader(sdk.TokenHeader)
	if token == "" {
		token = req.Token
	}

	result, err := s.executor.Execute(c.Request.Context(), tools.Invocation{
		SessionID: sessionID,
		Token:     token,
		Tool:      req.Tool,
		Args:      req.Args,
		Kwargs:    req.Kwargs,
	})
	if err != nil {
		status, message := mapToolError(err)
		s.logger.Warn("Tool execute failed",
			"tool", req.Tool,
			"status", status,
			"error", err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, result)
}

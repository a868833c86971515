package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caster-net/caster/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// handleHealth handles GET /healthz. Only the host's own components are
// checked; upstream providers are excluded so an upstream outage cannot get
// the validator restarted.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	dbHealth, err := s.db.Health(ctx)
	if err != nil {
		status = healthStatusUnhealthy
	}

	resp := &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Database: dbHealth,
	}
	if s.worker != nil {
		snapshot := s.worker.Health()
		resp.Worker = &snapshot
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}

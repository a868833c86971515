package api

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// callerKey is the gin context key holding the verified platform address.
const callerKey = "caster.caller"

// securityHeaders returns middleware that sets standard security response
// headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requestLogger logs one line per completed request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// signedCaller verifies the platform signature over the literal request
// bytes and stores the caller address in the context. The body is restored
// for downstream binding. Failures are a uniform 401; the reason is logged,
// never returned.
func (s *Server) signedCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := s.verifier.VerifyRequest(
			c.Request.Method, c.Request.URL.Path, c.Request.URL.RawQuery,
			body, c.GetHeader("Authorization"))
		if err != nil {
			s.logger.Warn("Rejected platform call",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consolegate/consolegate/internal/guard"
)

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		event := s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())

		if decision, ok := guard.GetDecision(c); ok {
			event = event.Str("guard", decision.Action.String())
			if decision.MalformedSession {
				event = event.Bool("malformed_session", true)
			}
		}

		event.Msg("HTTP request")
	}
}

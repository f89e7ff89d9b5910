package server

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const headerAPIKey = "X-API-KEY"

// APIKeyRequired guards the ingestion surface. With no key configured
// every request is rejected; the submission endpoints are never open.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := s.cfg.APIKey
		presented := strings.TrimSpace(c.GetHeader(headerAPIKey))

		if configured == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// loggerMiddleware creates a logging middleware
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		s.logger.Info("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}

// recoveryMiddleware creates a recovery middleware
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "server_error",
				})
			}
		}()
		c.Next()
	}
}

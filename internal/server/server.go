package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/furchert/authd/internal/token"
	"github.com/furchert/authd/internal/userdir"
	"github.com/furchert/authd/pkg/metrics"
)

// Server wires the token service and the user directory onto HTTP routes.
type Server struct {
	logger  *zap.Logger
	tokens  *token.Service
	users   *userdir.Client
	metrics *metrics.Metrics
	issuer  string
}

func NewServer(logger *zap.Logger, tokens *token.Service, users *userdir.Client, m *metrics.Metrics, issuer string) *Server {
	return &Server{
		logger:  logger.Named("server"),
		tokens:  tokens,
		users:   users,
		metrics: m,
		issuer:  issuer,
	}
}

// RegisterRoutes registers all HTTP routes on the router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.Use(s.recoveryMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(s.metrics.Middleware())

	router.POST("/oauth/token", s.handleToken)
	router.POST("/oauth/revoke", s.handleRevoke)
	router.POST("/oauth/introspect", s.handleIntrospect)
	router.POST("/auth/login", s.handleLogin)
	router.GET("/.well-known/oauth-authorization-server", s.handleMetadata)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

package router

import (
	"net/http"
	"time"

	"soop-chat/backend/internal/api"
	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/di"
	"soop-chat/backend/pkg/errors"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/middleware"
	"soop-chat/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
	validator *validator.OpenAPIValidator
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Logger first so every later middleware sees the request-scoped logger
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes(metrics http.Handler) {
	health := r.Container.Health.Handler()
	r.Engine.GET("/health", health)
	r.Engine.GET("/api/health", health)
	if metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(metrics))
	}

	// The gateway authenticates during the handshake itself
	r.Engine.GET("/ws", r.Container.Gateway.ServeWS)

	chat := r.Engine.Group("/api/v1/chat")
	chat.Use(middleware.JWTAuthMiddleware(r.Container.JWTService))
	chat.Use(r.Container.RateLimiter.Middleware())
	if r.validator != nil {
		chat.Use(r.validator.Middleware())
	}

	api.NewChatHandler(r.Container.RoomService, r.Container.ChatService).RegisterRoutes(chat)

	r.Engine.NoRoute(func(c *gin.Context) {
		c.Error(errors.NewNotFoundError("ROUTE_NOT_FOUND", "Route not found"))
	})
}

func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// corsMiddleware allows the configured origins and the websocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin != "" && (allowAll || origins[origin]):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		case origin == "" && allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Server returns the HTTP server for the configured port
func (r *Router) Server() *http.Server {
	return &http.Server{
		Addr:              ":" + r.Config.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Package ws implements the connection gateway: authenticated websocket
// sessions, per-room subscriptions and the relay from the fan-out bus.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/jwt"
	"soop-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ChatHandler is the part of the chat service a connection drives
type ChatHandler interface {
	Send(ctx context.Context, roomID, senderID uint, body string) (*models.Message, error)
	Authorize(ctx context.Context, roomID, userID uint) error
	History(ctx context.Context, roomID, viewer uint, opts repository.ListOptions) (*models.MessagePage, error)
	MarkRead(ctx context.Context, roomID uint, messageID string, viewer uint) error
	MarkAllRead(ctx context.Context, roomID, viewer uint) (int64, error)
}

// TokenValidator resolves an access token to its claims
type TokenValidator interface {
	ValidateToken(token string) (*jwt.JWTClaims, error)
}

// UserChecker confirms that a token's subject still exists
type UserChecker interface {
	UserExists(ctx context.Context, id uint) (bool, error)
}

// GatewayConfig holds per-connection limits
type GatewayConfig struct {
	SendRate       float64
	SendBurst      int
	QueueSize      int
	AllowedOrigins []string
}

// GatewayConfigFrom maps application config onto gateway limits
func GatewayConfigFrom(cfg *config.Config) GatewayConfig {
	return GatewayConfig{
		SendRate:       cfg.Security.WSSendRate,
		SendBurst:      cfg.Security.WSSendBurst,
		QueueSize:      cfg.Security.WSSendQueueSize,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	}
}

// Gateway upgrades authenticated requests into gateway connections
type Gateway struct {
	hub      *Hub
	chat     ChatHandler
	tokens   TokenValidator
	users    UserChecker
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewGateway creates a gateway attaching its connections to hub
func NewGateway(hub *Hub, chat ChatHandler, tokens TokenValidator, users UserChecker, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 5
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 10
	}

	g := &Gateway{
		hub:    hub,
		chat:   chat,
		tokens: tokens,
		users:  users,
		cfg:    cfg,
		log:    log.With("component", "ws_gateway"),
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin:      g.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// authenticate resolves the caller from the token query parameter or the
// Authorization header
func (g *Gateway) authenticate(c *gin.Context) (uint, error) {
	raw := c.Query("token")
	if raw == "" {
		raw = c.GetHeader("Authorization")
	}
	token, err := jwt.BearerToken(raw)
	if err != nil {
		return 0, err
	}

	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return 0, err
	}

	ok, err := g.users.UserExists(c.Request.Context(), claims.UserID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, jwt.ErrInvalidToken
	}
	return claims.UserID, nil
}

// ServeWS authenticates before upgrading so an unauthenticated peer never gets
// a session. The handler blocks for the life of the connection.
func (g *Gateway) ServeWS(c *gin.Context) {
	userID, err := g.authenticate(c)
	if err != nil {
		g.log.Debug("Gateway handshake refused", "remote", c.ClientIP(), "error", err.Error())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"code": "UNAUTHORIZED", "message": "Invalid or missing token"},
		})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("Failed to upgrade connection", "user_id", userID, "error", err.Error())
		return
	}

	id := uuid.NewString()
	log := g.log.WithConnID(id).WithUserID(userID)
	client := newClient(context.WithoutCancel(c.Request.Context()), id, userID, conn, g.hub, g.chat, g.cfg, log)

	g.hub.register(client)
	log.Info("Connection established")

	go client.writePump()
	client.readPump()
}

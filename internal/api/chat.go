// Package api exposes the chat REST surface under /api/v1/chat.
package api

import (
	"net/http"
	"strconv"

	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/internal/service"
	apperrors "soop-chat/backend/pkg/errors"
	"soop-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// NOTE: the caller is always read through middleware.UserID, which the JWT
// middleware sets under the "userId" key.

// ChatHandler serves rooms, bot profiles and messages
type ChatHandler struct {
	rooms *service.RoomService
	chat  *service.ChatService
}

// NewChatHandler creates a chat handler
func NewChatHandler(rooms *service.RoomService, chat *service.ChatService) *ChatHandler {
	return &ChatHandler{rooms: rooms, chat: chat}
}

// RegisterRoutes mounts the chat routes on an authenticated group
func (h *ChatHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/bots", h.CreateBotProfile)
	group.GET("/bots", h.ListBotProfiles)

	group.POST("/ai-rooms", h.CreateBotRoom)
	group.POST("/ai-rooms/defaults", h.CreateDefaultBotRooms)
	group.GET("/ai-rooms", h.ListBotRooms)
	group.GET("/ai-rooms/:roomId", h.GetBotRoom)

	group.POST("/direct-rooms", h.CreateDirectRoom)
	group.GET("/direct-rooms", h.ListDirectRooms)

	group.GET("/rooms/:roomId/messages", h.History)
	group.POST("/rooms/:roomId/messages", h.Send)
	group.POST("/rooms/:roomId/read", h.MarkAllRead)
	group.POST("/rooms/:roomId/messages/:messageId/read", h.MarkRead)
}

func caller(c *gin.Context) (uint, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return 0, false
	}
	return id, true
}

func roomParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("roomId"), 10, 64)
	if err != nil || id == 0 {
		c.Error(apperrors.NewBadRequestError("INVALID_ROOM_ID", "Room id must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}

func fail(c *gin.Context, err error) {
	c.Error(service.ToAppError(err))
}

func badRequest(c *gin.Context, err error) {
	c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request format").WithCause(err))
}

// CreateBotProfile handles POST /bots
func (h *ChatHandler) CreateBotProfile(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var req models.CreateBotProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := h.rooms.CreateBotProfile(c.Request.Context(), userID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// ListBotProfiles handles GET /bots
func (h *ChatHandler) ListBotProfiles(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	profiles, err := h.rooms.ListBotProfiles(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": profiles})
}

// CreateBotRoom handles POST /ai-rooms
func (h *ChatHandler) CreateBotRoom(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var req models.CreateBotRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.rooms.CreateBotRoom(c.Request.Context(), userID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// CreateDefaultBotRooms handles POST /ai-rooms/defaults
func (h *ChatHandler) CreateDefaultBotRooms(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.CreateDefaultBotRooms(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rooms": rooms})
}

// ListBotRooms handles GET /ai-rooms
func (h *ChatHandler) ListBotRooms(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListBotRooms(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetBotRoom handles GET /ai-rooms/:roomId
func (h *ChatHandler) GetBotRoom(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	room, err := h.rooms.GetBotRoom(c.Request.Context(), userID, roomID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// CreateDirectRoom handles POST /direct-rooms. A zero target opens the bot room.
func (h *ChatHandler) CreateDirectRoom(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var req models.CreateDirectRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.rooms.GetOrCreateDirect(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": room.ID, "room": room})
}

// ListDirectRooms handles GET /direct-rooms
func (h *ChatHandler) ListDirectRooms(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListDirectRooms(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// History handles GET /rooms/:roomId/messages
func (h *ChatHandler) History(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	opts := repository.ListOptions{
		Order:  models.ParseSortOrder(c.Query("order")),
		Cursor: c.Query("cursor"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.Error(apperrors.NewBadRequestError("INVALID_LIMIT", "limit must be a non-negative integer"))
			return
		}
		opts.Limit = limit
	}

	page, err := h.chat.History(c.Request.Context(), roomID, userID, opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Send handles POST /rooms/:roomId/messages
func (h *ChatHandler) Send(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), roomID, userID, req.Body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkAllRead handles POST /rooms/:roomId/read
func (h *ChatHandler) MarkAllRead(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	n, err := h.chat.MarkAllRead(c.Request.Context(), roomID, userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// MarkRead handles POST /rooms/:roomId/messages/:messageId/read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	if err := h.chat.MarkRead(c.Request.Context(), roomID, c.Param("messageId"), userID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

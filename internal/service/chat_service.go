package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soop-chat/backend/internal/bus"
	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BotTurn is a user message waiting for a bot answer
type BotTurn struct {
	RoomID     uint
	MessageID  string
	SenderID   uint
	Body       string
	EnqueuedAt time.Time
}

// BotDispatcher schedules bot turns. Dispatch must not block on generation.
type BotDispatcher interface {
	Dispatch(turn BotTurn)
}

// ChatService is the message hot path: persist, touch, publish and hand bot rooms to the responder
type ChatService struct {
	stores  Stores
	rooms   *RoomService
	pub     bus.Publisher
	topics  bus.Topics
	bot     BotDispatcher
	metrics *observability.Metrics
	tracer  trace.Tracer
	log     *logger.Logger
}

// NewChatService creates a chat service
func NewChatService(stores Stores, rooms *RoomService, pub bus.Publisher, topics bus.Topics, metrics *observability.Metrics, log *logger.Logger) *ChatService {
	return &ChatService{
		stores:  stores,
		rooms:   rooms,
		pub:     pub,
		topics:  topics,
		metrics: metrics,
		tracer:  otel.Tracer("soop-chat/backend/internal/service"),
		log:     log,
	}
}

// SetBotDispatcher wires the responder that answers bot rooms
func (s *ChatService) SetBotDispatcher(d BotDispatcher) {
	s.bot = d
}

// Send accepts a message from senderID into roomID. The returned message is
// durably stored even when live fan-out failed.
func (s *ChatService) Send(ctx context.Context, roomID, senderID uint, body string) (*models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.Send", trace.WithAttributes(
		attribute.Int64("room.id", int64(roomID)),
		attribute.Int64("sender.id", int64(senderID)),
	))
	defer span.End()

	body, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}

	room, err := s.authorize(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomEnabled {
		return nil, ErrRoomDisabled
	}

	msg, err := s.accept(ctx, roomID, senderID, body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if room.Kind == models.RoomUserToBot && s.bot != nil {
		s.bot.Dispatch(BotTurn{
			RoomID:     roomID,
			MessageID:  msg.ID,
			SenderID:   senderID,
			Body:       msg.Body,
			EnqueuedAt: time.Now(),
		})
	}

	return msg, nil
}

// DeliverBotMessage stores and publishes a message authored by the bot sentinel
func (s *ChatService) DeliverBotMessage(ctx context.Context, roomID uint, body string) (*models.Message, error) {
	return s.accept(ctx, roomID, models.BotPeer, body)
}

// accept runs persist, touch and publish. Only the persist step can fail it.
func (s *ChatService) accept(ctx context.Context, roomID, senderID uint, body string) (*models.Message, error) {
	log := s.log.WithRoomID(roomID)

	msg, err := s.stores.Messages.Append(ctx, roomID, senderID, body)
	if err != nil {
		log.Error("Failed to store message", "sender_id", senderID, "error", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	s.metrics.MessagesAccepted.Add(ctx, 1)

	if err := s.rooms.Touch(ctx, roomID); err != nil {
		log.Warn("Failed to touch room", "error", err.Error())
	}

	if err := s.publish(ctx, msg); err != nil {
		s.metrics.PublishFailures.Add(ctx, 1)
		log.Warn("Message stored but not fanned out", "message_id", msg.ID, "error", err.Error())
	}

	return msg, nil
}

func (s *ChatService) publish(ctx context.Context, msg *models.Message) error {
	env, err := bus.NewEnvelope(bus.TypeMessage, msg.RoomID, msg)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, s.topics.Room(msg.RoomID), env); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

// Authorize checks that userID may read and write roomID
func (s *ChatService) Authorize(ctx context.Context, roomID, userID uint) error {
	_, err := s.authorize(ctx, roomID, userID)
	return err
}

func (s *ChatService) authorize(ctx context.Context, roomID, userID uint) (*models.Room, error) {
	room, err := s.rooms.Resolve(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == models.RoomDeleted {
		return nil, ErrRoomNotFound
	}
	ok, err := s.stores.Members.IsMember(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return room, nil
}

// History returns one page of a room's messages to a member
func (s *ChatService) History(ctx context.Context, roomID, viewer uint, opts repository.ListOptions) (*models.MessagePage, error) {
	if _, err := s.authorize(ctx, roomID, viewer); err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = repository.DefaultListLimit
	}
	if opts.Limit > repository.MaxListLimit {
		opts.Limit = repository.MaxListLimit
	}

	msgs, err := s.stores.Messages.ListByRoom(ctx, roomID, opts)
	if err != nil {
		return nil, err
	}

	page := &models.MessagePage{Messages: msgs}
	if len(msgs) == opts.Limit {
		page.NextCursor = msgs[len(msgs)-1].ID
	}
	return page, nil
}

// MarkRead marks one message read for viewer. Marking your own message is a no-op.
func (s *ChatService) MarkRead(ctx context.Context, roomID uint, messageID string, viewer uint) error {
	if _, err := s.authorize(ctx, roomID, viewer); err != nil {
		return err
	}

	msg, err := s.stores.Messages.Get(ctx, roomID, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.SenderID == viewer || msg.Read {
		return nil
	}

	if err := s.stores.Messages.MarkRead(ctx, roomID, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	return nil
}

// MarkAllRead marks every message not sent by viewer as read
func (s *ChatService) MarkAllRead(ctx context.Context, roomID, viewer uint) (int64, error) {
	if _, err := s.authorize(ctx, roomID, viewer); err != nil {
		return 0, err
	}
	return s.stores.Messages.MarkAllReadExcept(ctx, roomID, viewer)
}

// HasUnread reports whether the latest message of a room is unread and not from viewer
func (s *ChatService) HasUnread(ctx context.Context, roomID, viewer uint) (bool, error) {
	latest, err := s.stores.Messages.Latest(ctx, roomID)
	if err != nil {
		return false, err
	}
	return hasUnread(latest, viewer), nil
}

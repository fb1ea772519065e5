// Package repository holds the durable state of the chat subsystem.
// Every store is a narrow interface with a gorm implementation for
// production and an in-memory one for tests and single-node demos.
package repository

import (
	"context"
	"errors"
	"time"

	"soop-chat/backend/internal/models"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned by point lookups on absent rows
	ErrNotFound = errors.New("record not found")
	// ErrDuplicatePair means a direct room for the pair already exists
	ErrDuplicatePair = errors.New("room pair already exists")
	// ErrNoPairKey means a pair lookup was attempted on a room without one
	ErrNoPairKey = errors.New("room has no pair key")
)

// DefaultListLimit bounds history scans that do not ask for a limit
const DefaultListLimit = 50

// MaxListLimit caps any single history page
const MaxListLimit = 200

// ListOptions drives a history scan. Cursor is the id of the last message of
// the previous page; the scan resumes strictly after it in Order.
type ListOptions struct {
	Order  models.SortOrder
	Limit  int
	Cursor string
}

func (o ListOptions) normalized() ListOptions {
	if o.Order != models.OrderDesc {
		o.Order = models.OrderAsc
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	return o
}

// MessageStore owns chat messages
type MessageStore interface {
	// Append assigns id and created_at and durably writes the message
	Append(ctx context.Context, roomID, senderID uint, body string) (*models.Message, error)
	Get(ctx context.Context, roomID uint, messageID string) (*models.Message, error)
	ListByRoom(ctx context.Context, roomID uint, opts ListOptions) ([]models.Message, error)
	// Latest returns nil without error for an empty room
	Latest(ctx context.Context, roomID uint) (*models.Message, error)
	MarkRead(ctx context.Context, roomID uint, messageID string) error
	// MarkAllReadExcept returns the number of messages that changed
	MarkAllReadExcept(ctx context.Context, roomID, senderID uint) (int64, error)
}

// RoomStore owns room rows
type RoomStore interface {
	Get(ctx context.Context, id uint) (*models.Room, error)
	Create(ctx context.Context, room *models.Room) error
	// GetOrCreateByPair inserts room unless a room with the same PairKey exists.
	// It returns the stored room and whether this call created it.
	GetOrCreateByPair(ctx context.Context, room *models.Room) (*models.Room, bool, error)
	Touch(ctx context.Context, id uint, at time.Time) error
	// ListByIDs returns the matching rooms newest activity first
	ListByIDs(ctx context.Context, ids []uint, kinds ...models.RoomKind) ([]models.Room, error)
}

// MembershipStore owns room participation
type MembershipStore interface {
	IsMember(ctx context.Context, userID, roomID uint) (bool, error)
	Add(ctx context.Context, userID, roomID uint) error
	OthersIn(ctx context.Context, roomID, excluding uint) ([]uint, error)
	RoomsOf(ctx context.Context, userID uint) ([]uint, error)
}

// BotProfileStore owns bot personas
type BotProfileStore interface {
	Create(ctx context.Context, profile *models.BotProfile) error
	Get(ctx context.Context, id uint) (*models.BotProfile, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]models.BotProfile, error)
}

// UserDirectory resolves account identities
type UserDirectory interface {
	UserExists(ctx context.Context, id uint) (bool, error)
	UserProfile(ctx context.Context, id uint) (*models.User, error)
}

// newMessage stamps a message with a time-ordered id matching its created_at
func newMessage(roomID, senderID uint, body string) *models.Message {
	now := time.Now().UTC()
	return &models.Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
	}
}

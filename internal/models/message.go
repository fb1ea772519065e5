package models

import (
	"time"
)

// BotPeer is the reserved user id that authors automated responses.
// No account row ever carries it and it never holds a membership.
const BotPeer uint = 0

// Message is a single chat line. Only Read changes after insert.
type Message struct {
	ID        string    `json:"id" gorm:"primaryKey;size:26;index:idx_messages_room_id_id,priority:2"`
	RoomID    uint      `json:"roomId" gorm:"not null;index:idx_messages_room_id_id,priority:1"`
	SenderID  uint      `json:"senderId" gorm:"not null;index"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	Read      bool      `json:"read" gorm:"column:is_read;not null;default:false;index"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

// FromBot reports whether the message was authored by the bot sentinel
func (m *Message) FromBot() bool {
	return m.SenderID == BotPeer
}

// SortOrder controls the direction of a history scan
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseSortOrder returns OrderAsc unless s names the descending order
func ParseSortOrder(s string) SortOrder {
	if SortOrder(s) == OrderDesc {
		return OrderDesc
	}
	return OrderAsc
}

// SendMessageRequest is the body of a REST send
type SendMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// MessagePage is one page of room history
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

package models

import (
	"fmt"
	"strconv"
	"time"
)

// RoomKind classifies the parties of a room
type RoomKind string

const (
	RoomUserToUser   RoomKind = "USER_TO_USER"
	RoomUserToBot    RoomKind = "USER_TO_BOT"
	RoomUserToExpert RoomKind = "USER_TO_EXPERT"
)

// RoomStatus models soft removal; rooms are never physically deleted
type RoomStatus string

const (
	RoomEnabled  RoomStatus = "ENABLED"
	RoomDisabled RoomStatus = "DISABLED"
	RoomDeleted  RoomStatus = "DELETED"
)

// Room is a conversation context between two parties
type Room struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	Kind          RoomKind   `json:"kind" gorm:"size:20;not null;index"`
	Title         string     `json:"title"`
	Status        RoomStatus `json:"status" gorm:"size:10;not null;default:ENABLED"`
	PairKey       *string    `json:"-" gorm:"size:64;uniqueIndex"`
	BotProfileID  *uint      `json:"botProfileId,omitempty" gorm:"index"`
	LastMessageAt time.Time  `json:"lastMessageAt" gorm:"not null;index"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Membership records that a user participates in a room
type Membership struct {
	RoomID    uint      `json:"roomId" gorm:"primaryKey;autoIncrement:false"`
	UserID    uint      `json:"userId" gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time `json:"createdAt"`
}

// PairKey returns the canonical identity of a direct room between a and b.
// The lower id always comes first so both directions map to the same key.
func PairKey(a, b uint) string {
	if b < a {
		a, b = b, a
	}
	return strconv.FormatUint(uint64(a), 10) + ":" + strconv.FormatUint(uint64(b), 10)
}

// DirectRoomTitle is the display title given to a newly created direct room
func DirectRoomTitle(a, b uint) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("Chat Room between %d and %d", a, b)
}

// CreateDirectRoomRequest asks for the room shared with another party.
// A zero target means the bot.
type CreateDirectRoomRequest struct {
	TargetUserID uint `json:"targetUserId"`
}

// Participant is the display identity of the other side of a room
type Participant struct {
	UserID      uint   `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// RoomSummary is one entry of a room list
type RoomSummary struct {
	Room
	LatestMessage string       `json:"latestMessage"`
	HasUnread     bool         `json:"isNew"`
	Other         *Participant `json:"other,omitempty"`
	Bot           *BotProfile  `json:"bot,omitempty"`
}

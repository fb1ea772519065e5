package service

import (
	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"

	"gorm.io/gorm"
)

// Stores groups the repositories the services read and write
type Stores struct {
	Messages repository.MessageStore
	Rooms    repository.RoomStore
	Members  repository.MembershipStore
	Bots     repository.BotProfileStore
	Users    repository.UserDirectory
}

// NewGormStores returns the database-backed stores
func NewGormStores(db *gorm.DB) Stores {
	return Stores{
		Messages: repository.NewGormMessageStore(db),
		Rooms:    repository.NewGormRoomStore(db),
		Members:  repository.NewGormMembershipStore(db),
		Bots:     repository.NewGormBotProfileStore(db),
		Users:    repository.NewGormUserDirectory(db),
	}
}

// NewMemoryStores returns in-memory stores, useful for tests and single-node demos
func NewMemoryStores(users ...models.User) Stores {
	return Stores{
		Messages: repository.NewMemoryMessageStore(),
		Rooms:    repository.NewMemoryRoomStore(),
		Members:  repository.NewMemoryMembershipStore(),
		Bots:     repository.NewMemoryBotProfileStore(),
		Users:    repository.NewMemoryUserDirectory(users...),
	}
}

// hasUnread is true when the latest message came from someone else and is still unread
func hasUnread(latest *models.Message, viewer uint) bool {
	return latest != nil && latest.SenderID != viewer && !latest.Read
}

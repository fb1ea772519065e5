package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soop-chat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate creates or updates the chat tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.BotProfile{},
		&models.Room{},
		&models.Membership{},
		&models.Message{},
	)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GormMessageStore is the SQL message store
type GormMessageStore struct {
	db *gorm.DB
}

// NewGormMessageStore creates a message store on db
func NewGormMessageStore(db *gorm.DB) *GormMessageStore {
	return &GormMessageStore{db: db}
}

func (s *GormMessageStore) Append(ctx context.Context, roomID, senderID uint, body string) (*models.Message, error) {
	msg := newMessage(roomID, senderID, body)
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *GormMessageStore) Get(ctx context.Context, roomID uint, messageID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND room_id = ?", messageID, roomID).
		First(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (s *GormMessageStore) ListByRoom(ctx context.Context, roomID uint, opts ListOptions) ([]models.Message, error) {
	opts = opts.normalized()

	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if opts.Order == models.OrderDesc {
		if opts.Cursor != "" {
			q = q.Where("id < ?", opts.Cursor)
		}
		q = q.Order("id DESC")
	} else {
		if opts.Cursor != "" {
			q = q.Where("id > ?", opts.Cursor)
		}
		q = q.Order("id ASC")
	}

	var msgs []models.Message
	if err := q.Limit(opts.Limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *GormMessageStore) Latest(ctx context.Context, roomID uint) (*models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (s *GormMessageStore) MarkRead(ctx context.Context, roomID uint, messageID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND room_id = ?", messageID, roomID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Some drivers only count changed rows; confirm the message exists.
		if _, err := s.Get(ctx, roomID, messageID); err != nil {
			return err
		}
	}
	return nil
}

func (s *GormMessageStore) MarkAllReadExcept(ctx context.Context, roomID, senderID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, senderID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark all read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GormRoomStore is the SQL room registry storage
type GormRoomStore struct {
	db *gorm.DB
}

// NewGormRoomStore creates a room store on db
func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	return &GormRoomStore{db: db}
}

func (s *GormRoomStore) Get(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *GormRoomStore) Create(ctx context.Context, room *models.Room) error {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetOrCreateByPair leans on the unique pair_key index so two servers racing
// on the same pair still end up with a single row.
func (s *GormRoomStore) GetOrCreateByPair(ctx context.Context, room *models.Room) (*models.Room, bool, error) {
	if room.PairKey == nil {
		return nil, false, ErrNoPairKey
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).
		Create(room)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert room: %w", res.Error)
	}
	created := res.RowsAffected == 1

	var stored models.Room
	err := s.db.WithContext(ctx).
		Where("pair_key = ?", *room.PairKey).
		First(&stored).Error
	if err != nil {
		return nil, false, translate(err)
	}
	return &stored, created, nil
}

func (s *GormRoomStore) Touch(ctx context.Context, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", id).
		Update("last_message_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormRoomStore) ListByIDs(ctx context.Context, ids []uint, kinds ...models.RoomKind) ([]models.Room, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("status <> ?", models.RoomDeleted)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}

	var rooms []models.Room
	if err := q.Order("last_message_at DESC").Order("id DESC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// GormMembershipStore is the SQL membership ledger
type GormMembershipStore struct {
	db *gorm.DB
}

// NewGormMembershipStore creates a membership ledger on db
func NewGormMembershipStore(db *gorm.DB) *GormMembershipStore {
	return &GormMembershipStore{db: db}
}

func (s *GormMembershipStore) IsMember(ctx context.Context, userID, roomID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

func (s *GormMembershipStore) Add(ctx context.Context, userID, roomID uint) error {
	m := &models.Membership{RoomID: roomID, UserID: userID, CreatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s *GormMembershipStore) OthersIn(ctx context.Context, roomID, excluding uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("room_id = ? AND user_id <> ?", roomID, excluding).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	return ids, nil
}

func (s *GormMembershipStore) RoomsOf(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("user_id = ?", userID).
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list user rooms: %w", err)
	}
	return ids, nil
}

// GormBotProfileStore is the SQL persona store
type GormBotProfileStore struct {
	db *gorm.DB
}

// NewGormBotProfileStore creates a persona store on db
func NewGormBotProfileStore(db *gorm.DB) *GormBotProfileStore {
	return &GormBotProfileStore{db: db}
}

func (s *GormBotProfileStore) Create(ctx context.Context, profile *models.BotProfile) error {
	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("insert bot profile: %w", err)
	}
	return nil
}

func (s *GormBotProfileStore) Get(ctx context.Context, id uint) (*models.BotProfile, error) {
	var p models.BotProfile
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormBotProfileStore) ListByOwner(ctx context.Context, ownerID uint) ([]models.BotProfile, error) {
	var profiles []models.BotProfile
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id").
		Find(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("list bot profiles: %w", err)
	}
	return profiles, nil
}

// GormUserDirectory reads the shared users table
type GormUserDirectory struct {
	db *gorm.DB
}

// NewGormUserDirectory creates a user directory on db
func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{db: db}
}

func (d *GormUserDirectory) UserExists(ctx context.Context, id uint) (bool, error) {
	if id == models.BotPeer {
		return false, nil
	}
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return count > 0, nil
}

func (d *GormUserDirectory) UserProfile(ctx context.Context, id uint) (*models.User, error) {
	if id == models.BotPeer {
		return nil, ErrNotFound
	}
	var u models.User
	if err := d.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/cache"
	"soop-chat/backend/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// RoomService resolves and lists conversation rooms
type RoomService struct {
	stores Stores
	cache  *cache.Cache[uint, models.Room]
	group  singleflight.Group
	log    *logger.Logger
	now    func() time.Time
}

// NewRoomService creates a room service. roomCache holds rooms by id for the
// send path; it may be shared but must not be nil.
func NewRoomService(stores Stores, roomCache *cache.Cache[uint, models.Room], log *logger.Logger) *RoomService {
	return &RoomService{
		stores: stores,
		cache:  roomCache,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateDirect returns the single room shared by requester and target.
// A BotPeer target opens a bot room; otherwise the target's role decides the kind.
func (s *RoomService) GetOrCreateDirect(ctx context.Context, requester, target uint) (*models.Room, error) {
	if requester == target {
		return nil, ErrInvalidTarget
	}

	kind := models.RoomUserToBot
	if target != models.BotPeer {
		user, err := s.stores.Users.UserProfile(ctx, target)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("resolve target user: %w", err)
		}
		kind = models.RoomUserToUser
		if user.IsExpert() {
			kind = models.RoomUserToExpert
		}
	}

	key := models.PairKey(requester, target)
	now := s.now()
	room, created, err := s.stores.Rooms.GetOrCreateByPair(ctx, &models.Room{
		Kind:          kind,
		Title:         models.DirectRoomTitle(requester, target),
		Status:        models.RoomEnabled,
		PairKey:       &key,
		LastMessageAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create room %s: %w", key, err)
	}

	// Memberships are re-added on every call so a half-finished creation heals itself.
	for _, uid := range []uint{requester, target} {
		if uid == models.BotPeer {
			continue
		}
		if err := s.stores.Members.Add(ctx, uid, room.ID); err != nil {
			return nil, fmt.Errorf("add member %d to room %d: %w", uid, room.ID, err)
		}
	}

	if created {
		s.log.Info("Direct room created", "room_id", room.ID, "kind", string(room.Kind), "pair", key)
	}
	s.cache.Set(room.ID, *room)
	return room, nil
}

// CreateBotRoom opens a bot room for user from an owned profile id or an inline profile
func (s *RoomService) CreateBotRoom(ctx context.Context, userID uint, req models.CreateBotRoomRequest) (*models.Room, error) {
	var profile *models.BotProfile
	switch {
	case req.ProfileID != 0:
		p, err := s.stores.Bots.Get(ctx, req.ProfileID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrBotProfileNotFound
			}
			return nil, err
		}
		if p.OwnerID != userID {
			return nil, ErrBotProfileNotFound
		}
		profile = p
	case req.Profile != nil:
		p, err := s.CreateBotProfile(ctx, userID, *req.Profile)
		if err != nil {
			return nil, err
		}
		profile = p
	default:
		return nil, fmt.Errorf("%w: profile id or profile is required", ErrInvalidProfile)
	}

	return s.createBotRoom(ctx, userID, profile)
}

func (s *RoomService) createBotRoom(ctx context.Context, userID uint, profile *models.BotProfile) (*models.Room, error) {
	now := s.now()
	room := &models.Room{
		Kind:          models.RoomUserToBot,
		Title:         profile.Name,
		Status:        models.RoomEnabled,
		BotProfileID:  &profile.ID,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := s.stores.Rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create bot room: %w", err)
	}
	if err := s.stores.Members.Add(ctx, userID, room.ID); err != nil {
		return nil, fmt.Errorf("add member %d to room %d: %w", userID, room.ID, err)
	}

	s.log.Info("Bot room created", "room_id", room.ID, "user_id", userID, "bot", profile.Name)
	s.cache.Set(room.ID, *room)
	return room, nil
}

// CreateDefaultBotRooms gives user one room per default persona it does not have yet
func (s *RoomService) CreateDefaultBotRooms(ctx context.Context, userID uint) ([]models.Room, error) {
	owned, err := s.stores.Bots.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.BotProfile, len(owned))
	byID := make(map[uint]*models.BotProfile, len(owned))
	for i := range owned {
		byName[owned[i].Name] = &owned[i]
		byID[owned[i].ID] = &owned[i]
	}

	rooms, err := s.roomsOf(ctx, userID, models.RoomUserToBot)
	if err != nil {
		return nil, err
	}
	withRoom := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		if r.BotProfileID == nil {
			continue
		}
		if p, ok := byID[*r.BotProfileID]; ok {
			withRoom[p.Name] = true
		}
	}

	var created []models.Room
	for _, def := range models.DefaultBotProfiles() {
		if withRoom[def.Name] {
			continue
		}
		profile, ok := byName[def.Name]
		if !ok {
			if profile, err = s.CreateBotProfile(ctx, userID, def); err != nil {
				return created, err
			}
		}
		room, err := s.createBotRoom(ctx, userID, profile)
		if err != nil {
			return created, err
		}
		created = append(created, *room)
	}
	return created, nil
}

// CreateBotProfile validates and stores a persona owned by ownerID.
// Empty empathy and tone fall back to the calmest settings.
func (s *RoomService) CreateBotProfile(ctx context.Context, ownerID uint, req models.CreateBotProfileRequest) (*models.BotProfile, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if req.EmpathyLevel == "" {
		req.EmpathyLevel = models.EmpathyCaring
	}
	if req.Tone == "" {
		req.Tone = models.ToneCalm
	}
	if !req.EmpathyLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown empathy level %q", ErrInvalidProfile, req.EmpathyLevel)
	}
	if !req.Tone.Valid() {
		return nil, fmt.Errorf("%w: unknown tone %q", ErrInvalidProfile, req.Tone)
	}

	profile := &models.BotProfile{
		OwnerID:      ownerID,
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		EmpathyLevel: req.EmpathyLevel,
		Tone:         req.Tone,
		CreatedAt:    s.now(),
	}
	if err := s.stores.Bots.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("create bot profile: %w", err)
	}
	return profile, nil
}

// ListBotProfiles returns the personas owned by ownerID
func (s *RoomService) ListBotProfiles(ctx context.Context, ownerID uint) ([]models.BotProfile, error) {
	return s.stores.Bots.ListByOwner(ctx, ownerID)
}

// Get loads a room from the store
func (s *RoomService) Get(ctx context.Context, roomID uint) (*models.Room, error) {
	room, err := s.stores.Rooms.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// Resolve returns a room from cache, loading it once per id on a miss.
// LastMessageAt of a cached room may lag behind the store.
func (s *RoomService) Resolve(ctx context.Context, roomID uint) (*models.Room, error) {
	if room, ok := s.cache.Get(roomID); ok {
		return &room, nil
	}

	v, err, _ := s.group.Do(strconv.FormatUint(uint64(roomID), 10), func() (interface{}, error) {
		// the load outlives any single waiter
		room, err := s.Get(context.WithoutCancel(ctx), roomID)
		if err != nil {
			return nil, err
		}
		s.cache.Set(roomID, *room)
		return *room, nil
	})
	if err != nil {
		return nil, err
	}
	room := v.(models.Room)
	return &room, nil
}

// GetKind returns the kind of a room
func (s *RoomService) GetKind(ctx context.Context, roomID uint) (models.RoomKind, error) {
	room, err := s.Resolve(ctx, roomID)
	if err != nil {
		return "", err
	}
	return room.Kind, nil
}

// Touch records activity on a room
func (s *RoomService) Touch(ctx context.Context, roomID uint) error {
	if err := s.stores.Rooms.Touch(ctx, roomID, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	return nil
}

// Persona returns the bot profile that answers in room. Rooms opened without
// a profile answer as the first default persona.
func (s *RoomService) Persona(ctx context.Context, room *models.Room) (*models.BotProfile, error) {
	if room.BotProfileID != nil {
		p, err := s.stores.Bots.Get(ctx, *room.BotProfileID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		s.log.Warn("Bot profile missing, using default persona", "room_id", room.ID, "profile_id", *room.BotProfileID)
	}

	def := models.DefaultBotProfiles()[0]
	return &models.BotProfile{
		Name:         def.Name,
		Description:  def.Description,
		EmpathyLevel: def.EmpathyLevel,
		Tone:         def.Tone,
	}, nil
}

// ListDirectRooms returns the user's human rooms, most recently active first
func (s *RoomService) ListDirectRooms(ctx context.Context, userID uint) ([]models.RoomSummary, error) {
	return s.listSummaries(ctx, userID, models.RoomUserToUser, models.RoomUserToExpert)
}

// ListBotRooms returns the user's bot rooms, most recently active first
func (s *RoomService) ListBotRooms(ctx context.Context, userID uint) ([]models.RoomSummary, error) {
	return s.listSummaries(ctx, userID, models.RoomUserToBot)
}

// GetBotRoom returns one bot room of the user
func (s *RoomService) GetBotRoom(ctx context.Context, userID, roomID uint) (*models.RoomSummary, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Kind != models.RoomUserToBot || room.Status == models.RoomDeleted {
		return nil, ErrRoomNotFound
	}
	ok, err := s.stores.Members.IsMember(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return s.summarize(ctx, *room, userID)
}

func (s *RoomService) roomsOf(ctx context.Context, userID uint, kinds ...models.RoomKind) ([]models.Room, error) {
	ids, err := s.stores.Members.RoomsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.stores.Rooms.ListByIDs(ctx, ids, kinds...)
}

func (s *RoomService) listSummaries(ctx context.Context, userID uint, kinds ...models.RoomKind) ([]models.RoomSummary, error) {
	rooms, err := s.roomsOf(ctx, userID, kinds...)
	if err != nil {
		return nil, err
	}

	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summary, err := s.summarize(ctx, r, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}
	return out, nil
}

func (s *RoomService) summarize(ctx context.Context, room models.Room, viewer uint) (*models.RoomSummary, error) {
	summary := &models.RoomSummary{Room: room, LatestMessage: NoMessagesPreview}

	latest, err := s.stores.Messages.Latest(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("latest message of room %d: %w", room.ID, err)
	}
	if latest != nil {
		summary.LatestMessage = latest.Body
		summary.HasUnread = hasUnread(latest, viewer)
	}

	if room.Kind == models.RoomUserToBot {
		if room.BotProfileID != nil {
			p, err := s.stores.Bots.Get(ctx, *room.BotProfileID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			summary.Bot = p
		}
		return summary, nil
	}

	others, err := s.stores.Members.OthersIn(ctx, room.ID, viewer)
	if err != nil {
		return nil, err
	}
	if len(others) > 0 {
		other := &models.Participant{UserID: others[0]}
		user, err := s.stores.Users.UserProfile(ctx, others[0])
		switch {
		case err == nil:
			other.Email = user.Email
			other.DisplayName = user.Name
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
		summary.Other = other
	}
	return summary, nil
}

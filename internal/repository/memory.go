package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"soop-chat/backend/internal/models"
)

// MemoryMessageStore keeps messages per room in id order
type MemoryMessageStore struct {
	mu     sync.RWMutex
	byRoom map[uint][]*models.Message
}

// NewMemoryMessageStore creates an empty in-memory message store
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{byRoom: make(map[uint][]*models.Message)}
}

func (s *MemoryMessageStore) Append(ctx context.Context, roomID, senderID uint, body string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// id assignment happens under the lock so the slice stays sorted
	s.mu.Lock()
	msg := newMessage(roomID, senderID, body)
	s.byRoom[roomID] = append(s.byRoom[roomID], msg)
	s.mu.Unlock()

	out := *msg
	return &out, nil
}

func (s *MemoryMessageStore) find(roomID uint, messageID string) *models.Message {
	msgs := s.byRoom[roomID]
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= messageID })
	if i < len(msgs) && msgs[i].ID == messageID {
		return msgs[i]
	}
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, roomID uint, messageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.find(roomID, messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *MemoryMessageStore) ListByRoom(ctx context.Context, roomID uint, opts ListOptions) ([]models.Message, error) {
	opts = opts.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byRoom[roomID]
	out := make([]models.Message, 0, opts.Limit)
	if opts.Order == models.OrderDesc {
		for i := len(msgs) - 1; i >= 0 && len(out) < opts.Limit; i-- {
			if opts.Cursor != "" && msgs[i].ID >= opts.Cursor {
				continue
			}
			out = append(out, *msgs[i])
		}
		return out, nil
	}

	for _, m := range msgs {
		if len(out) == opts.Limit {
			break
		}
		if opts.Cursor != "" && m.ID <= opts.Cursor {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemoryMessageStore) Latest(ctx context.Context, roomID uint) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byRoom[roomID]
	if len(msgs) == 0 {
		return nil, nil
	}
	out := *msgs[len(msgs)-1]
	return &out, nil
}

func (s *MemoryMessageStore) MarkRead(ctx context.Context, roomID uint, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(roomID, messageID)
	if m == nil {
		return ErrNotFound
	}
	m.Read = true
	return nil
}

func (s *MemoryMessageStore) MarkAllReadExcept(ctx context.Context, roomID, senderID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.byRoom[roomID] {
		if m.SenderID != senderID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

// MemoryRoomStore keeps rooms in a map guarded by a mutex
type MemoryRoomStore struct {
	mu     sync.RWMutex
	nextID uint
	rooms  map[uint]*models.Room
	byPair map[string]uint
}

// NewMemoryRoomStore creates an empty in-memory room store
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:  make(map[uint]*models.Room),
		byPair: make(map[string]uint),
	}
}

func (s *MemoryRoomStore) Get(ctx context.Context, id uint) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *MemoryRoomStore) insertLocked(room *models.Room) {
	s.nextID++
	room.ID = s.nextID
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	if room.Status == "" {
		room.Status = models.RoomEnabled
	}
	stored := *room
	s.rooms[room.ID] = &stored
	if room.PairKey != nil {
		s.byPair[*room.PairKey] = room.ID
	}
}

func (s *MemoryRoomStore) Create(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.PairKey != nil {
		if _, exists := s.byPair[*room.PairKey]; exists {
			return ErrDuplicatePair
		}
	}
	s.insertLocked(room)
	return nil
}

func (s *MemoryRoomStore) GetOrCreateByPair(ctx context.Context, room *models.Room) (*models.Room, bool, error) {
	if room.PairKey == nil {
		return nil, false, ErrNoPairKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[*room.PairKey]; ok {
		out := *s.rooms[id]
		return &out, false, nil
	}
	s.insertLocked(room)
	out := *room
	return &out, true, nil
}

func (s *MemoryRoomStore) Touch(ctx context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.LastMessageAt = at
	return nil
}

func (s *MemoryRoomStore) ListByIDs(ctx context.Context, ids []uint, kinds ...models.RoomKind) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Room, 0, len(ids))
	for _, id := range ids {
		r, ok := s.rooms[id]
		if !ok || r.Status == models.RoomDeleted || !kindIn(r.Kind, kinds) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func kindIn(k models.RoomKind, kinds []models.RoomKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// MemoryMembershipStore keeps membership as a set of pairs
type MemoryMembershipStore struct {
	mu      sync.RWMutex
	members map[uint]map[uint]struct{} // room -> users
}

// NewMemoryMembershipStore creates an empty in-memory membership ledger
func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{members: make(map[uint]map[uint]struct{})}
}

func (s *MemoryMembershipStore) IsMember(ctx context.Context, userID, roomID uint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members[roomID][userID]
	return ok, nil
}

func (s *MemoryMembershipStore) Add(ctx context.Context, userID, roomID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.members[roomID]
	if !ok {
		users = make(map[uint]struct{})
		s.members[roomID] = users
	}
	users[userID] = struct{}{}
	return nil
}

func (s *MemoryMembershipStore) OthersIn(ctx context.Context, roomID, excluding uint) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uint
	for id := range s.members[roomID] {
		if id != excluding {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryMembershipStore) RoomsOf(ctx context.Context, userID uint) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uint
	for roomID, users := range s.members {
		if _, ok := users[userID]; ok {
			out = append(out, roomID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// MemoryBotProfileStore keeps personas in a map
type MemoryBotProfileStore struct {
	mu       sync.RWMutex
	nextID   uint
	profiles map[uint]*models.BotProfile
}

// NewMemoryBotProfileStore creates an empty in-memory persona store
func NewMemoryBotProfileStore() *MemoryBotProfileStore {
	return &MemoryBotProfileStore{profiles: make(map[uint]*models.BotProfile)}
}

func (s *MemoryBotProfileStore) Create(ctx context.Context, profile *models.BotProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	profile.ID = s.nextID
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	stored := *profile
	s.profiles[profile.ID] = &stored
	return nil
}

func (s *MemoryBotProfileStore) Get(ctx context.Context, id uint) (*models.BotProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryBotProfileStore) ListByOwner(ctx context.Context, ownerID uint) ([]models.BotProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BotProfile
	for _, p := range s.profiles {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryUserDirectory is a fixed set of users, seeded by Put
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[uint]models.User
}

// NewMemoryUserDirectory creates a directory holding users
func NewMemoryUserDirectory(users ...models.User) *MemoryUserDirectory {
	d := &MemoryUserDirectory{users: make(map[uint]models.User)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user
func (d *MemoryUserDirectory) Put(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryUserDirectory) UserExists(ctx context.Context, id uint) (bool, error) {
	if id == models.BotPeer {
		return false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[id]
	return ok, nil
}

func (d *MemoryUserDirectory) UserProfile(ctx context.Context, id uint) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok || id == models.BotPeer {
		return nil, ErrNotFound
	}
	return &u, nil
}

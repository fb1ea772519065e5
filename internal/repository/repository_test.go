package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"soop-chat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stores struct {
	messages MessageStore
	rooms    RoomStore
	members  MembershipStore
	bots     BotProfileStore
	users    UserDirectory
	seedUser func(t *testing.T, u models.User)
}

func memoryStores(t *testing.T) stores {
	dir := NewMemoryUserDirectory()
	return stores{
		messages: NewMemoryMessageStore(),
		rooms:    NewMemoryRoomStore(),
		members:  NewMemoryMembershipStore(),
		bots:     NewMemoryBotProfileStore(),
		users:    dir,
		seedUser: func(t *testing.T, u models.User) { dir.Put(u) },
	}
}

func sqliteStores(t *testing.T) stores {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection to :memory: would otherwise get its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, Migrate(db))

	return stores{
		messages: NewGormMessageStore(db),
		rooms:    NewGormRoomStore(db),
		members:  NewGormMembershipStore(db),
		bots:     NewGormBotProfileStore(db),
		users:    NewGormUserDirectory(db),
		seedUser: func(t *testing.T, u models.User) { require.NoError(t, db.Create(&u).Error) },
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s stores)) {
	t.Run("memory", func(t *testing.T) { fn(t, memoryStores(t)) })
	t.Run("gorm-sqlite", func(t *testing.T) { fn(t, sqliteStores(t)) })
}

func TestAppendOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()

		var last *models.Message
		for _, body := range []string{"one", "two", "three"} {
			m, err := s.messages.Append(ctx, 5, 10, body)
			require.NoError(t, err)
			assert.NotEmpty(t, m.ID)
			assert.False(t, m.CreatedAt.IsZero())
			assert.False(t, m.Read)
			last = m
		}

		asc, err := s.messages.ListByRoom(ctx, 5, ListOptions{Order: models.OrderAsc})
		require.NoError(t, err)
		require.Len(t, asc, 3)
		assert.Equal(t, last.ID, asc[len(asc)-1].ID)
		assert.Equal(t, "one", asc[0].Body)

		desc, err := s.messages.ListByRoom(ctx, 5, ListOptions{Order: models.OrderDesc})
		require.NoError(t, err)
		require.Len(t, desc, 3)
		assert.Equal(t, last.ID, desc[0].ID)

		latest, err := s.messages.Latest(ctx, 5)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, last.ID, latest.ID)

		other, err := s.messages.ListByRoom(ctx, 6, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestListByRoomCursorAndLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 5; i++ {
			m, err := s.messages.Append(ctx, 1, 10, "m")
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}

		page, err := s.messages.ListByRoom(ctx, 1, ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[:2], []string{page[0].ID, page[1].ID})

		page, err = s.messages.ListByRoom(ctx, 1, ListOptions{Limit: 2, Cursor: page[1].ID})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2:4], []string{page[0].ID, page[1].ID})

		page, err = s.messages.ListByRoom(ctx, 1, ListOptions{Order: models.OrderDesc, Limit: 10, Cursor: ids[2]})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, []string{ids[1], ids[0]}, []string{page[0].ID, page[1].ID})
	})
}

func TestLatestOnEmptyRoom(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		m, err := s.messages.Latest(context.Background(), 99)
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

func TestMarkRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		m, err := s.messages.Append(ctx, 1, 11, "hi")
		require.NoError(t, err)

		require.NoError(t, s.messages.MarkRead(ctx, 1, m.ID))
		// idempotent
		require.NoError(t, s.messages.MarkRead(ctx, 1, m.ID))

		got, err := s.messages.Get(ctx, 1, m.ID)
		require.NoError(t, err)
		assert.True(t, got.Read)

		assert.ErrorIs(t, s.messages.MarkRead(ctx, 1, "01ZZZZZZZZZZZZZZZZZZZZZZZZ"), ErrNotFound)
		assert.ErrorIs(t, s.messages.MarkRead(ctx, 2, m.ID), ErrNotFound)
	})
}

func TestMarkAllReadExcept(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		mine, err := s.messages.Append(ctx, 1, 10, "mine")
		require.NoError(t, err)
		_, err = s.messages.Append(ctx, 1, 11, "theirs")
		require.NoError(t, err)
		_, err = s.messages.Append(ctx, 1, models.BotPeer, "bot")
		require.NoError(t, err)

		n, err := s.messages.MarkAllReadExcept(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.messages.MarkAllReadExcept(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		msgs, err := s.messages.ListByRoom(ctx, 1, ListOptions{})
		require.NoError(t, err)
		for _, m := range msgs {
			if m.ID == mine.ID {
				assert.False(t, m.Read, "own message must stay unread")
			} else {
				assert.True(t, m.Read)
			}
		}
	})
}

func TestGetOrCreateByPair(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		newRoom := func() *models.Room {
			key := models.PairKey(10, 11)
			return &models.Room{
				Kind:          models.RoomUserToUser,
				Title:         models.DirectRoomTitle(10, 11),
				Status:        models.RoomEnabled,
				PairKey:       &key,
				LastMessageAt: time.Now(),
			}
		}

		first, created, err := s.rooms.GetOrCreateByPair(ctx, newRoom())
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, first.ID)

		second, created, err := s.rooms.GetOrCreateByPair(ctx, newRoom())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		_, _, err = s.rooms.GetOrCreateByPair(ctx, &models.Room{Kind: models.RoomUserToBot})
		assert.ErrorIs(t, err, ErrNoPairKey)
	})
}

func TestConcurrentGetOrCreateByPairMemory(t *testing.T) {
	rooms := NewMemoryRoomStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uint, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.PairKey(3, 4)
			r, _, err := rooms.GetOrCreateByPair(ctx, &models.Room{Kind: models.RoomUserToUser, PairKey: &key})
			assert.NoError(t, err)
			ids[i] = r.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRoomTouchAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)

		older := &models.Room{Kind: models.RoomUserToBot, Title: "older", Status: models.RoomEnabled, LastMessageAt: base}
		newer := &models.Room{Kind: models.RoomUserToBot, Title: "newer", Status: models.RoomEnabled, LastMessageAt: base}
		direct := &models.Room{Kind: models.RoomUserToUser, Title: "direct", Status: models.RoomEnabled, LastMessageAt: base}
		require.NoError(t, s.rooms.Create(ctx, older))
		require.NoError(t, s.rooms.Create(ctx, newer))
		require.NoError(t, s.rooms.Create(ctx, direct))

		require.NoError(t, s.rooms.Touch(ctx, older.ID, base.Add(time.Minute)))
		require.NoError(t, s.rooms.Touch(ctx, newer.ID, base.Add(2*time.Minute)))
		assert.ErrorIs(t, s.rooms.Touch(ctx, 999, time.Now()), ErrNotFound)

		rooms, err := s.rooms.ListByIDs(ctx, []uint{older.ID, newer.ID, direct.ID}, models.RoomUserToBot)
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, newer.ID, rooms[0].ID)
		assert.Equal(t, older.ID, rooms[1].ID)

		all, err := s.rooms.ListByIDs(ctx, []uint{older.ID, newer.ID, direct.ID})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		_, err = s.rooms.Get(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMembership(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()

		require.NoError(t, s.members.Add(ctx, 11, 7))
		require.NoError(t, s.members.Add(ctx, 12, 7))
		// idempotent
		require.NoError(t, s.members.Add(ctx, 11, 7))

		ok, err := s.members.IsMember(ctx, 11, 7)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.members.IsMember(ctx, 10, 7)
		require.NoError(t, err)
		assert.False(t, ok)

		others, err := s.members.OthersIn(ctx, 7, 11)
		require.NoError(t, err)
		assert.Equal(t, []uint{12}, others)

		rooms, err := s.members.RoomsOf(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, []uint{7}, rooms)
	})
}

func TestBotProfilesAndUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()

		p := &models.BotProfile{OwnerID: 10, Name: "Empathica", EmpathyLevel: models.EmpathyCaring, Tone: models.ToneCalm}
		require.NoError(t, s.bots.Create(ctx, p))
		assert.NotZero(t, p.ID)

		got, err := s.bots.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Empathica", got.Name)

		list, err := s.bots.ListByOwner(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = s.bots.Get(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)

		s.seedUser(t, models.User{ID: 10, Email: "u10@example.com", Name: "Ten", Role: models.RoleUser})
		ok, err := s.users.UserExists(ctx, 10)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.users.UserExists(ctx, models.BotPeer)
		require.NoError(t, err)
		assert.False(t, ok)

		u, err := s.users.UserProfile(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "u10@example.com", u.Email)

		_, err = s.users.UserProfile(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessageHistoryIndex(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(db))

	require.True(t, db.Migrator().HasIndex(&models.Message{}, "idx_messages_room_id_id"))

	var cols []struct {
		Seqno int
		Name  string
	}
	require.NoError(t, db.Raw("PRAGMA index_info('idx_messages_room_id_id')").Scan(&cols).Error)
	require.Len(t, cols, 2)
	assert.Equal(t, "room_id", cols[0].Name)
	assert.Equal(t, "id", cols[1].Name)
}

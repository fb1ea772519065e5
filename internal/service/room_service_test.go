package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/cache"
	"soop-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateDirectIsSymmetricAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ab := f.directRoom(t, 10, 11)
	ba := f.directRoom(t, 11, 10)
	again := f.directRoom(t, 10, 11)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, ab.ID, again.ID)
	assert.Equal(t, models.RoomUserToUser, ab.Kind)
	assert.Equal(t, models.RoomEnabled, ab.Status)
	assert.Equal(t, "Chat Room between 10 and 11", ab.Title)

	for _, uid := range []uint{10, 11} {
		ok, err := f.stores.Members.IsMember(ctx, uid, ab.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ids, err := f.stores.Members.RoomsOf(ctx, uid)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	}

	ok, err := f.stores.Members.IsMember(ctx, 12, ab.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrCreateDirectKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expert := f.directRoom(t, 10, 12)
	assert.Equal(t, models.RoomUserToExpert, expert.Kind)

	bot := f.directRoom(t, 10, models.BotPeer)
	assert.Equal(t, models.RoomUserToBot, bot.Kind)
	assert.Equal(t, bot.ID, f.directRoom(t, 10, models.BotPeer).ID)

	others, err := f.stores.Members.OthersIn(ctx, bot.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, others)

	kind, err := f.rooms.GetKind(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomUserToBot, kind)
}

func TestGetOrCreateDirectRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rooms.GetOrCreateDirect(ctx, 10, 10)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = f.rooms.GetOrCreateDirect(ctx, 10, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUnknownRoom(t *testing.T) {
	f := newFixture(t)

	_, err := f.rooms.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = f.rooms.GetKind(context.Background(), 404)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, f.rooms.Touch(context.Background(), 404), ErrRoomNotFound)
}

func TestCreateBotRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.rooms.CreateBotRoom(ctx, 10, models.CreateBotRoomRequest{
		Profile: &models.CreateBotProfileRequest{Name: " Sunny ", Description: "cheerful", Tone: models.ToneFriendly},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoomUserToBot, room.Kind)
	assert.Equal(t, "Sunny", room.Title)
	require.NotNil(t, room.BotProfileID)

	profile, err := f.stores.Bots.Get(ctx, *room.BotProfileID)
	require.NoError(t, err)
	assert.Equal(t, models.EmpathyCaring, profile.EmpathyLevel)
	assert.Equal(t, models.ToneFriendly, profile.Tone)

	second, err := f.rooms.CreateBotRoom(ctx, 10, models.CreateBotRoomRequest{ProfileID: profile.ID})
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, second.ID)

	_, err = f.rooms.CreateBotRoom(ctx, 11, models.CreateBotRoomRequest{ProfileID: profile.ID})
	assert.ErrorIs(t, err, ErrBotProfileNotFound)

	_, err = f.rooms.CreateBotRoom(ctx, 10, models.CreateBotRoomRequest{})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = f.rooms.CreateBotRoom(ctx, 10, models.CreateBotRoomRequest{
		Profile: &models.CreateBotProfileRequest{Name: "x", Tone: "SARCASTIC"},
	})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	profiles, err := f.rooms.ListBotProfiles(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestCreateDefaultBotRoomsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.rooms.CreateDefaultBotRooms(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	created, err = f.rooms.CreateDefaultBotRooms(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, created)

	list, err := f.rooms.ListBotRooms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	names := map[string]bool{}
	for _, r := range list {
		require.NotNil(t, r.Bot)
		names[r.Bot.Name] = true
		assert.Equal(t, NoMessagesPreview, r.LatestMessage)
		assert.False(t, r.HasUnread)
	}
	assert.Equal(t, map[string]bool{"Empathica": true, "RationalMind": true, "MotivaBot": true}, names)

	// another user gets their own set
	created, err = f.rooms.CreateDefaultBotRooms(ctx, 11)
	require.NoError(t, err)
	assert.Len(t, created, 3)
}

func TestListDirectRoomsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	f.rooms.now = func() time.Time { return base }
	older := f.directRoom(t, 10, 11)
	newer := f.directRoom(t, 10, 12)

	f.rooms.now = func() time.Time { return base.Add(time.Minute) }
	_, err := f.chat.Send(ctx, older.ID, 11, "are you there?")
	require.NoError(t, err)
	f.rooms.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = f.chat.Send(ctx, newer.ID, 10, "hello doctor")
	require.NoError(t, err)

	list, err := f.rooms.ListDirectRooms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, "hello doctor", list[0].LatestMessage)
	assert.False(t, list[0].HasUnread, "own message is never unread")
	require.NotNil(t, list[0].Other)
	assert.Equal(t, uint(12), list[0].Other.UserID)
	assert.Equal(t, "han@example.com", list[0].Other.Email)
	assert.Equal(t, "Dr. Han", list[0].Other.DisplayName)

	assert.Equal(t, older.ID, list[1].ID)
	assert.True(t, list[1].HasUnread)
	assert.Equal(t, "Joon", list[1].Other.DisplayName)

	// bot rooms are listed separately
	f.directRoom(t, 10, 0)
	list, err = f.rooms.ListDirectRooms(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestGetBotRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.rooms.CreateDefaultBotRooms(ctx, 10)
	require.NoError(t, err)
	roomID := created[0].ID

	summary, err := f.rooms.GetBotRoom(ctx, 10, roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID, summary.ID)
	require.NotNil(t, summary.Bot)
	assert.Equal(t, "Empathica", summary.Bot.Name)

	_, err = f.rooms.GetBotRoom(ctx, 11, roomID)
	assert.ErrorIs(t, err, ErrNotMember)

	direct := f.directRoom(t, 10, 11)
	_, err = f.rooms.GetBotRoom(ctx, 10, direct.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPersonaDefaultsWithoutProfile(t *testing.T) {
	f := newFixture(t)
	room := f.directRoom(t, 10, models.BotPeer)

	p, err := f.rooms.Persona(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, "Empathica", p.Name)
}

// gatedRoomStore holds every Get until release is closed
type gatedRoomStore struct {
	repository.RoomStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedRoomStore) Get(ctx context.Context, id uint) (*models.Room, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.RoomStore.Get(ctx, id)
}

func TestResolveSurvivesFirstCallerCancelling(t *testing.T) {
	stores := NewMemoryStores(testUsers...)
	room := &models.Room{Kind: models.RoomUserToUser, Status: models.RoomEnabled, LastMessageAt: time.Now()}
	require.NoError(t, stores.Rooms.Create(context.Background(), room))

	gated := &gatedRoomStore{RoomStore: stores.Rooms, entered: make(chan struct{}), release: make(chan struct{})}
	stores.Rooms = gated

	roomCache := cache.New[uint, models.Room](cache.Options{TTL: time.Minute})
	t.Cleanup(roomCache.Stop)
	rooms := NewRoomService(stores, roomCache, logger.Discard())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := rooms.Resolve(firstCtx, room.ID)
		first <- err
	}()
	<-gated.entered

	type result struct {
		room *models.Room
		err  error
	}
	second := make(chan result, 1)
	go func() {
		r, err := rooms.Resolve(context.Background(), room.ID)
		second <- result{r, err}
	}()

	// let the second caller join the in-flight load before the first gives up
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	close(gated.release)

	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, room.ID, got.room.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	<-first
	assert.Equal(t, int32(1), gated.calls.Load())
}

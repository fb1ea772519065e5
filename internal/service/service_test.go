package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soop-chat/backend/internal/bus"
	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/cache"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/observability"

	"github.com/stretchr/testify/require"
)

var testTopics = bus.Topics{Prefix: "chat.room"}

var listAsc = repository.ListOptions{Order: models.OrderAsc, Limit: repository.MaxListLimit}

var testUsers = []models.User{
	{ID: 10, Name: "Mina", Email: "mina@example.com", Role: models.RoleUser},
	{ID: 11, Name: "Joon", Email: "joon@example.com", Role: models.RoleUser},
	{ID: 12, Name: "Dr. Han", Email: "han@example.com", Role: models.RoleExpert},
}

type fixture struct {
	stores Stores
	rooms  *RoomService
	chat   *ChatService
	bus    *bus.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stores := NewMemoryStores(testUsers...)
	roomCache := cache.New[uint, models.Room](cache.Options{TTL: time.Minute})
	t.Cleanup(roomCache.Stop)

	b := bus.NewMemoryBus(64)
	t.Cleanup(func() { b.Close() })

	rooms := NewRoomService(stores, roomCache, logger.Discard())
	chat := NewChatService(stores, rooms, b, testTopics, observability.Global(), logger.Discard())
	return &fixture{stores: stores, rooms: rooms, chat: chat, bus: b}
}

// directRoom opens a room between a and b
func (f *fixture) directRoom(t *testing.T, a, b uint) *models.Room {
	t.Helper()
	room, err := f.rooms.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return room
}

func (f *fixture) subscribe(t *testing.T, roomID uint) <-chan *bus.Envelope {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := f.bus.Subscribe(ctx, testTopics.Room(roomID))
	require.NoError(t, err)
	return ch
}

func (f *fixture) history(t *testing.T, roomID uint) []models.Message {
	t.Helper()
	msgs, err := f.stores.Messages.ListByRoom(context.Background(), roomID, listAsc)
	require.NoError(t, err)
	return msgs
}

type recordingDispatcher struct {
	mu    sync.Mutex
	turns []BotTurn
}

func (d *recordingDispatcher) Dispatch(turn BotTurn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turns = append(d.turns, turn)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, *bus.Envelope) error {
	return errors.New("connection refused")
}

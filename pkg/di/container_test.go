package di

import (
	"context"
	"testing"
	"time"

	"soop-chat/backend/internal/bus"
	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, prompt string) (string, error) {
	return "I hear you", nil
}

func newContainer(t *testing.T) *Container {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))
	require.NoError(t, db.Create(&models.User{ID: 10, Name: "Mina", Email: "mina@example.com", Role: models.RoleUser}).Error)

	b := bus.NewMemoryBus(16)
	t.Cleanup(func() { b.Close() })

	cfg := config.Load()
	cfg.Vault.Enabled = false
	cfg.Knowledge.Driver = "none"

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := New(ctx, cfg, Options{DB: db, Bus: b, Logger: logger.Discard(), Completer: echoCompleter{}})
	require.NoError(t, err)
	c.Start(ctx)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestNewRequiresInfrastructure(t *testing.T) {
	_, err := New(context.Background(), config.Load(), Options{})
	assert.Error(t, err)
}

func TestContainerAnswersBotRoom(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	room, err := c.RoomService.GetOrCreateDirect(ctx, 10, models.BotPeer)
	require.NoError(t, err)

	_, err = c.ChatService.Send(ctx, room.ID, 10, "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, err := c.Stores.Messages.ListByRoom(ctx, room.ID, repository.ListOptions{Order: models.OrderAsc})
		return err == nil && len(msgs) == 2
	}, 3*time.Second, 20*time.Millisecond)

	msgs, err := c.Stores.Messages.ListByRoom(ctx, room.ID, repository.ListOptions{Order: models.OrderAsc})
	require.NoError(t, err)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.True(t, msgs[1].FromBot())
	assert.Equal(t, "I hear you", msgs[1].Body)
}

func TestContainerHealthChecks(t *testing.T) {
	c := newContainer(t)
	c.Health.RunChecks(context.Background())

	status := c.Health.GetStatus()
	require.Contains(t, status, "database")
	require.Contains(t, status, "bus")
	assert.True(t, c.Health.IsSystemHealthy())
}

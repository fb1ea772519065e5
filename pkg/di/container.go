package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soop-chat/backend/ai"
	"soop-chat/backend/internal/bus"
	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/service"
	"soop-chat/backend/internal/ws"
	"soop-chat/backend/pkg/cache"
	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/health"
	"soop-chat/backend/pkg/jwt"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/middleware"
	"soop-chat/backend/pkg/observability"
	"soop-chat/backend/pkg/resilience"
	"soop-chat/backend/pkg/secrets"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Bus     bus.Bus
	Metrics *observability.Metrics

	Secrets     secrets.Manager
	JWTService  *jwt.Service
	RateLimiter *middleware.RateLimiter
	Health      *health.Checker

	Stores       service.Stores
	RoomCache    *cache.Cache[uint, models.Room]
	RoomService  *service.RoomService
	ChatService  *service.ChatService
	BotResponder *service.BotResponder
	Completer    *ai.BreakerCompleter
	References   ai.ReferenceLookup

	Hub     *ws.Hub
	Gateway *ws.Gateway
}

// Options carries the infrastructure the caller owns
type Options struct {
	DB     *gorm.DB
	Bus    bus.Bus
	Logger *logger.Logger
	// MeterProvider backs the chat metrics; nil uses the otel global
	MeterProvider metric.MeterProvider
	// Completer replaces the HTTP completion client, mostly for tests
	Completer ai.Completer
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	if opts.DB == nil || opts.Bus == nil {
		return nil, errors.New("database and bus are required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobal()
	}

	metrics := observability.Global()
	if opts.MeterProvider != nil {
		m, err := observability.NewMetrics(opts.MeterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		metrics = m
	}

	secretsManager, err := secrets.NewManager(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}

	completer := opts.Completer
	if completer == nil {
		apiKey := secretsManager.GetSecretWithDefault(ctx, "ai.api-key", cfg.AI.APIKey)
		gemini, err := ai.NewGeminiClient(ai.GeminiConfig{
			URL:     cfg.AI.URL,
			APIKey:  apiKey,
			Timeout: cfg.AI.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion client: %w", err)
		}
		completer = gemini
	}
	breaker := ai.NewBreakerCompleter(completer, resilience.DefaultCircuitBreakerConfig("ai-completion"), log)

	references, err := ai.NewReferenceLookup(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference lookup: %w", err)
	}

	roomCache := cache.New[uint, models.Room](cache.Options{
		TTL:             cfg.Cache.TTL,
		MaxItems:        cfg.Cache.MaxSize,
		CleanupInterval: cfg.Cache.PurgeWindow,
	})

	stores := service.NewGormStores(opts.DB)
	topics := bus.Topics{Prefix: cfg.Bus.TopicPrefix}

	rooms := service.NewRoomService(stores, roomCache, log.With("component", "room_service"))
	chat := service.NewChatService(stores, rooms, opts.Bus, topics, metrics, log.With("component", "chat_service"))
	responder := service.NewBotResponder(service.BotResponderConfigFrom(cfg), chat, rooms, stores.Messages,
		breaker, references, metrics, log)
	chat.SetBotDispatcher(responder)

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)

	hub := ws.NewHub(opts.Bus, topics, metrics, log)
	gateway := ws.NewGateway(hub, chat, jwtService, stores.Users, ws.GatewayConfigFrom(cfg), log)

	rateLimiter := middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: cfg.Cache.TTL,
	})

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterCheck("database", true, func(ctx context.Context) error {
		sqlDB, err := opts.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	checker.RegisterCheck("bus", true, opts.Bus.Ping)
	checker.RegisterCheck("ai", false, func(context.Context) error {
		if breaker.Stats().State == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	})

	return &Container{
		Config:       cfg,
		DB:           opts.DB,
		Logger:       log,
		Bus:          opts.Bus,
		Metrics:      metrics,
		Secrets:      secretsManager,
		JWTService:   jwtService,
		RateLimiter:  rateLimiter,
		Health:       checker,
		Stores:       stores,
		RoomCache:    roomCache,
		RoomService:  rooms,
		ChatService:  chat,
		BotResponder: responder,
		Completer:    breaker,
		References:   references,
		Hub:          hub,
		Gateway:      gateway,
	}, nil
}

// Start launches the background workers that do not need their own
// lifecycle: the bot worker pool, periodic health checks and limiter eviction.
// The relay (Hub.Run) is left to the caller so its error can be supervised.
func (c *Container) Start(ctx context.Context) {
	c.BotResponder.Start()
	c.Health.Start(ctx)
	go c.RateLimiter.Run(ctx)
}

// Close stops the background workers owned by the container. Pending bot
// turns get until ctx ends to deliver.
func (c *Container) Close(ctx context.Context) error {
	err := c.BotResponder.Stop(ctx)
	c.RoomCache.Stop()
	if v, ok := c.Secrets.(*secrets.VaultManager); ok {
		v.Close()
	}
	return err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"soop-chat/backend/ai"
	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/observability"
	"soop-chat/backend/pkg/resilience"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TurnState is the progress of one bot turn
type TurnState string

const (
	TurnQueued       TurnState = "QUEUED"
	TurnContextBuilt TurnState = "CONTEXT_BUILT"
	TurnGenerating   TurnState = "GENERATING"
	TurnDelivered    TurnState = "DELIVERED"
	TurnFailed       TurnState = "FAILED"
)

// BotResponderConfig tunes the pipeline
type BotResponderConfig struct {
	Workers      int
	QueueSize    int
	HistoryLimit int
	// Timeout bounds each completion attempt
	Timeout time.Duration
	// RetryBackoff is the wait before the single retry
	RetryBackoff     time.Duration
	FallbackText     string
	ReferenceK       int
	ReferenceTimeout time.Duration
}

// BotResponderConfigFrom maps application config onto the pipeline settings
func BotResponderConfigFrom(cfg *config.Config) BotResponderConfig {
	return BotResponderConfig{
		Workers:          cfg.AI.Workers,
		QueueSize:        cfg.AI.QueueSize,
		HistoryLimit:     cfg.AI.HistoryLimit,
		Timeout:          cfg.AI.Timeout,
		RetryBackoff:     cfg.AI.RetryBackoff,
		FallbackText:     cfg.AI.FallbackText,
		ReferenceK:       cfg.Knowledge.K,
		ReferenceTimeout: cfg.Knowledge.Timeout,
	}
}

// BotResponder answers bot-room messages off the request path. Turns run on a
// fixed worker pool; when the queue is full a turn gets its own goroutine
// rather than blocking the sender.
type BotResponder struct {
	cfg       BotResponderConfig
	chat      *ChatService
	rooms     *RoomService
	messages  repository.MessageStore
	completer ai.Completer
	refs      ai.ReferenceLookup
	metrics   *observability.Metrics
	tracer    trace.Tracer
	log       *logger.Logger

	tasks    chan BotTurn
	mu       sync.RWMutex
	stopped  bool
	workers  sync.WaitGroup
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBotResponder creates a responder. Call Start before dispatching.
func NewBotResponder(cfg BotResponderConfig, chat *ChatService, rooms *RoomService, messages repository.MessageStore,
	completer ai.Completer, refs ai.ReferenceLookup, metrics *observability.Metrics, log *logger.Logger) *BotResponder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = "AI response failed, please retry"
	}
	if refs == nil {
		refs = ai.NoopReferenceLookup{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BotResponder{
		cfg:       cfg,
		chat:      chat,
		rooms:     rooms,
		messages:  messages,
		completer: completer,
		refs:      refs,
		metrics:   metrics,
		tracer:    otel.Tracer("soop-chat/backend/internal/service"),
		log:       log.With("component", "bot_responder"),
		tasks:     make(chan BotTurn, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool
func (b *BotResponder) Start() {
	for i := 0; i < b.cfg.Workers; i++ {
		b.workers.Add(1)
		go func() {
			defer b.workers.Done()
			for turn := range b.tasks {
				b.process(turn)
			}
		}()
	}
	b.log.Info("Bot responder started", "workers", b.cfg.Workers, "queue", b.cfg.QueueSize)
}

// Dispatch schedules a turn and returns immediately
func (b *BotResponder) Dispatch(turn BotTurn) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		b.metrics.BotTurns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", observability.OutcomeDropped)))
		b.log.Warn("Bot responder stopped, turn dropped", "room_id", turn.RoomID, "message_id", turn.MessageID)
		return
	}

	b.inflight.Add(1)
	b.log.Debug("Bot turn state", "room_id", turn.RoomID, "state", string(TurnQueued))

	select {
	case b.tasks <- turn:
	default:
		b.log.Warn("Bot queue full, running turn detached", "room_id", turn.RoomID)
		go b.process(turn)
	}
}

// Stop refuses new turns and waits for queued and running ones. When ctx ends
// first, running completions are cancelled and their fallbacks delivered.
func (b *BotResponder) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.tasks)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		b.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

func (b *BotResponder) process(turn BotTurn) {
	defer b.inflight.Done()

	ctx, span := b.tracer.Start(b.ctx, "bot.Turn", trace.WithAttributes(
		attribute.Int64("room.id", int64(turn.RoomID)),
		attribute.String("message.id", turn.MessageID),
	))
	defer span.End()

	log := b.log.WithRoomID(turn.RoomID).With("message_id", turn.MessageID)

	prompt := b.buildPrompt(ctx, turn, log)
	log.Debug("Bot turn state", "state", string(TurnContextBuilt))

	log.Debug("Bot turn state", "state", string(TurnGenerating))
	text, err := b.generate(ctx, prompt)

	outcome := observability.OutcomeDelivered
	if err != nil {
		log.Error("Bot turn failed, delivering fallback", "state", string(TurnFailed), "error", err.Error())
		span.SetStatus(codes.Error, err.Error())
		text = b.cfg.FallbackText
		outcome = observability.OutcomeFallback
	}

	// Delivery outlives a cancelled responder so the turn still ends visibly.
	if _, err := b.chat.DeliverBotMessage(context.WithoutCancel(ctx), turn.RoomID, text); err != nil {
		log.Error("Failed to deliver bot message", "error", err.Error())
		outcome = observability.OutcomeDropped
	} else if outcome == observability.OutcomeDelivered {
		log.Debug("Bot turn state", "state", string(TurnDelivered))
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	b.metrics.BotTurns.Add(ctx, 1, attrs)
	b.metrics.BotTurnDuration.Record(ctx, time.Since(turn.EnqueuedAt).Seconds(), attrs)
}

// buildPrompt assembles persona, references and recent history. Every step is
// best effort; a missing piece is left out of the prompt.
func (b *BotResponder) buildPrompt(ctx context.Context, turn BotTurn, log *logger.Logger) string {
	persona := ai.Persona{}
	room, err := b.rooms.Resolve(ctx, turn.RoomID)
	if err == nil {
		var profile *models.BotProfile
		profile, err = b.rooms.Persona(ctx, room)
		if err == nil {
			persona = ai.Persona{
				Name:         profile.Name,
				Description:  profile.Description,
				EmpathyLevel: string(profile.EmpathyLevel),
				Tone:         string(profile.Tone),
			}
		}
	}
	if err != nil {
		log.Warn("Failed to load bot persona", "error", err.Error())
	}

	history, err := b.history(ctx, turn)
	if err != nil {
		log.Warn("Failed to load bot history", "error", err.Error())
	}

	var refs []string
	if b.cfg.ReferenceK > 0 {
		refCtx, cancel := context.WithTimeout(ctx, b.referenceTimeout())
		refs, err = b.refs.SimilarReferences(refCtx, turn.Body, b.cfg.ReferenceK)
		cancel()
		if err != nil {
			log.Warn("Reference lookup failed, continuing without", "error", err.Error())
			refs = nil
		}
	}

	return ai.BuildPrompt(ai.SystemPrompt(persona, refs), history, turn.Body)
}

func (b *BotResponder) referenceTimeout() time.Duration {
	if b.cfg.ReferenceTimeout > 0 {
		return b.cfg.ReferenceTimeout
	}
	return 2 * time.Second
}

// history returns up to HistoryLimit messages before the triggering one, oldest first
func (b *BotResponder) history(ctx context.Context, turn BotTurn) ([]ai.Turn, error) {
	msgs, err := b.messages.ListByRoom(ctx, turn.RoomID, repository.ListOptions{
		Order:  models.OrderDesc,
		Limit:  b.cfg.HistoryLimit,
		Cursor: turn.MessageID,
	})
	if err != nil {
		return nil, err
	}

	turns := make([]ai.Turn, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		role := ai.RoleUser
		if msgs[i].FromBot() {
			role = ai.RoleAssistant
		}
		turns = append(turns, ai.Turn{Role: role, Content: msgs[i].Body})
	}
	return turns, nil
}

// generate calls the completer with at most one retry
func (b *BotResponder) generate(ctx context.Context, prompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	if b.cfg.RetryBackoff > 0 {
		bo.InitialInterval = b.cfg.RetryBackoff
	}

	attempt := 0
	text, err := backoff.RetryWithData(func() (string, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()

		text, err := b.completer.Complete(callCtx, prompt)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ai.ErrEmptyCompletion
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", backoff.Permanent(err)
		}
		if err != nil {
			b.log.Warn("Completion attempt failed", "attempt", attempt, "error", err.Error())
		}
		return text, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamAI, err)
	}
	return strings.TrimSpace(text), nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"soop-chat/backend/ai"
	"soop-chat/backend/internal/models"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/observability"
	"soop-chat/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallback = "AI response failed, please retry"

// fakeCompleter answers with reply after delay, or fails with err
type fakeCompleter struct {
	reply   string
	err     error
	delay   time.Duration
	release chan struct{}

	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
}

func (c *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *fakeCompleter) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

type failingLookup struct{}

func (failingLookup) SimilarReferences(context.Context, string, int) ([]string, error) {
	return nil, errors.New("index missing")
}

type staticLookup []string

func (l staticLookup) SimilarReferences(context.Context, string, int) ([]string, error) {
	return l, nil
}

func testResponderConfig() BotResponderConfig {
	return BotResponderConfig{
		Workers:      2,
		QueueSize:    4,
		HistoryLimit: 10,
		Timeout:      time.Second,
		RetryBackoff: time.Millisecond,
		FallbackText: fallback,
		ReferenceK:   2,
	}
}

func newResponder(t *testing.T, f *fixture, cfg BotResponderConfig, c ai.Completer, refs ai.ReferenceLookup) *BotResponder {
	t.Helper()
	r := NewBotResponder(cfg, f.chat, f.rooms, f.stores.Messages, c, refs, observability.Global(), logger.Discard())
	f.chat.SetBotDispatcher(r)
	r.Start()
	t.Cleanup(func() { r.Stop(context.Background()) })
	return r
}

func (f *fixture) waitForMessages(t *testing.T, roomID uint, n int) []models.Message {
	t.Helper()
	var msgs []models.Message
	require.Eventually(t, func() bool {
		msgs = f.history(t, roomID)
		return len(msgs) >= n
	}, 3*time.Second, 5*time.Millisecond)
	return msgs
}

func TestBotTurnDeliversCompletion(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{reply: "  Tell me more about that.  "}
	newResponder(t, f, testResponderConfig(), c, staticLookup{"Slow breathing lowers stress."})

	room, err := f.rooms.CreateBotRoom(context.Background(), 10, models.CreateBotRoomRequest{
		Profile: &models.CreateBotProfileRequest{Name: "Empathica", Description: "listens", EmpathyLevel: models.EmpathyCaring, Tone: models.ToneCalm},
	})
	require.NoError(t, err)
	stream := f.subscribe(t, room.ID)

	_, err = f.chat.Send(context.Background(), room.ID, 10, "hello")
	require.NoError(t, err)

	msgs := f.waitForMessages(t, room.ID, 2)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint(10), msgs[0].SenderID)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, models.BotPeer, msgs[1].SenderID)
	assert.Equal(t, "Tell me more about that.", msgs[1].Body)
	assert.False(t, msgs[1].Read)

	prompt := c.lastPrompt()
	assert.Contains(t, prompt, "'Empathica'")
	assert.Contains(t, prompt, "Slow breathing lowers stress.")
	assert.Contains(t, prompt, "\n\nuser: hello")
	assert.Equal(t, 1, strings.Count(prompt, "user: hello"), "trigger message appears once")

	// both messages were fanned out
	for i := 0; i < 2; i++ {
		select {
		case <-stream:
		case <-time.After(time.Second):
			t.Fatalf("missing envelope %d", i)
		}
	}
}

func TestBotTurnFallbackAfterOneRetry(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{err: errors.New("status 503")}
	newResponder(t, f, testResponderConfig(), c, nil)

	room := f.directRoom(t, 10, models.BotPeer)
	_, err := f.chat.Send(context.Background(), room.ID, 10, "hello")
	require.NoError(t, err)

	msgs := f.waitForMessages(t, room.ID, 2)
	assert.Equal(t, models.BotPeer, msgs[1].SenderID)
	assert.Equal(t, fallback, msgs[1].Body)
	assert.Equal(t, int32(2), c.calls.Load())

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.history(t, room.ID), 2, "exactly one bot message per turn")
}

func TestBotTurnTimeout(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{reply: "too late", delay: time.Second}
	cfg := testResponderConfig()
	cfg.Timeout = 20 * time.Millisecond
	newResponder(t, f, cfg, c, nil)

	room := f.directRoom(t, 10, models.BotPeer)
	_, err := f.chat.Send(context.Background(), room.ID, 10, "hello")
	require.NoError(t, err)

	msgs := f.waitForMessages(t, room.ID, 2)
	assert.Equal(t, fallback, msgs[1].Body)
}

func TestBotTurnEmptyCompletionFallsBack(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{reply: "   "}
	newResponder(t, f, testResponderConfig(), c, nil)

	room := f.directRoom(t, 10, models.BotPeer)
	_, err := f.chat.Send(context.Background(), room.ID, 10, "hello")
	require.NoError(t, err)

	msgs := f.waitForMessages(t, room.ID, 2)
	assert.Equal(t, fallback, msgs[1].Body)
}

func TestBotTurnCircuitOpenDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{err: resilience.ErrCircuitOpen}
	newResponder(t, f, testResponderConfig(), c, nil)

	room := f.directRoom(t, 10, models.BotPeer)
	_, err := f.chat.Send(context.Background(), room.ID, 10, "hello")
	require.NoError(t, err)

	f.waitForMessages(t, room.ID, 2)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestBotTurnReferenceFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{reply: "ok"}
	newResponder(t, f, testResponderConfig(), c, failingLookup{})

	room := f.directRoom(t, 10, models.BotPeer)
	_, err := f.chat.Send(context.Background(), room.ID, 10, "hello")
	require.NoError(t, err)

	msgs := f.waitForMessages(t, room.ID, 2)
	assert.Equal(t, "ok", msgs[1].Body)
	assert.NotContains(t, c.lastPrompt(), "reference material")
}

func TestSendDoesNotWaitForBot(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{reply: "finally", release: make(chan struct{})}
	cfg := testResponderConfig()
	cfg.Workers = 1
	cfg.QueueSize = 0
	newResponder(t, f, cfg, c, nil)

	room := f.directRoom(t, 10, models.BotPeer)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.chat.Send(context.Background(), room.ID, 10, "are you there?")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, f.history(t, room.ID), 3)

	close(c.release)
	msgs := f.waitForMessages(t, room.ID, 6)
	bot := 0
	for _, m := range msgs {
		if m.FromBot() {
			bot++
		}
	}
	assert.Equal(t, 3, bot)
}

func TestBotHistoryIsOldestFirstAndBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, 10, models.BotPeer)

	// seed history without a responder attached
	for _, body := range []string{"m1", "m2", "m3", "m4"} {
		_, err := f.chat.Send(ctx, room.ID, 10, body)
		require.NoError(t, err)
	}
	_, err := f.chat.DeliverBotMessage(ctx, room.ID, "b1")
	require.NoError(t, err)

	c := &fakeCompleter{reply: "ok"}
	cfg := testResponderConfig()
	cfg.HistoryLimit = 3
	newResponder(t, f, cfg, c, nil)

	_, err = f.chat.Send(ctx, room.ID, 10, "now")
	require.NoError(t, err)
	f.waitForMessages(t, room.ID, 7)

	prompt := c.lastPrompt()
	assert.NotContains(t, prompt, "m2")
	assert.Contains(t, prompt, "user: m3\n\nuser: m4\n\nassistant: b1\n\nuser: now")
}

func TestStopDrainsAndRefuses(t *testing.T) {
	f := newFixture(t)
	c := &fakeCompleter{reply: "done", delay: 10 * time.Millisecond}
	r := NewBotResponder(testResponderConfig(), f.chat, f.rooms, f.stores.Messages, c, nil, observability.Global(), logger.Discard())
	f.chat.SetBotDispatcher(r)
	r.Start()

	room := f.directRoom(t, 10, models.BotPeer)
	for i := 0; i < 5; i++ {
		_, err := f.chat.Send(context.Background(), room.ID, 10, "q")
		require.NoError(t, err)
	}

	require.NoError(t, r.Stop(context.Background()))
	assert.Len(t, f.history(t, room.ID), 10)

	// turns after stop are dropped, the user message is still stored
	_, err := f.chat.Send(context.Background(), room.ID, 10, "late")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, f.history(t, room.ID), 11)
	assert.NoError(t, r.Stop(context.Background()))
}

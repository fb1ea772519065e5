package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(GeminiConfig{URL: srv.URL + "/v1/models/m:generateContent", APIKey: "k"}, logger.Discard())
	require.NoError(t, err)
	return c
}

func TestGeminiComplete(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "k", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user: hi", req.Contents[0].Parts[0].Text)

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello there"}]}}]}`))
	})

	text, err := c.Complete(context.Background(), "user: hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestGeminiNon2xx(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.Complete(context.Background(), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestGeminiEmpty(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := c.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestGeminiHonorsDeadline(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubCompleter struct {
	err   error
	calls int
}

func (s *stubCompleter) Complete(context.Context, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

func TestBreakerCompleterOpens(t *testing.T) {
	stub := &stubCompleter{err: errors.New("503")}
	b := NewBreakerCompleter(stub, resilience.CircuitBreakerConfig{
		Name:             "ai",
		FailureThreshold: 2,
		RetryTimeout:     time.Minute,
	}, logger.Discard())

	ctx := context.Background()
	b.Complete(ctx, "x")
	b.Complete(ctx, "x")
	_, err := b.Complete(ctx, "x")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, resilience.StateOpen, b.Stats().State)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	stub := &stubCompleter{err: context.Canceled}
	b := NewBreakerCompleter(stub, resilience.CircuitBreakerConfig{Name: "ai", FailureThreshold: 1}, logger.Discard())

	b.Complete(context.Background(), "x")
	assert.Equal(t, resilience.StateClosed, b.Stats().State)
}

func TestPrompt(t *testing.T) {
	system := SystemPrompt(Persona{Name: "Empathica", Description: "kind", EmpathyLevel: "EMPATHETIC_CARING", Tone: "CALM_SOFT"},
		[]string{"ref one", " ", "ref two"})
	assert.Contains(t, system, "'Empathica'")
	assert.Contains(t, system, "ref one\n\n---\n\nref two")

	prompt := BuildPrompt("S", []Turn{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}, "c")
	assert.Equal(t, "system: S\n\nuser: a\n\nassistant: b\n\nuser: c", prompt)

	assert.NotContains(t, SystemPrompt(Persona{Name: "x"}, nil), "reference material")
}

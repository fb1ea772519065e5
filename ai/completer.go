package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"soop-chat/backend/pkg/logger"
)

// ErrEmptyCompletion is returned when the service answers without any text
var ErrEmptyCompletion = errors.New("empty completion")

// Completer produces a text completion for a prompt. Implementations honor ctx
// for cancellation and deadlines.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// StatusError is returned for non-2xx responses from the completion service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion request failed with status %d: %s", e.StatusCode, e.Body)
}

// GeminiConfig configures a GeminiClient
type GeminiConfig struct {
	// URL is the full generateContent endpoint
	URL    string
	APIKey string
	// Timeout caps a single HTTP exchange; the caller's ctx may be shorter
	Timeout time.Duration
}

// GeminiClient talks to a generateContent-style completion endpoint
type GeminiClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewGeminiClient creates a completion client
func NewGeminiClient(cfg GeminiConfig, log *logger.Logger) (*GeminiClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("completion endpoint URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid completion endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &GeminiClient{
		endpoint:   cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}, nil
}

// Complete sends prompt as a single user content part and returns the first candidate's text
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := c.endpoint
	if c.apiKey != "" {
		u, _ := url.Parse(endpoint)
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error making completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("completion error: %s", out.Error.Message)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 || out.Candidates[0].Content.Parts[0].Text == "" {
		return "", ErrEmptyCompletion
	}

	c.log.Debug("Completion received", "duration", time.Since(start).String(), "prompt_len", len(prompt))
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package llm provides chat-completion clients used to refine dictated
// commands.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token count reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Config selects and configures a provider.
type Config struct {
	Provider  string // "openai", "openai-compatible", "claude", "gemini"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Completer performs chat completions.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, Usage, error)
}

type completerConfig struct {
	http      *http.Client
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
}

// NewCompleter creates a Completer for cfg.Provider.
func NewCompleter(cfg Config) (Completer, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required for provider %q", cfg.Provider)
	}
	cc := completerConfig{
		http:      &http.Client{Timeout: cfg.Timeout},
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}

	switch cfg.Provider {
	case "gemini":
		return &geminiCompleter{cfg: cc}, nil
	case "claude":
		return &claudeCompleter{cfg: cc}, nil
	case "", "openai", "openai-compatible":
		return newOpenAICompleter(cc, cfg.Provider == "openai-compatible"), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// postJSON sends in as a JSON body and decodes the reply into out. The
// status and raw body are returned so callers can report API errors; a
// body that is not JSON is only an error on a 200.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any) (int, []byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil && resp.StatusCode == http.StatusOK {
		return resp.StatusCode, body, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.StatusCode, body, nil
}

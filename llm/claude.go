package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const defaultClaudeBaseURL = "https://api.anthropic.com/v1/messages"

// claudeCompleter talks to the Anthropic Messages API.
type claudeCompleter struct {
	cfg completerConfig
}

type claudeRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildRequest moves system messages into the top-level system field.
func (c *claudeCompleter) buildRequest(messages []Message) claudeRequest {
	req := claudeRequest{Model: c.cfg.model, MaxTokens: c.cfg.maxTokens}
	if req.MaxTokens == 0 {
		req.MaxTokens = 256 // Required by the API
	}
	var system []string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		req.Messages = append(req.Messages, msg)
	}
	req.System = strings.Join(system, "\n")
	return req
}

func (c *claudeCompleter) Complete(ctx context.Context, messages []Message) (string, Usage, error) {
	url := defaultClaudeBaseURL
	if c.cfg.baseURL != "" {
		url = c.cfg.baseURL
	}
	header := http.Header{}
	header.Set("x-api-key", c.cfg.apiKey)
	header.Set("anthropic-version", "2023-06-01")

	var resp claudeResponse
	status, body, err := postJSON(ctx, c.cfg.http, url, header, c.buildRequest(messages), &resp)
	switch {
	case err != nil:
		return "", Usage{}, err
	case resp.Error != nil:
		return "", Usage{}, fmt.Errorf("api error: %s - %s", resp.Error.Type, resp.Error.Message)
	case status != http.StatusOK:
		return "", Usage{}, fmt.Errorf("api error: %d - %s", status, body)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", Usage{}, errors.New("no text content returned")
	}
	return text.String(), Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}, nil
}

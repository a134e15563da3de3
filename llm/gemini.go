package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// geminiCompleter talks to the Gemini generateContent endpoint.
type geminiCompleter struct {
	cfg completerConfig
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildRequest maps chat roles onto Gemini's user/model turns; system
// messages become the system instruction.
func (c *geminiCompleter) buildRequest(messages []Message) geminiRequest {
	var (
		req    geminiRequest
		system []string
	)
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
			continue
		case "assistant":
			msg.Role = "model"
		default:
			msg.Role = "user"
		}
		req.Contents = append(req.Contents, geminiContent{Role: msg.Role, Parts: []geminiPart{{Text: msg.Content}}})
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n")}}}
	}
	req.GenerationConfig.MaxOutputTokens = c.cfg.maxTokens
	return req
}

func (c *geminiCompleter) Complete(ctx context.Context, messages []Message) (string, Usage, error) {
	base := c.cfg.baseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	url := strings.TrimSuffix(base, "/") + "/" + c.cfg.model + ":generateContent"
	header := http.Header{}
	header.Set("x-goog-api-key", c.cfg.apiKey)

	var resp geminiResponse
	status, body, err := postJSON(ctx, c.cfg.http, url, header, c.buildRequest(messages), &resp)
	switch {
	case err != nil:
		return "", Usage{}, err
	case resp.Error != nil:
		return "", Usage{}, fmt.Errorf("api error: %d - %s", resp.Error.Code, resp.Error.Message)
	case status != http.StatusOK:
		return "", Usage{}, fmt.Errorf("api error: %d - %s", status, body)
	case len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0:
		return "", Usage{}, errors.New("no candidates returned")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	usage := Usage{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	return text.String(), usage, nil
}

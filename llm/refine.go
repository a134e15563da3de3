package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultRefinePrompt steers the model toward shell input.
const DefaultRefinePrompt = `You turn dictated speech into the exact text a user meant to type at a Linux shell prompt.
Fix misheard command names, flags, paths and punctuation. Keep ordinary prose unchanged.
Reply with the corrected text only, on a single line, without quotes, code fences or explanations.`

// Refiner asks a chat model to correct a transcript.
type Refiner struct {
	completer Completer
	prompt    string
}

// NewRefiner creates a refiner. An empty prompt selects DefaultRefinePrompt.
func NewRefiner(c Completer, prompt string) *Refiner {
	if prompt == "" {
		prompt = DefaultRefinePrompt
	}
	return &Refiner{completer: c, prompt: prompt}
}

// Refine returns the corrected text. Replies that are empty or span
// several lines are rejected so nothing unexpected reaches the shell.
func (r *Refiner) Refine(ctx context.Context, text string) (string, error) {
	start := time.Now()
	reply, usage, err := r.completer.Complete(ctx, []Message{
		{Role: "system", Content: r.prompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("llm: refine: %w", err)
	}

	refined := sanitizeReply(reply)
	if refined == "" {
		return "", errors.New("llm: refine: empty reply")
	}
	if strings.ContainsAny(refined, "\r\n") {
		return "", errors.New("llm: refine: multi-line reply rejected")
	}

	slog.Debug("refined transcript",
		"elapsed", time.Since(start),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"changed", refined != text,
	)
	return refined, nil
}

// sanitizeReply strips the wrapping models add despite instructions.
func sanitizeReply(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], " ") {
			s = s[nl+1:] // Language tag
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	for _, q := range []string{"`", `"`} {
		if len(s) < 2 || !strings.HasPrefix(s, q) || !strings.HasSuffix(s, q) {
			continue
		}
		if inner := s[len(q) : len(s)-len(q)]; !strings.Contains(inner, q) {
			s = strings.TrimSpace(inner)
		}
	}
	return s
}

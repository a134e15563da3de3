package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"go.aimuz.me/termtalk/internal/types"
)

// WhisperAPI implements Backend using OpenAI's transcription endpoint or any
// compatible server.
type WhisperAPI struct {
	client openai.Client
	model  string
	prompt string
	hasKey bool
}

// WhisperAPIConfig holds configuration for WhisperAPI.
type WhisperAPIConfig struct {
	APIKey  string
	BaseURL string // Optional, defaults to OpenAI's API
	Model   string // Optional, defaults to "whisper-1"
	Prompt  string
}

// NewWhisperAPI creates a new WhisperAPI backend.
func NewWhisperAPI(cfg WhisperAPIConfig) *WhisperAPI {
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // Failed cycles are reported, never retried
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &WhisperAPI{
		client: openai.NewClient(opts...),
		model:  model,
		prompt: cfg.Prompt,
		hasKey: cfg.APIKey != "",
	}
}

func (w *WhisperAPI) Name() string  { return "whisper-api" }
func (w *WhisperAPI) Model() string { return w.model }

func (w *WhisperAPI) Format() types.AudioFormat {
	return types.DefaultAudioFormat
}

func (w *WhisperAPI) Setup(_ context.Context, _ func(percent int)) error {
	if !w.hasKey {
		return errors.New("API key is required")
	}
	return nil
}

// Transcribe uploads the recording as WAV.
func (w *WhisperAPI) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	file, cleanup, err := writeTempWAV(audio, w.Format())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(file, "audio.wav", "audio/wav"),
		Model: openai.AudioModel(w.model),
	}
	// The API does not accept 'auto', empty means auto-detect
	if language != "" && language != "auto" {
		params.Language = openai.String(language)
	}
	if w.prompt != "" {
		params.Prompt = openai.String(w.prompt)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	return &TranscribeResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: language,
	}, nil
}

func (w *WhisperAPI) Close() error {
	return nil
}

// Package stt provides the speech-to-text backends and the engine that turns
// a finished recording into a transcript.
package stt

import (
	"context"
	"fmt"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// TranscribeResult represents the raw output of a backend.
type TranscribeResult struct {
	Text     string    `json:"text"`     // Transcribed text
	Language string    `json:"language"` // Detected language code
	Segments []Segment `json:"segments"` // Time-stamped segments, if the backend reports them
	Cached   bool      `json:"-"`
}

// Segment represents a time-stamped audio segment.
type Segment struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Backend is a speech-to-text model. Local (whisper.cpp), remote (OpenAI)
// and server (Vosk) implementations satisfy it.
type Backend interface {
	// Name returns the backend identifier, e.g. "whisper-local".
	Name() string

	// Model identifies the loaded model; results are only comparable
	// between identical Name/Model pairs.
	Model() string

	// Format is the PCM layout the model expects.
	Format() types.AudioFormat

	// Setup performs one-time initialization (e.g. model download).
	// progress receives a percentage (0-100) and may be nil.
	Setup(ctx context.Context, progress func(percent int)) error

	// Transcribe converts float32 PCM in Format to text. It blocks until
	// done and must return promptly with ctx.Err() once ctx is cancelled.
	Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error)

	// Close releases resources held by the backend.
	Close() error
}

// New creates the backend selected by cfg.Backend.
func New(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "whisper-local":
		return NewWhisperLocal(WhisperLocalConfig{
			ModelSize:    cfg.ModelSize,
			ModelDir:     cfg.ModelDir,
			BinPath:      cfg.BinPath,
			Command:      cfg.Command,
			Prompt:       cfg.Prompt,
			AutoDownload: cfg.AutoDownload,
		})
	case "whisper-api":
		return NewWhisperAPI(WhisperAPIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.APIModel,
			Prompt:  cfg.Prompt,
		}), nil
	case "vosk":
		return NewVosk(VoskConfig{URL: cfg.VoskURL}), nil
	default:
		return nil, fmt.Errorf("stt: unknown backend %q", cfg.Backend)
	}
}

// Config selects and configures a backend.
type Config struct {
	Backend      string
	ModelSize    string
	ModelDir     string
	BinPath      string
	Command      string
	AutoDownload bool
	Prompt       string
	APIKey       string
	BaseURL      string
	APIModel     string
	VoskURL      string
}

package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// TextFilter post-processes backend output. Returning types.ErrEmptyResult
// (or an empty string) turns the transcript into an empty result.
type TextFilter interface {
	Filter(ctx context.Context, text string) (string, error)
}

// EngineOptions tunes the engine independent of the backend.
type EngineOptions struct {
	Language         string        // Empty for auto-detect
	SilenceThreshold float64       // RMS at or below this is treated as silence
	MinSpeech        time.Duration // Less voiced audio than this is treated as silence
	Timeout          time.Duration // 0 means no limit
	Filter           TextFilter    // Optional
}

// speechPadding is the audio kept around detected speech so word onsets
// and endings are not clipped.
const speechPadding = 300 * time.Millisecond

// Engine wraps a Backend with one-time initialization, the format contract,
// silence detection and cancellation semantics.
type Engine struct {
	backend Backend
	opts    EngineOptions
	vad     *VAD

	initMu sync.Mutex
	ready  bool
}

// NewEngine creates an engine over backend.
func NewEngine(backend Backend, opts EngineOptions) *Engine {
	return &Engine{
		backend: backend,
		opts:    opts,
		vad:     NewVAD(float32(opts.SilenceThreshold), 20*time.Millisecond, speechPadding, opts.MinSpeech),
	}
}

// Backend returns the wrapped backend.
func (e *Engine) Backend() Backend {
	return e.backend
}

// Initialize loads the model. Only the first successful call does any
// work; concurrent calls wait for it. A failed load is retried on the next
// call, so a cancelled first cycle does not disable the engine.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.ready {
		return nil
	}

	start := time.Now()
	lastDecile := -1
	err := e.backend.Setup(ctx, func(percent int) {
		if d := percent / 10; d > lastDecile {
			lastDecile = d
			slog.Info("stt setup progress", "backend", e.backend.Name(), "percent", percent)
		}
	})
	if err != nil {
		return fmt.Errorf("stt: initialize %s: %w", e.backend.Name(), err)
	}
	e.ready = true
	slog.Info("stt ready", "backend", e.backend.Name(), "model", e.backend.Model(), "elapsed", time.Since(start))
	return nil
}

// Transcribe converts buf into a transcript. It never returns text for a
// cancelled request.
func (e *Engine) Transcribe(ctx context.Context, buf *types.AudioBuffer) types.Transcript {
	start := time.Now()
	tr := e.transcribe(ctx, buf)
	tr.Backend = e.backend.Name()
	tr.Elapsed = time.Since(start)
	return tr
}

func (e *Engine) transcribe(ctx context.Context, buf *types.AudioBuffer) types.Transcript {
	if err := ctx.Err(); err != nil {
		return types.Cancelled()
	}
	if buf == nil || len(buf.Samples) == 0 {
		return types.Empty()
	}

	want := e.backend.Format()
	if buf.Format.SampleRate != want.SampleRate || buf.Format.Channels != want.Channels {
		return types.Failed(fmt.Errorf("stt: got %s, %s expects %s: %w",
			buf.Format, e.backend.Name(), want, types.ErrFormat))
	}

	if err := e.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return types.Cancelled()
		}
		return types.Failed(fmt.Errorf("%w: %w", types.ErrTranscription, err))
	}

	span, ok := e.vad.Detect(buf.Samples, buf.Format)
	if !ok {
		slog.Debug("no speech in recording", "voiced", span.Voiced)
		return types.Empty()
	}
	audio := buf.Samples[span.Start:span.End]

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	result, err := e.backend.Transcribe(runCtx, audio, e.opts.Language)
	if ctx.Err() != nil {
		// Superseded; whatever the backend produced is stale.
		return types.Cancelled()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Failed(fmt.Errorf("stt: %s timed out after %v: %w", e.backend.Name(), e.opts.Timeout, types.ErrTranscription))
		}
		if types.Classify(err) == types.KindTranscription && !errors.Is(err, types.ErrTranscription) {
			err = fmt.Errorf("%w: %w", types.ErrTranscription, err)
		}
		return types.Failed(fmt.Errorf("stt: %s: %w", e.backend.Name(), err))
	}

	text := result.Text
	if e.opts.Filter != nil {
		text, err = e.opts.Filter.Filter(ctx, text)
		if ctx.Err() != nil {
			return types.Cancelled()
		}
		if errors.Is(err, types.ErrEmptyResult) {
			return types.Empty()
		}
		if err != nil {
			return types.Failed(fmt.Errorf("stt: filter: %w: %w", types.ErrTranscription, err))
		}
	}
	if text == "" {
		return types.Empty()
	}

	language := result.Language
	if language == "" {
		language = e.opts.Language
	}
	return types.Transcript{
		Text:     text,
		Status:   types.TranscriptOK,
		Language: language,
		Cached:   result.Cached,
	}
}

// Close releases the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}

func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

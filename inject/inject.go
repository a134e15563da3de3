// Package inject types transcripts into the focused window as synthetic key
// events.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// ErrUnsupported is returned by keystroke backends unavailable on this
// platform.
var ErrUnsupported = errors.New("inject: keystroke synthesis not supported on this platform")

// Typer synthesizes physical key presses.
type Typer interface {
	// Type presses and releases each stroke in order.
	Type(strokes []Stroke) error
	// Chord presses a key combination once.
	Chord(c Chord) error
}

// Fallback types text the keyboard layout cannot express directly.
type Fallback interface {
	Name() string
	Type(ctx context.Context, text string) error
}

// Options tunes timing.
type Options struct {
	SettleDelay time.Duration // Wait before typing so focus can return to the target
	KeyDelay    time.Duration // Pause between strokes, 0 for none
}

// Injector delivers one transcript per call as a single uninterrupted burst.
type Injector struct {
	typer    Typer    // May be nil when only the fallback is available
	fallback Fallback // May be nil
	opts     Options

	mu sync.Mutex // Serializes bursts
}

// New creates an injector.
func New(typer Typer, fallback Fallback, opts Options) *Injector {
	return &Injector{typer: typer, fallback: fallback, opts: opts}
}

// Inject types text. Cancelling ctx aborts a pending injection during the
// settle delay; once the burst starts it always completes.
func (i *Injector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	if i.opts.SettleDelay > 0 {
		timer := time.NewTimer(i.opts.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("inject: %w", types.ErrCancelled)
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("inject: %w", types.ErrCancelled)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	// The burst is not interruptible
	burstCtx := context.WithoutCancel(ctx)

	strokes, ok := Plan(text)
	switch {
	case ok && i.typer != nil:
		if err := i.typer.Type(i.pace(strokes)); err != nil {
			return fmt.Errorf("inject: type %d strokes: %w: %w", len(strokes), types.ErrInjection, err)
		}
		return nil
	case i.fallback != nil:
		slog.Debug("typing with fallback", "fallback", i.fallback.Name())
		if err := i.fallback.Type(burstCtx, text); err != nil {
			return fmt.Errorf("inject: %s: %w: %w", i.fallback.Name(), types.ErrInjection, err)
		}
		return nil
	case i.typer == nil:
		return fmt.Errorf("inject: no keystroke backend available: %w", types.ErrInjection)
	default:
		return fmt.Errorf("inject: text has characters outside the keyboard layout and no fallback is configured: %w", types.ErrInjection)
	}
}

// pace attaches the configured inter-key delay.
func (i *Injector) pace(strokes []Stroke) []Stroke {
	if i.opts.KeyDelay <= 0 {
		return strokes
	}
	for n := range strokes {
		strokes[n].Delay = i.opts.KeyDelay
	}
	return strokes
}

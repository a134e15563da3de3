// Package hotkey turns global key transitions of a single trigger key into
// de-duplicated push-to-talk edges.
package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// ErrAlreadyStarted is returned when Start is called twice. A monitor's edge
// sequence lasts for the process lifetime and cannot be restarted.
var ErrAlreadyStarted = errors.New("hotkey: monitor already started")

// edgeBuffer is the capacity of the edge channel handed to the controller.
const edgeBuffer = 64

// RawEvent is one OS-level transition of the trigger key, possibly repeated
// by key auto-repeat.
type RawEvent struct {
	Down bool
	Time time.Time
}

// Source delivers raw transitions of one key from the OS hook.
type Source interface {
	// Start installs the hook. It must fail fast, wrapping
	// types.ErrHookUnavailable, when the hook cannot be installed.
	Start(ctx context.Context, key string) (<-chan RawEvent, error)
	// Stop removes the hook and closes the event channel.
	Stop()
}

// Monitor observes the trigger key and emits logical DOWN/UP edges.
type Monitor struct {
	key string
	src Source

	edges chan types.KeyEdge

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// New creates a monitor for key using src.
func New(key string, src Source) *Monitor {
	return &Monitor{
		key:   key,
		src:   src,
		edges: make(chan types.KeyEdge, edgeBuffer),
		done:  make(chan struct{}),
	}
}

// Edges returns the edge sequence. It is closed once the monitor stops.
func (m *Monitor) Edges() <-chan types.KeyEdge {
	return m.edges
}

// Start installs the OS hook and begins emitting edges until ctx is done or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}

	raw, err := m.src.Start(ctx, m.key)
	if err != nil {
		return fmt.Errorf("hotkey: install hook for %q: %w", m.key, err)
	}
	m.started = true

	go m.run(ctx, raw)
	slog.Info("hotkey monitor started", "key", m.key)
	return nil
}

// Stop removes the OS hook and waits for the edge goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	m.src.Stop()
	<-m.done
}

func (m *Monitor) run(ctx context.Context, raw <-chan RawEvent) {
	defer close(m.done)
	defer close(m.edges)

	var f filter
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}
			edge, ok := f.accept(ev.Down)
			if !ok {
				continue
			}
			ke := types.KeyEdge{Key: m.key, Edge: edge, Time: ev.Time}
			if ke.Time.IsZero() {
				ke.Time = time.Now()
			}
			select {
			case m.edges <- ke:
			case <-ctx.Done():
				return
			}
		}
	}
}

// filter collapses auto-repeat: only the first DOWN after an UP (or after
// start) and the first UP after a DOWN are significant.
type filter struct {
	down bool
}

func (f *filter) accept(down bool) (types.Edge, bool) {
	if down == f.down {
		return 0, false
	}
	f.down = down
	if down {
		return types.EdgeDown, true
	}
	return types.EdgeUp, true
}

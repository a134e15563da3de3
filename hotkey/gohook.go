package hotkey

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"go.aimuz.me/termtalk/internal/types"
)

// aliases maps friendly names onto gohook key names.
var aliases = map[string]string{
	"right_cmd":   "rcmd",
	"right_alt":   "ralt",
	"right_ctrl":  "rctrl",
	"right_shift": "rshift",
	"left_cmd":    "cmd",
	"left_alt":    "alt",
	"left_ctrl":   "ctrl",
	"left_shift":  "shift",
	"super":       "cmd",
	"rsuper":      "rcmd",
	"option":      "alt",
	"roption":     "ralt",
}

// ResolveKey maps a configured key name to a hook keycode.
// Raw codes can be given as "code:NN".
func ResolveKey(name string) (uint16, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if raw, ok := strings.CutPrefix(name, "code:"); ok {
		code, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("hotkey: invalid key code %q: %w", raw, err)
		}
		return uint16(code), nil
	}
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	code, ok := hook.Keycode[name]
	if !ok {
		return 0, fmt.Errorf("hotkey: unknown key %q", name)
	}
	return code, nil
}

// GohookSource is the process-wide global key hook backed by gohook.
// Only one may be started per process.
type GohookSource struct {
	StartTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewGohookSource creates the OS hook adapter.
func NewGohookSource(startTimeout time.Duration) *GohookSource {
	if startTimeout <= 0 {
		startTimeout = 2 * time.Second
	}
	return &GohookSource{StartTimeout: startTimeout}
}

// Start installs the global hook and waits until it reports enabled.
func (s *GohookSource) Start(ctx context.Context, key string) (<-chan RawEvent, error) {
	code, err := ResolveKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrAlreadyStarted
	}

	evCh := hook.Start()
	if err := waitEnabled(ctx, evCh, s.StartTimeout); err != nil {
		hook.End()
		return nil, err
	}

	out := make(chan RawEvent, edgeBuffer)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.forward(evCh, code, out)
	return out, nil
}

// Stop ends the hook. Safe to call more than once.
func (s *GohookSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	hook.End()
	<-done
}

func waitEnabled(ctx context.Context, evCh <-chan hook.Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-evCh:
			if !ok {
				return fmt.Errorf("hook channel closed: %w", types.ErrHookUnavailable)
			}
			switch ev.Kind {
			case hook.HookEnabled:
				return nil
			case hook.HookDisabled:
				return fmt.Errorf("hook disabled during start: %w", types.ErrHookUnavailable)
			}
		case <-timer.C:
			return fmt.Errorf("no hook after %v (missing input permissions?): %w", timeout, types.ErrHookUnavailable)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forward translates gohook events for code into RawEvents. KeyHold is the
// physical press (repeated while held), KeyUp the release; KeyDown is the
// typed-character event and is ignored.
func (s *GohookSource) forward(evCh <-chan hook.Event, code uint16, out chan<- RawEvent) {
	defer close(s.done)
	defer close(out)

	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			if ev.Keycode != code {
				continue
			}
			var raw RawEvent
			switch ev.Kind {
			case hook.KeyHold:
				raw = RawEvent{Down: true, Time: ev.When}
			case hook.KeyUp:
				raw = RawEvent{Down: false, Time: ev.When}
			default:
				continue
			}
			select {
			case out <- raw:
			case <-s.stop:
				return
			}
		}
	}
}

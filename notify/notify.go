// Package notify surfaces user-visible pipeline errors.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"

	"go.aimuz.me/termtalk/internal/types"
)

const title = "termtalk"

// Reporter logs user-visible errors and optionally shows them as desktop
// notifications. Format errors are reported once per distinct message since
// they repeat every cycle until the configuration is fixed.
type Reporter struct {
	desktop bool
	send    func(title, message string) error

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewReporter creates a reporter. desktop enables notifications.
func NewReporter(desktop bool) *Reporter {
	return &Reporter{
		desktop: desktop,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		seen: make(map[string]struct{}),
	}
}

// Report handles err according to its kind and reports whether it was
// surfaced.
func (r *Reporter) Report(err error) bool {
	kind := types.Classify(err)
	if !kind.UserVisible() {
		return false
	}

	msg := err.Error()
	if kind == types.KindFormat {
		r.mu.Lock()
		_, dup := r.seen[msg]
		r.seen[msg] = struct{}{}
		r.mu.Unlock()
		if dup {
			slog.Debug("suppressed repeated format error", "error", err)
			return false
		}
	}

	slog.Error("pipeline error", "kind", kind.String(), "error", err)
	if r.desktop {
		if nerr := r.send(title, message(kind, msg)); nerr != nil {
			slog.Warn("desktop notification", "error", nerr)
		}
	}
	return true
}

func message(kind types.ErrorKind, msg string) string {
	switch kind {
	case types.KindDeviceUnavailable:
		return "Microphone unavailable: " + msg
	case types.KindFormat:
		return "Audio format mismatch: " + msg
	case types.KindInjection:
		return "Could not type text: " + msg
	case types.KindFatal:
		return "Stopped: " + msg
	default:
		return "Transcription failed: " + msg
	}
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.aimuz.me/termtalk/internal/types"
)

func newTestReporter() (*Reporter, *[]string) {
	var sent []string
	r := NewReporter(true)
	r.send = func(title, message string) error {
		sent = append(sent, message)
		return nil
	}
	return r, &sent
}

func TestReporter_Policy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"empty result", types.ErrEmptyResult, false},
		{"cancelled", fmt.Errorf("stt: %w", types.ErrCancelled), false},
		{"context cancelled", context.Canceled, false},
		{"device", fmt.Errorf("audiocapture: %w", types.ErrDeviceUnavailable), true},
		{"injection", fmt.Errorf("inject: %w", types.ErrInjection), true},
		{"transcription", errors.New("exit status 1"), true},
		{"format", fmt.Errorf("stt: 44100Hz: %w", types.ErrFormat), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sent := newTestReporter()
			if got := r.Report(tt.err); got != tt.want {
				t.Errorf("Report() = %v, want %v", got, tt.want)
			}
			if tt.want && len(*sent) != 1 {
				t.Errorf("sent %d notifications, want 1", len(*sent))
			}
			if !tt.want && len(*sent) != 0 {
				t.Errorf("sent %v for a silent error", *sent)
			}
		})
	}
}

func TestReporter_FormatErrorDeduplicated(t *testing.T) {
	r, sent := newTestReporter()
	errA := fmt.Errorf("stt: got 44100Hz: %w", types.ErrFormat)
	errB := fmt.Errorf("stt: got 48000Hz: %w", types.ErrFormat)

	if !r.Report(errA) {
		t.Error("first format error not reported")
	}
	if r.Report(errA) {
		t.Error("repeated format error reported again")
	}
	if !r.Report(errB) {
		t.Error("distinct format error not reported")
	}
	if len(*sent) != 2 {
		t.Errorf("sent %d notifications, want 2", len(*sent))
	}

	// Other kinds are never de-duplicated
	injErr := fmt.Errorf("inject: %w", types.ErrInjection)
	r.Report(injErr)
	r.Report(injErr)
	if len(*sent) != 4 {
		t.Errorf("sent %d notifications, want 4", len(*sent))
	}
}

func TestReporter_DesktopDisabled(t *testing.T) {
	r := NewReporter(false)
	called := false
	r.send = func(string, string) error {
		called = true
		return nil
	}
	if !r.Report(fmt.Errorf("inject: %w", types.ErrInjection)) {
		t.Error("Report() = false with notifications disabled, want logged and true")
	}
	if called {
		t.Error("desktop notification sent while disabled")
	}
}

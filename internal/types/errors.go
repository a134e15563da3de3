package types

import (
	"context"
	"errors"
)

// Sentinel errors shared by every pipeline stage. Stage packages wrap these
// with fmt.Errorf("...: %w") so the controller can classify them.
var (
	ErrHookUnavailable   = errors.New("global key hook unavailable")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrFormat            = errors.New("audio format mismatch")
	ErrEmptyResult       = errors.New("no speech recognized")
	ErrCancelled         = errors.New("cancelled")
	ErrInjection         = errors.New("keystroke injection failed")
	ErrTranscription     = errors.New("transcription failed")
)

// ErrorKind classifies pipeline errors for reporting.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindFatal
	KindDeviceUnavailable
	KindFormat
	KindEmptyResult
	KindCancelled
	KindInjection
	KindTranscription
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFatal:
		return "fatal"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindFormat:
		return "format_error"
	case KindEmptyResult:
		return "empty_result"
	case KindCancelled:
		return "cancelled"
	case KindInjection:
		return "injection_error"
	case KindTranscription:
		return "transcription_error"
	default:
		return "unknown"
	}
}

// UserVisible reports whether errors of this kind are surfaced to the user.
// Silence and superseded cycles resolve quietly.
func (k ErrorKind) UserVisible() bool {
	switch k {
	case KindNone, KindEmptyResult, KindCancelled:
		return false
	default:
		return true
	}
}

// Classify maps an error onto the pipeline taxonomy.
// Unknown errors are treated as transcription failures.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrHookUnavailable):
		return KindFatal
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrEmptyResult):
		return KindEmptyResult
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrInjection):
		return KindInjection
	default:
		return KindTranscription
	}
}

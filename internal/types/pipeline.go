package types

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Key Edges
// ─────────────────────────────────────────────────────────────────────────────

// Edge is the direction of a trigger key transition.
type Edge uint8

const (
	EdgeDown Edge = iota + 1
	EdgeUp
)

func (e Edge) String() string {
	switch e {
	case EdgeDown:
		return "down"
	case EdgeUp:
		return "up"
	default:
		return fmt.Sprintf("edge(%d)", uint8(e))
	}
}

// KeyEdge is a single logical transition of the trigger key.
type KeyEdge struct {
	Key  string    // Trigger key name, e.g. "rcmd"
	Edge Edge      // Down or Up
	Time time.Time // When the hook observed the transition
}

// ─────────────────────────────────────────────────────────────────────────────
// Audio
// ─────────────────────────────────────────────────────────────────────────────

// AudioFormat describes PCM samples exchanged between capture and transcription.
type AudioFormat struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bitDepth"` // Width of the device samples before float conversion
}

// DefaultAudioFormat is 16 kHz mono 16-bit, what whisper models expect.
var DefaultAudioFormat = AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// AudioBuffer holds the samples of one recording.
// It is written only by the capture path and must be treated as read-only
// once returned from Stop.
type AudioBuffer struct {
	Samples   []float32 // Interleaved float32 PCM in [-1, 1]
	Format    AudioFormat
	StartedAt time.Time
	Duration  time.Duration // Wall-clock time between start and stop
	TooShort  bool          // Shorter than the configured minimum, never transcribed
	Dropped   int           // Chunks lost because the capture queue was full
}

// AudioDuration returns the duration represented by the samples themselves.
func (b *AudioBuffer) AudioDuration() time.Duration {
	if b == nil || b.Format.SampleRate == 0 || b.Format.Channels == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.Format.SampleRate)
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcripts
// ─────────────────────────────────────────────────────────────────────────────

// TranscriptStatus is the outcome of a transcription request.
type TranscriptStatus uint8

const (
	TranscriptOK TranscriptStatus = iota
	TranscriptEmpty
	TranscriptCancelled
	TranscriptFailed
)

func (s TranscriptStatus) String() string {
	switch s {
	case TranscriptOK:
		return "ok"
	case TranscriptEmpty:
		return "empty"
	case TranscriptCancelled:
		return "cancelled"
	case TranscriptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transcript is the result of transcribing one AudioBuffer.
type Transcript struct {
	Text     string
	Status   TranscriptStatus
	Err      error  // Set when Status is Failed; classify with Classify
	Language string // Detected or configured language, may be empty
	Backend  string // Name of the backend that produced the text
	Cached   bool
	Elapsed  time.Duration
}

// Failed builds a failed transcript carrying err.
func Failed(err error) Transcript {
	return Transcript{Status: TranscriptFailed, Err: err}
}

// Cancelled builds a cancelled transcript.
func Cancelled() Transcript {
	return Transcript{Status: TranscriptCancelled, Err: ErrCancelled}
}

// Empty builds a transcript for silence or unintelligible audio.
func Empty() Transcript {
	return Transcript{Status: TranscriptEmpty, Err: ErrEmptyResult}
}

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline Phases
// ─────────────────────────────────────────────────────────────────────────────

// Phase is the state of the push-to-talk pipeline.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRecording
	PhaseTranscribing
	PhaseInjecting
	PhaseAborting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseRecording:
		return "RECORDING"
	case PhaseTranscribing:
		return "TRANSCRIBING"
	case PhaseInjecting:
		return "INJECTING"
	case PhaseAborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

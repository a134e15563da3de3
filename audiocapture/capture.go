// Package audiocapture records microphone audio for one push-to-talk cycle.
package audiocapture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// ErrNotCapturing is returned when Stop is called while not capturing.
var ErrNotCapturing = errors.New("audiocapture: not capturing")

// ErrAlreadyCapturing is returned when Start is called while capturing.
var ErrAlreadyCapturing = errors.New("audiocapture: already capturing")

// Device is an exclusive PCM input. Open begins delivering little-endian
// signed 16-bit interleaved frames to onData from the real-time audio
// thread; Close stops delivery and releases the device.
type Device interface {
	Open(format types.AudioFormat, onData func(pcm []byte)) error
	Close() error
}

// Config holds configuration for audio capture.
type Config struct {
	Format      types.AudioFormat
	MinDuration time.Duration // Shorter recordings are marked TooShort
	QueueSize   int           // Chunks buffered between the audio thread and the accumulator
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		Format:      types.DefaultAudioFormat,
		MinDuration: 300 * time.Millisecond,
		QueueSize:   256,
	}
}

// Capture accumulates samples from a Device between Start and Stop.
type Capture struct {
	cfg Config
	dev Device

	mu     sync.Mutex
	active *session
}

// New creates a capture over dev.
func New(cfg Config, dev Device) (*Capture, error) {
	if cfg.Format.SampleRate == 0 {
		cfg.Format.SampleRate = types.DefaultAudioFormat.SampleRate
	}
	if cfg.Format.Channels == 0 {
		cfg.Format.Channels = types.DefaultAudioFormat.Channels
	}
	if cfg.Format.BitDepth == 0 {
		cfg.Format.BitDepth = types.DefaultAudioFormat.BitDepth
	}
	if cfg.Format.BitDepth != 16 {
		return nil, fmt.Errorf("audiocapture: %d-bit capture: %w", cfg.Format.BitDepth, types.ErrFormat)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Capture{cfg: cfg, dev: dev}, nil
}

// Format returns the format of captured buffers.
func (c *Capture) Format() types.AudioFormat {
	return c.cfg.Format
}

// Start opens the device and begins a new buffer.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ErrAlreadyCapturing
	}

	s := newSession(c.cfg.QueueSize)
	if err := c.dev.Open(c.cfg.Format, s.push); err != nil {
		if !errors.Is(err, types.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", types.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("audiocapture: open device: %w", err)
	}
	s.startedAt = time.Now()
	go s.accumulate()

	c.active = s
	return nil
}

// Stop closes the device and returns the finished buffer.
// The buffer is not touched by the capture afterwards.
func (c *Capture) Stop() (*types.AudioBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.active
	if s == nil {
		return nil, ErrNotCapturing
	}
	c.active = nil

	if err := c.dev.Close(); err != nil {
		slog.Warn("close audio device", "error", err)
	}
	s.finish()

	buf := &types.AudioBuffer{
		Samples:   s.samples,
		Format:    c.cfg.Format,
		StartedAt: s.startedAt,
		Duration:  time.Since(s.startedAt),
		Dropped:   int(s.dropped.Load()),
	}
	buf.TooShort = buf.AudioDuration() < c.cfg.MinDuration

	if buf.Dropped > 0 {
		slog.Warn("audio chunks dropped", "dropped", buf.Dropped)
	}
	return buf, nil
}

// IsCapturing reports whether a recording is in progress.
func (c *Capture) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Session
// ─────────────────────────────────────────────────────────────────────────────

// session is one recording. The audio thread only ever calls push, which
// copies and enqueues without blocking; a single accumulator goroutine owns
// samples until finish returns.
type session struct {
	chunks  chan []byte
	stop    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	dropped atomic.Int64

	startedAt time.Time
	samples   []float32
}

func newSession(queue int) *session {
	return &session{
		chunks: make(chan []byte, queue),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *session) push(pcm []byte) {
	if s.stopped.Load() || len(pcm) == 0 {
		return
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)

	select {
	case s.chunks <- chunk:
	default:
		s.dropped.Add(1)
	}
}

func (s *session) accumulate() {
	defer close(s.done)
	for {
		select {
		case chunk := <-s.chunks:
			s.samples = appendS16(s.samples, chunk)
		case <-s.stop:
			for {
				select {
				case chunk := <-s.chunks:
					s.samples = appendS16(s.samples, chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *session) finish() {
	s.stopped.Store(true)
	close(s.stop)
	<-s.done
}

// appendS16 converts little-endian signed 16-bit PCM to float32 in [-1, 1].
func appendS16(dst []float32, pcm []byte) []float32 {
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		dst = append(dst, float32(v)/float32(math.MaxInt16+1))
	}
	return dst
}

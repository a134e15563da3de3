package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"go.aimuz.me/termtalk/internal/types"
)

// voskChunkBytes is 0.25s of 16kHz mono S16 per websocket frame.
const voskChunkBytes = 8000

// Vosk implements Backend against a vosk-server websocket endpoint.
// A fresh connection is opened for every recording.
type Vosk struct {
	url    string
	dialer *websocket.Dialer
}

// VoskConfig holds configuration for Vosk.
type VoskConfig struct {
	URL string // e.g. ws://localhost:2700
}

type voskResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
	Result  []struct {
		Word string  `json:"word"`
		Conf float64 `json:"conf"`
	} `json:"result"`
}

// NewVosk creates a new Vosk backend.
func NewVosk(cfg VoskConfig) *Vosk {
	return &Vosk{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

func (v *Vosk) Name() string  { return "vosk" }
func (v *Vosk) Model() string { return v.url }

func (v *Vosk) Format() types.AudioFormat {
	return types.DefaultAudioFormat
}

// Setup checks that the server accepts connections.
func (v *Vosk) Setup(ctx context.Context, _ func(percent int)) error {
	conn, _, err := v.dialer.DialContext(ctx, v.url, nil)
	if err != nil {
		return fmt.Errorf("connect to vosk server: %w", err)
	}
	return conn.Close()
}

// Transcribe streams the recording and collects the final utterances.
func (v *Vosk) Transcribe(ctx context.Context, audio []float32, _ string) (*TranscribeResult, error) {
	conn, _, err := v.dialer.DialContext(ctx, v.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("connect to vosk server: %w", err)
	}
	defer conn.Close()

	// Unblock reads and writes once the request is cancelled
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	text, err := v.stream(conn, pcm16(audio))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &TranscribeResult{Text: text}, nil
}

func (v *Vosk) stream(conn *websocket.Conn, pcm []byte) (string, error) {
	cfg := map[string]any{"config": map[string]any{"sample_rate": v.Format().SampleRate}}
	if err := conn.WriteJSON(cfg); err != nil {
		return "", fmt.Errorf("send vosk config: %w", err)
	}

	var parts []string
	for off := 0; off < len(pcm); off += voskChunkBytes {
		end := min(off+voskChunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return "", fmt.Errorf("send audio to vosk: %w", err)
		}
		res, err := readVoskResult(conn)
		if err != nil {
			return "", err
		}
		if res.Text != "" {
			parts = append(parts, res.Text)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		return "", fmt.Errorf("send eof to vosk: %w", err)
	}
	res, err := readVoskResult(conn)
	if err != nil {
		return "", err
	}
	if res.Text != "" {
		parts = append(parts, res.Text)
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return strings.Join(parts, " "), nil
}

func readVoskResult(conn *websocket.Conn) (voskResult, error) {
	var res voskResult
	_, message, err := conn.ReadMessage()
	if err != nil {
		return res, fmt.Errorf("read vosk result: %w", err)
	}
	if err := json.Unmarshal(message, &res); err != nil {
		return res, fmt.Errorf("decode vosk result: %w", err)
	}
	return res, nil
}

func (v *Vosk) Close() error {
	return nil
}

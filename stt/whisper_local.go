package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"go.aimuz.me/termtalk/internal/types"
)

// WhisperLocal implements Backend using the whisper.cpp command line tool.
type WhisperLocal struct {
	modelPath    string
	modelSize    string   // "tiny", "base", "small", "medium", "large"
	command      []string // Binary plus leading arguments
	prompt       string
	autoDownload bool

	mu    sync.RWMutex
	ready bool
}

// WhisperLocalConfig holds configuration for WhisperLocal.
type WhisperLocalConfig struct {
	ModelSize    string // "tiny", "base", "small", "medium", "large"
	ModelDir     string // Directory to store models
	BinPath      string // Path to the whisper.cpp binary, searched for if empty
	Command      string // Full command line, overrides BinPath
	Prompt       string // Initial prompt biasing the decoder
	AutoDownload bool   // Download a missing model during Setup
}

// Model sizes and their approximate download sizes.
var modelSizes = map[string]struct {
	URL  string
	Size int64 // Approximate size in bytes
}{
	"tiny":     {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin", 75 * 1024 * 1024},
	"tiny.en":  {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin", 75 * 1024 * 1024},
	"base":     {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin", 142 * 1024 * 1024},
	"base.en":  {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin", 142 * 1024 * 1024},
	"small":    {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin", 466 * 1024 * 1024},
	"small.en": {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.en.bin", 466 * 1024 * 1024},
	"medium":   {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin", 1500 * 1024 * 1024},
	"large":    {"https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin", 3000 * 1024 * 1024},
}

// NewWhisperLocal creates a new WhisperLocal backend.
func NewWhisperLocal(cfg WhisperLocalConfig) (*WhisperLocal, error) {
	if cfg.ModelSize == "" {
		cfg.ModelSize = "base"
	}
	if _, ok := modelSizes[cfg.ModelSize]; !ok {
		return nil, fmt.Errorf("stt: invalid model size: %s", cfg.ModelSize)
	}

	if cfg.ModelDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.ModelDir = filepath.Join(homeDir, ".termtalk", "models")
	}

	w := &WhisperLocal{
		modelSize:    cfg.ModelSize,
		modelPath:    filepath.Join(cfg.ModelDir, fmt.Sprintf("ggml-%s.bin", cfg.ModelSize)),
		prompt:       cfg.Prompt,
		autoDownload: cfg.AutoDownload,
	}

	switch {
	case cfg.Command != "":
		args, err := shellwords.NewParser().Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("stt: parse whisper command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("stt: whisper command is empty")
		}
		w.command = args
	case cfg.BinPath != "":
		w.command = []string{cfg.BinPath}
	}

	return w, nil
}

func (w *WhisperLocal) Name() string  { return "whisper-local" }
func (w *WhisperLocal) Model() string { return w.modelSize }

func (w *WhisperLocal) Format() types.AudioFormat {
	return types.DefaultAudioFormat
}

// ModelPath returns where the model file lives.
func (w *WhisperLocal) ModelPath() string {
	return w.modelPath
}

func (w *WhisperLocal) IsReady() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Setup locates the binary and makes sure the model exists, downloading it
// when auto-download is enabled.
func (w *WhisperLocal) Setup(ctx context.Context, progress func(percent int)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready {
		return nil
	}

	if len(w.command) == 0 {
		bin := findWhisperBinary()
		if bin == "" {
			return errors.New("whisper.cpp binary not found, install whisper.cpp or set stt.bin_path")
		}
		w.command = []string{bin}
	}

	if _, err := os.Stat(w.modelPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat model: %w", err)
		}
		if !w.autoDownload {
			return fmt.Errorf("model not found at %s (set stt.auto_download to fetch it)", w.modelPath)
		}
		if err := w.download(ctx, progress); err != nil {
			return fmt.Errorf("download model: %w", err)
		}
	}

	w.ready = true
	if progress != nil {
		progress(100)
	}
	return nil
}

func (w *WhisperLocal) download(ctx context.Context, progress func(percent int)) error {
	info := modelSizes[w.modelSize]

	if err := os.MkdirAll(filepath.Dir(w.modelPath), 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status: %d", resp.StatusCode)
	}

	expected := resp.ContentLength
	if expected <= 0 {
		expected = info.Size
	}

	tmpPath := w.modelPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // No-op after a successful rename
	}()

	pw := &progressWriter{total: expected, report: progress}
	if _, err := io.Copy(f, io.TeeReader(resp.Body, pw)); err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, w.modelPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(percent int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report != nil && p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct > 99 {
			pct = 99
		}
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return len(b), nil
}

// Transcribe runs whisper.cpp on a temporary WAV file. Cancelling ctx kills
// the process.
func (w *WhisperLocal) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	if !w.IsReady() {
		return nil, errors.New("whisper-local is not ready: model not loaded")
	}

	file, cleanup, err := writeTempWAV(audio, w.Format())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outBase := strings.TrimSuffix(file.Name(), ".wav")
	outJSON := outBase + ".json"
	defer os.Remove(outJSON)

	args := append([]string{}, w.command[1:]...)
	args = append(args, w.args(file.Name(), outBase, language)...)

	cmd := exec.CommandContext(ctx, w.command[0], args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper.cpp failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outJSON)
	if err != nil {
		// Older builds print the transcript instead of writing JSON
		return &TranscribeResult{Text: strings.TrimSpace(stdout.String()), Language: language}, nil
	}
	return parseWhisperJSON(data)
}

func (w *WhisperLocal) args(audioPath, outBase, language string) []string {
	if language == "" {
		language = "auto"
	}
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-l", language,
		"-oj", // Output JSON
		"-of", outBase,
		"-nt",
		"--no-prints",
	}
	if w.prompt != "" {
		args = append(args, "--prompt", w.prompt)
	}
	return args
}

func parseWhisperJSON(data []byte) (*TranscribeResult, error) {
	var out whisperCppOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}

	result := &TranscribeResult{
		Language: out.Result.Language,
		Segments: make([]Segment, 0, len(out.Transcription)),
	}

	var sb strings.Builder
	for _, seg := range out.Transcription {
		sb.WriteString(seg.Text)
		result.Segments = append(result.Segments, Segment{
			Text:  seg.Text,
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
		})
	}
	result.Text = strings.TrimSpace(sb.String())
	return result, nil
}

func findWhisperBinary() string {
	// Common binary names - whisper-cli is the current upstream name
	names := []string{"whisper-cli", "whisper-cpp", "whisper"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	homeDir, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(homeDir, ".local", "bin"),
		filepath.Join(homeDir, "whisper.cpp", "build", "bin"),
	}
	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func (w *WhisperLocal) Close() error {
	return nil
}

// whisperCppOutput represents the JSON output from whisper.cpp.
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}

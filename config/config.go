// Package config handles application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName        = "termtalk"
	configFileName = "config.yaml"
	envPrefix      = "TERMTALK_"
)

// Duration is a time.Duration that reads and writes as "300ms" in both
// YAML and JSON files.
type Duration time.Duration

// D returns the standard library duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config represents the application configuration.
// It is loaded once at start-up and never mutated afterwards.
type Config struct {
	Hotkey      HotkeyConfig      `yaml:"hotkey" json:"hotkey"`
	Audio       AudioConfig       `yaml:"audio" json:"audio"`
	STT         STTConfig         `yaml:"stt" json:"stt"`
	Inject      InjectConfig      `yaml:"inject" json:"inject"`
	Postprocess PostprocessConfig `yaml:"postprocess" json:"postprocess"`
	Notify      NotifyConfig      `yaml:"notify" json:"notify"`
	Journal     JournalConfig     `yaml:"journal" json:"journal"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// HotkeyConfig selects the trigger key.
type HotkeyConfig struct {
	Key          string   `yaml:"key" json:"key"`                     // e.g. "rcmd", "f9", "ralt"
	StartTimeout Duration `yaml:"start_timeout" json:"start_timeout"` // How long to wait for the OS hook to come up
}

// AudioConfig controls microphone capture.
type AudioConfig struct {
	SampleRate  int      `yaml:"sample_rate" json:"sample_rate"`
	Channels    int      `yaml:"channels" json:"channels"`
	MinDuration Duration `yaml:"min_duration" json:"min_duration"` // Shorter captures are dropped as taps
	Device      string   `yaml:"device" json:"device"`             // Empty selects the default input
	ChunkQueue  int      `yaml:"chunk_queue" json:"chunk_queue"`   // Callback → accumulator queue depth
}

// STTConfig selects and configures the transcription backend.
type STTConfig struct {
	Backend          string   `yaml:"backend" json:"backend"` // "whisper-local", "whisper-api", "vosk"
	ModelSize        string   `yaml:"model_size" json:"model_size"`
	ModelDir         string   `yaml:"model_dir" json:"model_dir"`
	BinPath          string   `yaml:"bin_path" json:"bin_path"`
	Command          string   `yaml:"command" json:"command"` // Full whisper command line, overrides bin_path
	AutoDownload     bool     `yaml:"auto_download" json:"auto_download"`
	Language         string   `yaml:"language" json:"language"`
	Prompt           string   `yaml:"prompt" json:"prompt"`
	APIKey           string   `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL          string   `yaml:"base_url" json:"base_url,omitempty"`
	APIModel         string   `yaml:"api_model" json:"api_model"`
	VoskURL          string   `yaml:"vosk_url" json:"vosk_url"`
	SilenceThreshold float64  `yaml:"silence_threshold" json:"silence_threshold"` // RMS below this is silence
	MinSpeech        Duration `yaml:"min_speech" json:"min_speech"`               // Less voiced audio is treated as silence
	Timeout          Duration `yaml:"timeout" json:"timeout"`                     // 0 disables the limit
	CacheDir         string   `yaml:"cache_dir" json:"cache_dir"`                 // Empty disables the transcript cache
	CacheTTL         Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// InjectConfig controls keystroke synthesis.
type InjectConfig struct {
	Fallback        string   `yaml:"fallback" json:"fallback"` // "command", "clipboard", "none"
	FallbackCommand string   `yaml:"fallback_command" json:"fallback_command"`
	PasteKeys       string   `yaml:"paste_keys" json:"paste_keys"` // e.g. "ctrl+shift+v"
	SettleDelay     Duration `yaml:"settle_delay" json:"settle_delay"`
	KeyDelay        Duration `yaml:"key_delay" json:"key_delay"`
}

// PostprocessConfig controls transcript clean-up before injection.
type PostprocessConfig struct {
	ApplyReplacements bool              `yaml:"apply_replacements" json:"apply_replacements"`
	Replacements      map[string]string `yaml:"replacements" json:"replacements,omitempty"`
	FilterRepetitive  bool              `yaml:"filter_repetitive" json:"filter_repetitive"`
	Refine            RefineConfig      `yaml:"refine" json:"refine"`
}

// RefineConfig configures the optional language-model correction step.
type RefineConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Provider string   `yaml:"provider" json:"provider"` // "openai", "openai-compatible", "claude", "gemini"
	APIKey   string   `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL  string   `yaml:"base_url" json:"base_url,omitempty"`
	Model    string   `yaml:"model" json:"model"`
	Prompt   string   `yaml:"prompt" json:"prompt,omitempty"` // Empty selects the built-in prompt
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// NotifyConfig toggles desktop notifications for user-visible errors.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// JournalConfig configures the SQLite cycle journal.
type JournalConfig struct {
	Path          string `yaml:"path" json:"path"` // Empty disables the journal
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
	StoreText     bool   `yaml:"store_text" json:"store_text"`
}

// TelemetryConfig configures metrics export.
type TelemetryConfig struct {
	MetricsBind string `yaml:"metrics_bind" json:"metrics_bind"` // Empty disables the /metrics endpoint
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Hotkey: HotkeyConfig{
			Key:          "rcmd",
			StartTimeout: Duration(2 * time.Second),
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			MinDuration: Duration(300 * time.Millisecond),
			ChunkQueue:  256,
		},
		STT: STTConfig{
			Backend:          "whisper-local",
			ModelSize:        "base",
			Prompt:           "Linux terminal commands: sudo ls cd mkdir rm cp mv grep cat chmod",
			APIModel:         "whisper-1",
			VoskURL:          "ws://localhost:2700",
			SilenceThreshold: 0.005,
			MinSpeech:        Duration(100 * time.Millisecond),
			CacheTTL:         Duration(7 * 24 * time.Hour),
		},
		Inject: InjectConfig{
			Fallback:        "command",
			FallbackCommand: "xdotool type --clearmodifiers --",
			PasteKeys:       "ctrl+shift+v",
			SettleDelay:     Duration(100 * time.Millisecond),
		},
		Postprocess: PostprocessConfig{
			ApplyReplacements: true,
			FilterRepetitive:  true,
			Refine: RefineConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
				Timeout:  Duration(5 * time.Second),
			},
		},
		Notify: NotifyConfig{Enabled: true},
		Journal: JournalConfig{
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// Load reads the configuration at path on top of Default.
// A missing file yields the defaults; environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(path, data, &cfg); err != nil {
				return cfg, err
			}
		case errors.Is(err, os.ErrNotExist):
			// Defaults only
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save persists the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := encode(path, c)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func encode(path string, cfg Config) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal config: %w", err)
		}
		return data, nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Environment Overrides
// ─────────────────────────────────────────────────────────────────────────────

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Hotkey.Key, "HOTKEY_KEY")
	overrideDuration(&cfg.Hotkey.StartTimeout, "HOTKEY_START_TIMEOUT")
	overrideInt(&cfg.Audio.SampleRate, "AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "AUDIO_CHANNELS")
	overrideDuration(&cfg.Audio.MinDuration, "AUDIO_MIN_DURATION")
	overrideString(&cfg.Audio.Device, "AUDIO_DEVICE")
	overrideString(&cfg.STT.Backend, "STT_BACKEND")
	overrideString(&cfg.STT.ModelSize, "STT_MODEL_SIZE")
	overrideString(&cfg.STT.ModelDir, "STT_MODEL_DIR")
	overrideString(&cfg.STT.BinPath, "STT_BIN_PATH")
	overrideString(&cfg.STT.Command, "STT_COMMAND")
	overrideBool(&cfg.STT.AutoDownload, "STT_AUTO_DOWNLOAD")
	overrideString(&cfg.STT.Language, "STT_LANGUAGE")
	overrideString(&cfg.STT.APIKey, "STT_API_KEY")
	overrideString(&cfg.STT.BaseURL, "STT_BASE_URL")
	overrideString(&cfg.STT.APIModel, "STT_API_MODEL")
	overrideString(&cfg.STT.VoskURL, "STT_VOSK_URL")
	overrideDuration(&cfg.STT.MinSpeech, "STT_MIN_SPEECH")
	overrideDuration(&cfg.STT.Timeout, "STT_TIMEOUT")
	overrideString(&cfg.STT.CacheDir, "STT_CACHE_DIR")
	overrideString(&cfg.Inject.Fallback, "INJECT_FALLBACK")
	overrideString(&cfg.Inject.FallbackCommand, "INJECT_FALLBACK_COMMAND")
	overrideString(&cfg.Inject.PasteKeys, "INJECT_PASTE_KEYS")
	overrideBool(&cfg.Postprocess.Refine.Enabled, "REFINE_ENABLED")
	overrideString(&cfg.Postprocess.Refine.Provider, "REFINE_PROVIDER")
	overrideString(&cfg.Postprocess.Refine.APIKey, "REFINE_API_KEY")
	overrideString(&cfg.Postprocess.Refine.BaseURL, "REFINE_BASE_URL")
	overrideString(&cfg.Postprocess.Refine.Model, "REFINE_MODEL")
	overrideBool(&cfg.Notify.Enabled, "NOTIFY_ENABLED")
	overrideString(&cfg.Journal.Path, "JOURNAL_PATH")
	overrideInt(&cfg.Journal.RetentionDays, "JOURNAL_RETENTION_DAYS")
	overrideString(&cfg.Telemetry.MetricsBind, "TELEMETRY_METRICS_BIND")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideString(&cfg.Log.Format, "LOG_FORMAT")

	// The OpenAI SDK convention, used only when nothing more specific is set.
	if cfg.STT.APIKey == "" {
		cfg.STT.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Postprocess.Refine.APIKey == "" && cfg.Postprocess.Refine.Provider == "openai" {
		cfg.Postprocess.Refine.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func overrideString(target *string, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *Duration, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = Duration(parsed)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Hotkey.Key) == "" {
		return errors.New("hotkey.key must not be empty")
	}
	if cfg.Hotkey.StartTimeout <= 0 {
		return errors.New("hotkey.start_timeout must be positive")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.MinDuration < 0 {
		return errors.New("audio.min_duration must be >= 0")
	}
	if cfg.Audio.ChunkQueue <= 0 {
		return errors.New("audio.chunk_queue must be positive")
	}
	switch cfg.STT.Backend {
	case "whisper-local":
	case "whisper-api":
		if cfg.STT.APIKey == "" {
			return errors.New("stt.api_key (or OPENAI_API_KEY) must be set when backend=whisper-api")
		}
	case "vosk":
		if cfg.STT.VoskURL == "" {
			return errors.New("stt.vosk_url must be set when backend=vosk")
		}
	default:
		return fmt.Errorf("stt.backend must be one of whisper-local|whisper-api|vosk, got %q", cfg.STT.Backend)
	}
	if cfg.STT.SilenceThreshold < 0 || cfg.STT.SilenceThreshold >= 1 {
		return errors.New("stt.silence_threshold must be in [0, 1)")
	}
	if cfg.STT.MinSpeech < 0 {
		return errors.New("stt.min_speech must be >= 0")
	}
	if cfg.STT.Timeout < 0 {
		return errors.New("stt.timeout must be >= 0")
	}
	switch cfg.Inject.Fallback {
	case "none", "clipboard":
	case "command":
		if strings.TrimSpace(cfg.Inject.FallbackCommand) == "" {
			return errors.New("inject.fallback_command must be set when fallback=command")
		}
	default:
		return fmt.Errorf("inject.fallback must be one of command|clipboard|none, got %q", cfg.Inject.Fallback)
	}
	if r := cfg.Postprocess.Refine; r.Enabled {
		switch r.Provider {
		case "openai", "claude", "gemini":
			if r.APIKey == "" {
				return fmt.Errorf("postprocess.refine.api_key must be set for provider %s", r.Provider)
			}
		case "openai-compatible":
			if r.BaseURL == "" {
				return errors.New("postprocess.refine.base_url must be set for provider openai-compatible")
			}
		default:
			return fmt.Errorf("postprocess.refine.provider must be one of openai|openai-compatible|claude|gemini, got %q", r.Provider)
		}
		if r.Model == "" {
			return errors.New("postprocess.refine.model must not be empty")
		}
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

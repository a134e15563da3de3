// Package app wires the push-to-talk pipeline together and drives it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/termtalk/audiocapture"
	"go.aimuz.me/termtalk/cache"
	"go.aimuz.me/termtalk/config"
	"go.aimuz.me/termtalk/hotkey"
	"go.aimuz.me/termtalk/inject"
	"go.aimuz.me/termtalk/internal/types"
	"go.aimuz.me/termtalk/journal"
	"go.aimuz.me/termtalk/llm"
	"go.aimuz.me/termtalk/notify"
	"go.aimuz.me/termtalk/postprocess"
	"go.aimuz.me/termtalk/stt"
)

// Service owns every process-wide resource: the OS hook, the audio
// device, the loaded model. This struct focuses on orchestration; the
// state machine lives in Controller.
type Service struct {
	cfg     config.Config
	version string

	telemetry *Telemetry
	cache     *cache.Cache
	engine    *stt.Engine
	device    *audiocapture.MalgoDevice
	capture   *audiocapture.Capture
	injector  *inject.Injector
	journal   *journal.Store
	monitor   *hotkey.Monitor
	ctrl      *Controller
}

// New creates a Service. Call Init before Run.
func New(cfg config.Config, version string) *Service {
	return &Service{cfg: cfg, version: version}
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Init builds the pipeline and loads the speech model. An error here is
// fatal; resources acquired so far are released by Shutdown.
func (s *Service) Init(ctx context.Context) error {
	metrics := s.setupTelemetry()

	s.setupCache()

	if err := s.setupSTT(ctx); err != nil {
		return err
	}
	if err := s.setupCapture(); err != nil {
		return err
	}
	if err := s.setupInjector(); err != nil {
		return err
	}

	opts := ControllerOptions{Metrics: metrics}
	if s.setupJournal(ctx) {
		opts.Journal = s.journal
	}

	s.ctrl = NewController(s.capture, s.engine, s.injector, notify.NewReporter(s.cfg.Notify.Enabled), opts)
	return nil
}

// Run installs the global hotkey and processes key edges until ctx is
// cancelled. A hook that cannot be installed is returned as a fatal error.
func (s *Service) Run(ctx context.Context) error {
	s.monitor = hotkey.New(s.cfg.Hotkey.Key, hotkey.NewGohookSource(s.cfg.Hotkey.StartTimeout.D()))
	if err := s.monitor.Start(ctx); err != nil {
		return err
	}

	slog.Info("termtalk ready",
		"version", s.version,
		"key", s.cfg.Hotkey.Key,
		"backend", s.engine.Backend().Name(),
		"model", s.engine.Backend().Model(),
	)
	return s.ctrl.Run(ctx, s.monitor.Edges())
}

// Shutdown cleans up resources.
func (s *Service) Shutdown() {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.device != nil {
		s.device.Release()
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			slog.Error("close stt backend", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Error("close cache", "error", err)
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			slog.Error("close journal", "error", err)
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			slog.Error("shutdown telemetry", "error", err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Setup
// ─────────────────────────────────────────────────────────────────────────────

// setupTelemetry is best-effort: the pipeline runs without metrics.
func (s *Service) setupTelemetry() *Metrics {
	t, err := setupTelemetry(s.cfg.Telemetry.MetricsBind, s.version)
	if err != nil {
		slog.Warn("init telemetry", "error", err)
		return nil
	}
	s.telemetry = t

	m, err := NewMetrics(t.Meter())
	if err != nil {
		slog.Warn("create metrics", "error", err)
		return nil
	}
	return m
}

func (s *Service) setupCache() {
	if s.cfg.STT.CacheDir == "" {
		return
	}
	c, err := cache.New(s.cfg.STT.CacheDir)
	if err != nil {
		slog.Error("init cache", "error", err)
		return
	}
	s.cache = c
	slog.Info("cache initialized", "path", s.cfg.STT.CacheDir)
}

func (s *Service) setupSTT(ctx context.Context) error {
	c := s.cfg.STT
	backend, err := stt.New(stt.Config{
		Backend:      c.Backend,
		ModelSize:    c.ModelSize,
		ModelDir:     c.ModelDir,
		BinPath:      c.BinPath,
		Command:      c.Command,
		AutoDownload: c.AutoDownload,
		Prompt:       c.Prompt,
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		APIModel:     c.APIModel,
		VoskURL:      c.VoskURL,
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		backend = stt.NewCachedBackend(backend, s.cache, c.CacheTTL.D(), c.Prompt, c.Command)
	}

	pp := s.cfg.Postprocess
	opts := postprocess.Options{
		ApplyReplacements: pp.ApplyReplacements,
		Replacements:      pp.Replacements,
		FilterRepetitive:  pp.FilterRepetitive,
		Language:          c.Language,
	}
	if pp.Refine.Enabled {
		completer, err := llm.NewCompleter(llm.Config{
			Provider:  pp.Refine.Provider,
			APIKey:    pp.Refine.APIKey,
			BaseURL:   pp.Refine.BaseURL,
			Model:     pp.Refine.Model,
			MaxTokens: 256,
			Timeout:   pp.Refine.Timeout.D(),
		})
		if err != nil {
			return err
		}
		opts.Refiner = llm.NewRefiner(completer, pp.Refine.Prompt)
		slog.Info("transcript refinement enabled", "provider", pp.Refine.Provider, "model", pp.Refine.Model)
	}

	s.engine = stt.NewEngine(backend, stt.EngineOptions{
		Language:         c.Language,
		SilenceThreshold: c.SilenceThreshold,
		MinSpeech:        c.MinSpeech.D(),
		Timeout:          c.Timeout.D(),
		Filter:           postprocess.New(opts),
	})

	// Load once up front so the first dictation does not pay for it.
	return s.engine.Initialize(ctx)
}

func (s *Service) setupCapture() error {
	dev, err := audiocapture.NewMalgoDevice(s.cfg.Audio.Device)
	if err != nil {
		return err
	}
	s.device = dev

	capture, err := audiocapture.New(audiocapture.Config{
		Format: types.AudioFormat{
			SampleRate: s.cfg.Audio.SampleRate,
			Channels:   s.cfg.Audio.Channels,
			BitDepth:   16,
		},
		MinDuration: s.cfg.Audio.MinDuration.D(),
		QueueSize:   s.cfg.Audio.ChunkQueue,
	}, dev)
	if err != nil {
		return err
	}
	s.capture = capture
	return nil
}

func (s *Service) setupInjector() error {
	var typer inject.Typer
	kt, err := inject.NewKeybdTyper()
	if err != nil {
		slog.Warn("keystroke backend unavailable, using fallback only", "error", err)
	} else {
		typer = kt
	}

	var fallback inject.Fallback
	switch s.cfg.Inject.Fallback {
	case "command":
		f, err := inject.NewCommandFallback(s.cfg.Inject.FallbackCommand)
		if err != nil {
			return err
		}
		fallback = f
	case "clipboard":
		f, err := inject.NewClipboardFallback(typer, s.cfg.Inject.PasteKeys)
		if err != nil {
			slog.Warn("clipboard fallback unavailable", "error", err)
			break
		}
		fallback = f
	}

	if typer == nil && fallback == nil {
		return fmt.Errorf("no way to type text: %w", errors.Join(types.ErrInjection, err))
	}

	s.injector = inject.New(typer, fallback, inject.Options{
		SettleDelay: s.cfg.Inject.SettleDelay.D(),
		KeyDelay:    s.cfg.Inject.KeyDelay.D(),
	})
	return nil
}

// setupJournal opens the cycle journal. Failures only disable it.
func (s *Service) setupJournal(ctx context.Context) bool {
	if s.cfg.Journal.Path == "" {
		return false
	}
	j, err := journal.Open(ctx, journal.Options{
		Path:          s.cfg.Journal.Path,
		RetentionDays: s.cfg.Journal.RetentionDays,
		StoreText:     s.cfg.Journal.StoreText,
	})
	if err != nil {
		slog.Error("open journal", "error", err)
		return false
	}
	s.journal = j
	slog.Info("journal opened", "path", s.cfg.Journal.Path)
	return true
}

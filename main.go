package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.aimuz.me/termtalk/config"
	"go.aimuz.me/termtalk/internal/app"
	"go.aimuz.me/termtalk/journal"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  string
		showVersion bool
		initConfig  bool
		history     int
	)

	defaultPath, err := config.DefaultPath()
	if err != nil {
		defaultPath = "config.yaml"
	}

	flag.StringVar(&configPath, "config", defaultPath, "Path to configuration file (.yaml or .json)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&initConfig, "init", false, "Write the default configuration to -config and exit")
	flag.IntVar(&history, "history", 0, "Print the last N journal entries and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("termtalk %s (%s, %s)\n", version, commit, date)
		return
	}

	if initConfig {
		if err := config.Default().Save(configPath); err != nil {
			fmt.Fprintln(os.Stderr, "write config:", err)
			os.Exit(1)
		}
		fmt.Println("wrote", configPath)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if history > 0 {
		if err := printHistory(ctx, cfg.Journal, history); err != nil {
			slog.Error("print history", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting termtalk", "version", version, "commit", commit, "date", date, "config", configPath)

	svc := app.New(cfg, version)
	err = svc.Init(ctx)
	if err == nil {
		err = svc.Run(ctx)
	}
	svc.Shutdown()

	if err != nil {
		slog.Error("termtalk exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func setupLogger(c config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printHistory(ctx context.Context, c config.JournalConfig, limit int) error {
	if c.Path == "" {
		return errors.New("journal.path is not set")
	}
	store, err := journal.Open(ctx, journal.Options{
		Path:          c.Path,
		RetentionDays: c.RetentionDays,
		StoreText:     c.StoreText,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	cycles, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tPHASE\tBACKEND\tAUDIO\tTRANSCRIBE\tTEXT")
	for _, cy := range cycles {
		backend := cy.Backend
		if cy.Cached {
			backend += " (cached)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%v\t%s\n",
			cy.StartedAt.Format(time.DateTime),
			cy.Outcome,
			cy.Phase,
			backend,
			cy.Capture.Round(time.Millisecond),
			cy.Transcribe.Round(time.Millisecond),
			cy.Text,
		)
	}
	return w.Flush()
}

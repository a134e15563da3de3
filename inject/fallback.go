package inject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"go.aimuz.me/termtalk/clipboard"
)

// CommandFallback types text with an external tool such as
// "xdotool type --clearmodifiers --" or "wtype --", passing the text as the
// final argument.
type CommandFallback struct {
	args []string
}

// NewCommandFallback parses command into an argument vector.
func NewCommandFallback(command string) (*CommandFallback, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("inject: parse fallback command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("inject: fallback command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("inject: fallback command: %w", err)
	}
	return &CommandFallback{args: args}, nil
}

func (f *CommandFallback) Name() string { return f.args[0] }

func (f *CommandFallback) Type(ctx context.Context, text string) error {
	args := append(append([]string{}, f.args[1:]...), text)
	cmd := exec.CommandContext(ctx, f.args[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ClipboardFallback pastes text through the clipboard with a key chord,
// restoring the previous clipboard contents afterwards.
type ClipboardFallback struct {
	typer Typer
	chord Chord
}

// NewClipboardFallback creates a paste fallback sending pasteKeys through
// typer. Terminals usually paste with ctrl+shift+v.
func NewClipboardFallback(typer Typer, pasteKeys string) (*ClipboardFallback, error) {
	if typer == nil {
		return nil, errors.New("inject: clipboard fallback needs a keystroke backend")
	}
	if clipboard.Unsupported() {
		return nil, errors.New("inject: no clipboard utility available")
	}
	chord, err := ParseChord(pasteKeys)
	if err != nil {
		return nil, err
	}
	return &ClipboardFallback{typer: typer, chord: chord}, nil
}

func (f *ClipboardFallback) Name() string { return "clipboard" }

func (f *ClipboardFallback) Type(_ context.Context, text string) error {
	return clipboard.PasteText(text, func() error {
		return f.typer.Chord(f.chord)
	})
}

package stt

import (
	"context"
	"testing"

	"go.aimuz.me/termtalk/cache"
)

func TestCachedBackend(t *testing.T) {
	c, err := cache.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory() error = %v", err)
	}
	defer c.Close()

	b := &stubBackend{text: "docker ps"}
	cb := NewCachedBackend(b, c, 0)
	audio := makeSpeech(800, 0.2)

	first, err := cb.Transcribe(context.Background(), audio, "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if first.Cached {
		t.Error("first result marked cached")
	}

	second, err := cb.Transcribe(context.Background(), audio, "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if !second.Cached || second.Text != "docker ps" {
		t.Errorf("second result = %+v, want cached docker ps", second)
	}
	if n := b.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}

	// Different audio misses
	if _, err := cb.Transcribe(context.Background(), makeSpeech(800, 0.3), "en"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if n := b.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestCachedBackend_EmptyNotStored(t *testing.T) {
	c, err := cache.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory() error = %v", err)
	}
	defer c.Close()

	b := &stubBackend{text: ""}
	cb := NewCachedBackend(b, c, 0)
	audio := makeSpeech(800, 0.2)

	cb.Transcribe(context.Background(), audio, "")
	cb.Transcribe(context.Background(), audio, "")
	if n := b.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2 (empty results are not cached)", n)
	}
}

func TestCachedBackend_SettingsPartOfKey(t *testing.T) {
	c, err := cache.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory() error = %v", err)
	}
	defer c.Close()

	b := &stubBackend{text: "git log"}
	audio := makeSpeech(800, 0.2)

	tests := []struct {
		name      string
		settings  []string
		wantCalls int32
	}{
		{name: "first prompt", settings: []string{"Linux terminal commands", ""}, wantCalls: 1},
		{name: "same prompt hits", settings: []string{"Linux terminal commands", ""}, wantCalls: 1},
		{name: "changed prompt misses", settings: []string{"git commands", ""}, wantCalls: 2},
		{name: "custom command misses", settings: []string{"git commands", "whisper-cli -m {model} -f {input}"}, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCachedBackend(b, c, 0, tt.settings...)
			if _, err := cb.Transcribe(context.Background(), audio, "en"); err != nil {
				t.Fatalf("Transcribe() error = %v", err)
			}
			if n := b.calls.Load(); n != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

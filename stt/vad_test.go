package stt

import (
	"testing"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// concat joins sample runs into one recording.
func concat(runs ...[]float32) []float32 {
	var out []float32
	for _, r := range runs {
		out = append(out, r...)
	}
	return out
}

func TestVAD_Detect(t *testing.T) {
	f := types.DefaultAudioFormat // 16 samples per millisecond

	tests := []struct {
		name      string
		samples   []float32
		minSpeech time.Duration
		wantOK    bool
		wantStart int
		wantEnd   int
	}{
		{
			name:    "empty",
			samples: nil,
		},
		{
			name:    "silence - no speech",
			samples: make([]float32, 16000),
		},
		{
			name:    "quiet noise below threshold",
			samples: makeSpeech(16000, 0.01),
		},
		{
			name:      "all speech",
			samples:   makeSpeech(16000, 0.3),
			wantOK:    true,
			wantStart: 0,
			wantEnd:   16000,
		},
		{
			name:      "speech in the middle is padded",
			samples:   concat(make([]float32, 8000), makeSpeech(3200, 0.3), make([]float32, 8000)),
			wantOK:    true,
			wantStart: 8000 - 1600,
			wantEnd:   8000 + 3200 + 1600,
		},
		{
			name:      "padding clamps to the buffer",
			samples:   concat(makeSpeech(3200, 0.3), make([]float32, 800)),
			wantOK:    true,
			wantStart: 0,
			wantEnd:   4000,
		},
		{
			name:      "click shorter than minimum speech",
			samples:   concat(make([]float32, 8000), makeSpeech(320, 0.9), make([]float32, 8000)),
			minSpeech: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVAD(0.02, 20*time.Millisecond, 100*time.Millisecond, tt.minSpeech)

			span, ok := v.Detect(tt.samples, f)
			if ok != tt.wantOK {
				t.Fatalf("Detect() ok = %v, want %v (span %+v)", ok, tt.wantOK, span)
			}
			if !ok {
				return
			}
			if span.Start != tt.wantStart || span.End != tt.wantEnd {
				t.Errorf("Detect() span = [%d, %d), want [%d, %d)", span.Start, span.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestVAD_StereoAlignment(t *testing.T) {
	f := types.AudioFormat{SampleRate: 16000, Channels: 2, BitDepth: 16}
	samples := concat(make([]float32, 6400), makeSpeech(6400, 0.3), make([]float32, 6400))

	span, ok := NewVAD(0.02, 20*time.Millisecond, 50*time.Millisecond, 0).Detect(samples, f)
	if !ok {
		t.Fatal("Detect() found no speech")
	}
	if span.Start%2 != 0 || span.End%2 != 0 {
		t.Errorf("span [%d, %d) splits a frame", span.Start, span.End)
	}
	if span.Voiced != 200*time.Millisecond {
		t.Errorf("Voiced = %v, want 200ms", span.Voiced)
	}
}

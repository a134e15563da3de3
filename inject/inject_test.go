package inject

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// recordingTyper records strokes instead of sending them.
type recordingTyper struct {
	mu      sync.Mutex
	strokes []Stroke
	chords  []Chord
	err     error
	inBurst bool
	overlap bool
}

func (r *recordingTyper) Type(strokes []Stroke) error {
	r.mu.Lock()
	if r.inBurst {
		r.overlap = true
	}
	r.inBurst = true
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inBurst = false
	if r.err != nil {
		return r.err
	}
	r.strokes = append(r.strokes, strokes...)
	return nil
}

func (r *recordingTyper) Chord(c Chord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chords = append(r.chords, c)
	return r.err
}

// typed reconstructs the text from recorded strokes.
func (r *recordingTyper) typed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, s := range r.strokes {
		sb.WriteRune(render(s))
	}
	return sb.String()
}

func render(s Stroke) rune {
	if !s.Shift {
		return s.Key
	}
	if s.Key >= 'a' && s.Key <= 'z' {
		return s.Key - 'a' + 'A'
	}
	for shifted, base := range usShifted {
		if base == s.Key {
			return shifted
		}
	}
	return '?'
}

type fakeFallback struct {
	texts []string
	err   error
}

func (f *fakeFallback) Name() string { return "fake" }

func (f *fakeFallback) Type(ctx context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wantOK bool
	}{
		{"lowercase command", "ls -la", true},
		{"shifted symbols", `grep "TODO" *.go | wc -l && echo $HOME ~/x`, true},
		{"all punctuation", "`~!@#$%^&*()_+-=[]{}\\|;:'\",.<>/?", true},
		{"accented", "café", false},
		{"emoji", "ok 👍", false},
		{"newline", "ls\nrm -rf /", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strokes, ok := Plan(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Plan(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			var sb strings.Builder
			for _, s := range strokes {
				sb.WriteRune(render(s))
			}
			if sb.String() != tt.text {
				t.Errorf("strokes render %q, want %q", sb.String(), tt.text)
			}
		})
	}
}

func TestParseChord(t *testing.T) {
	tests := []struct {
		in      string
		want    Chord
		wantErr bool
	}{
		{"ctrl+shift+v", Chord{Ctrl: true, Shift: true, Key: 'v'}, false},
		{"Ctrl + V", Chord{Ctrl: true, Key: 'v'}, false},
		{"alt+insert", Chord{}, true},
		{"hyper+v", Chord{}, true},
		{"ctrl+V", Chord{Ctrl: true, Key: 'v'}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChord(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChord(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseChord(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInjector_TypesInOrder(t *testing.T) {
	typer := &recordingTyper{}
	inj := New(typer, nil, Options{})

	if err := inj.Inject(context.Background(), "git commit -m \"Fix\""); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if got := typer.typed(); got != "git commit -m \"Fix\"" {
		t.Errorf("typed %q", got)
	}
}

func TestInjector_Fallback(t *testing.T) {
	typer := &recordingTyper{}
	fb := &fakeFallback{}
	inj := New(typer, fb, Options{})

	if err := inj.Inject(context.Background(), "echo café"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(fb.texts) != 1 || fb.texts[0] != "echo café" {
		t.Errorf("fallback got %q, want the whole text", fb.texts)
	}
	if len(typer.strokes) != 0 {
		t.Errorf("typer got %d strokes, want none (order must be preserved)", len(typer.strokes))
	}
}

func TestInjector_Errors(t *testing.T) {
	tests := []struct {
		name     string
		typer    Typer
		fallback Fallback
		text     string
	}{
		{"typer rejects", &recordingTyper{err: errors.New("uinput: permission denied")}, nil, "ls"},
		{"no fallback", &recordingTyper{}, nil, "naïve"},
		{"fallback rejects", &recordingTyper{}, &fakeFallback{err: errors.New("exit status 1")}, "naïve"},
		{"no backend", nil, nil, "ls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.typer, tt.fallback, Options{}).Inject(context.Background(), tt.text)
			if !errors.Is(err, types.ErrInjection) {
				t.Fatalf("Inject() error = %v, want ErrInjection", err)
			}
			if types.Classify(err) != types.KindInjection {
				t.Errorf("Classify() = %v, want injection_error", types.Classify(err))
			}
		})
	}
}

func TestInjector_CancelDuringSettle(t *testing.T) {
	typer := &recordingTyper{}
	inj := New(typer, nil, Options{SettleDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := inj.Inject(ctx, "rm -rf build")
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("Inject() error = %v, want ErrCancelled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancel did not interrupt the settle delay")
	}
	if len(typer.strokes) != 0 {
		t.Errorf("typed %d strokes after cancel", len(typer.strokes))
	}
}

func TestInjector_BurstsDoNotInterleave(t *testing.T) {
	typer := &recordingTyper{}
	inj := New(typer, nil, Options{})

	var wg sync.WaitGroup
	for _, text := range []string{"aaaa", "bbbb", "cccc"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			if err := inj.Inject(context.Background(), text); err != nil {
				t.Errorf("Inject(%q) error = %v", text, err)
			}
		}(text)
	}
	wg.Wait()

	if typer.overlap {
		t.Error("bursts overlapped")
	}
	got := typer.typed()
	for _, run := range []string{"aaaa", "bbbb", "cccc"} {
		if !strings.Contains(got, run) {
			t.Errorf("typed %q, missing contiguous %q", got, run)
		}
	}
}

func TestInjector_KeyDelay(t *testing.T) {
	typer := &recordingTyper{}
	inj := New(typer, nil, Options{KeyDelay: 3 * time.Millisecond})

	if err := inj.Inject(context.Background(), "ab"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	for _, s := range typer.strokes {
		if s.Delay != 3*time.Millisecond {
			t.Errorf("stroke %q delay = %v, want 3ms", s.Key, s.Delay)
		}
	}
}

func TestInjector_EmptyText(t *testing.T) {
	typer := &recordingTyper{}
	if err := New(typer, nil, Options{SettleDelay: time.Hour}).Inject(context.Background(), ""); err != nil {
		t.Errorf("Inject(\"\") error = %v", err)
	}
}

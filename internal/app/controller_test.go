package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.aimuz.me/termtalk/inject"
	"go.aimuz.me/termtalk/internal/types"
	"go.aimuz.me/termtalk/journal"
	"go.aimuz.me/termtalk/stt"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	buf      *types.AudioBuffer
	starts   int
	stops    int
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeRecorder) Stop() (*types.AudioBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.buf, nil
}

func (f *fakeRecorder) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// scriptedTranscriber answers call n with script[n].
type scriptedTranscriber struct {
	script []func(ctx context.Context) types.Transcript
	calls  atomic.Int32
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, buf *types.AudioBuffer) types.Transcript {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.script) {
		return types.Failed(errors.New("unexpected transcribe call"))
	}
	return s.script[n](ctx)
}

func reply(text string) func(context.Context) types.Transcript {
	return func(context.Context) types.Transcript {
		return types.Transcript{Text: text, Status: types.TranscriptOK, Backend: "stub"}
	}
}

type fakeTypist struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeTypist) Inject(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeTypist) typed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// strokeTyper records the keys an inject.Injector presses.
type strokeTyper struct {
	mu      sync.Mutex
	strokes []inject.Stroke
}

func (s *strokeTyper) Type(strokes []inject.Stroke) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strokes = append(s.strokes, strokes...)
	return nil
}

func (s *strokeTyper) Chord(inject.Chord) error { return nil }

func (s *strokeTyper) keys() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, st := range s.strokes {
		sb.WriteRune(st.Key)
	}
	return sb.String()
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (f *fakeReporter) Report(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
	return types.Classify(err).UserVisible()
}

func (f *fakeReporter) visible() []types.ErrorKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []types.ErrorKind
	for _, err := range f.errs {
		if k := types.Classify(err); k.UserVisible() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

type fakeJournal struct {
	mu     sync.Mutex
	cycles []journal.Cycle
}

func (f *fakeJournal) Record(ctx context.Context, c journal.Cycle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, c)
	return nil
}

func (f *fakeJournal) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.cycles {
		out = append(out, c.Outcome)
	}
	return out
}

// toneBackend is an stt.Backend that "hears" text whenever the audio is not
// silent.
type toneBackend struct {
	text string
}

func (b *toneBackend) Name() string { return "tone" }
func (b *toneBackend) Model() string { return "test" }
func (b *toneBackend) Format() types.AudioFormat { return types.DefaultAudioFormat }
func (b *toneBackend) Setup(ctx context.Context, progress func(int)) error { return nil }
func (b *toneBackend) Close() error { return nil }

func (b *toneBackend) Transcribe(ctx context.Context, audio []float32, language string) (*stt.TranscribeResult, error) {
	return &stt.TranscribeResult{Text: b.text}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	ctrl   *Controller
	edges  chan types.KeyEdge
	phases chan types.Phase
}

func newHarness(t *testing.T, rec Recorder, tr Transcriber, typist Typist, rep ErrorReporter, j CycleJournal) *harness {
	t.Helper()

	h := &harness{
		edges:  make(chan types.KeyEdge),
		phases: make(chan types.Phase, 64),
	}
	opts := ControllerOptions{OnPhase: func(p types.Phase) { h.phases <- p }}
	if j != nil {
		opts.Journal = j
	}
	h.ctrl = NewController(rec, tr, typist, rep, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx, h.edges)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) press() { h.edges <- types.KeyEdge{Key: "rcmd", Edge: types.EdgeDown, Time: time.Now()} }
func (h *harness) release() { h.edges <- types.KeyEdge{Key: "rcmd", Edge: types.EdgeUp, Time: time.Now()} }

func (h *harness) expect(t *testing.T, want ...types.Phase) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-h.phases:
			if got != w {
				t.Fatalf("phase = %v, want %v", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for phase %v", w)
		}
	}
}

// quiet asserts no transition happens for a short while.
func (h *harness) quiet(t *testing.T) {
	t.Helper()
	select {
	case p := <-h.phases:
		t.Fatalf("unexpected transition to %v", p)
	case <-time.After(30 * time.Millisecond):
	}
}

func speech(d time.Duration) *types.AudioBuffer {
	n := int(d.Seconds() * float64(types.DefaultAudioFormat.SampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.3 * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return &types.AudioBuffer{Samples: samples, Format: types.DefaultAudioFormat, Duration: d}
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenarios
// ─────────────────────────────────────────────────────────────────────────────

func TestController_DictationTypesTranscript(t *testing.T) {
	rec := &fakeRecorder{buf: speech(2 * time.Second)}
	tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{reply("list files")}}
	keys := &strokeTyper{}
	rep := &fakeReporter{}
	j := &fakeJournal{}
	h := newHarness(t, rec, tr, inject.New(keys, nil, inject.Options{}), rep, j)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseInjecting, types.PhaseIdle)

	if got := keys.keys(); got != "list files" {
		t.Errorf("keys = %q, want %q", got, "list files")
	}
	if got := h.ctrl.Phase(); got != types.PhaseIdle {
		t.Errorf("Phase() = %v, want IDLE", got)
	}
	if got := j.outcomes(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("journal outcomes = %v, want [ok]", got)
	}
	if j.cycles[0].Phase != "INJECTING" || j.cycles[0].Capture != 2*time.Second {
		t.Errorf("journal cycle = %+v", j.cycles[0])
	}
	if len(rep.errs) != 0 {
		t.Errorf("reported errors = %v", rep.errs)
	}
}

func TestController_TooShortNeverTranscribed(t *testing.T) {
	buf := speech(50 * time.Millisecond)
	buf.TooShort = true
	rec := &fakeRecorder{buf: buf}
	tr := &scriptedTranscriber{}
	typist := &fakeTypist{}
	j := &fakeJournal{}
	h := newHarness(t, rec, tr, typist, &fakeReporter{}, j)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseIdle)

	if n := tr.calls.Load(); n != 0 {
		t.Errorf("transcribe calls = %d, want 0", n)
	}
	if got := typist.typed(); len(got) != 0 {
		t.Errorf("typed %v, want nothing", got)
	}
	if got := j.outcomes(); len(got) != 1 || got[0] != "too_short" {
		t.Errorf("journal outcomes = %v, want [too_short]", got)
	}
}

func TestController_FormatErrorReported(t *testing.T) {
	buf := speech(time.Second)
	buf.Format = types.AudioFormat{SampleRate: 44100, Channels: 2, BitDepth: 16}
	rec := &fakeRecorder{buf: buf}
	engine := stt.NewEngine(&toneBackend{text: "never typed"}, stt.EngineOptions{})
	typist := &fakeTypist{}
	rep := &fakeReporter{}
	h := newHarness(t, rec, engine, typist, rep, nil)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseIdle)

	if got := rep.visible(); len(got) != 1 || got[0] != types.KindFormat {
		t.Errorf("visible errors = %v, want [format_error]", got)
	}
	if got := typist.typed(); len(got) != 0 {
		t.Errorf("typed %v, want nothing", got)
	}
}

func TestController_RepressAbortsAndRestarts(t *testing.T) {
	var sawCancel atomic.Bool
	rec := &fakeRecorder{buf: speech(time.Second)}
	tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{
		func(ctx context.Context) types.Transcript {
			<-ctx.Done()
			sawCancel.Store(true)
			// A misbehaving model may still hand back text.
			return types.Transcript{Text: "stale", Status: types.TranscriptOK}
		},
		reply("fresh"),
	}}
	typist := &fakeTypist{}
	rep := &fakeReporter{}
	j := &fakeJournal{}
	h := newHarness(t, rec, tr, typist, rep, j)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing)
	h.press()
	h.expect(t, types.PhaseAborting, types.PhaseRecording)

	if !sawCancel.Load() {
		t.Error("first transcription was not cancelled")
	}
	if starts, _ := rec.counts(); starts != 2 {
		t.Errorf("capture starts = %d, want 2", starts)
	}

	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseInjecting, types.PhaseIdle)

	if got := typist.typed(); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("typed %v, want [fresh]", got)
	}
	if got := j.outcomes(); len(got) != 2 || got[0] != "cancelled" || got[1] != "ok" {
		t.Errorf("journal outcomes = %v, want [cancelled ok]", got)
	}
	if got := rep.visible(); len(got) != 0 {
		t.Errorf("visible errors = %v, want none", got)
	}
}

func TestController_RepressDuringInjectionAborts(t *testing.T) {
	rec := &fakeRecorder{buf: speech(time.Second)}
	tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{reply("rm -rf build")}}
	keys := &strokeTyper{}
	rep := &fakeReporter{}
	j := &fakeJournal{}
	// The settle delay keeps the injection pending until it is cancelled.
	h := newHarness(t, rec, tr, inject.New(keys, nil, inject.Options{SettleDelay: time.Minute}), rep, j)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseInjecting)
	h.press()
	h.expect(t, types.PhaseAborting, types.PhaseRecording)

	if starts, _ := rec.counts(); starts != 2 {
		t.Errorf("capture starts = %d, want 2", starts)
	}
	if got := keys.keys(); got != "" {
		t.Errorf("keys = %q, want nothing typed", got)
	}
	if got := j.outcomes(); len(got) != 1 || got[0] != "cancelled" {
		t.Errorf("journal outcomes = %v, want [cancelled]", got)
	}
	if got := rep.visible(); len(got) != 0 {
		t.Errorf("visible errors = %v, want none", got)
	}
	if got := h.ctrl.Phase(); got != types.PhaseRecording {
		t.Errorf("Phase() = %v, want RECORDING", got)
	}
}

func TestController_ReleaseWhileAborting(t *testing.T) {
	gate := make(chan struct{})
	rec := &fakeRecorder{buf: speech(time.Second)}
	tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{
		func(ctx context.Context) types.Transcript {
			<-ctx.Done()
			<-gate
			return types.Cancelled()
		},
	}}
	typist := &fakeTypist{}
	h := newHarness(t, rec, tr, typist, &fakeReporter{}, nil)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing)
	h.press()
	h.expect(t, types.PhaseAborting)
	h.release()
	h.quiet(t)

	close(gate)
	h.expect(t, types.PhaseIdle)

	if starts, _ := rec.counts(); starts != 1 {
		t.Errorf("capture starts = %d, want 1", starts)
	}
	if got := typist.typed(); len(got) != 0 {
		t.Errorf("typed %v, want nothing", got)
	}
}

func TestController_SilenceIsQuiet(t *testing.T) {
	silent := &types.AudioBuffer{
		Samples:  make([]float32, 2*16000),
		Format:   types.DefaultAudioFormat,
		Duration: 2 * time.Second,
	}
	rec := &fakeRecorder{buf: silent}
	engine := stt.NewEngine(&toneBackend{text: "hallucinated"}, stt.EngineOptions{SilenceThreshold: 0.005})
	typist := &fakeTypist{}
	rep := &fakeReporter{}
	j := &fakeJournal{}
	h := newHarness(t, rec, engine, typist, rep, j)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseIdle)

	if len(rep.errs) != 0 {
		t.Errorf("reported %v, want nothing", rep.errs)
	}
	if got := typist.typed(); len(got) != 0 {
		t.Errorf("typed %v, want nothing", got)
	}
	if got := j.outcomes(); len(got) != 1 || got[0] != "empty_result" {
		t.Errorf("journal outcomes = %v, want [empty_result]", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Properties
// ─────────────────────────────────────────────────────────────────────────────

func TestController_DeviceUnavailableStaysIdle(t *testing.T) {
	rec := &fakeRecorder{startErr: fmt.Errorf("audiocapture: open: %w", types.ErrDeviceUnavailable)}
	rep := &fakeReporter{}
	h := newHarness(t, rec, &scriptedTranscriber{}, &fakeTypist{}, rep, nil)

	h.press()
	h.expect(t, types.PhaseIdle)
	h.release()
	h.quiet(t)

	if got := rep.visible(); len(got) != 1 || got[0] != types.KindDeviceUnavailable {
		t.Errorf("visible errors = %v, want [device_unavailable]", got)
	}
}

func TestController_InjectionErrorReported(t *testing.T) {
	rec := &fakeRecorder{buf: speech(time.Second)}
	tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{reply("ls")}}
	typist := &fakeTypist{err: fmt.Errorf("inject: %w", types.ErrInjection)}
	rep := &fakeReporter{}
	h := newHarness(t, rec, tr, typist, rep, nil)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseInjecting, types.PhaseIdle)

	if got := rep.visible(); len(got) != 1 || got[0] != types.KindInjection {
		t.Errorf("visible errors = %v, want [injection_error]", got)
	}
}

func TestController_IgnoresUnpairedEdges(t *testing.T) {
	rec := &fakeRecorder{buf: speech(time.Second)}
	tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{reply("pwd")}}
	typist := &fakeTypist{}
	h := newHarness(t, rec, tr, typist, &fakeReporter{}, nil)

	h.release() // UP while idle
	h.quiet(t)

	h.press()
	h.expect(t, types.PhaseRecording)
	h.press() // repeated DOWN while recording
	h.quiet(t)

	if starts, _ := rec.counts(); starts != 1 {
		t.Errorf("capture starts = %d, want 1", starts)
	}

	h.release()
	h.expect(t, types.PhaseTranscribing, types.PhaseInjecting, types.PhaseIdle)
	if got := typist.typed(); len(got) != 1 || got[0] != "pwd" {
		t.Errorf("typed %v, want [pwd]", got)
	}
}

func TestController_StatusesNeverTyped(t *testing.T) {
	tests := []struct {
		name        string
		transcript  types.Transcript
		wantVisible bool
	}{
		{"empty", types.Empty(), false},
		{"cancelled", types.Cancelled(), false},
		{"whitespace", types.Transcript{Text: "  ", Status: types.TranscriptOK}, false},
		{"backend failure", types.Failed(fmt.Errorf("stt: %w", types.ErrTranscription)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{buf: speech(time.Second)}
			tr := &scriptedTranscriber{script: []func(context.Context) types.Transcript{
				func(context.Context) types.Transcript { return tt.transcript },
			}}
			typist := &fakeTypist{}
			rep := &fakeReporter{}
			h := newHarness(t, rec, tr, typist, rep, nil)

			h.press()
			h.expect(t, types.PhaseRecording)
			h.release()
			h.expect(t, types.PhaseTranscribing, types.PhaseIdle)

			if got := typist.typed(); len(got) != 0 {
				t.Errorf("typed %v, want nothing", got)
			}
			if got := len(rep.visible()) > 0; got != tt.wantVisible {
				t.Errorf("visible = %v, want %v", got, tt.wantVisible)
			}
		})
	}
}

func TestController_SameBufferSameText(t *testing.T) {
	buf := speech(time.Second)
	engine := stt.NewEngine(&toneBackend{text: "git status"}, stt.EngineOptions{})
	rec := &fakeRecorder{buf: buf}
	typist := &fakeTypist{}
	h := newHarness(t, rec, engine, typist, &fakeReporter{}, nil)

	for range 2 {
		h.press()
		h.expect(t, types.PhaseRecording)
		h.release()
		h.expect(t, types.PhaseTranscribing, types.PhaseInjecting, types.PhaseIdle)
	}

	got := typist.typed()
	if len(got) != 2 || got[0] != got[1] {
		t.Errorf("typed %v, want the same text twice", got)
	}
}

func TestController_ShutdownDiscardsRecording(t *testing.T) {
	rec := &fakeRecorder{buf: speech(time.Second)}
	tr := &scriptedTranscriber{}
	j := &fakeJournal{}
	ctrl := NewController(rec, tr, &fakeTypist{}, &fakeReporter{}, ControllerOptions{Journal: j})

	edges := make(chan types.KeyEdge)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx, edges) }()

	edges <- types.KeyEdge{Edge: types.EdgeDown}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if _, stops := rec.counts(); stops != 1 {
		t.Errorf("capture stops = %d, want 1", stops)
	}
	if n := tr.calls.Load(); n != 0 {
		t.Errorf("transcribe calls = %d, want 0", n)
	}
	if got := j.outcomes(); len(got) != 1 || got[0] != "cancelled" {
		t.Errorf("journal outcomes = %v, want [cancelled]", got)
	}
	if ctrl.Phase() != types.PhaseIdle {
		t.Errorf("Phase() = %v, want IDLE", ctrl.Phase())
	}
}

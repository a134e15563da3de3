package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.aimuz.me/termtalk/internal/types"
	"go.aimuz.me/termtalk/journal"
)

// Recorder owns the microphone for one recording at a time.
type Recorder interface {
	Start() error
	Stop() (*types.AudioBuffer, error)
}

// Transcriber turns a finished recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, buf *types.AudioBuffer) types.Transcript
}

// Typist types text into the focused window.
type Typist interface {
	Inject(ctx context.Context, text string) error
}

// ErrorReporter surfaces user-visible errors.
type ErrorReporter interface {
	Report(err error) bool
}

// CycleJournal persists finished cycles.
type CycleJournal interface {
	Record(ctx context.Context, c journal.Cycle) error
}

// ControllerOptions holds the optional collaborators of a Controller.
type ControllerOptions struct {
	Journal CycleJournal      // Nil disables the journal
	Metrics *Metrics          // Nil disables metrics
	OnPhase func(types.Phase) // Called on the controller goroutine after every transition
}

// Controller is the push-to-talk state machine. All transitions happen on
// the goroutine running Run; stages report back over channels tagged with
// the cycle id so results of superseded cycles are recognized and dropped.
type Controller struct {
	recorder    Recorder
	transcriber Transcriber
	typist      Typist
	reporter    ErrorReporter
	opts        ControllerOptions

	// Owned by the Run goroutine
	phase   types.Phase
	cur     *cycle
	keyHeld bool // Trigger key state observed while aborting

	state    atomic.Uint32 // Mirror of phase for Phase()
	results  chan transcribed
	injected chan injectDone
	wg       sync.WaitGroup
}

// cycle is the bookkeeping of one DOWN..IDLE round trip.
type cycle struct {
	id      string
	started time.Time
	reached types.Phase
	cancel  context.CancelFunc

	audio      time.Duration
	transcribe time.Duration
	inject     time.Duration
	dropped    int
	backend    string
	cached     bool
	text       string
}

type transcribed struct {
	id string
	t  types.Transcript
}

type injectDone struct {
	id      string
	err     error
	elapsed time.Duration
}

// NewController wires the pipeline stages into a controller.
func NewController(rec Recorder, tr Transcriber, typist Typist, reporter ErrorReporter, opts ControllerOptions) *Controller {
	return &Controller{
		recorder:    rec,
		transcriber: tr,
		typist:      typist,
		reporter:    reporter,
		opts:        opts,
		// At most one stage task is outstanding, so a single slot means
		// a task never blocks on delivery even after Run returned.
		results:  make(chan transcribed, 1),
		injected: make(chan injectDone, 1),
	}
}

// Phase returns the current phase. Safe for concurrent use.
func (c *Controller) Phase() types.Phase {
	return types.Phase(c.state.Load())
}

// Run consumes key edges until ctx is cancelled or edges is closed. An
// in-flight cycle is cancelled and its recording discarded before Run
// returns.
func (c *Controller) Run(ctx context.Context, edges <-chan types.KeyEdge) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx)
			return nil
		case e, ok := <-edges:
			if !ok {
				c.shutdown(ctx)
				return nil
			}
			c.handleEdge(ctx, e)
		case r := <-c.results:
			c.handleTranscript(ctx, r)
		case r := <-c.injected:
			c.handleInjected(ctx, r)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) handleEdge(ctx context.Context, e types.KeyEdge) {
	slog.Debug("key edge", "edge", e.Edge.String(), "phase", c.phase.String())

	switch c.phase {
	case types.PhaseIdle:
		if e.Edge == types.EdgeDown {
			c.startRecording(ctx)
		}
	case types.PhaseRecording:
		if e.Edge == types.EdgeUp {
			c.stopRecording(ctx)
		}
	case types.PhaseTranscribing, types.PhaseInjecting:
		if e.Edge == types.EdgeDown {
			c.abort()
		}
	case types.PhaseAborting:
		c.keyHeld = e.Edge == types.EdgeDown
	}
}

func (c *Controller) startRecording(ctx context.Context) {
	c.cur = &cycle{id: uuid.NewString(), started: time.Now()}

	if err := c.recorder.Start(); err != nil {
		c.reporter.Report(err)
		c.done(ctx, types.Classify(err).String())
		return
	}
	c.setPhase(types.PhaseRecording)
	slog.Debug("recording started", "cycle", c.cur.id)
}

func (c *Controller) stopRecording(ctx context.Context) {
	buf, err := c.recorder.Stop()
	if err != nil {
		c.reporter.Report(err)
		c.done(ctx, types.Classify(err).String())
		return
	}

	c.cur.audio = buf.AudioDuration()
	c.cur.dropped = buf.Dropped
	if buf.Dropped > 0 {
		slog.Warn("audio chunks dropped", "cycle", c.cur.id, "dropped", buf.Dropped)
	}
	if buf.TooShort {
		slog.Debug("recording too short", "cycle", c.cur.id, "duration", c.cur.audio)
		c.done(ctx, "too_short")
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.cur.cancel = cancel
	c.setPhase(types.PhaseTranscribing)

	id := c.cur.id
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.results <- transcribed{id: id, t: c.transcriber.Transcribe(taskCtx, buf)}
	}()
}

func (c *Controller) handleTranscript(ctx context.Context, r transcribed) {
	if c.cur == nil || r.id != c.cur.id {
		slog.Debug("discarding stale transcript", "cycle", r.id)
		return
	}

	t := r.t
	c.cur.transcribe = t.Elapsed
	c.cur.backend = t.Backend
	c.cur.cached = t.Cached

	if c.phase == types.PhaseAborting {
		c.finish(ctx, types.KindCancelled.String())
		c.resume(ctx)
		return
	}

	switch {
	case t.Status == types.TranscriptOK && strings.TrimSpace(t.Text) != "":
		c.startInjecting(ctx, t.Text)
	case t.Status == types.TranscriptOK, t.Status == types.TranscriptEmpty:
		c.done(ctx, types.KindEmptyResult.String())
	case t.Status == types.TranscriptCancelled:
		c.done(ctx, types.KindCancelled.String())
	default:
		c.reporter.Report(t.Err)
		c.done(ctx, types.Classify(t.Err).String())
	}
}

func (c *Controller) startInjecting(ctx context.Context, text string) {
	c.cur.cancel()
	taskCtx, cancel := context.WithCancel(ctx)
	c.cur.cancel = cancel
	c.cur.text = text
	c.setPhase(types.PhaseInjecting)

	id := c.cur.id
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		start := time.Now()
		err := c.typist.Inject(taskCtx, text)
		c.injected <- injectDone{id: id, err: err, elapsed: time.Since(start)}
	}()
}

func (c *Controller) handleInjected(ctx context.Context, r injectDone) {
	if c.cur == nil || r.id != c.cur.id {
		slog.Debug("discarding stale injection result", "cycle", r.id)
		return
	}
	c.cur.inject = r.elapsed

	outcome := "ok"
	if r.err != nil {
		c.reporter.Report(r.err)
		outcome = types.Classify(r.err).String()
	}
	if c.phase == types.PhaseAborting {
		c.finish(ctx, outcome)
		c.resume(ctx)
		return
	}
	c.done(ctx, outcome)
}

// abort cancels the in-flight stage. The key is down by definition.
func (c *Controller) abort() {
	slog.Debug("aborting cycle", "cycle", c.cur.id, "phase", c.phase.String())
	c.cur.cancel()
	c.keyHeld = true
	c.setPhase(types.PhaseAborting)
}

// resume continues after an aborted cycle was acknowledged: straight back
// to RECORDING while the key is still held, IDLE otherwise.
func (c *Controller) resume(ctx context.Context) {
	if !c.keyHeld {
		c.setPhase(types.PhaseIdle)
		return
	}
	c.keyHeld = false
	c.startRecording(ctx)
}

// done finishes the current cycle and returns to IDLE.
func (c *Controller) done(ctx context.Context, outcome string) {
	c.finish(ctx, outcome)
	c.setPhase(types.PhaseIdle)
}

// finish records the current cycle and clears it.
func (c *Controller) finish(ctx context.Context, outcome string) {
	cur := c.cur
	c.cur = nil
	if cur.cancel != nil {
		cur.cancel()
	}

	slog.Info("cycle finished",
		"cycle", cur.id,
		"outcome", outcome,
		"phase", cur.reached.String(),
		"audio", cur.audio,
		"transcribe", cur.transcribe,
		"backend", cur.backend,
		"cached", cur.cached,
	)

	c.opts.Metrics.recordCycle(ctx, cur, outcome)
	if c.opts.Journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err := c.opts.Journal.Record(jctx, journal.Cycle{
			ID:         cur.id,
			StartedAt:  cur.started,
			Phase:      cur.reached.String(),
			Outcome:    outcome,
			Backend:    cur.backend,
			Cached:     cur.cached,
			Text:       cur.text,
			Capture:    cur.audio,
			Transcribe: cur.transcribe,
			Inject:     cur.inject,
			Dropped:    cur.dropped,
		})
		cancel()
		if err != nil {
			slog.Warn("record cycle", "cycle", cur.id, "error", err)
		}
	}
}

func (c *Controller) setPhase(p types.Phase) {
	c.phase = p
	c.state.Store(uint32(p))
	if c.cur != nil && p != types.PhaseAborting {
		c.cur.reached = p
	}
	if c.opts.OnPhase != nil {
		c.opts.OnPhase(p)
	}
}

// shutdown cancels whatever is in flight and waits for stage tasks.
func (c *Controller) shutdown(ctx context.Context) {
	if c.cur == nil {
		return
	}
	if c.phase == types.PhaseRecording {
		if _, err := c.recorder.Stop(); err != nil {
			slog.Debug("stop recording on shutdown", "error", err)
		}
	}
	if c.cur.cancel != nil {
		c.cur.cancel()
	}
	c.wg.Wait()
	c.keyHeld = false
	c.done(ctx, types.KindCancelled.String())
}

// Package dialogue runs the speak → listen → classify → act cycle of one
// voice-driven screen.
//
// A [Controller] owns one [Session] and drives it with a single event loop
// that reacts to exactly one event at a time: synthesiser completion,
// recogniser events, non-voice input, or a stop request. The controller never
// listens while it is speaking, bounds consecutive failed turns with a retry
// budget, and ignores late events once it has been stopped.
//
// Screen-specific behaviour lives in a [Script]; see package wizard.
package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/votevoice/internal/intent"
	"github.com/MrWong99/votevoice/internal/observe"
	"github.com/MrWong99/votevoice/pkg/provider/stt"
	"github.com/MrWong99/votevoice/pkg/provider/tts"
)

// DefaultMaxRetries is the number of consecutive failed turns after which a
// session gives up on voice.
const DefaultMaxRetries = 2

// Spoken and visual notices for the terminal fallback paths.
const (
	ManualInputNotice = "I'm having trouble understanding. Please use the on-screen controls to continue."
	PermissionNotice  = "Microphone access is needed for voice control. Please allow it in your settings, or use the on-screen controls."
	UnavailableNotice = "Voice recognition is not available on this device. Please use the on-screen controls."
)

// ErrSessionClosed is returned when input is sent to a finished session.
var ErrSessionClosed = errors.New("dialogue: session closed")

// Config holds the per-session settings.
type Config struct {
	// Screen names the screen the session belongs to, for logs and metrics.
	Screen string

	// MaxRetries bounds consecutive silent or unrecognised turns. Zero means
	// DefaultMaxRetries.
	MaxRetries int

	// Stream is passed to the recogniser for every listening turn.
	Stream stt.StreamConfig

	// Voice is passed to the synthesiser for every prompt.
	Voice tts.VoiceProfile
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithListener registers a state change listener.
func WithListener(l StateListener) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, l) }
}

// WithNotifier sets the receiver of visual notices.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// afterSpeech is what the loop does once the current prompt has finished.
type afterSpeech int

const (
	thenIdle afterSpeech = iota
	thenListen
	thenFinish
)

type input struct {
	field string
	value string
}

// Controller drives one [Session]. Run it exactly once; Stop and Provide may
// be called from any goroutine.
type Controller struct {
	synth  tts.Provider
	rec    stt.Provider
	script Script
	cfg    Config

	session   *Session
	listeners []StateListener
	notifier  Notifier
	metrics   *observe.Metrics

	inputs   chan input
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	started  atomic.Bool
	done     chan struct{}

	// Owned by the event loop.
	utter    tts.Utterance
	next     afterSpeech
	handle   stt.SessionHandle
	finish   *Outcome
	finished bool
	halted   bool
}

// New creates a Controller for script.
func New(synth tts.Provider, rec stt.Provider, script Script, cfg Config, opts ...Option) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	c := &Controller{
		synth:   synth,
		rec:     rec,
		script:  script,
		cfg:     cfg,
		session: newSession(cfg.Screen),
		inputs:  make(chan input),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Session returns the session driven by c.
func (c *Controller) Session() *Session { return c.session }

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Stop ends the session: the synthesiser and recogniser are stopped and any
// event still in flight is discarded. Stop is idempotent and does not wait;
// use Done to wait for the loop to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopCh)
	})
}

// Provide hands a non-voice side effect to the active step, e.g. the URL of
// an uploaded file or a typed password.
func (c *Controller) Provide(ctx context.Context, field, value string) error {
	select {
	case c.inputs <- input{field: field, value: value}:
		return nil
	case <-c.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until it reaches a terminal outcome, Stop is called
// or ctx is cancelled. All audio is stopped before Run returns.
func (c *Controller) Run(ctx context.Context) Outcome {
	if !c.started.CompareAndSwap(false, true) {
		return Outcome{Kind: OutcomeStopped, Reason: "already running"}
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Debug("dialogue: session started", "screen", c.cfg.Screen, "session", c.session.ID())

	out := c.loop(ctx)
	c.halt(out.Kind.String())

	// ctx may already be cancelled; metrics must still be recorded.
	mctx := context.WithoutCancel(ctx)
	c.metrics.ActiveSessions.Add(mctx, -1)
	c.metrics.RecordSession(mctx, c.cfg.Screen, out.Kind.String(), start)
	slog.Debug("dialogue: session ended",
		"screen", c.cfg.Screen,
		"session", c.session.ID(),
		"outcome", out.Kind.String(),
		"target", out.Target,
	)
	return out
}

func (c *Controller) loop(ctx context.Context) Outcome {
	if c.stopped.Load() {
		return Outcome{Kind: OutcomeStopped, Reason: "stopped"}
	}
	c.react(ctx, c.script.Begin(ctx))
	for {
		if c.stopped.Load() || ctx.Err() != nil {
			return Outcome{Kind: OutcomeStopped, Reason: "stopped"}
		}
		if c.finished {
			return *c.finish
		}
		select {
		case <-ctx.Done():
		case err := <-c.speechDone():
			c.onSpeechDone(ctx, err)
		case ev, ok := <-c.recognizerEvents():
			c.onRecognizer(ctx, ev, ok)
		case in := <-c.inputs:
			c.onInput(ctx, in)
		}
	}
}

// speechDone returns the completion channel of the current prompt, or nil
// so the select never fires when nothing is playing.
func (c *Controller) speechDone() <-chan error {
	if c.utter == nil {
		return nil
	}
	return c.utter.Done()
}

func (c *Controller) recognizerEvents() <-chan stt.Event {
	if c.handle == nil {
		return nil
	}
	return c.handle.Events()
}

// react applies a script reaction.
func (c *Controller) react(ctx context.Context, r Reaction) {
	if c.stopped.Load() {
		return
	}
	id, ok := c.script.Pending()
	c.session.setStep(c.script.StepID(), id, ok)

	next := thenIdle
	switch {
	case r.End != nil:
		c.finish = r.End
		next = thenFinish
	case r.Listen:
		next = thenListen
	}
	if r.Say == "" {
		if next == thenListen {
			slog.Warn("dialogue: reaction listens without a prompt", "screen", c.cfg.Screen, "step", c.script.StepID())
			next = thenIdle
		}
		c.after(ctx, next)
		return
	}
	c.say(ctx, r.Say, next)
}

// say starts speaking text. The manual-input notice is spoken from Fallback
// without leaving it.
func (c *Controller) say(ctx context.Context, text string, next afterSpeech) {
	if c.session.getState() != StateFallback {
		if err := c.transition(StateSpeaking, "prompt"); err != nil {
			return
		}
	}
	c.session.setSpeaking(true)
	u, err := c.synth.Speak(ctx, text, c.cfg.Voice)
	if err != nil {
		c.session.setSpeaking(false)
		slog.Warn("dialogue: speak failed", "screen", c.cfg.Screen, "err", err)
		c.after(ctx, next)
		return
	}
	c.utter = u
	c.next = next
}

func (c *Controller) onSpeechDone(ctx context.Context, err error) {
	c.utter = nil
	c.session.setSpeaking(false)
	if err != nil && !errors.Is(err, tts.ErrStopped) {
		slog.Warn("dialogue: synthesis failed", "screen", c.cfg.Screen, "err", err)
	}
	c.after(ctx, c.next)
}

func (c *Controller) after(ctx context.Context, next afterSpeech) {
	switch next {
	case thenListen:
		c.listen(ctx)
	case thenFinish:
		c.finished = true
	default:
		if st := c.session.getState(); st != StateIdle && st != StateFallback {
			_ = c.transition(StateIdle, "awaiting input")
		}
	}
}

func (c *Controller) listen(ctx context.Context) {
	if err := c.transition(StateListening, "prompt done"); err != nil {
		return
	}
	h, err := c.rec.StartStream(ctx, c.cfg.Stream)
	if err != nil {
		c.recognizerFailed(err)
		return
	}
	c.handle = h
	c.session.setListening(true)
	c.metrics.RecordTurn(ctx, c.cfg.Screen)
}

func (c *Controller) onRecognizer(ctx context.Context, ev stt.Event, ok bool) {
	// Intentional-stop guard: nothing that arrives after Stop may act.
	if c.stopped.Load() || c.session.getState() != StateListening {
		return
	}
	if !ok {
		ev = stt.Event{Kind: stt.EventEnd}
	}
	switch ev.Kind {
	case stt.EventStart:
		slog.Debug("dialogue: recognizer started", "screen", c.cfg.Screen)
	case stt.EventResult:
		text := strings.TrimSpace(ev.Transcript.Text)
		if !ev.Transcript.IsFinal || text == "" {
			return
		}
		c.closeHandle()
		if err := c.transition(StateProcessing, "final result"); err != nil {
			return
		}
		c.process(ctx, text)
	case stt.EventEnd:
		c.closeHandle()
		_ = c.transition(StateIdle, "no speech")
		c.retry(ctx, RetrySilence, "")
	case stt.EventError:
		if errors.Is(ev.Err, stt.ErrPermissionDenied) || errors.Is(ev.Err, stt.ErrUnavailable) {
			c.recognizerFailed(ev.Err)
			return
		}
		slog.Debug("dialogue: recognizer error", "screen", c.cfg.Screen, "err", ev.Err)
		c.closeHandle()
		_ = c.transition(StateIdle, "recognizer error")
		c.retry(ctx, RetrySilence, "")
	}
}

func (c *Controller) process(ctx context.Context, text string) {
	in := intent.Classify(text, c.script.Vocabulary())
	c.metrics.RecordIntent(ctx, c.cfg.Screen, in.Kind.String())
	slog.Debug("dialogue: classified", "screen", c.cfg.Screen, "step", c.script.StepID(), "transcript", text, "intent", in.String())
	if in.Kind == intent.KindUnrecognized {
		c.retry(ctx, RetryUnrecognized, text)
		return
	}
	c.session.resetRetry()
	c.react(ctx, c.script.Handle(ctx, in))
}

// retry consumes one unit of the retry budget and either re-prompts or gives
// up on voice.
func (c *Controller) retry(ctx context.Context, reason RetryReason, transcript string) {
	if c.stopped.Load() {
		return
	}
	n := c.session.incRetry()
	c.metrics.RecordRetry(ctx, c.cfg.Screen, string(reason))
	if n >= c.cfg.MaxRetries {
		c.fallback(ctx, reason)
		return
	}
	c.react(ctx, c.script.Reprompt(reason, transcript))
}

func (c *Controller) fallback(ctx context.Context, reason RetryReason) {
	c.closeHandle()
	if err := c.transition(StateFallback, string(reason)); err != nil {
		return
	}
	slog.Info("dialogue: retry budget exhausted, manual input required",
		"screen", c.cfg.Screen,
		"step", c.script.StepID(),
		"reason", string(reason),
	)
	c.metrics.RecordFallback(ctx, c.cfg.Screen, string(reason))
	c.notify(ManualInputNotice, false)
	c.finish = &Outcome{Kind: OutcomeFallback, Reason: string(reason)}
	c.say(ctx, ManualInputNotice, thenFinish)
}

// recognizerFailed handles platform failures that make listening impossible.
func (c *Controller) recognizerFailed(err error) {
	c.closeHandle()
	notice, reason := UnavailableNotice, "recognizer unavailable"
	if errors.Is(err, stt.ErrPermissionDenied) {
		notice, reason = PermissionNotice, "permission denied"
	}
	slog.Warn("dialogue: voice input disabled", "screen", c.cfg.Screen, "reason", reason, "err", err)
	_ = c.transition(StateFallback, reason)
	c.metrics.RecordFallback(context.Background(), c.cfg.Screen, reason)
	c.notify(notice, true)
	c.finish = &Outcome{Kind: OutcomeFallback, Reason: reason}
	c.finished = true
}

func (c *Controller) onInput(ctx context.Context, in input) {
	if c.finish != nil {
		return
	}
	r := c.script.Provide(in.field, in.value)
	if r.Say == "" && r.End == nil && !r.Listen {
		id, ok := c.script.Pending()
		c.session.setStep(c.script.StepID(), id, ok)
		return
	}
	c.interrupt()
	c.react(ctx, r)
}

// interrupt abandons the current prompt or listening turn so a new reaction
// can start from Idle.
func (c *Controller) interrupt() {
	if c.utter != nil {
		c.utter = nil
		c.session.setSpeaking(false)
		if err := c.synth.Stop(); err != nil {
			slog.Debug("dialogue: stop synthesizer", "err", err)
		}
		_ = c.transition(StateIdle, "interrupted")
	}
	if c.handle != nil {
		c.closeHandle()
		_ = c.transition(StateIdle, "interrupted")
	}
}

// closeHandle stops the current listening turn, once.
func (c *Controller) closeHandle() {
	if c.handle == nil {
		return
	}
	h := c.handle
	c.handle = nil
	c.session.setListening(false)
	if err := h.Close(); err != nil {
		slog.Debug("dialogue: close recognizer", "screen", c.cfg.Screen, "err", err)
	}
}

// halt stops all audio and closes the session. Idempotent.
func (c *Controller) halt(reason string) {
	if c.halted {
		return
	}
	c.halted = true
	c.closeHandle()
	c.utter = nil
	if err := c.synth.Stop(); err != nil {
		slog.Debug("dialogue: stop synthesizer", "err", err)
	}
	c.session.setSpeaking(false)
	c.session.setListening(false)
	_ = c.transition(StateClosed, reason)
}

func (c *Controller) notify(text string, blocking bool) {
	if c.notifier != nil {
		c.notifier.Notice(text, blocking)
	}
}

// transition moves the session to state to and notifies listeners.
func (c *Controller) transition(to State, reason string) error {
	from := c.session.getState()
	if from == to {
		return nil
	}
	if !transitionValid(from, to) {
		err := &InvalidTransitionError{From: from, To: to}
		slog.Error("dialogue: "+err.Error(), "screen", c.cfg.Screen, "reason", reason)
		return err
	}
	c.session.setState(to)
	event := StateChange{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
		Session:   c.session.Snapshot(),
	}
	for _, l := range c.listeners {
		l.OnStateChange(event)
	}
	return nil
}

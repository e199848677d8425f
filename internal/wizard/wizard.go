// Package wizard implements the ordered step machine behind every voice
// screen. A [Wizard] is a [dialogue.Script]: the dialogue controller speaks
// what the wizard returns and feeds classified intents back into it.
//
// Steps are visited strictly in order. The exceptions are a step whose Skip
// condition holds on entry, which is passed over without a voice turn, and a
// failed or rejected step, which is retried in place.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/MrWong99/votevoice/internal/dialogue"
	"github.com/MrWong99/votevoice/internal/intent"
)

// Spoken defaults.
const (
	DefaultFailureNotice = "Sorry, something went wrong. Please try again."
	DefaultCancelNotice  = "Cancelled."
	silencePrefix        = "I didn't hear anything."
	unrecognizedPrefix   = "Sorry, I didn't understand."
	rejectPrefix         = "Okay, let's try that again."
	restartPrefix        = "Okay, let's start over."
)

// Config holds the wizard-wide settings.
type Config struct {
	// Name identifies the screen in logs.
	Name string

	// Intro is spoken once, before the first prompt.
	Intro string

	// CancelTarget is where Cancel navigates. Empty means the session just
	// ends with OutcomeCanceled.
	CancelTarget string

	// Done is spoken and DoneTarget navigated to when the last step has been
	// passed and no step submitted.
	Done       string
	DoneTarget string

	// FailureNotice replaces DefaultFailureNotice.
	FailureNotice string

	// Departures maps navigation targets to what is said on the way out,
	// e.g. "results" → "Opening Results...".
	Departures map[string]string
}

// Option is a functional option for a [Wizard].
type Option func(*Wizard)

// WithSuggester enables "did you mean" hints in clarifying prompts.
func WithSuggester(s *intent.Suggester) Option {
	return func(w *Wizard) { w.suggester = s }
}

// Wizard is an ordered sequence of steps plus the values collected so far.
//
// Script methods are called from a single dialogue loop; Data and Current may
// be called from any goroutine.
type Wizard struct {
	cfg       Config
	steps     []Step
	suggester *intent.Suggester

	mu      sync.Mutex
	index   int
	data    Data
	pending string
	waiting bool
}

var _ dialogue.Script = (*Wizard)(nil)

// New creates a Wizard. It panics if two steps share an ID.
func New(cfg Config, steps []Step, opts ...Option) *Wizard {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.ID] {
			panic(fmt.Sprintf("wizard: duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
	}
	if cfg.FailureNotice == "" {
		cfg.FailureNotice = DefaultFailureNotice
	}
	w := &Wizard{cfg: cfg, steps: steps, data: Data{}}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ── State ────────────────────────────────────────────────────────────────────

// Current returns the active step. It reports false once the wizard has run
// past its last step.
func (w *Wizard) Current() (Step, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.index >= len(w.steps) {
		return Step{}, false
	}
	return w.steps[w.index], true
}

// Data returns a copy of the collected values.
func (w *Wizard) Data() Data {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.data)
}

// Record stores value under key, usually a step ID.
func (w *Wizard) Record(key, value string) {
	w.mu.Lock()
	w.data[key] = value
	w.mu.Unlock()
}

// Advance moves to the next step and discards any pending value. It does not
// evaluate Skip conditions; the dialogue entry path does.
func (w *Wizard) Advance() {
	w.mu.Lock()
	if w.index < len(w.steps) {
		w.index++
	}
	w.pending, w.waiting = "", false
	w.mu.Unlock()
}

// RetreatTo makes the step with id active again. It reports false for an
// unknown id.
func (w *Wizard) RetreatTo(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.steps {
		if s.ID == id {
			w.index = i
			w.pending, w.waiting = "", false
			return true
		}
	}
	return false
}

func (w *Wizard) step() (*Step, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.index >= len(w.steps) {
		return nil, false
	}
	return &w.steps[w.index], true
}

func (w *Wizard) setPending(v string) {
	w.mu.Lock()
	w.pending, w.waiting = v, true
	w.mu.Unlock()
}

func (w *Wizard) clearPending() {
	w.mu.Lock()
	w.pending, w.waiting = "", false
	w.mu.Unlock()
}

func (w *Wizard) value(key string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data[key]
}

// ── dialogue.Script ──────────────────────────────────────────────────────────

// StepID returns the active step ID, or "done".
func (w *Wizard) StepID() string {
	if s, ok := w.step(); ok {
		return s.ID
	}
	return "done"
}

// Pending returns the value awaiting confirmation.
func (w *Wizard) Pending() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending, w.waiting
}

// Vocabulary returns the labels of the active step, or the yes/no
// vocabulary while a value awaits confirmation.
func (w *Wizard) Vocabulary() intent.Vocabulary {
	if _, ok := w.Pending(); ok {
		return intent.Confirmation()
	}
	s, ok := w.step()
	if !ok {
		return intent.Vocabulary{}
	}
	return s.vocabulary()
}

// Begin resets the wizard and enters the first step.
func (w *Wizard) Begin(ctx context.Context) dialogue.Reaction {
	w.mu.Lock()
	w.index = 0
	w.pending, w.waiting = "", false
	w.mu.Unlock()
	return w.enter(ctx, w.cfg.Intro)
}

// Handle dispatches in against the active step.
func (w *Wizard) Handle(ctx context.Context, in intent.Intent) dialogue.Reaction {
	switch in.Kind {
	case intent.KindCancel:
		return w.cancel()
	case intent.KindRepeatPrompt:
		return dialogue.Ask(w.prompt())
	case intent.KindNavigate:
		return dialogue.Finish(w.cfg.Departures[in.Target], dialogue.Outcome{Kind: dialogue.OutcomeNavigate, Target: in.Target})
	}

	s, ok := w.step()
	if !ok {
		return w.finish("")
	}

	if pending, ok := w.Pending(); ok {
		if in.Kind != intent.KindConfirm {
			return dialogue.Ask(w.echo(s, pending))
		}
		if !in.Yes {
			w.clearPending()
			return dialogue.Ask(join(rejectPrefix, w.prompt()))
		}
		w.clearPending()
		return w.complete(ctx, s, pending)
	}

	switch s.Kind {
	case FreeText, Choice:
		if in.Kind != intent.KindSelectChoice {
			return dialogue.Ask(w.prompt())
		}
		if s.Confirm {
			w.setPending(in.Value)
			return dialogue.Ask(w.echo(s, in.Value))
		}
		return w.complete(ctx, s, in.Value)

	case Confirmation:
		if in.Kind != intent.KindConfirm {
			return dialogue.Ask(w.prompt())
		}
		if !in.Yes && s.Submit != nil && len(w.steps) > 0 {
			first := w.steps[0].ID
			w.RetreatTo(first)
			return w.enter(ctx, restartPrefix)
		}
		return w.complete(ctx, s, yesNo(in.Yes))

	case ExternalAction:
		if in.Kind != intent.KindSelectChoice {
			return dialogue.Ask(w.prompt())
		}
		if in.Value == "skip" && s.Optional {
			return w.complete(ctx, s, w.value(s.Field))
		}
		v := w.value(s.Field)
		if in.Value != "next" || (v == "" && !s.Optional) {
			return dialogue.Ask(join(w.missing(s), w.prompt()))
		}
		return w.complete(ctx, s, v)

	default:
		return dialogue.Ask(w.prompt())
	}
}

// Reprompt returns the clarifying prompt after a failed turn.
func (w *Wizard) Reprompt(reason dialogue.RetryReason, transcript string) dialogue.Reaction {
	s, ok := w.step()
	if !ok {
		return dialogue.Reaction{}
	}
	if pending, ok := w.Pending(); ok {
		return dialogue.Ask(join("Please say Yes or No.", w.echo(s, pending)))
	}
	prefix := silencePrefix
	if reason == dialogue.RetryUnrecognized {
		prefix = unrecognizedPrefix
		if hint := w.hint(s, transcript); hint != "" {
			prefix = join(prefix, hint)
		}
	}
	if s.Retry != "" {
		prefix = s.Retry
	}
	return dialogue.Ask(join(prefix, w.prompt()))
}

// Provide records an external side effect. When the active step was waiting
// for it the user is told to continue.
func (w *Wizard) Provide(field, value string) dialogue.Reaction {
	w.Record(field, value)
	s, ok := w.step()
	if !ok || s.Kind != ExternalAction || s.Field != field || value == "" {
		return dialogue.Reaction{}
	}
	say := s.Received
	if say == "" {
		say = "Got it. Say Next to continue."
	}
	return dialogue.Ask(say)
}

// ── Internals ────────────────────────────────────────────────────────────────

// complete records value for s, runs its business action and moves on.
func (w *Wizard) complete(ctx context.Context, s *Step, value string) dialogue.Reaction {
	w.Record(s.ID, value)

	var said string
	if s.Commit != nil {
		err := s.Commit(ctx, w.Data(), value)
		switch {
		case errors.Is(err, ErrAlreadyDone):
			slog.Info("wizard: step already done", "screen", w.cfg.Name, "step", s.ID)
			said = s.Conflict
		case err != nil:
			slog.Warn("wizard: commit failed", "screen", w.cfg.Name, "step", s.ID, "err", err)
			return dialogue.Ask(join(w.failure(s, err), w.prompt()))
		}
	}
	if said == "" && s.Ack != nil {
		said = s.Ack(value)
	}

	if s.Submit != nil {
		res, err := s.Submit(ctx, w.Data())
		if err != nil {
			slog.Warn("wizard: submit failed", "screen", w.cfg.Name, "step", s.ID, "err", err)
			return dialogue.Ask(join(w.failure(s, err), w.prompt()))
		}
		slog.Info("wizard: submitted", "screen", w.cfg.Name, "step", s.ID, "target", res.Target)
		return dialogue.Finish(join(said, res.Say), dialogue.Outcome{
			Kind:   dialogue.OutcomeNavigate,
			Target: res.Target,
			UserID: res.UserID,
		})
	}

	w.Advance()
	return w.enter(ctx, said)
}

// enter evaluates Skip conditions from the active step on and prompts the
// first step that is not skipped. lead is spoken first.
func (w *Wizard) enter(ctx context.Context, lead string) dialogue.Reaction {
	say := lead
	for {
		s, ok := w.step()
		if !ok {
			return w.finish(say)
		}
		if s.Skip != nil {
			skip, msg, err := s.Skip(ctx, w.Data())
			if err != nil {
				slog.Warn("wizard: skip check failed", "screen", w.cfg.Name, "step", s.ID, "err", err)
			}
			if skip && err == nil {
				slog.Debug("wizard: step skipped", "screen", w.cfg.Name, "step", s.ID)
				say = join(say, msg)
				w.Advance()
				continue
			}
		}
		return dialogue.Ask(join(say, w.prompt()))
	}
}

func (w *Wizard) finish(say string) dialogue.Reaction {
	return dialogue.Finish(join(say, w.cfg.Done), dialogue.Outcome{
		Kind:   dialogue.OutcomeNavigate,
		Target: w.cfg.DoneTarget,
	})
}

func (w *Wizard) cancel() dialogue.Reaction {
	w.clearPending()
	return dialogue.Finish(DefaultCancelNotice, dialogue.Outcome{
		Kind:   dialogue.OutcomeCanceled,
		Target: w.cfg.CancelTarget,
	})
}

// prompt returns the active step's prompt, or the confirmation read-back
// while a value is pending.
func (w *Wizard) prompt() string {
	s, ok := w.step()
	if !ok {
		return ""
	}
	if pending, ok := w.Pending(); ok {
		return w.echo(s, pending)
	}
	if s.Prompt == nil {
		return ""
	}
	return s.Prompt(w.Data())
}

func (w *Wizard) echo(s *Step, value string) string {
	if s.Echo != nil {
		return s.Echo(value)
	}
	return fmt.Sprintf("I heard %s. Is this correct? Say Yes or No.", value)
}

func (w *Wizard) missing(s *Step) string {
	if s.Missing != "" {
		return s.Missing
	}
	return "I don't have that yet."
}

func (w *Wizard) failure(s *Step, err error) string {
	if s.Failure != nil {
		if msg := s.Failure(err); msg != "" {
			return msg
		}
	}
	return w.cfg.FailureNotice
}

// hint names the closest label for an unrecognised choice.
func (w *Wizard) hint(s *Step, transcript string) string {
	if w.suggester == nil || transcript == "" || (s.Kind != Choice && s.Kind != Navigation) {
		return ""
	}
	phrase, _, ok := w.suggester.Suggest(transcript, intent.Vocabulary{Labels: s.Labels}.Phrases())
	if !ok {
		return ""
	}
	return fmt.Sprintf("The closest option is %s.", phrase)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// join concatenates non-empty sentences with single spaces.
func join(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

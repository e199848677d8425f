package dialogue

import (
	"context"

	"github.com/MrWong99/votevoice/internal/intent"
)

// RetryReason says why a turn failed.
type RetryReason string

const (
	// RetrySilence means the recogniser ended without a final transcript.
	RetrySilence RetryReason = "silence"

	// RetryUnrecognized means the transcript matched nothing.
	RetryUnrecognized RetryReason = "unrecognized"
)

// OutcomeKind enumerates how a session ended.
type OutcomeKind int

const (
	// OutcomeNavigate means the session asked to leave for Outcome.Target.
	OutcomeNavigate OutcomeKind = iota

	// OutcomeCanceled means the user cancelled the flow.
	OutcomeCanceled

	// OutcomeFallback means voice was abandoned; the screen stays usable
	// through its on-screen controls.
	OutcomeFallback

	// OutcomeStopped means the session was stopped from outside (blur,
	// disconnect, a newer session).
	OutcomeStopped
)

// String returns a lowercase name for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNavigate:
		return "navigate"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeFallback:
		return "fallback"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a session.
type Outcome struct {
	Kind OutcomeKind

	// Target is the navigation destination for OutcomeNavigate and, when
	// set, OutcomeCanceled.
	Target string

	// UserID is set when the session authenticated a user.
	UserID string

	// Reason is a short machine-readable cause for fallback and stop.
	Reason string
}

// Reaction tells the controller what to do after a script callback.
type Reaction struct {
	// Say is spoken first. A reaction that listens must say something.
	Say string

	// Listen opens the recogniser once Say has been spoken.
	Listen bool

	// End finishes the session with this outcome once Say has been spoken.
	// End takes precedence over Listen.
	End *Outcome
}

// Ask returns a reaction that speaks prompt and then listens.
func Ask(prompt string) Reaction { return Reaction{Say: prompt, Listen: true} }

// Finish returns a reaction that speaks say and then ends with out.
func Finish(say string, out Outcome) Reaction { return Reaction{Say: say, End: &out} }

// Script supplies the screen-specific content of a session: prompts,
// vocabulary and what each intent does. The controller calls a Script only
// from its event loop, one call at a time.
type Script interface {
	// Begin enters the first step.
	Begin(ctx context.Context) Reaction

	// Vocabulary returns the labels understood by the active step.
	Vocabulary() intent.Vocabulary

	// Handle dispatches a classified intent. It is never called with
	// Unrecognized.
	Handle(ctx context.Context, in intent.Intent) Reaction

	// Reprompt returns the clarifying prompt after a failed turn.
	// transcript is empty for silence.
	Reprompt(reason RetryReason, transcript string) Reaction

	// Provide delivers a non-voice side effect such as an uploaded file
	// reference. A zero Reaction means nothing needs to be said.
	Provide(field, value string) Reaction

	// StepID identifies the active step.
	StepID() string

	// Pending returns the value awaiting confirmation, if any.
	Pending() (string, bool)
}

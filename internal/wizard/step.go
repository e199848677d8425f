package wizard

import (
	"context"
	"errors"

	"github.com/MrWong99/votevoice/internal/intent"
)

// ErrAlreadyDone is returned (possibly wrapped) by a Commit callback when the
// value was already recorded elsewhere, e.g. a ballot that was cast from
// another device. The wizard treats it as a skip and advances.
var ErrAlreadyDone = errors.New("wizard: already done")

// InputKind says what a step expects from the user.
type InputKind int

const (
	// FreeText steps capture whatever was said, optionally transformed by
	// Step.Extract.
	FreeText InputKind = iota

	// Choice steps accept one of Step.Labels.
	Choice

	// Confirmation steps accept yes or no.
	Confirmation

	// ExternalAction steps wait for a non-voice side effect (Step.Field) and
	// then for the user to say "next" or "done".
	ExternalAction

	// Navigation steps only offer Navigate labels, like a menu.
	Navigation
)

// String returns the kind name.
func (k InputKind) String() string {
	switch k {
	case FreeText:
		return "free_text"
	case Choice:
		return "choice"
	case Confirmation:
		return "confirmation"
	case ExternalAction:
		return "external_action"
	case Navigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Data holds the values collected so far, keyed by step ID. External
// side effects are keyed by their Step.Field.
type Data map[string]string

// Result is what a terminal step reports after its business action.
type Result struct {
	// Say is spoken before navigating.
	Say string

	// Target is the screen to navigate to.
	Target string

	// UserID is set when the action authenticated a user.
	UserID string
}

// Step is one node of a wizard.
type Step struct {
	// ID identifies the step and keys its value in Data.
	ID string

	// Kind selects the vocabulary and completion rule.
	Kind InputKind

	// Prompt returns the text spoken on entry.
	Prompt func(Data) string

	// Labels are step-specific vocabulary entries. For Choice and Navigation
	// steps they are the whole vocabulary; for the other kinds they are
	// matched before the kind's own words.
	Labels []intent.Label

	// Extract transforms FreeText values, e.g. [intent.EmailValue].
	Extract func(string) (string, bool)

	// ExtraYes adds affirmatives to a Confirmation step, e.g. "submit".
	ExtraYes []string

	// Confirm asks the user to confirm the captured value before it is
	// committed.
	Confirm bool

	// Echo returns the read-back for confirmation. Default:
	// "I heard X. Is this correct? Say Yes or No."
	Echo func(value string) string

	// Ack returns a short acknowledgement spoken after the value has been
	// committed, before the next prompt.
	Ack func(value string) string

	// Field names the external side effect an ExternalAction step waits for.
	Field string

	// Optional lets an ExternalAction step continue with "skip".
	Optional bool

	// Missing is spoken when "next" is said before Field was provided.
	Missing string

	// Received is spoken when Field arrives.
	Received string

	// Retry replaces the default clarification prefix after a failed turn.
	Retry string

	// Skip is evaluated on entry. When it reports true the step is passed
	// over without a voice turn and the returned message, if any, is spoken
	// before the next prompt.
	Skip func(ctx context.Context, d Data) (bool, string, error)

	// Commit runs the per-step business action for value.
	Commit func(ctx context.Context, d Data, value string) error

	// Conflict is spoken when Commit reports ErrAlreadyDone.
	Conflict string

	// Submit makes the step terminal: once the step completes, Submit runs
	// and the wizard navigates to its result.
	Submit func(ctx context.Context, d Data) (Result, error)

	// Failure returns the message for a failed Commit or Submit. Default:
	// the wizard's generic failure notice.
	Failure func(err error) string
}

var (
	nextLabel = intent.Keyword("next", "next", "done", "continue", "finished", "uploaded")
	skipLabel = intent.Keyword("skip", "skip", "no file", "none")
)

// vocabulary returns what the step understands when nothing awaits
// confirmation.
func (s *Step) vocabulary() intent.Vocabulary {
	switch s.Kind {
	case FreeText:
		return intent.Vocabulary{Labels: s.Labels, FreeText: true, Extract: s.Extract}
	case Confirmation:
		return intent.Merge(intent.Vocabulary{Labels: s.Labels}, intent.Confirmation(s.ExtraYes...))
	case ExternalAction:
		labels := append([]intent.Label{}, s.Labels...)
		labels = append(labels, nextLabel)
		if s.Optional {
			labels = append(labels, skipLabel)
		}
		return intent.Vocabulary{Labels: labels}
	default:
		return intent.Vocabulary{Labels: s.Labels}
	}
}

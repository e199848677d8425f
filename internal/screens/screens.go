// Package screens defines the voice flow of every screen of the voting
// assistant. Each flow is a [wizard.Wizard] built when the device focuses
// the screen, so ballots, tallies and candidate lists are read fresh on
// every visit.
package screens

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/votevoice/internal/dialogue"
	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/intent"
	"github.com/MrWong99/votevoice/internal/wizard"
)

// Screen names. Biometric, Admin and Logout are navigation targets without a
// voice flow of their own.
const (
	Landing     = "landing"
	Login       = "login"
	Signup      = "signup"
	Home        = "home"
	Apply       = "apply"
	Vote        = "vote"
	Results     = "results"
	Contestants = "contestants"
	Report      = "report"

	Biometric = "biometric"
	Admin     = "admin"
	Logout    = "logout"
)

// External fields the device provides outside of speech.
const (
	FieldPassword = "password"
	FieldPhoto    = "photo"
	FieldDocument = "document"
	FieldEvidence = "evidence"
)

var (
	// ErrUnknownScreen is returned by Build for a screen without a voice
	// flow.
	ErrUnknownScreen = errors.New("screens: unknown screen")

	// ErrSignInRequired is returned by Build for a signed-in screen when
	// Env has no user.
	ErrSignInRequired = errors.New("screens: sign-in required")
)

// Env is what a screen needs to build its flow.
type Env struct {
	Election *election.Service

	// UserID and UserName identify the signed-in user, if any.
	UserID   string
	UserName string

	// Suggester, when set, adds "did you mean" hints to clarifying prompts.
	Suggester *intent.Suggester
}

func (e Env) options() []wizard.Option {
	if e.Suggester == nil {
		return nil
	}
	return []wizard.Option{wizard.WithSuggester(e.Suggester)}
}

type screen struct {
	signedIn bool
	build    func(ctx context.Context, env Env) (*wizard.Wizard, error)
}

var registry = map[string]screen{
	Landing:     {build: landing},
	Login:       {build: login},
	Signup:      {build: signup},
	Home:        {signedIn: true, build: home},
	Apply:       {signedIn: true, build: apply},
	Vote:        {signedIn: true, build: vote},
	Results:     {signedIn: true, build: results},
	Contestants: {signedIn: true, build: contestants},
	Report:      {signedIn: true, build: report},
}

// Build returns the voice flow of the named screen.
func Build(ctx context.Context, name string, env Env) (dialogue.Script, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScreen, name)
	}
	if s.signedIn && env.UserID == "" {
		return nil, fmt.Errorf("screens: %s: %w", name, ErrSignInRequired)
	}
	w, err := s.build(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("screens: build %s: %w", name, err)
	}
	return w, nil
}

// Names returns every screen with a voice flow, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// UploadKind maps an upload field to the folder it is stored in.
func UploadKind(field string) (election.UploadKind, bool) {
	switch field {
	case FieldPhoto:
		return election.UploadPhoto, true
	case FieldDocument:
		return election.UploadDocument, true
	case FieldEvidence:
		return election.UploadEvidence, true
	default:
		return "", false
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func text(s string) func(wizard.Data) string {
	return func(wizard.Data) string { return s }
}

func confirmEcho(format string) func(string) string {
	return func(v string) string {
		return fmt.Sprintf(format+" Is this correct? Say Yes or No.", v)
	}
}

func ack(format string) func(string) string {
	return func(v string) string { return fmt.Sprintf(format, v) }
}

// list joins items as spoken English: "A", "A and B", "A, B and C".
func list(items []string, conj string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " " + conj + " " + items[len(items)-1]
}

// labelsWithAliases returns one label per value. Words of a value that no
// other value contains, and that are long enough to be significant, become
// aliases, so "Moyo" selects "Alice Moyo".
func labelsWithAliases(values []string) []intent.Label {
	count := make(map[string]int)
	for _, v := range values {
		for _, w := range uniqueWords(v) {
			count[w]++
		}
	}
	labels := make([]intent.Label, 0, len(values))
	for _, v := range values {
		l := intent.Label{Phrase: v}
		words := uniqueWords(v)
		if len(words) > 1 {
			for _, w := range words {
				if count[w] == 1 {
					l.Aliases = append(l.Aliases, w)
				}
			}
		}
		labels = append(labels, l)
	}
	return labels
}

var fillerWords = map[string]bool{"and": true, "the": true, "for": true, "of": true}

func uniqueWords(s string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == ',' || r == '-'
	}) {
		if len(w) < 4 || fillerWords[w] || slices.Contains(out, w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

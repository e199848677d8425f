// Package intent classifies recognised utterances into a closed set of
// intents using case-insensitive keyword and substring rules.
//
// Classification is a pure function of the transcript and the vocabulary of
// the active step: the same inputs always produce the same [Intent]. Global
// cancellation keywords are checked before anything else, then the global
// repeat keywords, then the step vocabulary, where the longest matching label
// wins.
package intent

import (
	"fmt"
	"strconv"
)

// Kind enumerates the intent variants.
type Kind int

const (
	// KindUnrecognized means nothing in the vocabulary matched.
	KindUnrecognized Kind = iota

	// KindNavigate asks to leave the current screen for Target.
	KindNavigate

	// KindSelectChoice carries a chosen label or captured free text in Value.
	KindSelectChoice

	// KindConfirm answers a yes/no question; Yes holds the answer.
	KindConfirm

	// KindCancel abandons the current flow.
	KindCancel

	// KindRepeatPrompt asks for the current prompt again.
	KindRepeatPrompt
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindUnrecognized:
		return "Unrecognized"
	case KindNavigate:
		return "Navigate"
	case KindSelectChoice:
		return "SelectChoice"
	case KindConfirm:
		return "Confirm"
	case KindCancel:
		return "Cancel"
	case KindRepeatPrompt:
		return "RepeatPrompt"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Intent is the classified meaning of one utterance.
type Intent struct {
	Kind Kind

	// Target is the navigation destination for KindNavigate.
	Target string

	// Value is the selected label or extracted text for KindSelectChoice.
	Value string

	// Yes is the answer for KindConfirm.
	Yes bool
}

// String formats the intent as Kind(argument).
func (i Intent) String() string {
	switch i.Kind {
	case KindNavigate:
		return fmt.Sprintf("Navigate(%q)", i.Target)
	case KindSelectChoice:
		return fmt.Sprintf("SelectChoice(%q)", i.Value)
	case KindConfirm:
		return fmt.Sprintf("Confirm(%t)", i.Yes)
	default:
		return i.Kind.String()
	}
}

// Navigate returns a navigation intent.
func Navigate(target string) Intent { return Intent{Kind: KindNavigate, Target: target} }

// SelectChoice returns a selection intent.
func SelectChoice(value string) Intent { return Intent{Kind: KindSelectChoice, Value: value} }

// Confirm returns a yes/no intent.
func Confirm(yes bool) Intent { return Intent{Kind: KindConfirm, Yes: yes} }

// Cancel returns the cancellation intent.
func Cancel() Intent { return Intent{Kind: KindCancel} }

// RepeatPrompt returns the repeat intent.
func RepeatPrompt() Intent { return Intent{Kind: KindRepeatPrompt} }

// Unrecognized returns the no-match intent.
func Unrecognized() Intent { return Intent{Kind: KindUnrecognized} }

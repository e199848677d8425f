package intent

// Label is one entry of a step vocabulary. The label matches when its Phrase
// or any of its Aliases matches the transcript.
type Label struct {
	// Phrase is the canonical wording, e.g. "Vice President".
	Phrase string

	// Aliases are alternative wordings that produce the same Intent.
	Aliases []string

	// Intent is returned when the label wins. The zero value means
	// SelectChoice(Phrase).
	Intent Intent
}

// result returns the intent the label stands for.
func (l Label) result() Intent {
	if l.Intent.Kind == KindUnrecognized {
		return SelectChoice(l.Phrase)
	}
	return l.Intent
}

// phrases returns Phrase followed by Aliases.
func (l Label) phrases() []string {
	out := make([]string, 0, 1+len(l.Aliases))
	out = append(out, l.Phrase)
	return append(out, l.Aliases...)
}

// Vocabulary is the set of labels a step understands.
type Vocabulary struct {
	// Labels are matched in declaration order; declaration order breaks ties
	// between equally long matches.
	Labels []Label

	// FreeText makes an utterance that matches no label a SelectChoice
	// carrying the transcript itself. The global repeat keywords are not
	// honoured on free-text steps so that "repeat" can be dictated.
	FreeText bool

	// Extract, if set, transforms free text before it is returned. When it
	// reports false the utterance is Unrecognized.
	Extract func(string) (string, bool)
}

// Phrases returns the canonical phrase of every label, in order.
func (v Vocabulary) Phrases() []string {
	out := make([]string, 0, len(v.Labels))
	for _, l := range v.Labels {
		out = append(out, l.Phrase)
	}
	return out
}

// Negated affirmatives are listed as no phrases so they outrank the shorter
// yes word they contain.
var (
	yesWords = []string{"yes", "yeah", "yep", "yup", "correct", "confirm", "right"}
	noWords  = []string{
		"no", "nope", "nah", "wrong", "incorrect", "change",
		"not correct", "not right", "not sure", "not really", "yeah no", "don't",
	}
)

// Confirmation returns the yes/no vocabulary. extraYes adds step-specific
// affirmatives such as "submit".
func Confirmation(extraYes ...string) Vocabulary {
	yes := append(append([]string{}, yesWords[1:]...), extraYes...)
	return Vocabulary{Labels: []Label{
		{Phrase: yesWords[0], Aliases: yes, Intent: Confirm(true)},
		{Phrase: noWords[0], Aliases: noWords[1:], Intent: Confirm(false)},
	}}
}

// Choices returns a vocabulary of plain selection labels.
func Choices(values ...string) Vocabulary {
	labels := make([]Label, 0, len(values))
	for _, v := range values {
		labels = append(labels, Label{Phrase: v})
	}
	return Vocabulary{Labels: labels}
}

// Command returns a label navigating to target when any of phrases is heard.
func Command(target string, phrases ...string) Label {
	if len(phrases) == 0 {
		return Label{Phrase: target, Intent: Navigate(target)}
	}
	return Label{Phrase: phrases[0], Aliases: phrases[1:], Intent: Navigate(target)}
}

// Keyword returns a label selecting value when any of phrases is heard.
func Keyword(value string, phrases ...string) Label {
	if len(phrases) == 0 {
		return Label{Phrase: value}
	}
	return Label{Phrase: phrases[0], Aliases: phrases[1:], Intent: SelectChoice(value)}
}

// FreeText returns an open vocabulary with an optional extractor.
func FreeText(extract func(string) (string, bool)) Vocabulary {
	return Vocabulary{FreeText: true, Extract: extract}
}

// Merge concatenates vocabularies. The result is free text if any input is,
// and uses the first non-nil extractor.
func Merge(vocabs ...Vocabulary) Vocabulary {
	var out Vocabulary
	for _, v := range vocabs {
		out.Labels = append(out.Labels, v.Labels...)
		out.FreeText = out.FreeText || v.FreeText
		if out.Extract == nil {
			out.Extract = v.Extract
		}
	}
	return out
}

package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// shortPhraseLen is the longest phrase that must match a whole word. Short
// phrases like "no" would otherwise fire inside ordinary words.
const shortPhraseLen = 3

// significantLen is the minimum length a phrase word needs to count towards
// the all-significant-words rule.
const significantLen = 4

var (
	cancelWords = []string{"cancel", "exit", "stop"}
	repeatWords = []string{"repeat", "replay", "instruction", "say that again", "say again"}
)

// Classify maps transcript to exactly one Intent given the active vocabulary.
//
// Matching is case-insensitive and ignores punctuation. A label matches when
// the transcript contains one of its phrases, or when a phrase has at least
// two significant words (four letters or more) and all of them appear in the
// transcript. A contained phrase outranks a word match. Within the same kind
// the longest matched phrase wins; equal lengths go to the label declared
// first.
func Classify(transcript string, v Vocabulary) Intent {
	text := fold(transcript)
	if text == "" {
		return Unrecognized()
	}
	for _, w := range cancelWords {
		if contains(text, w) {
			return Cancel()
		}
	}
	if !v.FreeText {
		for _, w := range repeatWords {
			if contains(text, w) {
				return RepeatPrompt()
			}
		}
	}
	if l, _, ok := bestMatch(text, v.Labels); ok {
		return l.result()
	}
	if !v.FreeText {
		return Unrecognized()
	}
	value := strings.TrimSpace(transcript)
	if v.Extract != nil {
		var ok bool
		if value, ok = v.Extract(value); !ok {
			return Unrecognized()
		}
	}
	return SelectChoice(value)
}

// Match reports the winning label for transcript without applying the
// global keywords.
func Match(transcript string, labels []Label) (Label, bool) {
	l, _, ok := bestMatch(fold(transcript), labels)
	return l, ok
}

// match kinds, ordered by strength.
const (
	noMatch = iota
	wordsMatch
	phraseMatch
)

func bestMatch(text string, labels []Label) (Label, int, bool) {
	var (
		best     Label
		bestKind = noMatch
		bestLen  = -1
	)
	for _, l := range labels {
		for _, p := range l.phrases() {
			fp := fold(p)
			if fp == "" {
				continue
			}
			kind := matchKind(text, fp)
			if kind == noMatch {
				continue
			}
			n := utf8.RuneCountInString(fp)
			if kind > bestKind || (kind == bestKind && n > bestLen) {
				best, bestKind, bestLen = l, kind, n
			}
		}
	}
	return best, bestLen, bestKind != noMatch
}

// matchKind applies the containment and significant-word rules to folded
// strings.
func matchKind(text, phrase string) int {
	if contains(text, phrase) {
		return phraseMatch
	}
	significant := 0
	for _, w := range strings.Fields(phrase) {
		if utf8.RuneCountInString(w) < significantLen {
			continue
		}
		if !strings.Contains(text, w) {
			return noMatch
		}
		significant++
	}
	if significant < 2 {
		return noMatch
	}
	return wordsMatch
}

// contains reports whether phrase occurs in text. Short phrases must occupy
// whole words.
func contains(text, phrase string) bool {
	if utf8.RuneCountInString(phrase) > shortPhraseLen {
		return strings.Contains(text, phrase)
	}
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		i = start + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// fold lower-cases s, turns punctuation into spaces and collapses runs of
// white space.
func fold(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if isWordRune(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// SuggestOption configures a [Suggester].
type SuggestOption func(*Suggester)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phrase that
// also shares a Double Metaphone code with the transcript. Default: 0.70.
func WithPhoneticThreshold(threshold float64) SuggestOption {
	return func(s *Suggester) { s.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a phrase with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) SuggestOption {
	return func(s *Suggester) { s.fuzzyThreshold = threshold }
}

// Suggester finds the vocabulary phrase that sounds most like an
// unrecognised transcript, so the re-prompt can ask "Did you mean X?".
// It never changes what [Classify] returns. Safe for concurrent use.
type Suggester struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewSuggester returns a Suggester with the default thresholds.
func NewSuggester(opts ...SuggestOption) *Suggester {
	s := &Suggester{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Suggest returns the phrase closest to transcript. Phonetic candidates (a
// shared Double Metaphone code) beat purely fuzzy ones.
func (s *Suggester) Suggest(transcript string, phrases []string) (string, float64, bool) {
	text := fold(transcript)
	if text == "" || len(phrases) == 0 {
		return "", 0, false
	}
	tokens := strings.Fields(text)
	codes := metaphoneCodes(tokens)

	var (
		best      string
		bestScore float64
		phonetic  bool
	)
	for _, p := range phrases {
		fp := fold(p)
		if fp == "" {
			continue
		}
		pTokens := strings.Fields(fp)
		score := similarity(tokens, pTokens, text, fp)
		if overlaps(codes, metaphoneCodes(pTokens)) {
			if score >= s.phoneticThreshold && (!phonetic || score > bestScore) {
				best, bestScore, phonetic = p, score, true
			}
			continue
		}
		if !phonetic && score >= s.fuzzyThreshold && score > bestScore {
			best, bestScore = p, score
		}
	}
	return best, bestScore, best != ""
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}

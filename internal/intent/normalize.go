package intent

import (
	"regexp"
	"strings"
)

var digitRun = regexp.MustCompile(`\d+`)

// FirstNumber returns the first run of digits in s.
func FirstNumber(s string) (string, bool) {
	m := digitRun.FindString(s)
	return m, m != ""
}

// NormalizeEmail turns a dictated address into its written form. Spaces are
// removed, the spoken word "at" becomes "@" and "dot" becomes "." in the
// domain. Spoken "dot" separators in the local part are dropped, so
// "john dot doe at example dot com" yields "johndoe@example.com".
func NormalizeEmail(s string) string {
	var (
		b      strings.Builder
		domain bool
	)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		switch tok {
		case "at":
			if !domain {
				b.WriteByte('@')
				domain = true
				continue
			}
		case "dot":
			if domain {
				b.WriteByte('.')
			}
			continue
		case "underscore":
			b.WriteByte('_')
			continue
		case "dash", "hyphen":
			b.WriteByte('-')
			continue
		}
		if strings.Contains(tok, "@") {
			domain = true
		}
		b.WriteString(tok)
	}
	return b.String()
}

// EmailValue is NormalizeEmail shaped as a [Vocabulary] extractor. It rejects
// results without exactly one "@".
func EmailValue(s string) (string, bool) {
	e := NormalizeEmail(s)
	if strings.Count(e, "@") != 1 || strings.HasPrefix(e, "@") || strings.HasSuffix(e, "@") {
		return "", false
	}
	return e, true
}

// NormalizeCode strips white space and upper-cases s, for admission and
// registration numbers.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// CodeValue is NormalizeCode shaped as a [Vocabulary] extractor.
func CodeValue(s string) (string, bool) {
	c := NormalizeCode(s)
	return c, c != ""
}

package turn

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.88
)

// NameMatcher spots the bot's name in recognised speech. Transcription
// routinely misspells unusual names ("Huddle" comes back as "Hurdle" or
// "Huddel"), so a token counts as a mention when its Double Metaphone code
// overlaps a name's code and the Jaro-Winkler similarity clears the
// phonetic threshold, or, without a phonetic overlap, when the similarity
// clears the stricter fuzzy threshold.
//
// NameMatcher is read-only after construction and safe for concurrent use.
type NameMatcher struct {
	names             [][]string
	codes             []map[string]struct{}
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewNameMatcher returns a matcher for the given names and aliases. Blank
// names are ignored.
func NewNameMatcher(names ...string) *NameMatcher {
	m := &NameMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, n := range names {
		toks := tokens(n)
		if len(toks) == 0 {
			continue
		}
		m.names = append(m.names, toks)
		m.codes = append(m.codes, codesFor(toks))
	}
	return m
}

// Mentioned reports whether text contains one of the names.
func (m *NameMatcher) Mentioned(text string) bool {
	if m == nil || len(m.names) == 0 {
		return false
	}
	words := tokens(text)
	for i, name := range m.names {
		// Slide a window as wide as the name so multi-word names match
		// "hey dj bot" as well as "djbot".
		for start := 0; start+len(name) <= len(words); start++ {
			window := words[start : start+len(name)]
			if m.matches(window, name, m.codes[i]) {
				return true
			}
		}
	}
	return false
}

func (m *NameMatcher) matches(window, name []string, nameCodes map[string]struct{}) bool {
	joinedWindow := strings.Join(window, "")
	joinedName := strings.Join(name, "")
	if joinedWindow == joinedName {
		return true
	}
	score := matchr.JaroWinkler(joinedWindow, joinedName, false)
	if overlaps(codesFor(window), nameCodes) {
		return score >= m.phoneticThreshold
	}
	return score >= m.fuzzyThreshold
}

// tokens lower-cases s and splits it into letter/digit runs.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// codesFor returns the union of the Double Metaphone codes of toks. Words
// without consonants produce no code.
func codesFor(toks []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(toks)*2)
	for _, t := range toks {
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
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

package synth

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxRunes is the default ceiling on the length of spoken text.
const DefaultMaxRunes = 1000

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?(```|$)")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	htmlTagRe    = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)
	mdLinkRe     = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	urlRe        = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	shortcodeRe  = regexp.MustCompile(`:[a-z][a-z0-9_+\-]+:`)
	headingRe    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	quoteRe      = regexp.MustCompile(`(?m)^\s*>\s?`)
	emphasisRe   = regexp.MustCompile(`(\*{1,3}|_{1,3}|~~)([^*_~\n]+?)(\*{1,3}|_{1,3}|~~)`)
	spaceRe      = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n{2,}`)
)

// Sanitize strips what a speech engine would read aloud literally: code,
// markup, links, emoji shortcodes and control characters. The result is
// trimmed and has collapsed whitespace.
func Sanitize(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = codeFenceRe.ReplaceAllString(s, " ")
	s = inlineCodeRe.ReplaceAllString(s, "$1")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = urlRe.ReplaceAllString(s, " ")
	s = shortcodeRe.ReplaceAllString(s, " ")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	for range 2 {
		s = emphasisRe.ReplaceAllString(s, "$2")
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t':
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		case unicode.In(r, unicode.Cf):
			return -1
		}
		return r
	}, s)
	s = strings.NewReplacer("*", "", "~~", "", "#", "").Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = blankLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n")
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most max runes, cutting at the last word
// boundary when one exists in the second half of the allowed length.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	all := []rune(s)
	runes := all[:max]
	cut := max
	if !unicode.IsSpace(all[max]) {
		for i := max - 1; i >= max/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) && r != '.' && r != '!' && r != '?'
	})
}

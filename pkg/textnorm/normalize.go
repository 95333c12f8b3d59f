// Package textnorm produces the canonical text form used by the profanity
// scanner. Normalization neutralizes the common obfuscation tricks seen in
// transcripts and user text — confusable substitutions, character stretching,
// separator padding — while leaving Devanagari and Arabic-script content
// intact so that Hindi and Urdu wordlist entries still match.
//
// Normalize is a total, idempotent function: Normalize(Normalize(x)) ==
// Normalize(x) for every input.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// confusables maps common obfuscation characters to the letters they imitate.
// Applied after lowercasing and mark stripping.
var confusables = map[rune]rune{
	'@': 'a',
	'$': 's',
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
	'!': 'i',
}

// protectedScript reports whether r belongs to a script range the normalizer
// must not touch. Devanagari and Arabic entries in the wordlist are matched
// on their native codepoints; stripping marks or punctuation-folding inside
// these ranges would break them.
func protectedScript(r rune) bool {
	return unicode.Is(unicode.Devanagari, r) || unicode.Is(unicode.Arabic, r)
}

// Normalize canonicalizes text for profanity matching. The pipeline, in order:
//
//  1. Unicode-aware lowercasing.
//  2. NFKD decomposition, dropping combining marks outside protected scripts.
//  3. Confusable substitution (@→a, $→s, 0→o, …).
//  4. Collapsing runs of the same rune longer than 2 down to exactly 2.
//  5. Replacing non-alphanumeric runes outside protected scripts with spaces,
//     then collapsing whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	// Lowercase after decomposition as well: a handful of compatibility
	// decompositions (roman numerals, squared abbreviations) expand to
	// uppercase ASCII, and idempotence requires the output to be fully lowered.
	decomposed := strings.ToLower(norm.NFKD.String(strings.ToLower(text)))

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) && !protectedScript(r) {
			continue
		}
		if sub, ok := confusables[r]; ok {
			r = sub
		}
		b.WriteRune(r)
	}

	collapsed := collapseRuns(b.String(), 2)
	return foldSeparators(collapsed)
}

// collapseRuns shortens any run of identical runes longer than max to exactly
// max (fuuuck → fuuck with max 2).
func collapseRuns(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune = -1
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run > max {
				continue
			}
		} else {
			prev = r
			run = 1
		}
		b.WriteRune(r)
	}
	return b.String()
}

// foldSeparators replaces every rune that is neither alphanumeric nor part of
// a protected script with a single space, then collapses whitespace runs and
// trims the edges.
func foldSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || protectedScript(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Package detect implements the abuse detection engine: a multilingual regex
// scanner built from the wordlist, two ML classifier backends behind a single
// interface, and the hybrid detector that combines them under a configurable
// ensemble policy.
package detect

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/KushagraSharma924/censorly/pkg/textnorm"
	"github.com/KushagraSharma924/censorly/pkg/wordlist"
)

// Match is a single scanner hit. Offsets are byte positions into the
// normalized form of the queried text.
type Match struct {
	Surface  string
	Language string
	Start    int
	End      int
	Severity int
}

// leetClasses lists, per base letter, the substitutions applied when
// generating pattern variations. At most one class is substituted per variant
// to keep the variation set bounded.
var leetClasses = map[rune][]rune{
	'a': {'@', '4'},
	'b': {'8'},
	'e': {'3'},
	'i': {'1', '!'},
	'o': {'0'},
	's': {'$', '5'},
	't': {'7'},
}

// separators are inserted between the letters of an entry to catch padded
// spellings such as f_u_c_k or f.u.c.k.
var separators = []string{" ", "_", "-", "."}

// langPattern is the compiled alternation for one language tag, plus the
// severity lookup for its variants.
type langPattern struct {
	tag      string
	re       *regexp.Regexp
	severity map[string]int

	// phoneticEntries maps Double Metaphone primary codes of the language's
	// entries back to their surface and severity. Populated for ASCII-script
	// entries only, and only when the phonetic pass is enabled.
	phoneticEntries map[string]phoneticEntry
}

type phoneticEntry struct {
	surface  string
	severity int
}

// Scanner matches profane surface forms per language. It is immutable after
// construction and safe for concurrent use; wordlist mutations build a fresh
// Scanner which callers swap in atomically.
type Scanner struct {
	langs    []*langPattern
	phonetic bool
	warnings []string
}

// ScannerOption configures a [Scanner].
type ScannerOption func(*Scanner)

// WithPhonetic enables a secondary near-match pass using Double Metaphone
// codes with Jaro-Winkler ranking, catching ASR misspellings of ASCII-script
// entries. Off by default.
func WithPhonetic() ScannerOption {
	return func(s *Scanner) { s.phonetic = true }
}

// NewScanner compiles one alternation per language tag from doc. A language
// whose pattern fails to compile is skipped with a recorded warning; the
// scanner stays usable with the remaining languages.
func NewScanner(doc *wordlist.Document, opts ...ScannerOption) *Scanner {
	s := &Scanner{}
	for _, o := range opts {
		o(s)
	}

	for _, tag := range doc.LanguageTags() {
		lp, err := compileLanguage(tag, doc.Languages[tag], s.phonetic)
		if err != nil {
			warning := fmt.Sprintf("language %q: %v", tag, err)
			s.warnings = append(s.warnings, warning)
			slog.Warn("scanner: pattern compile failed, language skipped", "language", tag, "err", err)
			continue
		}
		if lp != nil {
			s.langs = append(s.langs, lp)
		}
	}
	return s
}

// Languages returns the tags the scanner actively matches, in sorted order.
func (s *Scanner) Languages() []string {
	tags := make([]string, 0, len(s.langs))
	for _, lp := range s.langs {
		tags = append(tags, lp.tag)
	}
	return tags
}

// Warnings returns the compile warnings recorded at build time.
func (s *Scanner) Warnings() []string { return s.warnings }

// Contains reports whether the normalized form of text matches any language
// pattern. Short-circuits on the first hit.
func (s *Scanner) Contains(text string) bool {
	n := textnorm.Normalize(text)
	if n == "" {
		return false
	}
	for _, lp := range s.langs {
		if lp.re.MatchString(n) {
			return true
		}
	}
	return false
}

// FindAll normalizes text and returns all non-overlapping matches across
// languages. Overlaps are resolved longest-earliest: candidates are ordered
// by start position, longer match first, and later overlapping candidates
// are dropped.
func (s *Scanner) FindAll(text string) []Match {
	n := textnorm.Normalize(text)
	if n == "" {
		return nil
	}

	var candidates []Match
	for _, lp := range s.langs {
		for _, loc := range lp.re.FindAllStringIndex(n, -1) {
			surface := n[loc[0]:loc[1]]
			candidates = append(candidates, Match{
				Surface:  surface,
				Language: lp.tag,
				Start:    loc[0],
				End:      loc[1],
				Severity: lp.severityFor(surface),
			})
		}
		if s.phonetic {
			candidates = append(candidates, lp.phoneticMatches(n)...)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	out := candidates[:0]
	lastEnd := -1
	for _, m := range candidates {
		if m.Start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.End
	}
	return out
}

// MaxSeverity returns the highest severity among matches, or 0 for none.
func MaxSeverity(matches []Match) int {
	max := 0
	for _, m := range matches {
		if m.Severity > max {
			max = m.Severity
		}
	}
	return max
}

// ─── Compilation ─────────────────────────────────────────────────────────────

func compileLanguage(tag string, entries []wordlist.Entry, phonetic bool) (*langPattern, error) {
	lp := &langPattern{
		tag:      tag,
		severity: make(map[string]int),
	}
	if phonetic {
		lp.phoneticEntries = make(map[string]phoneticEntry)
	}

	seen := make(map[string]struct{})
	var variants []string
	for _, e := range entries {
		for _, v := range variationsFor(e.Surface) {
			key := strings.ToLower(v)
			if sev, ok := lp.severity[key]; !ok || e.Severity > sev {
				lp.severity[key] = e.Severity
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			variants = append(variants, v)
		}

		if phonetic && isASCIILetters(e.Surface) && len(e.Surface) >= 4 {
			primary, _ := matchr.DoubleMetaphone(strings.ToLower(e.Surface))
			if primary != "" {
				if prev, ok := lp.phoneticEntries[primary]; !ok || e.Severity > prev.severity {
					lp.phoneticEntries[primary] = phoneticEntry{surface: strings.ToLower(e.Surface), severity: e.Severity}
				}
			}
		}
	}
	if len(variants) == 0 {
		return nil, nil
	}

	// Longest surface first, so the alternation prefers the longest form at
	// any given position.
	sort.Slice(variants, func(i, j int) bool {
		if len(variants[i]) != len(variants[j]) {
			return len(variants[i]) > len(variants[j])
		}
		return variants[i] < variants[j]
	})

	parts := make([]string, len(variants))
	for i, v := range variants {
		quoted := regexp.QuoteMeta(v)
		if boundaryASCII(v) {
			quoted = `\b` + quoted + `\b`
		}
		parts[i] = quoted
	}

	re, err := regexp.Compile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile alternation: %w", err)
	}
	lp.re = re
	return lp, nil
}

// variationsFor expands one surface form into the bounded variation set: the
// raw lowered form, the normalized form, the space-stripped form, separator
// padded forms, and single-class leetspeak substitutions.
func variationsFor(surface string) []string {
	raw := strings.ToLower(strings.TrimSpace(surface))
	if raw == "" {
		return nil
	}

	set := map[string]struct{}{raw: {}}
	if n := textnorm.Normalize(surface); n != "" {
		set[n] = struct{}{}
	}

	stripped := strings.ReplaceAll(raw, " ", "")
	set[stripped] = struct{}{}

	// Separator padding only makes sense for short single words; beyond a
	// dozen runes the padded spellings do not occur in practice and would
	// bloat the alternation.
	runes := []rune(stripped)
	if len(runes) >= 3 && len(runes) <= 12 && isASCIILetters(stripped) {
		letters := make([]string, len(runes))
		for i, r := range runes {
			letters[i] = string(r)
		}
		for _, sep := range separators {
			set[strings.Join(letters, sep)] = struct{}{}
		}
	}

	// Leetspeak: substitute all occurrences of one character class at a time.
	for base, subs := range leetClasses {
		if !strings.ContainsRune(stripped, base) {
			continue
		}
		for _, sub := range subs {
			set[strings.ReplaceAll(stripped, string(base), string(sub))] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// boundaryASCII reports whether v should get \b anchors: word boundaries are
// only meaningful when the variant starts and ends with ASCII letters. Other
// scripts match unbounded.
func boundaryASCII(v string) bool {
	if v == "" {
		return false
	}
	first := v[0]
	last := v[len(v)-1]
	return isASCIILetter(first) && isASCIILetter(last)
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isASCIILetters(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isASCIILetter(s[i]) {
			return false
		}
	}
	return true
}

// severityFor looks up the severity recorded for the matched surface,
// falling back to the wordlist default when the match came through a
// case-folded or boundary-trimmed path the table does not cover.
func (lp *langPattern) severityFor(surface string) int {
	if sev, ok := lp.severity[strings.ToLower(surface)]; ok {
		return sev
	}
	return wordlist.DefaultSeverity
}

// phoneticMatches runs the optional near-match pass over the words of the
// normalized text. A word matches an entry when their Double Metaphone
// primary codes are equal and Jaro-Winkler similarity is at least 0.8.
func (lp *langPattern) phoneticMatches(normalized string) []Match {
	if len(lp.phoneticEntries) == 0 {
		return nil
	}

	const similarityThreshold = 0.8

	var out []Match
	offset := 0
	for offset < len(normalized) {
		rest := normalized[offset:]
		start := strings.IndexFunc(rest, func(r rune) bool { return r != ' ' })
		if start < 0 {
			break
		}
		start += offset
		end := strings.IndexByte(normalized[start:], ' ')
		if end < 0 {
			end = len(normalized)
		} else {
			end += start
		}
		word := normalized[start:end]
		offset = end

		if len(word) >= 4 && isASCIILetters(word) {
			primary, _ := matchr.DoubleMetaphone(word)
			if entry, ok := lp.phoneticEntries[primary]; ok && primary != "" {
				if matchr.JaroWinkler(word, entry.surface, false) >= similarityThreshold {
					out = append(out, Match{
						Surface:  word,
						Language: lp.tag,
						Start:    start,
						End:      end,
						Severity: entry.severity,
					})
				}
			}
		}
	}
	return out
}

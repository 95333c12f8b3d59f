// Package wordlist loads and persists the language-partitioned profanity
// wordlist document that drives the regex scanner.
//
// The document is a single YAML file. The canonical layout carries a version
// number and groups entries under a languages key:
//
//	version: 3
//	languages:
//	  english:
//	    - "fuck"
//	    - { surface: "motherfucker", severity: 9 }
//	  hindi:
//	    - { surface: "chutiya", meaning: "idiot", severity: 7 }
//
// A bare top-level mapping of language tag → entry list (no version key) is
// also accepted for hand-maintained lists. Each entry is either a scalar
// surface string or a mapping with surface, optional meaning, and optional
// severity (0–10, default 5).
package wordlist

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultSeverity is assigned to entries that do not declare one.
const DefaultSeverity = 5

// Entry is a single profane surface form within one language.
type Entry struct {
	// Surface is the literal form as it appears in text.
	Surface string `yaml:"surface"`

	// Meaning is an optional gloss for reviewers. Not used for matching.
	Meaning string `yaml:"meaning,omitempty"`

	// Severity grades offensiveness from 0 (mild) to 10 (worst).
	Severity int `yaml:"severity"`
}

// UnmarshalYAML accepts either a bare scalar ("fuck") or the full mapping form.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Surface = node.Value
		e.Severity = DefaultSeverity
		return nil
	}

	type plain Entry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Entry(p)
	if e.Severity == 0 {
		e.Severity = DefaultSeverity
	}
	return nil
}

// Validate reports whether the entry is usable.
func (e Entry) Validate() error {
	if e.Surface == "" {
		return fmt.Errorf("wordlist: entry has empty surface")
	}
	if e.Severity < 0 || e.Severity > 10 {
		return fmt.Errorf("wordlist: entry %q severity %d out of range [0, 10]", e.Surface, e.Severity)
	}
	return nil
}

// Document is the parsed wordlist: entries grouped by language tag.
type Document struct {
	Version   int
	Languages map[string][]Entry
}

// versionedDoc is the canonical on-disk layout.
type versionedDoc struct {
	Version   int                `yaml:"version"`
	Languages map[string][]Entry `yaml:"languages"`
}

// Load reads and parses the wordlist document at path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wordlist: open %q: %w", path, err)
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("wordlist: parse %q: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a wordlist document from r, accepting both the versioned and
// the bare-mapping layouts.
func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	// Try the canonical versioned layout first.
	var vd versionedDoc
	if err := yaml.Unmarshal(data, &vd); err == nil && vd.Languages != nil {
		return newDocument(vd.Version, vd.Languages)
	}

	// Fall back to the bare mapping of language tag → entries.
	var bare map[string][]Entry
	if err := yaml.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return newDocument(0, bare)
}

func newDocument(version int, langs map[string][]Entry) (*Document, error) {
	doc := &Document{Version: version, Languages: make(map[string][]Entry, len(langs))}
	for lang, entries := range langs {
		if lang == "" {
			return nil, fmt.Errorf("empty language tag")
		}
		for _, e := range entries {
			if err := e.Validate(); err != nil {
				return nil, fmt.Errorf("language %q: %w", lang, err)
			}
		}
		doc.Languages[lang] = entries
	}
	return doc, nil
}

// LanguageTags returns the document's language tags in sorted order.
func (d *Document) LanguageTags() []string {
	tags := make([]string, 0, len(d.Languages))
	for lang := range d.Languages {
		tags = append(tags, lang)
	}
	sort.Strings(tags)
	return tags
}

// EntryCount returns the total number of entries across all languages.
func (d *Document) EntryCount() int {
	n := 0
	for _, entries := range d.Languages {
		n += len(entries)
	}
	return n
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{Version: d.Version, Languages: make(map[string][]Entry, len(d.Languages))}
	for lang, entries := range d.Languages {
		cp := make([]Entry, len(entries))
		copy(cp, entries)
		out.Languages[lang] = cp
	}
	return out
}

// Save writes the document to path in the canonical versioned layout. The
// write is atomic: content goes to a temp file in the same directory which is
// renamed over the destination on success.
func (d *Document) Save(path string) error {
	data, err := yaml.Marshal(versionedDoc{Version: d.Version, Languages: d.Languages})
	if err != nil {
		return fmt.Errorf("wordlist: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wordlist-*.yaml")
	if err != nil {
		return fmt.Errorf("wordlist: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("wordlist: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("wordlist: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("wordlist: rename: %w", err)
	}
	return nil
}

package wordlist_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KushagraSharma924/censorly/pkg/wordlist"
)

const versionedDoc = `
version: 2
languages:
  english:
    - "fuck"
    - surface: motherfucker
      severity: 9
  hindi:
    - surface: chutiya
      meaning: idiot
      severity: 7
`

const bareDoc = `
english:
  - "damn"
hinglish:
  - surface: bsdk
    severity: 8
`

func TestParse_VersionedLayout(t *testing.T) {
	doc, err := wordlist.Parse(strings.NewReader(versionedDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Version != 2 {
		t.Errorf("version = %d, want 2", doc.Version)
	}
	if got := doc.EntryCount(); got != 3 {
		t.Errorf("entry count = %d, want 3", got)
	}

	english := doc.Languages["english"]
	if len(english) != 2 {
		t.Fatalf("english entries = %d, want 2", len(english))
	}
	if english[0].Surface != "fuck" || english[0].Severity != wordlist.DefaultSeverity {
		t.Errorf("scalar entry = %+v, want surface fuck severity %d", english[0], wordlist.DefaultSeverity)
	}
	if english[1].Severity != 9 {
		t.Errorf("mapping entry severity = %d, want 9", english[1].Severity)
	}
	if doc.Languages["hindi"][0].Meaning != "idiot" {
		t.Errorf("meaning not preserved: %+v", doc.Languages["hindi"][0])
	}
}

func TestParse_BareLayout(t *testing.T) {
	doc, err := wordlist.Parse(strings.NewReader(bareDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Version != 0 {
		t.Errorf("bare layout version = %d, want 0", doc.Version)
	}
	if len(doc.Languages["english"]) != 1 || len(doc.Languages["hinglish"]) != 1 {
		t.Errorf("languages not parsed: %v", doc.LanguageTags())
	}
}

func TestParse_RejectsBadSeverity(t *testing.T) {
	_, err := wordlist.Parse(strings.NewReader("english:\n  - {surface: x, severity: 11}\n"))
	if err == nil {
		t.Fatal("expected error for severity 11")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	doc, err := wordlist.Parse(strings.NewReader(versionedDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	path := filepath.Join(t.TempDir(), "words.yaml")
	if err := doc.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := wordlist.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Version != doc.Version || loaded.EntryCount() != doc.EntryCount() {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, doc)
	}
}

func TestStore_AddPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.yaml")
	if err := os.WriteFile(path, []byte(versionedDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := wordlist.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var notified *wordlist.Document
	store.Subscribe(func(d *wordlist.Document) { notified = d })

	if err := store.Add("english", wordlist.Entry{Surface: "bastard", Severity: 6}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if notified == nil {
		t.Fatal("subscriber was not notified")
	}
	if len(notified.Languages["english"]) != 3 {
		t.Errorf("english entries after add = %d, want 3", len(notified.Languages["english"]))
	}
	if notified.Version != 3 {
		t.Errorf("version after add = %d, want 3", notified.Version)
	}

	// The mutation must have been persisted.
	reloaded, err := wordlist.Load(path)
	if err != nil {
		t.Fatalf("Load after Add: %v", err)
	}
	if len(reloaded.Languages["english"]) != 3 {
		t.Errorf("persisted english entries = %d, want 3", len(reloaded.Languages["english"]))
	}
}

func TestStore_ReloadFailureKeepsOldDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.yaml")
	if err := os.WriteFile(path, []byte(versionedDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := wordlist.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	before := store.Document()

	if err := os.WriteFile(path, []byte("languages: {english: [{severity: 99, surface: x}]}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal("expected reload error for invalid document")
	}
	if store.Document() != before {
		t.Error("document was swapped despite reload failure")
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc, err := wordlist.Parse(strings.NewReader(versionedDoc))
	if err != nil {
		t.Fatal(err)
	}
	clone := doc.Clone()
	clone.Languages["english"][0].Surface = "changed"
	if doc.Languages["english"][0].Surface == "changed" {
		t.Error("clone shares entry storage with original")
	}
}

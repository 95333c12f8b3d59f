package wordlist

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Store owns the live wordlist document and notifies subscribers when it
// changes. Readers get an immutable snapshot via [Store.Document]; mutation
// goes through [Store.Add] (admin augmentation) or [Store.Reload], both of
// which rebuild downstream state through the subscriber callbacks and then
// atomically swap the document reference. Readers holding the old snapshot
// keep using it until they re-fetch.
type Store struct {
	path string

	mu   sync.RWMutex
	doc  *Document
	subs []func(*Document)

	// last known file state, for the polling watcher.
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	watchDone chan struct{}
	watchOnce sync.Once
}

// NewStore loads the wordlist document at path. A load failure here is meant
// to be fatal to the caller: a censoring service without its wordlist cannot
// do useful work.
func NewStore(path string) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:      path,
		doc:       doc,
		watchDone: make(chan struct{}),
	}
	s.lastHash, s.lastMtime = fileState(path)
	return s, nil
}

// Document returns the current immutable document snapshot. Callers must not
// mutate the returned value.
func (s *Store) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Subscribe registers fn to be called with the new document after every
// successful swap. fn runs while the store lock is held; keep it short and
// never call back into the store from it.
func (s *Store) Subscribe(fn func(*Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Add appends an entry to the given language, persists the document, and
// swaps the new version in. The on-disk version number is bumped by one.
// Intended for the admin augmentation hook only; the pipeline never writes.
func (s *Store) Add(lang string, entry Entry) error {
	if entry.Severity == 0 {
		entry.Severity = DefaultSeverity
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if lang == "" {
		return fmt.Errorf("wordlist: empty language tag")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.Clone()
	next.Version++
	next.Languages[lang] = append(next.Languages[lang], entry)

	if err := next.Save(s.path); err != nil {
		return err
	}
	s.lastHash, s.lastMtime = fileState(s.path)
	s.swapLocked(next)
	return nil
}

// Reload re-reads the document from disk and swaps it in. Unlike the initial
// load, a reload failure is non-fatal: the previous document stays active and
// the error is returned for logging.
func (s *Store) Reload() error {
	doc, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHash, s.lastMtime = fileState(s.path)
	s.swapLocked(doc)
	return nil
}

func (s *Store) swapLocked(doc *Document) {
	s.doc = doc
	for _, fn := range s.subs {
		fn(doc)
	}
}

// Watch polls the document file every interval and reloads when its content
// changes. It returns immediately; polling runs in a background goroutine
// until [Store.StopWatch] is called. Polling over fsnotify keeps the
// dependency surface small and survives editors that replace the file.
func (s *Store) Watch(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.watchDone:
				return
			case <-ticker.C:
				s.check()
			}
		}
	}()
}

// StopWatch stops the polling goroutine started by [Store.Watch].
func (s *Store) StopWatch() {
	s.watchOnce.Do(func() { close(s.watchDone) })
}

// check compares mtime first and content hash second, reloading only when
// the file genuinely changed.
func (s *Store) check() {
	info, err := os.Stat(s.path)
	if err != nil {
		slog.Warn("wordlist watcher: cannot stat file", "path", s.path, "err", err)
		return
	}

	s.mu.RLock()
	mtime := s.lastMtime
	hash := s.lastHash
	s.mu.RUnlock()

	if info.ModTime().Equal(mtime) {
		return
	}
	newHash, _ := fileState(s.path)
	if newHash == hash {
		// Touched but unchanged.
		s.mu.Lock()
		s.lastMtime = info.ModTime()
		s.mu.Unlock()
		return
	}

	if err := s.Reload(); err != nil {
		slog.Warn("wordlist watcher: reload failed, keeping previous wordlist",
			"path", s.path, "err", err)
		return
	}
	slog.Info("wordlist reloaded", "path", s.path, "entries", s.Document().EntryCount())
}

func fileState(path string) ([sha256.Size]byte, time.Time) {
	var hash [sha256.Size]byte
	info, err := os.Stat(path)
	if err != nil {
		return hash, time.Time{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return hash, info.ModTime()
	}
	return sha256.Sum256(data), info.ModTime()
}

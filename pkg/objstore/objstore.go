// Package objstore abstracts blob storage for job inputs and censored
// outputs. Keys are slash-separated paths; the filesystem backend maps them
// under a root directory and is the only backend shipped today.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned by Get, Stat and Delete for a missing key.
var ErrNotFound = errors.New("objstore: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the blob storage contract. Implementations must make Put atomic:
// a concurrent Get sees either the previous object or the complete new one,
// never a partial write.
type Store interface {
	// Put streams r into the object at key, replacing any previous object.
	Put(ctx context.Context, key string, r io.Reader) (ObjectInfo, error)

	// Get opens the object at key for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns metadata without opening the object.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}

// validateKey rejects keys that could escape the backend's namespace.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("objstore: empty key")
	}
	if key[0] == '/' {
		return fmt.Errorf("objstore: key %q must be relative", key)
	}
	for _, part := range splitKey(key) {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("objstore: key %q contains invalid path element", key)
		}
	}
	return nil
}

func splitKey(key string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(key); i++ {
		if i == len(key) || key[i] == '/' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	return parts
}

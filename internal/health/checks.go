package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/KushagraSharma924/censorly/internal/registry"
	"github.com/KushagraSharma924/censorly/pkg/objstore"
	"github.com/KushagraSharma924/censorly/pkg/wordlist"
)

// RegistryChecker probes the job store with a cheap read.
func RegistryChecker(reg registry.Registry) Checker {
	return Checker{
		Name: "registry",
		Check: func(ctx context.Context) error {
			_, err := reg.Get(ctx, "00000000-0000-0000-0000-000000000000")
			if err != nil && !errors.Is(err, registry.ErrNotFound) {
				return err
			}
			return nil
		},
	}
}

// ObjectStoreChecker probes the artifact store with a stat on a key that is
// never written; reachable storage answers not-found.
func ObjectStoreChecker(store objstore.Store) Checker {
	return Checker{
		Name: "object_store",
		Check: func(ctx context.Context) error {
			_, err := store.Stat(ctx, "healthz-probe")
			if err != nil && !errors.Is(err, objstore.ErrNotFound) {
				return err
			}
			return nil
		},
	}
}

// WordlistChecker fails when the loaded wordlist has no entries at all, which
// would make every job a silent no-op.
func WordlistChecker(words *wordlist.Store) Checker {
	return Checker{
		Name: "wordlist",
		Check: func(_ context.Context) error {
			doc := words.Document()
			for _, entries := range doc.Languages {
				if len(entries) > 0 {
					return nil
				}
			}
			return fmt.Errorf("wordlist has no entries")
		},
	}
}

package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrSchemaMismatch marks an index file written by an incompatible
// schema. Loading one is fatal at startup (exit 2 in validators).
var ErrSchemaMismatch = errors.New("index: schema version mismatch")

// ErrUnreadable marks an index file that cannot be read or decoded at
// all. Like a schema mismatch, it is fatal at startup.
var ErrUnreadable = errors.New("index: unreadable")

// Load reads and decodes an index file, checking the schema version
// and restoring the campaign IDs from their map keys.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreadable, path, err)
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnreadable, path, err)
	}
	if ix.SchemaVersion != SupportedSchemaVersion {
		return nil, fmt.Errorf("%w: file has %q, supported is %q",
			ErrSchemaMismatch, ix.SchemaVersion, SupportedSchemaVersion)
	}
	for _, coll := range ix.Collections {
		for id, camp := range coll.Campaigns {
			camp.ID = id
		}
	}
	return &ix, nil
}

// Save atomically persists the index: write to a temp file in the same
// directory, fsync, then rename over the target. Readers keep seeing
// the old index until the rename lands.
func Save(ix *Index, path string) error {
	// Stable file order within campaigns keeps rebuilds byte-equal.
	for _, coll := range ix.Collections {
		for _, camp := range coll.Campaigns {
			sort.SliceStable(camp.Files, func(i, j int) bool {
				return camp.Files[i].Key < camp.Files[j].Key
			})
		}
	}

	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("index: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("index: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("index: replacing %s: %w", path, err)
	}
	return nil
}

// Lock guards the index file against concurrent builders using an
// exclusive sidecar file. Unlock removes it.
type Lock struct {
	path string
}

// AcquireLock takes the builder lock for an index path.
func AcquireLock(indexPath string) (*Lock, error) {
	path := indexPath + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("index: %s is locked by another builder (remove %s if stale)", indexPath, path)
		}
		return nil, fmt.Errorf("index: acquiring lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return &Lock{path: path}, nil
}

// Unlock releases the builder lock.
func (l *Lock) Unlock() error {
	return os.Remove(l.path)
}

package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore serves objects from a directory tree. Keys are
// slash-separated paths relative to the root.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (l *LocalStore) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// List walks the tree in sorted order, mirroring S3's lexicographic
// enumeration.
func (l *LocalStore) List(ctx context.Context, opts ListOptions, fn func(ObjectInfo) error) error {
	var keys []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("local: walking %s: %w", l.root, err)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		info, err := l.Stat(ctx, key)
		if err != nil {
			return err
		}
		if !opts.ModifiedAfter.IsZero() && !info.LastModified.After(opts.ModifiedAfter) {
			continue
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// ReadRange reads a byte range from the file. Reads past EOF return
// the available suffix.
func (l *LocalStore) ReadRange(ctx context.Context, key string, off, n int64) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, fmt.Errorf("local: open %s: %w", key, err)
	}
	defer f.Close()
	b := make([]byte, n)
	read, err := f.ReadAt(b, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("local: range read %s: %w", key, err)
	}
	return b[:read], nil
}

// Stat returns file metadata.
func (l *LocalStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	fi, err := os.Stat(l.path(key))
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("local: stat %s: %w", key, err)
	}
	return ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

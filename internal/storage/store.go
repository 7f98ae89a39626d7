// Package storage abstracts the object stores holding DEM rasters.
// Two implementations exist: an S3 bucket (AU and the public NZ
// bucket) and a local directory used by tests and development.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListOptions narrows an enumeration.
type ListOptions struct {
	Prefix string
	// ModifiedAfter, when non-zero, restricts the listing to objects
	// whose LastModified is strictly later. Used by incremental
	// updates.
	ModifiedAfter time.Time
}

// ObjectStore is the capability set the extractor and sampler need.
// ReadRange must not fetch more than the requested byte range, since
// header reads against a ~6e5 tile corpus must stay cheap.
type ObjectStore interface {
	// List streams object descriptions to fn in enumeration order.
	// Returning a non-nil error from fn stops the listing.
	List(ctx context.Context, opts ListOptions, fn func(ObjectInfo) error) error
	// ReadRange reads n bytes starting at off. Short objects return
	// the available suffix without error.
	ReadRange(ctx context.Context, key string, off, n int64) ([]byte, error)
	// Stat returns metadata for a single object.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// RangeReaderAt adapts ReadRange to io.ReaderAt for a fixed key, so
// the TIFF parser can work against object storage directly.
type RangeReaderAt struct {
	Store ObjectStore
	Key   string
	Ctx   context.Context
}

func (r *RangeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	b, err := r.Store.ReadRange(r.Ctx, r.Key, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, b)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

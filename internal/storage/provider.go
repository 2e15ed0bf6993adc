// Package storage defines where debug artifacts such as page snapshots are
// written. Backends live in the local, memory and gcs subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore persists one object and returns a URI pointing at it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Package storage defines the blob store used to archive story timelines.
// Backends live in the memory, local and gcs subpackages; Postgres view
// persistence lives in the postgres subpackage.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject when no object exists at path.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore writes and reads opaque objects addressed by slash-separated paths.
type BlobStore interface {
	// PutObject stores data at path and returns a backend-specific URI.
	PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error)
	// GetObject returns the bytes stored at path or ErrObjectNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

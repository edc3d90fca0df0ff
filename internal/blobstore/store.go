// Package blobstore defines the content-addressed BlobStore contract
// consumed by the rest of weft, plus two concrete adapters (FileStore,
// MemStore) used to make the system runnable and testable standalone.
package blobstore

import (
	"context"
	"io"

	"github.com/weftfs/weft/internal/linkeddata"
)

// BlobStore puts and gets raw bytes by content hash. Implementations must be
// safe for concurrent use by many readers and many writers, and must
// publish a new hash atomically (spec §5).
type BlobStore interface {
	// Put stores data and returns its BLAKE3 hash. Idempotent.
	Put(ctx context.Context, data []byte) (linkeddata.Hash, error)
	// Get returns the bytes stored under h, or a LinkNotFound werrors.Kind.
	Get(ctx context.Context, h linkeddata.Hash) ([]byte, error)
	// Has reports whether h is present locally.
	Has(ctx context.Context, h linkeddata.Hash) (bool, error)
	// StreamTo writes the bytes stored under h to w without buffering the
	// whole blob in memory.
	StreamTo(ctx context.Context, h linkeddata.Hash, w io.Writer) error
	// StreamFrom reads all of r, stores it, and returns its hash.
	StreamFrom(ctx context.Context, r io.Reader) (linkeddata.Hash, error)
}

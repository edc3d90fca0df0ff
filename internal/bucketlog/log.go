// Package bucketlog implements the append-only, provenance-checked
// per-bucket log (L4): the record of every manifest version a peer has
// seen for a bucket, independent of whether that peer can currently
// decrypt it.
package bucketlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/weftfs/weft/internal/linkeddata"
)

// Entry is one row of the bucket log.
type Entry struct {
	BucketID  uuid.UUID
	Name      string
	Current   linkeddata.Link
	Previous  *linkeddata.Link
	Height    uint64
	Published bool
	CreatedAt time.Time
}

// LogProvider is the bucket log's storage contract. Implementations must
// enforce the append provenance rules themselves (MemLogProvider and
// SQLiteLogProvider both do, identically) so every caller gets the same
// guarantees regardless of backend.
type LogProvider interface {
	// Exists reports whether any entries exist for id.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// Heads returns every row's Current link at height h.
	Heads(ctx context.Context, id uuid.UUID, h uint64) ([]linkeddata.Link, error)
	// Head returns the head at height h (or the bucket's current height
	// if h is nil): the maximal Current link among Heads, by Link.Less.
	// Fails with HeadNotFound if no rows exist at that height.
	Head(ctx context.Context, id uuid.UUID, h *uint64) (linkeddata.Link, uint64, error)
	// Append adds a new row, after validating the provenance rules.
	Append(ctx context.Context, e Entry) error
	// Height returns the maximum height over all rows for id.
	Height(ctx context.Context, id uuid.UUID) (uint64, error)
	// Has returns every height at which link appears as Current.
	Has(ctx context.Context, id uuid.UUID, link linkeddata.Link) ([]uint64, error)
	// ListBuckets returns every distinct bucket id the log holds rows for.
	ListBuckets(ctx context.Context) ([]uuid.UUID, error)
	// LatestPublished returns the most recent row with Published=true, or
	// ok=false if none exists.
	LatestPublished(ctx context.Context, id uuid.UUID) (link linkeddata.Link, height uint64, ok bool, err error)
}

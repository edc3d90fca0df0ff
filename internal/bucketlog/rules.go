package bucketlog

import (
	"context"
	"fmt"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/werrors"
)

// provenanceQuery lets validateProvenance ask a backend the two questions
// it needs without caring how rows are stored.
type provenanceQuery struct {
	// currentExists reports whether any row already has this Current link.
	currentExists func(ctx context.Context, current linkeddata.Link) (bool, error)
	// rowAt reports whether a row with this Current link exists at exactly
	// this height.
	rowAt func(ctx context.Context, current linkeddata.Link, height uint64) (bool, error)
}

// validateProvenance enforces the three fatal-on-violation append rules
// shared by every LogProvider backend:
//
//  1. previous == nil implies height == 0 (genesis).
//  2. previous == Some(p) implies height > 0 and a row with
//     current == p exists at height-1.
//  3. duplicate (bucket_id, current) is rejected.
func validateProvenance(ctx context.Context, e Entry, q provenanceQuery) error {
	dup, err := q.currentExists(ctx, e.Current)
	if err != nil {
		return fmt.Errorf("check duplicate current: %w", err)
	}
	if dup {
		return werrors.New(werrors.Conflict, fmt.Sprintf("duplicate current link at height %d", e.Height), nil)
	}

	if e.Previous == nil {
		if e.Height != 0 {
			return werrors.New(werrors.Conflict, "genesis entry must have height 0", nil)
		}
		return nil
	}

	if e.Height == 0 {
		return werrors.New(werrors.Conflict, "non-genesis entry must have height > 0", nil)
	}
	ok, err := q.rowAt(ctx, *e.Previous, e.Height-1)
	if err != nil {
		return fmt.Errorf("check previous row: %w", err)
	}
	if !ok {
		return werrors.New(werrors.Conflict, fmt.Sprintf("previous link %s does not exist at height %d", e.Previous, e.Height-1), nil)
	}
	return nil
}

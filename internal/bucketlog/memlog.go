package bucketlog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/werrors"
)

// MemLogProvider is an in-memory LogProvider, grounded on the in-memory
// ledger test doubles used throughout the teacher's core package tests.
// It enforces the full provenance rule set and is safe for concurrent use.
type MemLogProvider struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]Entry
}

// NewMemLogProvider returns an empty MemLogProvider.
func NewMemLogProvider() *MemLogProvider {
	return &MemLogProvider{entries: map[uuid.UUID][]Entry{}}
}

func (p *MemLogProvider) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries[id]) > 0, nil
}

func (p *MemLogProvider) Heads(_ context.Context, id uuid.UUID, h uint64) ([]linkeddata.Link, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []linkeddata.Link
	for _, e := range p.entries[id] {
		if e.Height == h {
			out = append(out, e.Current)
		}
	}
	return out, nil
}

func (p *MemLogProvider) Head(ctx context.Context, id uuid.UUID, h *uint64) (linkeddata.Link, uint64, error) {
	height := uint64(0)
	if h != nil {
		height = *h
	} else {
		var err error
		height, err = p.Height(ctx, id)
		if err != nil {
			return linkeddata.Link{}, 0, err
		}
	}
	heads, err := p.Heads(ctx, id, height)
	if err != nil {
		return linkeddata.Link{}, 0, err
	}
	if len(heads) == 0 {
		return linkeddata.Link{}, 0, werrors.New(werrors.HeadNotFound, id.String(), nil)
	}
	return linkeddata.Max(heads), height, nil
}

func (p *MemLogProvider) Append(ctx context.Context, e Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows := p.entries[e.BucketID]
	q := provenanceQuery{
		currentExists: func(_ context.Context, link linkeddata.Link) (bool, error) {
			for _, r := range rows {
				if r.Current == link {
					return true, nil
				}
			}
			return false, nil
		},
		rowAt: func(_ context.Context, link linkeddata.Link, height uint64) (bool, error) {
			for _, r := range rows {
				if r.Current == link && r.Height == height {
					return true, nil
				}
			}
			return false, nil
		},
	}
	if err := validateProvenance(ctx, e, q); err != nil {
		return err
	}
	p.entries[e.BucketID] = append(rows, e)
	return nil
}

func (p *MemLogProvider) Height(_ context.Context, id uuid.UUID) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var max uint64
	found := false
	for _, e := range p.entries[id] {
		if !found || e.Height > max {
			max = e.Height
			found = true
		}
	}
	return max, nil
}

func (p *MemLogProvider) Has(_ context.Context, id uuid.UUID, link linkeddata.Link) ([]uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []uint64
	for _, e := range p.entries[id] {
		if e.Current == link {
			out = append(out, e.Height)
		}
	}
	return out, nil
}

func (p *MemLogProvider) ListBuckets(_ context.Context) ([]uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(p.entries))
	for id, rows := range p.entries {
		if len(rows) > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p *MemLogProvider) LatestPublished(_ context.Context, id uuid.UUID) (linkeddata.Link, uint64, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best Entry
	found := false
	for _, e := range p.entries[id] {
		if !e.Published {
			continue
		}
		if !found || e.Height > best.Height || (e.Height == best.Height && best.Current.Less(e.Current)) {
			best = e
			found = true
		}
	}
	if !found {
		return linkeddata.Link{}, 0, false, nil
	}
	return best.Current, best.Height, true, nil
}

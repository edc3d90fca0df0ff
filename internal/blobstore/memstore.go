package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/werrors"
)

// MemStore is an in-memory, mutex-guarded BlobStore, grounded on the
// in-memory Ledger test-double pattern used throughout the teacher's
// core/*_test.go files. It never persists anything; the tests use it in
// place of a disk-backed store.
type MemStore struct {
	mu   sync.RWMutex
	data map[linkeddata.Hash][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[linkeddata.Hash][]byte)}
}

func (m *MemStore) Put(_ context.Context, data []byte) (linkeddata.Hash, error) {
	h := linkeddata.SumHash(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[h]; !ok {
		m.data[h] = append([]byte(nil), data...)
	}
	return h, nil
}

func (m *MemStore) Get(_ context.Context, h linkeddata.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[h]
	if !ok {
		return nil, werrors.New(werrors.LinkNotFound, fmt.Sprintf("blob %s", h), nil)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Has(_ context.Context, h linkeddata.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[h]
	return ok, nil
}

func (m *MemStore) StreamTo(ctx context.Context, h linkeddata.Hash, w io.Writer) error {
	data, err := m.Get(ctx, h)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (m *MemStore) StreamFrom(_ context.Context, r io.Reader) (linkeddata.Hash, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return linkeddata.Hash{}, fmt.Errorf("stream from: %w", err)
	}
	data := buf.Bytes()
	h := linkeddata.SumHash(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[h]; !ok {
		m.data[h] = append([]byte(nil), data...)
	}
	return h, nil
}

package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/werrors"
)

// FileStore is the default BlobStore backend: content is written to a temp
// file alongside its destination directory and atomically renamed into
// place after fsync, so a partially-written blob is never visible under its
// final hash-addressed name. Blobs are sharded into blobs/<xy>/<hash> by the
// first two base32 characters of the hash to keep any one directory small.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at dir (the blobs/ directory named
// in the spec's on-disk layout). The directory is created if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (f *FileStore) pathFor(h linkeddata.Hash) string {
	s := h.String()
	shard := s[:2]
	return filepath.Join(f.root, shard, s)
}

func (f *FileStore) Put(_ context.Context, data []byte) (linkeddata.Hash, error) {
	h := linkeddata.SumHash(data)
	if err := f.writeAtomic(h, bytes.NewReader(data)); err != nil {
		return linkeddata.Hash{}, err
	}
	return h, nil
}

func (f *FileStore) Get(_ context.Context, h linkeddata.Hash) ([]byte, error) {
	data, err := os.ReadFile(f.pathFor(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werrors.New(werrors.LinkNotFound, fmt.Sprintf("blob %s", h), err)
		}
		return nil, fmt.Errorf("filestore get: %w", err)
	}
	return data, nil
}

func (f *FileStore) Has(_ context.Context, h linkeddata.Hash) (bool, error) {
	_, err := os.Stat(f.pathFor(h))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *FileStore) StreamTo(_ context.Context, h linkeddata.Hash, w io.Writer) error {
	file, err := os.Open(f.pathFor(h))
	if err != nil {
		if os.IsNotExist(err) {
			return werrors.New(werrors.LinkNotFound, fmt.Sprintf("blob %s", h), err)
		}
		return fmt.Errorf("filestore stream_to: %w", err)
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

func (f *FileStore) StreamFrom(_ context.Context, r io.Reader) (linkeddata.Hash, error) {
	tmp, err := os.CreateTemp(f.root, "incoming-*")
	if err != nil {
		return linkeddata.Hash{}, fmt.Errorf("filestore stream_from: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hasher := linkeddata.SumHash
	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(tmp, &buf), r); err != nil {
		return linkeddata.Hash{}, fmt.Errorf("filestore stream_from: copy: %w", err)
	}
	h := hasher(buf.Bytes())

	if err := tmp.Sync(); err != nil {
		return linkeddata.Hash{}, fmt.Errorf("filestore stream_from: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return linkeddata.Hash{}, fmt.Errorf("filestore stream_from: close: %w", err)
	}

	if err := f.renameIn(tmp.Name(), h); err != nil {
		return linkeddata.Hash{}, err
	}
	return h, nil
}

// writeAtomic writes all of r to a temp file and renames it into place under
// h's final path, creating the shard directory as needed.
func (f *FileStore) writeAtomic(h linkeddata.Hash, r io.Reader) error {
	tmp, err := os.CreateTemp(f.root, "incoming-*")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("filestore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	return f.renameIn(tmp.Name(), h)
}

func (f *FileStore) renameIn(tmpPath string, h linkeddata.Hash) error {
	final := f.pathFor(h)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir shard: %w", err)
	}
	if _, err := os.Stat(final); err == nil {
		// Content-addressed: identical bytes already present, idempotent.
		return nil
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return fmt.Errorf("filestore: rename into place: %w", err)
	}
	return nil
}

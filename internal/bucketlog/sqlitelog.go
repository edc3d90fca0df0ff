package bucketlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/werrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS bucket_log (
	bucket_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	current    TEXT NOT NULL,
	previous   TEXT,
	height     INTEGER NOT NULL,
	published  INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (bucket_id, current)
);
CREATE INDEX IF NOT EXISTS bucket_log_height ON bucket_log (bucket_id, height);
`

// SQLiteLogProvider is the on-disk LogProvider backend, driven through
// database/sql over modernc.org/sqlite (pure Go, no cgo).
type SQLiteLogProvider struct {
	db *sql.DB
}

// OpenSQLiteLogProvider opens (creating if absent) a sqlite-backed bucket
// log at path.
func OpenSQLiteLogProvider(path string) (*SQLiteLogProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket_log schema: %w", err)
	}
	return &SQLiteLogProvider{db: db}, nil
}

// Close releases the underlying database handle.
func (p *SQLiteLogProvider) Close() error { return p.db.Close() }

func (p *SQLiteLogProvider) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bucket_log WHERE bucket_id = ?`, id.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return n > 0, nil
}

func (p *SQLiteLogProvider) Heads(ctx context.Context, id uuid.UUID, h uint64) ([]linkeddata.Link, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT current FROM bucket_log WHERE bucket_id = ? AND height = ?`, id.String(), h)
	if err != nil {
		return nil, fmt.Errorf("heads: %w", err)
	}
	defer rows.Close()

	var out []linkeddata.Link
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("heads: scan: %w", err)
		}
		link, err := parseLink(s)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func (p *SQLiteLogProvider) Head(ctx context.Context, id uuid.UUID, h *uint64) (linkeddata.Link, uint64, error) {
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

func (p *SQLiteLogProvider) Append(ctx context.Context, e Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback()

	q := provenanceQuery{
		currentExists: func(ctx context.Context, link linkeddata.Link) (bool, error) {
			var n int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM bucket_log WHERE bucket_id = ? AND current = ?`,
				e.BucketID.String(), link.String()).Scan(&n)
			return n > 0, err
		},
		rowAt: func(ctx context.Context, link linkeddata.Link, height uint64) (bool, error) {
			var n int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM bucket_log WHERE bucket_id = ? AND current = ? AND height = ?`,
				e.BucketID.String(), link.String(), height).Scan(&n)
			return n > 0, err
		},
	}
	if err := validateProvenance(ctx, e, q); err != nil {
		return err
	}

	var previous any
	if e.Previous != nil {
		previous = e.Previous.String()
	}
	published := 0
	if e.Published {
		published = 1
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Unix(0, 0).UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bucket_log (bucket_id, name, current, previous, height, published, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.BucketID.String(), e.Name, e.Current.String(), previous, e.Height, published, createdAt.UnixNano())
	if err != nil {
		return werrors.Wrap(werrors.Storage, "insert bucket_log row", err)
	}
	return tx.Commit()
}

func (p *SQLiteLogProvider) Height(ctx context.Context, id uuid.UUID) (uint64, error) {
	var height sql.NullInt64
	err := p.db.QueryRowContext(ctx, `SELECT MAX(height) FROM bucket_log WHERE bucket_id = ?`, id.String()).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("height: %w", err)
	}
	if !height.Valid {
		return 0, nil
	}
	return uint64(height.Int64), nil
}

func (p *SQLiteLogProvider) Has(ctx context.Context, id uuid.UUID, link linkeddata.Link) ([]uint64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT height FROM bucket_log WHERE bucket_id = ? AND current = ?`, id.String(), link.String())
	if err != nil {
		return nil, fmt.Errorf("has: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var h uint64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("has: scan: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *SQLiteLogProvider) ListBuckets(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT bucket_id FROM bucket_log`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("list buckets: scan: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("list buckets: parse id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *SQLiteLogProvider) LatestPublished(ctx context.Context, id uuid.UUID) (linkeddata.Link, uint64, bool, error) {
	var current string
	var height uint64
	err := p.db.QueryRowContext(ctx,
		`SELECT current, height FROM bucket_log WHERE bucket_id = ? AND published = 1 ORDER BY height DESC, current DESC LIMIT 1`,
		id.String()).Scan(&current, &height)
	if err == sql.ErrNoRows {
		return linkeddata.Link{}, 0, false, nil
	}
	if err != nil {
		return linkeddata.Link{}, 0, false, fmt.Errorf("latest published: %w", err)
	}
	link, err := parseLink(current)
	if err != nil {
		return linkeddata.Link{}, 0, false, err
	}
	return link, height, true, nil
}

// parseLink parses a Link's String() form ("<codec>:<hash>", e.g.
// "dag-cbor:abcd...") back, matching how Append persists it.
func parseLink(s string) (linkeddata.Link, error) {
	i := -1
	for j := 0; j < len(s); j++ {
		if s[j] == ':' {
			i = j
			break
		}
	}
	if i < 0 {
		return linkeddata.Link{}, fmt.Errorf("parse link %q: missing separator", s)
	}
	var codec linkeddata.Codec
	switch s[:i] {
	case "raw":
		codec = linkeddata.CodecRaw
	case "dag-cbor":
		codec = linkeddata.CodecDagCBOR
	default:
		return linkeddata.Link{}, fmt.Errorf("parse link %q: unknown codec %q", s, s[:i])
	}
	hash, err := linkeddata.ParseHash(s[i+1:])
	if err != nil {
		return linkeddata.Link{}, fmt.Errorf("parse link %q: %w", s, err)
	}
	return linkeddata.Link{Codec: codec, Hash: hash}, nil
}

package mount

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
)

// manifestVersion is the software-version tag stamped into every Manifest
// this build produces.
const manifestVersion = "weft/0"

// Mount is the in-memory, mutable view of one bucket version: a decrypted
// working tree plus the manifest it was loaded from (or will be saved
// under). All public operations hold mu for their duration, matching the
// spec's "async mutex for one mutation plus its save" ordering guarantee.
type Mount struct {
	mu sync.Mutex

	blobs blobstore.BlobStore

	self     wcrypto.SecretKey
	hasOwner bool // self holds an owner SecretKey (false for read-only mirrors)

	manifest   *Manifest
	rootSecret wcrypto.Secret
	// lastSavedLink is the manifest Link this Mount was loaded from, or the
	// Link its previous Save wrote; nil for a freshly Init'd bucket that
	// has never been saved (the genesis save leaves it at height 0 with no
	// previous link).
	lastSavedLink *linkeddata.Link

	// nodes caches materialized (decrypted) directories by path; "" is the
	// root. Entries are populated lazily on first traversal and eagerly on
	// mutation (path-copying clones land here).
	nodes map[string]Node
	// dirty marks directories that must be re-encoded, re-encrypted and
	// re-linked on the next save, because their content (or a descendant's
	// link) changed since load.
	dirty map[string]bool

	oplog PathOpLog
}

// Init creates a brand-new bucket: an empty root directory, a genesis
// manifest (height 0, previous none) with a single Owner share for
// ownerSK's identity.
func Init(id uuid.UUID, name string, ownerSK wcrypto.SecretKey, blobs blobstore.BlobStore) (*Mount, error) {
	rootSecret, err := wcrypto.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("init: generate root secret: %w", err)
	}

	share, err := wcrypto.NewSecretShare(rootSecret, ownerSK.Public())
	if err != nil {
		return nil, fmt.Errorf("init: wrap owner share: %w", err)
	}

	m := &Mount{
		blobs:      blobs,
		self:       ownerSK,
		hasOwner:   true,
		rootSecret: rootSecret,
		nodes:      map[string]Node{"": {}},
		dirty:      map[string]bool{"": true},
		manifest: &Manifest{
			ID:   id,
			Name: name,
			Shares: map[string]Share{
				ownerSK.Public().ToHex(): {
					Principal: Principal{Role: RoleOwner, Identity: ownerSK.Public()},
					Wrapped:   share,
				},
			},
			Version: manifestVersion,
		},
	}
	return m, nil
}

// Load fetches the manifest at link, recovers the bucket's root secret
// (either by unwrapping readerSK's share, or by reading the manifest's
// public secret if readerSK has no usable share), and decrypts the root
// node.
func Load(ctx context.Context, link linkeddata.Link, readerSK wcrypto.SecretKey, blobs blobstore.BlobStore) (*Mount, error) {
	raw, err := blobs.Get(ctx, link.Hash)
	if err != nil {
		return nil, err
	}
	manifest, err := DecodeManifest(raw)
	if err != nil {
		return nil, werrors.Wrap(werrors.LinkNotFound, "decode manifest", err)
	}

	pub := readerSK.Public()
	var rootSecret wcrypto.Secret
	hasOwner := false
	if share, ok := manifest.Shares[pub.ToHex()]; ok && share.Principal.Role == RoleOwner {
		rootSecret, err = share.Wrapped.Unwrap(readerSK)
		if err != nil {
			return nil, err
		}
		hasOwner = true
	} else if manifest.PublicSecret != nil {
		rootSecret = *manifest.PublicSecret
	} else {
		return nil, werrors.New(werrors.MirrorCannotMount, "manifest is not published and reader has no share", nil)
	}

	rootCipher, err := blobs.Get(ctx, manifest.Entry.Hash)
	if err != nil {
		return nil, err
	}
	rootPlain, err := rootSecret.Decrypt(rootCipher)
	if err != nil {
		return nil, err
	}
	root, err := DecodeNode(rootPlain)
	if err != nil {
		return nil, werrors.Wrap(werrors.Decrypt, "decode root node", err)
	}

	loadedFrom := link
	m := &Mount{
		blobs:         blobs,
		self:          readerSK,
		hasOwner:      hasOwner,
		manifest:      manifest,
		rootSecret:    rootSecret,
		nodes:         map[string]Node{"": root},
		dirty:         map[string]bool{},
		lastSavedLink: &loadedFrom,
	}
	return m, nil
}

// Manifest returns the manifest this mount is currently tracking (its
// loaded state, or its pending state after mutations and before save).
func (m *Mount) Manifest() *Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest
}

// OpLog returns the mutations recorded against this Mount since it was
// loaded or initialized.
func (m *Mount) OpLog() PathOpLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oplog
}

// Self returns the identity this Mount was loaded or initialized with.
func (m *Mount) Self() wcrypto.PublicKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self.Public()
}

// IsPublished reports whether the current manifest carries a usable public
// secret.
func (m *Mount) IsPublished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest.IsPublished()
}

// Cat fetches and decrypts the blob at the given absolute path, which must
// resolve to a Data leaf.
func (m *Mount) Cat(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, err := m.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if link.Kind != KindData {
		return nil, werrors.New(werrors.NotAFile, path, nil)
	}
	cipher, err := m.blobs.Get(ctx, link.Link.Hash)
	if err != nil {
		return nil, err
	}
	return link.Secret.Decrypt(cipher)
}

// Ls returns the direct children of the directory at path.
func (m *Mount) Ls(ctx context.Context, path string) (map[string]NodeLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.resolveDir(ctx, splitPath(path))
	if err != nil {
		return nil, err
	}
	out := make(map[string]NodeLink, len(dir))
	for k, v := range dir {
		out[k] = v
	}
	return out, nil
}

// LsDeep returns every path reachable under path (inclusive of nested
// directories), mapped to its NodeLink.
func (m *Mount) LsDeep(ctx context.Context, path string) (map[string]NodeLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := splitPath(path)
	dir, err := m.resolveDir(ctx, parts)
	if err != nil {
		return nil, err
	}
	out := map[string]NodeLink{}
	if err := m.walkDeep(ctx, parts, dir, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mount) walkDeep(ctx context.Context, parts []string, dir Node, out map[string]NodeLink) error {
	names := make([]string, 0, len(dir))
	for name := range dir {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		link := dir[name]
		childParts := append(append([]string{}, parts...), name)
		childPath := joinPath(childParts)
		out[childPath] = link
		if link.IsDir() {
			childDir, err := m.resolveDir(ctx, childParts)
			if err != nil {
				return err
			}
			if err := m.walkDeep(ctx, childParts, childDir, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns the NodeLink at path, whatever kind it is.
func (m *Mount) Get(ctx context.Context, path string) (NodeLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(ctx, path)
}

func (m *Mount) get(ctx context.Context, path string) (NodeLink, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return NodeLink{}, werrors.New(werrors.NotAFile, path, nil)
	}
	parent, err := m.resolveDir(ctx, parts[:len(parts)-1])
	if err != nil {
		return NodeLink{}, err
	}
	link, ok := parent[parts[len(parts)-1]]
	if !ok {
		return NodeLink{}, errPathNotFound(path)
	}
	return link, nil
}

// resolveDir returns the materialized Node at the directory path given by
// parts, fetching and decrypting from the blob store and caching the
// result the first time a given subdirectory is visited.
func (m *Mount) resolveDir(ctx context.Context, parts []string) (Node, error) {
	if len(parts) == 0 {
		dir, ok := m.nodes[""]
		if !ok {
			return nil, errPathNotFound("/")
		}
		return dir, nil
	}

	cur := m.nodes[""]
	built := ""
	for i, name := range parts {
		link, ok := cur[name]
		if !ok {
			return nil, errPathNotFound(joinPath(parts[:i+1]))
		}
		if !link.IsDir() {
			return nil, werrors.New(werrors.NotADirectory, joinPath(parts[:i+1]), nil)
		}
		built = joinPath(parts[:i+1])
		if cached, ok := m.nodes[built]; ok {
			cur = cached
			continue
		}
		child, err := m.fetchDir(ctx, link)
		if err != nil {
			return nil, err
		}
		m.nodes[built] = child
		cur = child
	}
	return cur, nil
}

func (m *Mount) fetchDir(ctx context.Context, link NodeLink) (Node, error) {
	cipher, err := m.blobs.Get(ctx, link.Link.Hash)
	if err != nil {
		return nil, err
	}
	plain, err := link.Secret.Decrypt(cipher)
	if err != nil {
		return nil, err
	}
	dir, err := DecodeNode(plain)
	if err != nil {
		return nil, werrors.Wrap(werrors.Decrypt, "decode directory", err)
	}
	return dir, nil
}

func (m *Mount) markDirty(path string) {
	if m.dirty == nil {
		m.dirty = map[string]bool{}
	}
	m.dirty[path] = true
}

func (m *Mount) requireWrite() error {
	if !m.hasOwner {
		return werrors.New(werrors.NotAuthorized, "mount is read-only (mirror)", nil)
	}
	return nil
}

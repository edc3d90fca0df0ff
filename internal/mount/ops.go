package mount

import (
	"context"
	"fmt"
	"io"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
)

// cloneAncestors walks from root to the directory named by dirParts,
// path-copying (cloning and re-storing) every directory along the way and
// marking each dirty, creating empty intermediate directories for any
// missing path segment. Returns the cloned directory at dirParts.
func (m *Mount) cloneAncestors(ctx context.Context, dirParts []string) (Node, error) {
	cur := m.nodes[""].Clone()
	m.nodes[""] = cur
	m.markDirty("")

	built := ""
	for _, name := range dirParts {
		built = joinPath(append(splitPath(built), name))
		link, ok := cur[name]
		switch {
		case !ok:
			secret, err := wcrypto.GenerateSecret()
			if err != nil {
				return nil, fmt.Errorf("generate directory secret: %w", err)
			}
			cur[name] = NodeLink{Kind: KindDir, Secret: secret}
			m.nodes[built] = Node{}
		case !link.IsDir():
			return nil, werrors.New(werrors.NotADirectory, built, nil)
		default:
			if _, cached := m.nodes[built]; !cached {
				child, err := m.fetchDir(ctx, link)
				if err != nil {
					return nil, err
				}
				m.nodes[built] = child
			}
			m.nodes[built] = m.nodes[built].Clone()
		}
		m.markDirty(built)
		cur = m.nodes[built]
	}
	return cur, nil
}

// Add encrypts r's full contents under a fresh Secret, stores the
// ciphertext, and links it into path's parent directory as a Data leaf.
// Intermediate directories are created as needed. If path already names a
// Data leaf whose stored plaintext hash matches r's contents exactly, Add is
// a no-op: the existing leaf, its secret and its encrypted blob are left
// untouched and no directory is marked dirty.
func (m *Mount) Add(ctx context.Context, path string, r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return err
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return werrors.New(werrors.PathAlreadyExists, path, nil)
	}
	name := parts[len(parts)-1]
	parentParts := parts[:len(parts)-1]

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("add %s: read: %w", path, err)
	}
	plaintextHash := linkeddata.SumHash(data)

	if existing, err := m.resolveDir(ctx, parentParts); err == nil {
		if link, ok := existing[name]; ok {
			if isIdenticalReadd(link, plaintextHash) {
				return nil
			}
			return werrors.New(werrors.PathAlreadyExists, path, nil)
		}
	}

	secret, err := wcrypto.GenerateSecret()
	if err != nil {
		return fmt.Errorf("add %s: generate secret: %w", path, err)
	}
	cipher, err := secret.Encrypt(data)
	if err != nil {
		return werrors.Wrap(werrors.Storage, "encrypt blob", err)
	}
	hash, err := m.blobs.Put(ctx, cipher)
	if err != nil {
		return werrors.Wrap(werrors.Storage, "put blob", err)
	}

	parent, err := m.cloneAncestors(ctx, parentParts)
	if err != nil {
		return err
	}
	if link, ok := parent[name]; ok {
		if isIdenticalReadd(link, plaintextHash) {
			return nil
		}
		return werrors.New(werrors.PathAlreadyExists, path, nil)
	}
	parent[name] = NodeLink{
		Kind:   KindData,
		Link:   linkeddata.Link{Codec: linkeddata.CodecRaw, Hash: hash},
		Secret: secret,
		Meta:   DataMeta{MIME: detectMIME(path, data), PlaintextHash: plaintextHash},
	}
	m.oplog.recordAdd(path)
	return nil
}

// isIdenticalReadd reports whether existing is a Data leaf already storing
// exactly plaintextHash's contents.
func isIdenticalReadd(existing NodeLink, plaintextHash linkeddata.Hash) bool {
	return existing.Kind == KindData && existing.Meta.PlaintextHash == plaintextHash
}

// Mkdir creates an empty directory at path, creating intermediates as
// needed. Fails if path already exists, even as a directory.
func (m *Mount) Mkdir(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return err
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return werrors.New(werrors.PathAlreadyExists, path, nil)
	}
	name := parts[len(parts)-1]
	parentParts := parts[:len(parts)-1]

	if existing, err := m.resolveDir(ctx, parentParts); err == nil {
		if _, ok := existing[name]; ok {
			return werrors.New(werrors.PathAlreadyExists, path, nil)
		}
	}

	parent, err := m.cloneAncestors(ctx, parentParts)
	if err != nil {
		return err
	}
	if _, ok := parent[name]; ok {
		return werrors.New(werrors.PathAlreadyExists, path, nil)
	}
	secret, err := wcrypto.GenerateSecret()
	if err != nil {
		return fmt.Errorf("mkdir %s: generate secret: %w", path, err)
	}
	parent[name] = NodeLink{Kind: KindDir, Secret: secret}
	m.nodes[path] = Node{}
	m.markDirty(path)
	m.oplog.recordMkdir(path)
	return nil
}

// Rm removes the entry at path (and, if it is a directory, everything
// beneath it) from its parent.
func (m *Mount) Rm(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return err
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return errPathNotFound(path)
	}
	name := parts[len(parts)-1]
	parentParts := parts[:len(parts)-1]

	existing, err := m.resolveDir(ctx, parentParts)
	if err != nil {
		return err
	}
	if _, ok := existing[name]; !ok {
		return errPathNotFound(path)
	}

	parent, err := m.cloneAncestors(ctx, parentParts)
	if err != nil {
		return err
	}
	delete(parent, name)
	m.forgetSubtree(path)
	m.oplog.recordRemove(path)
	return nil
}

// forgetSubtree drops any cached materialized directories beneath path:
// they're no longer reachable from the working tree.
func (m *Mount) forgetSubtree(path string) {
	prefix := path + "/"
	for p := range m.nodes {
		if p == path || (len(p) > len(prefix) && p[:len(prefix)] == prefix) {
			delete(m.nodes, p)
		}
	}
	for p := range m.dirty {
		if p == path || (len(p) > len(prefix) && p[:len(prefix)] == prefix) {
			delete(m.dirty, p)
		}
	}
}

// Mv moves or renames the entry at from to to. If to's parent directory is
// missing, it is created.
func (m *Mount) Mv(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return err
	}
	fromParts := splitPath(from)
	toParts := splitPath(to)
	if len(fromParts) == 0 {
		return errPathNotFound(from)
	}
	if samePath(fromParts, toParts) || isPrefix(fromParts, toParts) {
		return werrors.New(werrors.MoveIntoSelf, fmt.Sprintf("%s -> %s", from, to), nil)
	}
	if len(toParts) == 0 {
		return werrors.New(werrors.PathAlreadyExists, to, nil)
	}

	fromParentParts := fromParts[:len(fromParts)-1]
	fromName := fromParts[len(fromParts)-1]
	toParentParts := toParts[:len(toParts)-1]
	toName := toParts[len(toParts)-1]

	fromParentExisting, err := m.resolveDir(ctx, fromParentParts)
	if err != nil {
		return err
	}
	link, ok := fromParentExisting[fromName]
	if !ok {
		return errPathNotFound(from)
	}
	if toParentExisting, err := m.resolveDir(ctx, toParentParts); err == nil {
		if _, ok := toParentExisting[toName]; ok {
			return werrors.New(werrors.PathAlreadyExists, to, nil)
		}
	}

	// cloneAncestors re-clones every directory on its path, so when the two
	// parent paths overlap the second call replaces nodes the first returned;
	// both parents are read back from m.nodes once cloning is done.
	var fromParent, toParent Node
	if len(fromParentParts) >= len(toParentParts) {
		fromParent, err = m.cloneAncestors(ctx, fromParentParts)
		if err != nil {
			return err
		}
		toParent, err = m.cloneAncestors(ctx, toParentParts)
		if err != nil {
			return err
		}
	} else {
		toParent, err = m.cloneAncestors(ctx, toParentParts)
		if err != nil {
			return err
		}
		fromParent, err = m.cloneAncestors(ctx, fromParentParts)
		if err != nil {
			return err
		}
	}
	fromParent = m.nodes[dirKey(fromParentParts)]
	toParent = m.nodes[dirKey(toParentParts)]

	link, ok = fromParent[fromName]
	if !ok {
		return errPathNotFound(from)
	}
	if _, ok := toParent[toName]; ok {
		return werrors.New(werrors.PathAlreadyExists, to, nil)
	}
	delete(fromParent, fromName)
	toParent[toName] = link

	// The subtree itself didn't change; only its parent pointers did. Every
	// cache entry and dirty mark at or under the old path is re-keyed under
	// the new path, so later traversal doesn't refetch unchanged content and
	// the next Save still flushes directories that were never saved.
	if link.IsDir() {
		fromKey, toKey := joinPath(fromParts), joinPath(toParts)
		prefix := fromKey + "/"
		under := func(p string) bool { return p == fromKey || (len(p) > len(prefix) && p[:len(prefix)] == prefix) }
		for p, cached := range m.nodes {
			if under(p) {
				delete(m.nodes, p)
				m.nodes[toKey+p[len(fromKey):]] = cached
			}
		}
		for p := range m.dirty {
			if under(p) {
				delete(m.dirty, p)
				m.dirty[toKey+p[len(fromKey):]] = true
			}
		}
	}
	m.oplog.recordMv(joinPath(fromParts), joinPath(toParts))
	return nil
}

// AddOwner grants pk owner access: an immediate SecretShare wrap of the
// current root secret, refreshed (with a new ephemeral envelope) on every
// subsequent save.
func (m *Mount) AddOwner(pk wcrypto.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return err
	}
	key := pk.ToHex()
	if _, ok := m.manifest.Shares[key]; ok {
		return werrors.New(werrors.ShareExists, key, nil)
	}
	share, err := wcrypto.NewSecretShare(m.rootSecret, pk)
	if err != nil {
		return err
	}
	m.manifest.Shares[key] = Share{
		Principal: Principal{Role: RoleOwner, Identity: pk},
		Wrapped:   share,
	}
	return nil
}

// AddMirror grants pk mirror access: present in shares with no usable
// SecretShare until the bucket is published.
func (m *Mount) AddMirror(pk wcrypto.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return err
	}
	key := pk.ToHex()
	if _, ok := m.manifest.Shares[key]; ok {
		return werrors.New(werrors.ShareExists, key, nil)
	}
	m.manifest.Shares[key] = Share{
		Principal: Principal{Role: RoleMirror, Identity: pk},
	}
	return nil
}

// Publish arranges for the next save to set the manifest's public secret,
// granting mirrors read access.
func (m *Mount) Publish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireWrite(); err != nil {
		return err
	}
	secret := m.rootSecret
	m.manifest.PublicSecret = &secret
	return nil
}

// Rename changes the bucket's display name; takes effect on the next save.
func (m *Mount) Rename(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireWrite(); err != nil {
		return err
	}
	m.manifest.Name = name
	return nil
}

package mount

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
)

// SaveResult reports the outcome of a successful Save.
type SaveResult struct {
	NewLink      linkeddata.Link
	PreviousLink *linkeddata.Link
	NewHeight    uint64
}

// Save re-encrypts every dirty directory bottom-up, recomputes the pin set,
// writes a new manifest, and returns its Link. If publish is false, any
// pending public secret is cleared (revoking mirror access going forward);
// if true, the manifest's public secret is set to the current root secret.
//
// The bucket's root secret is never rotated by Save: there is no
// remove-principal operation in this implementation, so the one condition
// that would force rotation (revoking an existing owner's access) cannot
// arise. Every Owner share is re-wrapped fresh on every save regardless,
// since a fresh ephemeral envelope costs nothing and keeps the share
// unlinkable across versions.
func (m *Mount) Save(ctx context.Context, publish bool) (SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireWrite(); err != nil {
		return SaveResult{}, err
	}

	if publish {
		secret := m.rootSecret
		m.manifest.PublicSecret = &secret
	} else {
		m.manifest.PublicSecret = nil
	}

	if err := m.flushDirty(ctx); err != nil {
		return SaveResult{}, err
	}

	root := m.nodes[""]
	rootCipher, err := m.rootSecret.Encrypt(mustEncodeNode(root))
	if err != nil {
		return SaveResult{}, werrors.Wrap(werrors.Storage, "encrypt root", err)
	}
	rootHash, err := m.blobs.Put(ctx, rootCipher)
	if err != nil {
		return SaveResult{}, werrors.Wrap(werrors.Storage, "store root", err)
	}
	entryLink := linkeddata.Link{Codec: linkeddata.CodecDagCBOR, Hash: rootHash}
	m.manifest.Entry = entryLink

	for key, share := range m.manifest.Shares {
		if share.Principal.Role != RoleOwner {
			continue
		}
		wrapped, err := wcrypto.NewSecretShare(m.rootSecret, share.Principal.Identity)
		if err != nil {
			return SaveResult{}, err
		}
		share.Wrapped = wrapped
		m.manifest.Shares[key] = share
	}

	pins, err := m.collectPins(ctx, entryLink)
	if err != nil {
		return SaveResult{}, err
	}

	previousLink, newHeight := m.advanceVersion()

	// The manifest's own hash must appear in its own pin set (invariant 5),
	// which is circular: the manifest's hash depends on its Pins link, and
	// the Pins link now needs to depend on the manifest's hash. Resolved by
	// a stable two-pass encoding: pass 1 hashes the manifest against a
	// provisional Pins block (the tree-reachable hashes alone) to obtain a
	// deterministic self-hash commitment; pass 2 folds that hash into the
	// final, stored Pins block and re-encodes the manifest against it. Only
	// the pass-2 manifest bytes are ever stored or addressed.
	provisionalPinsLink, err := linkeddata.HashBlock(pins)
	if err != nil {
		return SaveResult{}, err
	}
	m.manifest.Pins = provisionalPinsLink
	selfHash, err := linkeddata.HashBlock(m.manifest)
	if err != nil {
		return SaveResult{}, err
	}
	pins.Add(selfHash.Hash)

	pinsLink, pinsBytes, err := linkeddata.LinkBlock(pins)
	if err != nil {
		return SaveResult{}, err
	}
	if _, err := m.blobs.Put(ctx, pinsBytes); err != nil {
		return SaveResult{}, werrors.Wrap(werrors.Storage, "store pins", err)
	}
	m.manifest.Pins = pinsLink

	manifestLink, manifestBytes, err := linkeddata.LinkBlock(m.manifest)
	if err != nil {
		return SaveResult{}, err
	}
	if _, err := m.blobs.Put(ctx, manifestBytes); err != nil {
		return SaveResult{}, werrors.Wrap(werrors.Storage, "store manifest", err)
	}

	m.lastSavedLink = &manifestLink
	m.dirty = map[string]bool{}
	return SaveResult{NewLink: manifestLink, PreviousLink: previousLink, NewHeight: newHeight}, nil
}

// advanceVersion computes this save's (previous, height): the genesis save
// (lastSavedLink == nil, the Mount was freshly Init'd and never saved)
// leaves height at 0 with no previous link; every subsequent save
// increments height and points previous at the last version saved.
func (m *Mount) advanceVersion() (*linkeddata.Link, uint64) {
	previous := m.lastSavedLink
	if previous != nil {
		m.manifest.Height++
	}
	m.manifest.Previous = previous
	return previous, m.manifest.Height
}

// flushDirty re-encodes, re-encrypts and re-links every dirty directory,
// deepest first, so a parent always picks up its child's fresh Link before
// it is itself re-encrypted.
func (m *Mount) flushDirty(ctx context.Context) error {
	paths := make([]string, 0, len(m.dirty))
	for p := range m.dirty {
		if p != "" {
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], "/") > strings.Count(paths[j], "/")
	})

	for _, path := range paths {
		dir := m.nodes[path]
		secret := m.secretFor(path)
		cipher, err := secret.Encrypt(mustEncodeNode(dir))
		if err != nil {
			return werrors.Wrap(werrors.Storage, "encrypt directory "+path, err)
		}
		hash, err := m.blobs.Put(ctx, cipher)
		if err != nil {
			return werrors.Wrap(werrors.Storage, "store directory "+path, err)
		}

		parentParts := splitPath(path)
		name := parentParts[len(parentParts)-1]
		parentPath := dirKey(parentParts[:len(parentParts)-1])
		parent := m.nodes[parentPath]
		entry := parent[name]
		entry.Link = linkeddata.Link{Codec: linkeddata.CodecDagCBOR, Hash: hash}
		entry.Secret = secret
		parent[name] = entry
	}
	return nil
}

// secretFor returns the Secret a directory at path is encrypted under: for
// the root, the bucket's rootSecret; otherwise whatever secret its parent's
// NodeLink already carries (assigned at creation time by cloneAncestors,
// Mkdir, or Add's intermediate-directory path).
func (m *Mount) secretFor(path string) wcrypto.Secret {
	if path == "" {
		return m.rootSecret
	}
	parts := splitPath(path)
	name := parts[len(parts)-1]
	parentPath := dirKey(parts[:len(parts)-1])
	return m.nodes[parentPath][name].Secret
}

// collectPins walks the full tree reachable from entryLink (fetching and
// caching any directory not already materialized) and returns the set of
// every blob/node hash it can reach. The manifest's own hash is added by the
// caller once it's known (see Save's two-pass encoding), since it cannot be
// computed before the manifest itself is built.
func (m *Mount) collectPins(ctx context.Context, entryLink linkeddata.Link) (linkeddata.Pins, error) {
	pins := linkeddata.NewPins()
	pins.Add(entryLink.Hash)
	if err := m.walkPins(ctx, "", pins); err != nil {
		return nil, err
	}
	return pins, nil
}

func (m *Mount) walkPins(ctx context.Context, path string, pins linkeddata.Pins) error {
	dir, err := m.resolveDir(ctx, splitPath(path))
	if err != nil {
		return err
	}
	for name, link := range dir {
		pins.Add(link.Link.Hash)
		if link.IsDir() {
			childPath := joinPath(append(splitPath(path), name))
			if err := m.walkPins(ctx, childPath, pins); err != nil {
				return err
			}
		}
	}
	return nil
}

func mustEncodeNode(n Node) []byte {
	b, err := linkeddata.EncodeDagCBOR(map[string]NodeLink(n))
	if err != nil {
		panic(fmt.Sprintf("mount: encoding an in-memory node failed: %v", err))
	}
	return b
}

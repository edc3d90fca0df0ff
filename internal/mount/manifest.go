package mount

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/wcrypto"
)

// Role distinguishes a bucket principal's authority.
type Role uint8

const (
	// RoleOwner may decrypt, mutate, add/remove principals, and publish.
	RoleOwner Role = iota
	// RoleMirror may only decrypt once the bucket is published, and never
	// writes.
	RoleMirror
)

func (r Role) String() string {
	if r == RoleMirror {
		return "mirror"
	}
	return "owner"
}

// Principal identifies one party entitled to a Share: its role plus its
// Ed25519 identity.
type Principal struct {
	Role     Role
	Identity wcrypto.PublicKey
}

// Share pairs a Principal with its wrapped bucket secret. A Mirror's
// SecretShare is a zero value (unusable) until the bucket is published, at
// which point it reads manifest.PublicSecret directly instead.
type Share struct {
	Principal Principal
	Wrapped   wcrypto.SecretShare
}

// Manifest is the unencrypted root block of a bucket version. It carries no
// signature.
type Manifest struct {
	ID     uuid.UUID
	Name   string
	Shares map[string]Share // keyed by Principal.Identity.ToHex()

	Entry linkeddata.Link // root Node
	Pins  linkeddata.Link // HashSeq of this version's reachable hashes

	Previous *linkeddata.Link
	Height   uint64
	Version  string

	// PublicSecret is present iff the manifest is published: the bucket's
	// root secret in the clear, letting any Mirror decrypt without a
	// per-principal share.
	PublicSecret *wcrypto.Secret
}

// IsPublished reports whether m carries a usable public secret.
func (m *Manifest) IsPublished() bool { return m.PublicSecret != nil }

// manifestCBOR is the wire shape of a Manifest.
type manifestCBOR struct {
	_        struct{} `cbor:",toarray"`
	ID       []byte
	Name     string
	Shares   map[string]shareCBOR
	Entry    linkeddata.Link
	Pins     linkeddata.Link
	Previous *linkeddata.Link
	Height   uint64
	Version  string
	Public   []byte // empty when unpublished
}

type shareCBOR struct {
	_        struct{} `cbor:",toarray"`
	Role     uint8
	Identity []byte
	EphPub   []byte
	Wrapped  []byte
}

// EncodeBlock implements linkeddata.Block.
func (m *Manifest) EncodeBlock() (linkeddata.Codec, []byte, error) {
	w := manifestCBOR{
		ID:       m.ID[:],
		Name:     m.Name,
		Shares:   make(map[string]shareCBOR, len(m.Shares)),
		Entry:    m.Entry,
		Pins:     m.Pins,
		Previous: m.Previous,
		Height:   m.Height,
		Version:  m.Version,
	}
	if m.PublicSecret != nil {
		w.Public = append([]byte(nil), m.PublicSecret[:]...)
	}
	for k, s := range m.Shares {
		w.Shares[k] = shareCBOR{
			Role:     uint8(s.Principal.Role),
			Identity: s.Principal.Identity.Bytes(),
			EphPub:   append([]byte(nil), s.Wrapped.EphPub[:]...),
			Wrapped:  append([]byte(nil), s.Wrapped.Wrapped...),
		}
	}
	b, err := linkeddata.EncodeDagCBOR(w)
	if err != nil {
		return 0, nil, err
	}
	return linkeddata.CodecDagCBOR, b, nil
}

// DecodeManifest decodes a Manifest from its canonical DAG-CBOR encoding.
func DecodeManifest(b []byte) (*Manifest, error) {
	var w manifestCBOR
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	id, err := uuid.FromBytes(w.ID)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: bad id: %w", err)
	}
	m := &Manifest{
		ID:       id,
		Name:     w.Name,
		Shares:   make(map[string]Share, len(w.Shares)),
		Entry:    w.Entry,
		Pins:     w.Pins,
		Previous: w.Previous,
		Height:   w.Height,
		Version:  w.Version,
	}
	if len(w.Public) == wcrypto.SecretSize {
		var s wcrypto.Secret
		copy(s[:], w.Public)
		m.PublicSecret = &s
	}
	for k, sc := range w.Shares {
		pub, err := wcrypto.PublicKeyFromHex(fmt.Sprintf("%x", sc.Identity))
		if err != nil {
			return nil, fmt.Errorf("decode manifest: share %s: %w", k, err)
		}
		var share wcrypto.SecretShare
		copy(share.EphPub[:], sc.EphPub)
		share.Wrapped = append([]byte(nil), sc.Wrapped...)
		m.Shares[k] = Share{
			Principal: Principal{Role: Role(sc.Role), Identity: pub},
			Wrapped:   share,
		}
	}
	return m, nil
}

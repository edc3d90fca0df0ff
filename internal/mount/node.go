// Package mount implements the in-memory bucket state (L3): manifests,
// directory nodes, and the mutation operations (add, mkdir, mv, rm,
// publish) plus the save/load round trip.
package mount

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/wcrypto"
)

// NodeLinkKind discriminates the two NodeLink variants.
type NodeLinkKind uint8

const (
	KindData NodeLinkKind = iota
	KindDir
)

func (k NodeLinkKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "data"
}

// DataMeta carries the extra metadata a Data leaf stores alongside its link
// and secret: the detected MIME type, the BLAKE3 hash of the plaintext (so
// Add can recognize a byte-identical re-add without decrypting), and an
// open-ended metadata map.
type DataMeta struct {
	MIME          string
	PlaintextHash linkeddata.Hash
	Metadata      map[string]string
}

// NodeLink is the tagged union a parent holds for each child: either an
// encrypted file blob (Data) or an encrypted directory Node (Dir). The
// parent stores the child's decryption Secret; it never appears in the
// child's own encoding (invariant: parent-owns-key).
type NodeLink struct {
	Kind   NodeLinkKind
	Link   linkeddata.Link
	Secret wcrypto.Secret
	Meta   DataMeta // only meaningful when Kind == KindData
}

// IsDir reports whether this link points at a directory node.
func (n NodeLink) IsDir() bool { return n.Kind == KindDir }

// Node is a directory: an ordered mapping of entry name to NodeLink.
// Directories are immutable in place — every mutation produces a new Node
// with a new hash; unaffected subtrees are shared by link, not copied.
type Node map[string]NodeLink

// nodeLinkCBOR is the wire shape of a NodeLink.
type nodeLinkCBOR struct {
	_             struct{} `cbor:",toarray"`
	Kind          uint8
	Codec         uint64
	Hash          []byte
	Secret        []byte
	MIME          string
	PlaintextHash []byte
	Metadata      map[string]string
}

func (n NodeLink) MarshalCBOR() ([]byte, error) {
	w := nodeLinkCBOR{
		Kind:          uint8(n.Kind),
		Codec:         uint64(n.Link.Codec),
		Hash:          append([]byte(nil), n.Link.Hash[:]...),
		Secret:        append([]byte(nil), n.Secret[:]...),
		MIME:          n.Meta.MIME,
		PlaintextHash: append([]byte(nil), n.Meta.PlaintextHash[:]...),
		Metadata:      n.Meta.Metadata,
	}
	return linkeddata.EncodeDagCBOR(w)
}

func (n *NodeLink) UnmarshalCBOR(b []byte) error {
	var w nodeLinkCBOR
	if err := cbor.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("node link: %w", err)
	}
	if len(w.Hash) != linkeddata.HashSize {
		return fmt.Errorf("node link: bad hash length %d", len(w.Hash))
	}
	if len(w.Secret) != wcrypto.SecretSize {
		return fmt.Errorf("node link: bad secret length %d", len(w.Secret))
	}
	n.Kind = NodeLinkKind(w.Kind)
	n.Link.Codec = linkeddata.Codec(w.Codec)
	copy(n.Link.Hash[:], w.Hash)
	copy(n.Secret[:], w.Secret)
	n.Meta = DataMeta{MIME: w.MIME, Metadata: w.Metadata}
	copy(n.Meta.PlaintextHash[:], w.PlaintextHash)
	return nil
}

// EncodeBlock implements linkeddata.Block: a Node is stored as canonical
// DAG-CBOR, addressed by the hash of its encrypted bytes (encryption
// happens one layer up, in Mount.Save).
func (n Node) EncodeBlock() (linkeddata.Codec, []byte, error) {
	b, err := linkeddata.EncodeDagCBOR(map[string]NodeLink(n))
	if err != nil {
		return 0, nil, err
	}
	return linkeddata.CodecDagCBOR, b, nil
}

// DecodeNode decodes a Node from its canonical DAG-CBOR encoding.
func DecodeNode(b []byte) (Node, error) {
	var m map[string]NodeLink
	if err := linkeddata.DecodeDagCBOR(b, &m); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return Node(m), nil
}

// Clone returns a shallow copy of n: each NodeLink is copied by value, but
// unaffected children are never re-encoded (path-copying mutation model).
func (n Node) Clone() Node {
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

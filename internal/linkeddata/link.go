package linkeddata

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Link is a content-addressed pointer: a codec tag plus the hash of the
// encoded, post-encryption bytes of the referenced block. Equality is
// structural.
type Link struct {
	Codec Codec
	Hash  Hash
}

// Less gives Link a total order by (codec, hash), used to linearize forks at
// the same bucket-log height: the head is the maximal Link among the heads.
func (l Link) Less(o Link) bool {
	if l.Codec != o.Codec {
		return l.Codec < o.Codec
	}
	return l.Hash.Less(o.Hash)
}

// Max returns the greatest link in links under Less, used by LogProvider.Head.
func Max(links []Link) Link {
	max := links[0]
	for _, l := range links[1:] {
		if max.Less(l) {
			max = l
		}
	}
	return max
}

func (l Link) String() string {
	return fmt.Sprintf("%s:%s", l.Codec, l.Hash)
}

// linkCBOR is the wire shape of a Link: a 2-element CBOR array, matching the
// compact encoding the rest of the corpus uses for small tagged structs.
type linkCBOR struct {
	_     struct{} `cbor:",toarray"`
	Codec uint64
	Hash  []byte
}

// MarshalCBOR implements cbor.Marshaler so Link nests cleanly inside Node,
// Manifest, etc. under the canonical encoder.
func (l Link) MarshalCBOR() ([]byte, error) {
	return dagCBOREncMode.Marshal(linkCBOR{Codec: uint64(l.Codec), Hash: append([]byte(nil), l.Hash[:]...)})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (l *Link) UnmarshalCBOR(b []byte) error {
	var w linkCBOR
	if err := cbor.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if len(w.Hash) != HashSize {
		return fmt.Errorf("link: hash has %d bytes, want %d", len(w.Hash), HashSize)
	}
	l.Codec = Codec(w.Codec)
	copy(l.Hash[:], w.Hash)
	return nil
}

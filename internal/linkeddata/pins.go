package linkeddata

import "sort"

// Pins is the exact set of blob hashes needed to rehydrate a manifest and
// every node/blob transitively reachable from it (spec invariant 5).
type Pins map[Hash]struct{}

// NewPins builds a Pins set from a slice of hashes.
func NewPins(hashes ...Hash) Pins {
	p := make(Pins, len(hashes))
	for _, h := range hashes {
		p[h] = struct{}{}
	}
	return p
}

// Add inserts h into the set.
func (p Pins) Add(h Hash) { p[h] = struct{}{} }

// Has reports whether h is pinned.
func (p Pins) Has(h Hash) bool {
	_, ok := p[h]
	return ok
}

// Sorted returns the pinned hashes in ascending order, for deterministic
// encoding as a HashSeq block.
func (p Pins) Sorted() []Hash {
	out := make([]Hash, 0, len(p))
	for h := range p {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// hashSeqCBOR is the wire shape of a Pins block: a sorted sequence of raw
// 32-byte hashes, addressed like any other dag-cbor block.
type hashSeqCBOR struct {
	_      struct{} `cbor:",toarray"`
	Hashes [][]byte
}

// EncodeBlock implements Block: Pins is stored as a canonical, sorted
// HashSeq so the encoding (and therefore its own Link) is deterministic.
func (p Pins) EncodeBlock() (Codec, []byte, error) {
	sorted := p.Sorted()
	w := hashSeqCBOR{Hashes: make([][]byte, len(sorted))}
	for i, h := range sorted {
		w.Hashes[i] = append([]byte(nil), h[:]...)
	}
	b, err := EncodeDagCBOR(w)
	if err != nil {
		return 0, nil, err
	}
	return CodecDagCBOR, b, nil
}

// DecodePins decodes a HashSeq block produced by Pins.EncodeBlock.
func DecodePins(b []byte) (Pins, error) {
	var w hashSeqCBOR
	if err := DecodeDagCBOR(b, &w); err != nil {
		return nil, err
	}
	p := make(Pins, len(w.Hashes))
	for _, raw := range w.Hashes {
		var h Hash
		copy(h[:], raw)
		p[h] = struct{}{}
	}
	return p, nil
}

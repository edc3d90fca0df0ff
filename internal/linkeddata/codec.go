package linkeddata

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec identifies how a Link's referent block is encoded.
type Codec uint64

const (
	// CodecRaw is the identity encoding, used for encrypted file blobs.
	CodecRaw Codec = 0x55
	// CodecDagCBOR is canonical, sorted-key CBOR, used for Node, Manifest
	// and Pins blocks.
	CodecDagCBOR Codec = 0x71
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecDagCBOR:
		return "dag-cbor"
	default:
		return fmt.Sprintf("codec(0x%x)", uint64(c))
	}
}

// dagCBOREncMode is the single canonical DAG-CBOR encoder shared by every
// caller: sorted map keys, definite-length containers, no superfluous tags.
var dagCBOREncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("linkeddata: building canonical cbor encoder: %v", err))
	}
	return mode
}()

// EncodeDagCBOR canonically encodes v (sorted map keys, definite length).
func EncodeDagCBOR(v any) ([]byte, error) {
	b, err := dagCBOREncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dag-cbor encode: %w", err)
	}
	return b, nil
}

// DecodeDagCBOR decodes b (produced by EncodeDagCBOR, or any canonical
// DAG-CBOR producer) into v.
func DecodeDagCBOR(b []byte, v any) error {
	if err := cbor.Unmarshal(b, v); err != nil {
		return fmt.Errorf("dag-cbor decode: %w", err)
	}
	return nil
}

// Block is anything that can be encoded under a Codec and content-addressed
// by the hash of its encoded bytes.
type Block interface {
	// EncodeBlock returns the bytes to be hashed and stored for this block,
	// and the codec they were encoded under.
	EncodeBlock() (Codec, []byte, error)
}

// LinkBlock encodes b and returns the Link that addresses it, alongside the
// encoded bytes so the caller can write them to a BlobStore.
func LinkBlock(b Block) (Link, []byte, error) {
	codec, encoded, err := b.EncodeBlock()
	if err != nil {
		return Link{}, nil, err
	}
	return Link{Codec: codec, Hash: SumHash(encoded)}, encoded, nil
}

// HashBlock encodes b and returns the Link that would address it, without
// returning the encoded bytes. Used where only a commitment to b's current
// content is needed (nothing is written to a BlobStore from it).
func HashBlock(b Block) (Link, error) {
	link, _, err := LinkBlock(b)
	return link, err
}

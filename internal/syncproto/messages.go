// Package syncproto implements the overlay wire protocol (L5): two
// libp2p protocol IDs carrying length-prefixed DAG-CBOR frames between
// identity-addressed peers, plus the client calls that drive them.
package syncproto

import (
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/weftfs/weft/internal/linkeddata"
)

const (
	// ProtocolBlobs is the streaming blob-fetch-by-hash subprotocol.
	ProtocolBlobs = protocol.ID("/weft/blobs/1.0.0")
	// ProtocolSync is the Ping/Announce control subprotocol.
	ProtocolSync = protocol.ID("/weft/sync/1.0.0")
)

// Status is a Pong's reply code.
type Status uint8

const (
	StatusNotFound Status = iota
	StatusBehind
	StatusInSync
	StatusOutOfSync
	StatusAhead
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusBehind:
		return "behind"
	case StatusInSync:
		return "in_sync"
	case StatusOutOfSync:
		return "out_of_sync"
	case StatusAhead:
		return "ahead"
	default:
		return "unknown"
	}
}

// PingMsg announces the sender's view of a bucket and asks for the
// receiver's.
type PingMsg struct {
	BucketID uuid.UUID
	Link     linkeddata.Link
	Height   uint64
}

// AnnounceMsg is a fire-and-forget notification of a new bucket version.
type AnnounceMsg struct {
	BucketID uuid.UUID
	Link     linkeddata.Link
}

// Pong is the reply to a Ping, carrying the receiver's comparison result
// and, where relevant, its own current link.
type Pong struct {
	Status  Status
	OurLink *linkeddata.Link
}

// kind tags which variant an envelope carries, since Ping/Announce share
// one stream protocol.
type kind uint8

const (
	kindPing kind = iota + 1
	kindAnnounce
	kindPong
)

// envelope is the wire struct every sync-protocol frame is wrapped in.
type envelope struct {
	_        struct{} `cbor:",toarray"`
	Kind     kind
	Ping     *PingMsg
	Announce *AnnounceMsg
	Pong     *pongCBOR
}

type pongCBOR struct {
	_       struct{} `cbor:",toarray"`
	Status  uint8
	HasLink bool
	Link    linkeddata.Link
}

func encodePing(m PingMsg) ([]byte, error) {
	return linkeddata.EncodeDagCBOR(envelope{Kind: kindPing, Ping: &m})
}

func encodeAnnounce(m AnnounceMsg) ([]byte, error) {
	return linkeddata.EncodeDagCBOR(envelope{Kind: kindAnnounce, Announce: &m})
}

func encodePong(p Pong) ([]byte, error) {
	w := pongCBOR{Status: uint8(p.Status)}
	if p.OurLink != nil {
		w.HasLink = true
		w.Link = *p.OurLink
	}
	return linkeddata.EncodeDagCBOR(envelope{Kind: kindPong, Pong: &w})
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	if err := linkeddata.DecodeDagCBOR(b, &e); err != nil {
		return envelope{}, err
	}
	return e, nil
}

func (p pongCBOR) toPong() Pong {
	out := Pong{Status: Status(p.Status)}
	if p.HasLink {
		l := p.Link
		out.OurLink = &l
	}
	return out
}

package syncproto

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/werrors"
)

// pingTimeout and blobFetchTimeout are the per-kind outbound timeouts.
const (
	pingTimeout      = 10 * time.Second
	blobFetchTimeout = 60 * time.Second
)

// Client drives the two protocols from the initiating side.
type Client struct {
	host *Host
}

// NewClient wraps h for outbound calls.
func NewClient(h *Host) *Client { return &Client{host: h} }

// PingPeer sends Ping(bucket_id, link, height) to peerID and returns its
// Pong.
func (c *Client) PingPeer(ctx context.Context, peerID peer.ID, msg PingMsg) (Pong, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	s, err := c.host.Raw().NewStream(ctx, peerID, ProtocolSync)
	if err != nil {
		return Pong{}, werrors.Wrap(werrors.Timeout, "open sync stream", err)
	}
	defer s.Close()
	s.SetDeadline(time.Now().Add(pingTimeout))

	frame, err := encodePing(msg)
	if err != nil {
		return Pong{}, err
	}
	if err := writeFrame(s, frame); err != nil {
		return Pong{}, werrors.Wrap(werrors.Timeout, "write ping", err)
	}
	reply, err := readFrame(s)
	if err != nil {
		return Pong{}, werrors.Wrap(werrors.Timeout, "read pong", err)
	}
	env, err := decodeEnvelope(reply)
	if err != nil {
		return Pong{}, err
	}
	if env.Kind != kindPong || env.Pong == nil {
		return Pong{}, fmt.Errorf("syncproto: expected pong, got kind %d", env.Kind)
	}
	return env.Pong.toPong(), nil
}

// AnnounceToPeer is fire-and-forget: it sends Announce(bucket_id, link) and
// does not wait for (or expect) a reply.
func (c *Client) AnnounceToPeer(ctx context.Context, peerID peer.ID, msg AnnounceMsg) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	s, err := c.host.Raw().NewStream(ctx, peerID, ProtocolSync)
	if err != nil {
		return werrors.Wrap(werrors.Timeout, "open sync stream", err)
	}
	defer s.Close()
	s.SetDeadline(time.Now().Add(pingTimeout))

	frame, err := encodeAnnounce(msg)
	if err != nil {
		return err
	}
	if err := writeFrame(s, frame); err != nil {
		return werrors.Wrap(werrors.Timeout, "write announce", err)
	}
	return nil
}

// FetchBucket streams a single block by hash from peerID over the blobs
// protocol, verifying the returned bytes hash to link.Hash before
// returning them. Recursive manifest-chain/pin walking is the caller's
// concern (internal/scheduler).
func (c *Client) FetchBucket(ctx context.Context, peerID peer.ID, link linkeddata.Link) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, blobFetchTimeout)
	defer cancel()

	s, err := c.host.Raw().NewStream(ctx, peerID, ProtocolBlobs)
	if err != nil {
		return nil, werrors.Wrap(werrors.Timeout, "open blobs stream", err)
	}
	defer s.Close()
	s.SetDeadline(time.Now().Add(blobFetchTimeout))

	if err := writeFrame(s, append([]byte(nil), link.Hash[:]...)); err != nil {
		return nil, werrors.Wrap(werrors.Timeout, "write blob request", err)
	}
	data, err := readFrame(s)
	if err != nil {
		return nil, werrors.Wrap(werrors.Timeout, "read blob reply", err)
	}
	if len(data) == 0 {
		return nil, werrors.New(werrors.LinkNotFound, link.String(), nil)
	}
	got := linkeddata.SumHash(data)
	if got != link.Hash {
		return nil, werrors.New(werrors.Decrypt, fmt.Sprintf("fetched block hash %s does not match requested %s", got, link.Hash), nil)
	}
	return data, nil
}

package syncproto

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/linkeddata"
)

// streamTimeout bounds how long a handler will wait on a single inbound
// stream before giving up, so a stalled peer can't pin a goroutine forever.
const streamTimeout = 30 * time.Second

// Dispatcher lets the protocol handlers enqueue follow-up work without
// syncproto depending on the scheduler's Job type (the scheduler instead
// depends on syncproto's Client, so the dependency only runs one way).
type Dispatcher interface {
	DispatchSyncBucket(bucketID uuid.UUID, targetLink linkeddata.Link, targetHeight uint64, peerID peer.ID) error
}

// RegisterHandlers wires both ALPN-equivalent protocols onto h, serving
// local state from logs and blobs and handing sync work to dispatch.
func RegisterHandlers(h *Host, logs bucketlog.LogProvider, blobs blobstore.BlobStore, dispatch Dispatcher) {
	h.Raw().SetStreamHandler(ProtocolBlobs, func(s network.Stream) {
		defer s.Close()
		if err := serveBlobFetch(s, blobs); err != nil {
			logrus.WithError(err).WithField("protocol", ProtocolBlobs).Warn("blob fetch handler failed")
		}
	})
	h.Raw().SetStreamHandler(ProtocolSync, func(s network.Stream) {
		defer s.Close()
		if err := serveSync(s, logs, dispatch); err != nil {
			logrus.WithError(err).WithField("protocol", ProtocolSync).Warn("sync handler failed")
		}
	})
}

func serveBlobFetch(s network.Stream, blobs blobstore.BlobStore) error {
	s.SetDeadline(time.Now().Add(streamTimeout))
	req, err := readFrame(s)
	if err != nil {
		return err
	}
	var h linkeddata.Hash
	if len(req) != linkeddata.HashSize {
		return writeFrame(s, []byte{})
	}
	copy(h[:], req)

	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	data, err := blobs.Get(ctx, h)
	if err != nil {
		// Not found: reply with an empty frame; the client treats this as
		// a miss rather than tearing down the connection.
		return writeFrame(s, []byte{})
	}
	return writeFrame(s, data)
}

func serveSync(s network.Stream, logs bucketlog.LogProvider, dispatch Dispatcher) error {
	s.SetDeadline(time.Now().Add(streamTimeout))
	frame, err := readFrame(s)
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	sender := s.Conn().RemotePeer()

	switch env.Kind {
	case kindPing:
		pong, err := handlePing(ctx, logs, dispatch, sender, *env.Ping)
		if err != nil {
			return err
		}
		b, err := encodePong(pong)
		if err != nil {
			return err
		}
		return writeFrame(s, b)
	case kindAnnounce:
		a := *env.Announce
		if err := dispatch.DispatchSyncBucket(a.BucketID, a.Link, 0, sender); err != nil {
			logrus.WithError(err).Warn("dispatch sync_bucket from announce failed")
		}
		return nil
	default:
		return io.ErrUnexpectedEOF
	}
}

// handlePing implements the receiving side of Ping per the wire protocol's
// handler semantics: NotFound/Behind/OutOfSync/InSync/Ahead, with a
// bootstrap SyncBucket dispatch on NotFound or Behind.
func handlePing(ctx context.Context, logs bucketlog.LogProvider, dispatch Dispatcher, sender peer.ID, ping PingMsg) (Pong, error) {
	exists, err := logs.Exists(ctx, ping.BucketID)
	if err != nil {
		return Pong{}, err
	}
	if !exists {
		// We may not hold this bucket at all yet; bootstrap from the
		// sender regardless of authorization, since we cannot evaluate
		// manifest shares without first fetching a manifest.
		_ = dispatch.DispatchSyncBucket(ping.BucketID, ping.Link, ping.Height, sender)
		return Pong{Status: StatusNotFound}, nil
	}

	heights, err := logs.Has(ctx, ping.BucketID, ping.Link)
	if err != nil {
		return Pong{}, err
	}
	if len(heights) == 0 {
		ourLink, _, err := logs.Head(ctx, ping.BucketID, nil)
		if err != nil {
			return Pong{}, err
		}
		if err := dispatch.DispatchSyncBucket(ping.BucketID, ping.Link, ping.Height, sender); err != nil {
			logrus.WithError(err).Warn("dispatch sync_bucket on behind failed")
		}
		return Pong{Status: StatusBehind, OurLink: &ourLink}, nil
	}

	found := false
	for _, h := range heights {
		if h == ping.Height {
			found = true
			break
		}
	}
	if !found {
		return Pong{Status: StatusOutOfSync}, nil
	}

	ourLink, ourHeight, err := logs.Head(ctx, ping.BucketID, nil)
	if err != nil {
		return Pong{}, err
	}
	if ourHeight == ping.Height && ourLink == ping.Link {
		return Pong{Status: StatusInSync}, nil
	}
	return Pong{Status: StatusAhead, OurLink: &ourLink}, nil
}

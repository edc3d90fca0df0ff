package scheduler

import (
	"context"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/mount"
	"github.com/weftfs/weft/internal/syncproto"
	"github.com/weftfs/weft/internal/werrors"
)

type chainEntry struct {
	link     linkeddata.Link
	raw      []byte
	manifest *mount.Manifest
}

// executeSyncBucket walks the remote manifest chain from job.TargetLink
// backwards until it either joins the local log or bottoms out at
// genesis, validates the remote-only segment, and appends it.
func (w *Worker) executeSyncBucket(ctx context.Context, job SyncBucketJob) error {
	exists, err := w.logs.Exists(ctx, job.BucketID)
	if err != nil {
		return err
	}

	var segment []chainEntry
	joined := false
	current := job.TargetLink
	for {
		raw, err := w.client.FetchBucket(ctx, job.PeerID, current)
		if err != nil {
			return err
		}
		m, err := mount.DecodeManifest(raw)
		if err != nil {
			return werrors.Wrap(werrors.InvalidManifestInChain, "decode manifest", err)
		}
		if m.ID != job.BucketID {
			return werrors.New(werrors.InvalidManifestInChain, "bucket id mismatch in remote chain", nil)
		}
		segment = append(segment, chainEntry{link: current, raw: raw, manifest: m})

		if m.Previous == nil {
			break
		}
		heights, err := w.logs.Has(ctx, job.BucketID, *m.Previous)
		if err != nil {
			return err
		}
		if len(heights) > 0 {
			joined = true
			break
		}
		current = *m.Previous
	}
	if exists && !joined {
		return werrors.New(werrors.InvalidManifestInChain, "forked genesis: remote chain shares no join point with local log", nil)
	}

	// segment was built newest-first; reverse to ascending height order.
	for i, j := 0, len(segment)-1; i < j; i, j = i+1, j-1 {
		segment[i], segment[j] = segment[j], segment[i]
	}

	var prevHeight *uint64
	for _, e := range segment {
		if !w.authorizedFor(e.manifest) {
			return werrors.New(werrors.NotAuthorized, e.manifest.ID.String(), nil)
		}
		if prevHeight != nil && e.manifest.Height != *prevHeight+1 {
			return werrors.New(werrors.InvalidManifestInChain, "height does not increase by 1 along chain", nil)
		}
		h := e.manifest.Height
		prevHeight = &h
	}

	for _, e := range segment {
		pinsJob := DownloadPinsJob{PinsLink: e.manifest.Pins, PeerIDs: []peer.ID{job.PeerID}}
		if err := w.queue.Enqueue(Job{Kind: JobDownloadPins, DownloadPins: &pinsJob}); err != nil {
			logrus.WithError(err).Warn("sync_bucket: dispatch download_pins failed")
		}
	}

	for _, e := range segment {
		if _, err := w.blobs.Put(ctx, e.raw); err != nil {
			return werrors.Wrap(werrors.Storage, "store synced manifest", err)
		}

		entry := bucketlog.Entry{
			BucketID:  e.manifest.ID,
			Name:      e.manifest.Name,
			Current:   e.link,
			Previous:  e.manifest.Previous,
			Height:    e.manifest.Height,
			Published: e.manifest.IsPublished(),
		}
		if err := w.logs.Append(ctx, entry); err != nil {
			if werrors.Of(err, werrors.Conflict) {
				continue
			}
			return err
		}
	}
	return nil
}

// authorizedFor reports whether this worker's identity may hold m: either
// it appears in m's shares, or m is published (implicit mirror access).
func (w *Worker) authorizedFor(m *mount.Manifest) bool {
	if _, ok := m.Shares[w.self.ToHex()]; ok {
		return true
	}
	return m.IsPublished()
}

// executeDownloadPins fetches the pins block, then every hash it names
// that the local blob store doesn't already have, trying peers in order
// and falling through to the next on failure.
func (w *Worker) executeDownloadPins(ctx context.Context, job DownloadPinsJob) error {
	raw, err := w.fetchFromAnyPeer(ctx, job.PeerIDs, job.PinsLink)
	if err != nil {
		return err
	}
	pins, err := linkeddata.DecodePins(raw)
	if err != nil {
		return werrors.Wrap(werrors.Decrypt, "decode pins block", err)
	}

	for _, h := range pins.Sorted() {
		has, err := w.blobs.Has(ctx, h)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		data, err := w.fetchFromAnyPeer(ctx, job.PeerIDs, linkeddata.Link{Codec: linkeddata.CodecRaw, Hash: h})
		if err != nil {
			return err
		}
		if _, err := w.blobs.Put(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) fetchFromAnyPeer(ctx context.Context, peerIDs []peer.ID, link linkeddata.Link) ([]byte, error) {
	var lastErr error
	for _, id := range peerIDs {
		data, err := w.client.FetchBucket(ctx, id, link)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = werrors.New(werrors.LinkNotFound, link.String(), nil)
	}
	return nil, lastErr
}

// executePingPeer reads the local head for the job's bucket (or a
// sentinel if we hold none yet), pings the peer, and dispatches a
// SyncBucket catch-up if the peer reports it is ahead.
func (w *Worker) executePingPeer(ctx context.Context, job PingPeerJob) error {
	link, height, err := w.logs.Head(ctx, job.BucketID, nil)
	if err != nil {
		if !werrors.Of(err, werrors.HeadNotFound) {
			return err
		}
		link = linkeddata.Link{Codec: linkeddata.CodecDagCBOR, Hash: linkeddata.Hash{}}
		height = 0
	}

	pong, err := w.client.PingPeer(ctx, job.PeerID, syncproto.PingMsg{BucketID: job.BucketID, Link: link, Height: height})
	if err != nil {
		return err
	}
	if pong.Status == syncproto.StatusAhead && pong.OurLink != nil {
		return w.queue.Enqueue(syncBucketJob(job.BucketID, *pong.OurLink, 0, job.PeerID))
	}
	return nil
}

// currentManifest reads the bucket's current manifest from the local blob
// store (the manifest itself is unencrypted, so this needs no secret).
func (w *Worker) currentManifest(ctx context.Context, bucketID uuid.UUID) (*mount.Manifest, error) {
	head, _, err := w.logs.Head(ctx, bucketID, nil)
	if err != nil {
		return nil, err
	}
	raw, err := w.blobs.Get(ctx, head.Hash)
	if err != nil {
		return nil, err
	}
	return mount.DecodeManifest(raw)
}

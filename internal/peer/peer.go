// Package peer wires the overlay transport, the bucket log, the blob
// store and the scheduler into a single running node (L7), the surface
// cmd/weftd drives.
package peer

import (
	"context"
	"time"

	"github.com/google/uuid"
	libp2pPeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/sirupsen/logrus"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/mount"
	"github.com/weftfs/weft/internal/scheduler"
	"github.com/weftfs/weft/internal/syncproto"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
)

// Peer is one running node: an overlay host, its blob store and bucket
// log, and the scheduler worker that drives sync on their behalf.
type Peer struct {
	host   *syncproto.Host
	client *syncproto.Client
	logs   bucketlog.LogProvider
	blobs  blobstore.BlobStore
	self   wcrypto.SecretKey

	queue  *scheduler.Queue
	worker *scheduler.Worker
}

// ID returns this peer's overlay (libp2p) identity.
func (p *Peer) ID() string { return p.host.ID() }

// Addrs returns the multiaddrs this peer is reachable on.
func (p *Peer) Addrs() []string { return p.host.Addrs() }

// SecretKey returns this peer's Ed25519 identity.
func (p *Peer) SecretKey() wcrypto.SecretKey { return p.self }

// Logs returns the bucket log this peer reads and appends to.
func (p *Peer) Logs() bucketlog.LogProvider { return p.logs }

// Dispatch enqueues a job directly, bypassing the protocol handlers. Used
// by callers (tests, admin tooling) that want to kick off sync work
// without waiting for the periodic tick or an incoming Announce.
func (p *Peer) Dispatch(job scheduler.Job) error { return p.queue.Enqueue(job) }

// CreateBucket initializes a brand-new bucket owned solely by this peer
// and saves its genesis version, returning the new bucket's id.
func (p *Peer) CreateBucket(ctx context.Context, name string) (uuid.UUID, error) {
	id := uuid.New()
	m, err := mount.Init(id, name, p.self, p.blobs)
	if err != nil {
		return uuid.UUID{}, err
	}
	if _, err := p.SaveMount(ctx, m, false); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// Mount loads the bucket at its current local head, for read-write use by
// an owner. Fails with MirrorCannotMount if this peer holds no usable
// share for the head manifest.
func (p *Peer) Mount(ctx context.Context, bucketID uuid.UUID) (*mount.Mount, error) {
	head, _, err := p.logs.Head(ctx, bucketID, nil)
	if err != nil {
		return nil, err
	}
	return mount.Load(ctx, head, p.self, p.blobs)
}

// MountForRead loads the bucket for reading: owners (or anyone holding a
// usable share at head) get the current head; mirrors fall back to the
// latest published version, or fail with MirrorCannotMount if the bucket
// has never been published.
func (p *Peer) MountForRead(ctx context.Context, bucketID uuid.UUID) (*mount.Mount, error) {
	head, _, err := p.logs.Head(ctx, bucketID, nil)
	if err != nil {
		return nil, err
	}
	m, err := mount.Load(ctx, head, p.self, p.blobs)
	if err == nil {
		return m, nil
	}
	if !werrors.Of(err, werrors.MirrorCannotMount) {
		return nil, err
	}

	pubLink, _, ok, perr := p.logs.LatestPublished(ctx, bucketID)
	if perr != nil {
		return nil, perr
	}
	if !ok {
		return nil, err
	}
	return mount.Load(ctx, pubLink, p.self, p.blobs)
}

// SaveMount saves m, appends the resulting version to the local bucket
// log, and fires an Announce to every other principal in the new
// manifest so they can catch up without waiting for the next periodic
// ping. Announce is a single best-effort network call, not a retried
// queued job, matching the fire-and-forget semantics of a version
// broadcast: a principal that misses it will still learn of the new head
// from the next periodic ping.
func (p *Peer) SaveMount(ctx context.Context, m *mount.Mount, publish bool) (SaveOutcome, error) {
	result, err := m.Save(ctx, publish)
	if err != nil {
		return SaveOutcome{}, err
	}
	manifest := m.Manifest()

	entry := bucketlog.Entry{
		BucketID:  manifest.ID,
		Name:      manifest.Name,
		Current:   result.NewLink,
		Previous:  result.PreviousLink,
		Height:    result.NewHeight,
		Published: manifest.IsPublished(),
	}
	if err := p.logs.Append(ctx, entry); err != nil {
		return SaveOutcome{}, err
	}

	for key, share := range manifest.Shares {
		if key == p.self.Public().ToHex() {
			continue
		}
		peerID, err := syncproto.PeerIDForPublicKey(share.Principal.Identity)
		if err != nil {
			continue
		}
		msg := syncproto.AnnounceMsg{BucketID: manifest.ID, Link: result.NewLink}
		go func(peerID libp2pPeer.ID, msg syncproto.AnnounceMsg) {
			ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
			defer cancel()
			if err := p.client.AnnounceToPeer(ctx, peerID, msg); err != nil {
				logrus.WithError(err).WithField("bucket", manifest.ID).Debug("save_mount: announce failed")
			}
		}(peerID, msg)
	}

	return SaveOutcome{Link: result.NewLink, Height: result.NewHeight}, nil
}

// announceTimeout bounds the best-effort Announce call SaveMount fires
// off per principal.
const announceTimeout = 10 * time.Second

// SaveOutcome reports the version SaveMount just produced.
type SaveOutcome struct {
	Link   linkeddata.Link
	Height uint64
}

// Ping enqueues a PingPeer job against every non-self principal holding a
// share of bucketID's current manifest, on demand (outside the periodic
// tick).
func (p *Peer) Ping(ctx context.Context, bucketID uuid.UUID) error {
	head, _, err := p.logs.Head(ctx, bucketID, nil)
	if err != nil {
		return err
	}
	raw, err := p.blobs.Get(ctx, head.Hash)
	if err != nil {
		return err
	}
	manifest, err := mount.DecodeManifest(raw)
	if err != nil {
		return err
	}
	for key, share := range manifest.Shares {
		if key == p.self.Public().ToHex() {
			continue
		}
		peerID, err := syncproto.PeerIDForPublicKey(share.Principal.Identity)
		if err != nil {
			continue
		}
		if err := p.Dispatch(scheduler.Job{Kind: scheduler.JobPingPeer, PingPeer: &scheduler.PingPeerJob{BucketID: bucketID, PeerID: peerID}}); err != nil {
			return err
		}
	}
	return nil
}

// Spawn runs the scheduler worker (periodic tick plus job execution)
// until ctx is cancelled, draining in-flight jobs on the way out. It
// blocks for the worker's lifetime; callers typically run it in its own
// goroutine.
func (p *Peer) Spawn(ctx context.Context) {
	p.worker.Run(ctx)
}

// Close shuts down the overlay host. Callers should cancel the context
// passed to Spawn first so the worker's drain window runs before the
// host's listeners are torn down.
func (p *Peer) Close() error {
	return p.host.Close()
}

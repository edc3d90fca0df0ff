package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/syncproto"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
)

const (
	syncJobTimeout    = 300 * time.Second
	defaultJobTimeout = 30 * time.Second
	tickInterval      = 60 * time.Second
	maxRetries        = 3
)

var retryBackoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// peerClient is the subset of *syncproto.Client the worker needs, broken
// out as an interface so job execution can be tested without a real
// libp2p host.
type peerClient interface {
	PingPeer(ctx context.Context, peerID peer.ID, msg syncproto.PingMsg) (syncproto.Pong, error)
	AnnounceToPeer(ctx context.Context, peerID peer.ID, msg syncproto.AnnounceMsg) error
	FetchBucket(ctx context.Context, peerID peer.ID, link linkeddata.Link) ([]byte, error)
}

// Worker drains the Queue, executing each job exactly once to completion
// (with retry on Timeout), and drives the periodic liveness tick.
type Worker struct {
	queue  *Queue
	logs   bucketlog.LogProvider
	blobs  blobstore.BlobStore
	client peerClient
	self   wcrypto.PublicKey
}

// NewWorker builds a Worker over the given collaborators. self is this
// peer's own identity, used to skip self-pings and to check manifest-share
// authorization during SyncBucket.
func NewWorker(queue *Queue, logs bucketlog.LogProvider, blobs blobstore.BlobStore, client *syncproto.Client, self wcrypto.PublicKey) *Worker {
	return &Worker{queue: queue, logs: logs, blobs: blobs, client: client, self: self}
}

// DispatchSyncBucket implements syncproto.Dispatcher, letting the protocol
// handlers enqueue bootstrap/catch-up work directly.
func (w *Worker) DispatchSyncBucket(bucketID uuid.UUID, targetLink linkeddata.Link, targetHeight uint64, peerID peer.ID) error {
	return w.queue.Enqueue(syncBucketJob(bucketID, targetLink, targetHeight, peerID))
}

// Run drains the queue and runs the periodic tick until ctx is cancelled.
// On cancellation it drains any remaining jobs for up to 30s before
// returning, per the shutdown contract in spec §5.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.tick(ctx)
		case job := <-w.queue.ch:
			w.runJob(ctx, job)
		}
	}
}

// drain gives queued jobs up to 30s to finish after shutdown is signaled.
func (w *Worker) drain() {
	deadline := time.Now().Add(defaultJobTimeout)
	for time.Now().Before(deadline) {
		select {
		case job := <-w.queue.ch:
			ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
			w.runJob(ctx, job)
			cancel()
		default:
			return
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job Job) {
	timeout := defaultJobTimeout
	if job.Kind == JobSyncBucket || job.Kind == JobDownloadPins {
		timeout = syncJobTimeout
	}

	err := w.retrying(ctx, timeout, func(ctx context.Context) error {
		switch job.Kind {
		case JobSyncBucket:
			return w.executeSyncBucket(ctx, *job.SyncBucket)
		case JobDownloadPins:
			return w.executeDownloadPins(ctx, *job.DownloadPins)
		case JobPingPeer:
			return w.executePingPeer(ctx, *job.PingPeer)
		default:
			return nil
		}
	})
	if err != nil {
		logrus.WithError(err).WithField("job", job.Kind.String()).Warn("job failed")
	}
}

// retrying runs fn up to maxRetries+1 times, retrying only on a Timeout
// error, with exponential backoff (spec §7: "Job retried up to 3 times
// with exponential backoff (1s, 4s, 16s)").
func (w *Worker) retrying(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(jobCtx)
		cancel()
		if err == nil || !werrors.Of(err, werrors.Timeout) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		select {
		case <-time.After(retryBackoff[attempt]):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// tick lists every bucket the log knows about and dispatches a PingPeer job
// for each non-self principal in its current manifest.
func (w *Worker) tick(ctx context.Context) {
	buckets, err := w.logs.ListBuckets(ctx)
	if err != nil {
		logrus.WithError(err).Warn("periodic tick: list buckets failed")
		return
	}
	for _, id := range buckets {
		manifest, err := w.currentManifest(ctx, id)
		if err != nil {
			logrus.WithError(err).WithField("bucket", id).Warn("periodic tick: read manifest failed")
			continue
		}
		for _, share := range manifest.Shares {
			if share.Principal.Identity.ToHex() == w.self.ToHex() {
				continue
			}
			peerID, err := syncproto.PeerIDForPublicKey(share.Principal.Identity)
			if err != nil {
				logrus.WithError(err).Warn("periodic tick: derive peer id failed")
				continue
			}
			if err := w.queue.Enqueue(Job{Kind: JobPingPeer, PingPeer: &PingPeerJob{BucketID: id, PeerID: peerID}}); err != nil {
				logrus.WithError(err).Warn("periodic tick: dispatch ping_peer failed")
			}
		}
	}
}

// Package scheduler implements the bounded job queue and worker (L6) that
// drives bucket synchronization: SyncBucket, DownloadPins, and PingPeer
// jobs, plus the periodic liveness tick.
package scheduler

import (
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weftfs/weft/internal/linkeddata"
)

// JobKind tags which variant a Job carries.
type JobKind uint8

const (
	JobSyncBucket JobKind = iota + 1
	JobDownloadPins
	JobPingPeer
)

func (k JobKind) String() string {
	switch k {
	case JobSyncBucket:
		return "sync_bucket"
	case JobDownloadPins:
		return "download_pins"
	case JobPingPeer:
		return "ping_peer"
	default:
		return "unknown"
	}
}

// Job is the scheduler's unit of work: a tagged union over the three job
// types the spec names.
type Job struct {
	Kind         JobKind
	SyncBucket   *SyncBucketJob
	DownloadPins *DownloadPinsJob
	PingPeer     *PingPeerJob
}

// SyncBucketJob walks a remote manifest chain into the local log.
type SyncBucketJob struct {
	BucketID     uuid.UUID
	TargetLink   linkeddata.Link
	TargetHeight uint64
	PeerID       peer.ID
}

// DownloadPinsJob fetches every blob reachable from a pins block that the
// local blob store doesn't already hold.
type DownloadPinsJob struct {
	PinsLink linkeddata.Link
	PeerIDs  []peer.ID
}

// PingPeerJob asks one peer for its view of one bucket.
type PingPeerJob struct {
	BucketID uuid.UUID
	PeerID   peer.ID
}

func syncBucketJob(bucketID uuid.UUID, targetLink linkeddata.Link, targetHeight uint64, peerID peer.ID) Job {
	return Job{Kind: JobSyncBucket, SyncBucket: &SyncBucketJob{
		BucketID: bucketID, TargetLink: targetLink, TargetHeight: targetHeight, PeerID: peerID,
	}}
}

package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/linkeddata"
	"github.com/weftfs/weft/internal/mount"
	"github.com/weftfs/weft/internal/syncproto"
	"github.com/weftfs/weft/internal/wcrypto"
)

const testPeerID peer.ID = "test-peer"

// fakeClient serves FetchBucket from an in-memory hash->bytes map and lets
// tests script PingPeer's reply.
type fakeClient struct {
	blocks   map[linkeddata.Hash][]byte
	pongs    map[peer.ID]syncproto.Pong
	announce []syncproto.AnnounceMsg
}

func newFakeClient() *fakeClient {
	return &fakeClient{blocks: map[linkeddata.Hash][]byte{}, pongs: map[peer.ID]syncproto.Pong{}}
}

func (f *fakeClient) put(b linkeddata.Block) linkeddata.Link {
	link, raw, err := linkeddata.LinkBlock(b)
	if err != nil {
		panic(err)
	}
	f.blocks[link.Hash] = raw
	return link
}

func (f *fakeClient) PingPeer(_ context.Context, peerID peer.ID, _ syncproto.PingMsg) (syncproto.Pong, error) {
	return f.pongs[peerID], nil
}

func (f *fakeClient) AnnounceToPeer(_ context.Context, _ peer.ID, msg syncproto.AnnounceMsg) error {
	f.announce = append(f.announce, msg)
	return nil
}

func (f *fakeClient) FetchBucket(_ context.Context, _ peer.ID, link linkeddata.Link) ([]byte, error) {
	b, ok := f.blocks[link.Hash]
	if !ok {
		return nil, fmt.Errorf("fake client: block %s not found", link)
	}
	return b, nil
}

func newTestWorker(t *testing.T, self wcrypto.PublicKey, client peerClient) (*Worker, *bucketlog.MemLogProvider, blobstore.BlobStore) {
	t.Helper()
	logs := bucketlog.NewMemLogProvider()
	blobs := blobstore.NewMemStore()
	w := &Worker{queue: NewQueue(16), logs: logs, blobs: blobs, client: client, self: self}
	return w, logs, blobs
}

func TestQueueFullOnOverflow(t *testing.T) {
	q := NewQueue(1)
	if err := q.Enqueue(Job{Kind: JobPingPeer}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(Job{Kind: JobPingPeer}); err == nil {
		t.Fatal("expected QueueFull on second enqueue")
	}
}

func TestExecuteSyncBucketGenesisBootstrap(t *testing.T) {
	self, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client := newFakeClient()
	w, logs, _ := newTestWorker(t, self.Public(), client)

	bucketID := uuid.New()
	pins := client.put(linkeddata.NewPins())
	genesis := &mount.Manifest{
		ID:     bucketID,
		Name:   "bucket",
		Shares: map[string]mount.Share{self.Public().ToHex(): {Principal: mount.Principal{Role: mount.RoleOwner, Identity: self.Public()}}},
		Pins:   pins,
		Height: 0,
	}
	link := client.put(genesis)

	ctx := context.Background()
	if err := w.executeSyncBucket(ctx, SyncBucketJob{BucketID: bucketID, TargetLink: link, PeerID: testPeerID}); err != nil {
		t.Fatalf("execute sync_bucket: %v", err)
	}

	height, err := logs.Height(ctx, bucketID)
	if err != nil || height != 0 {
		t.Fatalf("height = %d, %v, want 0", height, err)
	}
	head, _, err := logs.Head(ctx, bucketID, nil)
	if err != nil || head != link {
		t.Fatalf("head = %v, %v, want %v", head, err, link)
	}
	if w.queue.Len() != 1 {
		t.Fatalf("queued jobs = %d, want 1 (download_pins)", w.queue.Len())
	}
}

func TestExecuteSyncBucketRejectsUnauthorized(t *testing.T) {
	self, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client := newFakeClient()
	w, _, _ := newTestWorker(t, self.Public(), client)

	bucketID := uuid.New()
	pins := client.put(linkeddata.NewPins())
	genesis := &mount.Manifest{
		ID:     bucketID,
		Name:   "bucket",
		Shares: map[string]mount.Share{other.Public().ToHex(): {Principal: mount.Principal{Role: mount.RoleOwner, Identity: other.Public()}}},
		Pins:   pins,
		Height: 0,
	}
	link := client.put(genesis)

	err = w.executeSyncBucket(context.Background(), SyncBucketJob{BucketID: bucketID, TargetLink: link, PeerID: testPeerID})
	if err == nil {
		t.Fatal("expected NotAuthorized error")
	}
}

func TestExecutePingPeerSentinelWhenNoHead(t *testing.T) {
	self, _ := wcrypto.GenerateSecretKey()
	client := newFakeClient()
	client.pongs[testPeerID] = syncproto.Pong{Status: syncproto.StatusNotFound}
	w, _, _ := newTestWorker(t, self.Public(), client)

	bucketID := uuid.New()
	if err := w.executePingPeer(context.Background(), PingPeerJob{BucketID: bucketID, PeerID: testPeerID}); err != nil {
		t.Fatalf("execute ping_peer: %v", err)
	}
}

func TestExecutePingPeerDispatchesSyncOnAhead(t *testing.T) {
	self, _ := wcrypto.GenerateSecretKey()
	aheadLink := linkeddata.Link{Codec: linkeddata.CodecDagCBOR, Hash: linkeddata.SumHash([]byte("ahead"))}
	client := newFakeClient()
	client.pongs[testPeerID] = syncproto.Pong{Status: syncproto.StatusAhead, OurLink: &aheadLink}
	w, _, _ := newTestWorker(t, self.Public(), client)

	bucketID := uuid.New()
	if err := w.executePingPeer(context.Background(), PingPeerJob{BucketID: bucketID, PeerID: testPeerID}); err != nil {
		t.Fatalf("execute ping_peer: %v", err)
	}
	if w.queue.Len() != 1 {
		t.Fatalf("queued jobs = %d, want 1 (sync_bucket)", w.queue.Len())
	}
}

func TestExecuteDownloadPinsFetchesOnlyMissing(t *testing.T) {
	self, _ := wcrypto.GenerateSecretKey()
	client := newFakeClient()
	w, _, blobs := newTestWorker(t, self.Public(), client)

	ctx := context.Background()
	present := []byte("already have this")
	presentHash, err := blobs.Put(ctx, present)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	missing := []byte("need to fetch this")
	missingLink := client.put(rawBlock(missing))

	pinsLink := client.put(linkeddata.NewPins(presentHash, missingLink.Hash))

	if err := w.executeDownloadPins(ctx, DownloadPinsJob{PinsLink: pinsLink, PeerIDs: []peer.ID{testPeerID}}); err != nil {
		t.Fatalf("execute download_pins: %v", err)
	}

	has, err := blobs.Has(ctx, missingLink.Hash)
	if err != nil || !has {
		t.Fatalf("has missing hash after download = %v, %v, want true", has, err)
	}
	got, err := blobs.Get(ctx, missingLink.Hash)
	if err != nil || string(got) != string(missing) {
		t.Fatalf("get missing = %q, %v, want %q", got, err, missing)
	}
}

// rawBlock adapts a raw byte slice to linkeddata.Block under CodecRaw, for
// tests that need to address plain bytes the way leaf file blobs are.
type rawBlock []byte

func (b rawBlock) EncodeBlock() (linkeddata.Codec, []byte, error) {
	return linkeddata.CodecRaw, []byte(b), nil
}

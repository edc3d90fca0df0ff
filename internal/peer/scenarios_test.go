package peer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
	"github.com/weftfs/weft/internal/wtest"
)

func buildPeer(t *testing.T, sk wcrypto.SecretKey, blobs blobstore.BlobStore, logs bucketlog.LogProvider) *Peer {
	t.Helper()
	p, err := NewBuilder().
		WithAddr("/ip4/127.0.0.1/tcp/0").
		WithSecretKey(sk).
		WithBlobStore(blobs).
		WithLogProvider(logs).
		Build()
	if err != nil {
		t.Fatalf("build peer: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// connectPeers introduces b to a's address so the two overlay hosts can
// dial each other's protocol streams.
func connectPeers(t *testing.T, a, b *Peer) {
	t.Helper()
	info := a.host.Raw().Peerstore().PeerInfo(a.host.ID())
	if err := b.host.Raw().Connect(context.Background(), info); err != nil {
		t.Fatalf("connect peers: %v", err)
	}
}

// spawn runs a Peer's scheduler worker for the duration of the test.
func spawn(t *testing.T, p *Peer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go p.Spawn(ctx)
	t.Cleanup(cancel)
}

// eventually polls fn until it returns no error or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last error
	for time.Now().Before(deadline) {
		if last = fn(); last == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition never became true: %v", last)
}

// 1. Create and read: a second peer sharing the same identity, blob store
// and log provider can read back what the first peer wrote, without any
// networking involved.
func TestScenarioCreateAndRead(t *testing.T) {
	blobs := blobstore.NewMemStore()
	logs := bucketlog.NewMemLogProvider()
	alice := wtest.Key(wtest.SeedAlice)

	p1 := buildPeer(t, alice, blobs, logs)
	ctx := context.Background()

	bucketID, err := p1.CreateBucket(ctx, "notes")
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	m, err := p1.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m.Add(ctx, "/hello.txt", bytes.NewReader([]byte("hi"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := p1.SaveMount(ctx, m, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	p2 := buildPeer(t, alice, blobs, logs)
	m2, err := p2.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("second peer mount: %v", err)
	}
	got, err := m2.Cat(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("cat = %q, want %q", got, "hi")
	}
}

// 2. Share and sync: Alice shares a bucket with Bob and saves; once Bob's
// worker processes the resulting SyncBucket job, Bob can read the content
// straight off the network.
func TestScenarioShareAndSync(t *testing.T) {
	aliceKey, bobKey := wtest.Key(wtest.SeedAlice), wtest.Key(wtest.SeedBob)
	alice := buildPeer(t, aliceKey, blobstore.NewMemStore(), bucketlog.NewMemLogProvider())
	bob := buildPeer(t, bobKey, blobstore.NewMemStore(), bucketlog.NewMemLogProvider())
	connectPeers(t, alice, bob)
	connectPeers(t, bob, alice)
	spawn(t, bob)

	ctx := context.Background()
	bucketID, err := alice.CreateBucket(ctx, "shared")
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	m, err := alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m.Add(ctx, "/hello.txt", bytes.NewReader([]byte("hi"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddOwner(bobKey.Public()); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if _, err := alice.SaveMount(ctx, m, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	eventually(t, 5*time.Second, func() error {
		bm, err := bob.Mount(ctx, bucketID)
		if err != nil {
			return err
		}
		got, err := bm.Cat(ctx, "/hello.txt")
		if err != nil {
			return err
		}
		if string(got) != "hi" {
			t.Fatalf("cat = %q, want %q", got, "hi")
		}
		return nil
	})
}

// 3. Mirror gating: a mirror cannot mount an unpublished bucket, and can
// once the owner publishes.
func TestScenarioMirrorGating(t *testing.T) {
	blobs := blobstore.NewMemStore()
	logs := bucketlog.NewMemLogProvider()
	aliceKey, mirrorKey := wtest.Key(wtest.SeedAlice), wtest.Key(wtest.SeedMirror)
	alice := buildPeer(t, aliceKey, blobs, logs)
	mirror := buildPeer(t, mirrorKey, blobs, logs)
	ctx := context.Background()

	bucketID, err := alice.CreateBucket(ctx, "mirrored")
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	m, err := alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m.Add(ctx, "/hello.txt", bytes.NewReader([]byte("hi"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddMirror(mirrorKey.Public()); err != nil {
		t.Fatalf("add mirror: %v", err)
	}
	if _, err := alice.SaveMount(ctx, m, false); err != nil {
		t.Fatalf("save unpublished: %v", err)
	}

	if _, err := mirror.MountForRead(ctx, bucketID); !werrors.Of(err, werrors.MirrorCannotMount) {
		t.Fatalf("mirror load before publish = %v, want MirrorCannotMount", err)
	}

	m, err = alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("re-mount: %v", err)
	}
	if err := m.Publish(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := alice.SaveMount(ctx, m, true); err != nil {
		t.Fatalf("save published: %v", err)
	}

	mm, err := mirror.MountForRead(ctx, bucketID)
	if err != nil {
		t.Fatalf("mirror load after publish: %v", err)
	}
	got, err := mm.Cat(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("cat = %q, want %q", got, "hi")
	}
}

// 4. Rename: moving a file leaves the old path gone and the new path
// readable, and records two log rows beyond genesis.
func TestScenarioRename(t *testing.T) {
	blobs := blobstore.NewMemStore()
	logs := bucketlog.NewMemLogProvider()
	alice := buildPeer(t, wtest.Key(wtest.SeedAlice), blobs, logs)
	ctx := context.Background()

	bucketID, err := alice.CreateBucket(ctx, "renamer")
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	m, err := alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m.Add(ctx, "/a.txt", bytes.NewReader([]byte("1"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := alice.SaveMount(ctx, m, false); err != nil {
		t.Fatalf("save add: %v", err)
	}

	m, err = alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("re-mount: %v", err)
	}
	if err := m.Mv(ctx, "/a.txt", "/dir/a.txt"); err != nil {
		t.Fatalf("mv: %v", err)
	}
	if _, err := alice.SaveMount(ctx, m, false); err != nil {
		t.Fatalf("save mv: %v", err)
	}

	m, err = alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("re-mount: %v", err)
	}
	got, err := m.Cat(ctx, "/dir/a.txt")
	if err != nil {
		t.Fatalf("cat /dir/a.txt: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("cat = %q, want %q", got, "1")
	}
	if _, err := m.Cat(ctx, "/a.txt"); !werrors.Of(err, werrors.PathNotFound) {
		t.Fatalf("cat /a.txt = %v, want PathNotFound", err)
	}

	height, err := logs.Height(ctx, bucketID)
	if err != nil || height != 2 {
		t.Fatalf("height = %d, %v, want 2 (genesis, add, mv)", height, err)
	}
}

// 5. Fork and tie-break: two owners save concurrently from the same head;
// both appends succeed and the log's head resolves to the lexicographically
// greater link at the shared height.
func TestScenarioForkAndTieBreak(t *testing.T) {
	blobs := blobstore.NewMemStore()
	logs := bucketlog.NewMemLogProvider()
	aliceKey, bobKey := wtest.Key(wtest.SeedAlice), wtest.Key(wtest.SeedBob)
	owner1 := buildPeer(t, aliceKey, blobs, logs)
	owner2 := buildPeer(t, bobKey, blobs, logs)
	ctx := context.Background()

	bucketID, err := owner1.CreateBucket(ctx, "forked")
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	m0, err := owner1.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m0.AddOwner(bobKey.Public()); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if _, err := owner1.SaveMount(ctx, m0, false); err != nil {
		t.Fatalf("save shared genesis: %v", err)
	}
	sharedHeight, err := logs.Height(ctx, bucketID)
	if err != nil {
		t.Fatalf("height: %v", err)
	}

	m1, err := owner1.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("owner1 mount: %v", err)
	}
	m2, err := owner2.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("owner2 mount: %v", err)
	}
	if err := m1.Add(ctx, "/owner1.txt", bytes.NewReader([]byte("from owner1"))); err != nil {
		t.Fatalf("owner1 add: %v", err)
	}
	r1, err := owner1.SaveMount(ctx, m1, false)
	if err != nil {
		t.Fatalf("owner1 save: %v", err)
	}

	if err := m2.Add(ctx, "/owner2.txt", bytes.NewReader([]byte("from owner2"))); err != nil {
		t.Fatalf("owner2 add: %v", err)
	}
	r2, err := owner2.SaveMount(ctx, m2, false)
	if err != nil {
		t.Fatalf("owner2 save: %v", err)
	}

	if r1.Height != sharedHeight+1 || r2.Height != sharedHeight+1 {
		t.Fatalf("heights = %d, %d, want both %d", r1.Height, r2.Height, sharedHeight+1)
	}

	heads, err := logs.Heads(ctx, bucketID, sharedHeight+1)
	if err != nil {
		t.Fatalf("heads: %v", err)
	}
	if len(heads) != 2 {
		t.Fatalf("heads at fork height = %d, want 2", len(heads))
	}

	head, height, err := logs.Head(ctx, bucketID, nil)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if height != sharedHeight+1 {
		t.Fatalf("head height = %d, want %d", height, sharedHeight+1)
	}
	want := r1.Link
	if want.Less(r2.Link) {
		want = r2.Link
	}
	if head != want {
		t.Fatalf("head = %v, want max(%v, %v) = %v", head, r1.Link, r2.Link, want)
	}
}

// 6. Ping matrix, end to end: Alice and Bob bootstrap to a shared head;
// Bob then advances alone. Alice's next on-demand ping reports Bob is
// Ahead, and Alice's worker syncs to Bob's new head on its own.
func TestScenarioPingMatrix(t *testing.T) {
	aliceKey, bobKey := wtest.Key(wtest.SeedAlice), wtest.Key(wtest.SeedBob)
	alice := buildPeer(t, aliceKey, blobstore.NewMemStore(), bucketlog.NewMemLogProvider())
	bob := buildPeer(t, bobKey, blobstore.NewMemStore(), bucketlog.NewMemLogProvider())
	connectPeers(t, alice, bob)
	connectPeers(t, bob, alice)
	spawn(t, alice)
	spawn(t, bob)

	ctx := context.Background()
	bucketID, err := alice.CreateBucket(ctx, "pinged")
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	m, err := alice.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m.AddOwner(bobKey.Public()); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	genesisResult, err := alice.SaveMount(ctx, m, false)
	if err != nil {
		t.Fatalf("save genesis: %v", err)
	}

	// Bob bootstraps to the shared genesis before either side pings.
	eventually(t, 5*time.Second, func() error {
		height, err := bob.Logs().Height(ctx, bucketID)
		if err != nil {
			return err
		}
		if height != genesisResult.Height {
			return werrors.New(werrors.HeadNotFound, "bob has not bootstrapped yet", nil)
		}
		return nil
	})

	// Same head, same height -> in sync, nothing to do.
	if err := alice.Ping(ctx, bucketID); err != nil {
		t.Fatalf("ping while in sync: %v", err)
	}

	// Bob advances alone.
	bm, err := bob.Mount(ctx, bucketID)
	if err != nil {
		t.Fatalf("bob mount: %v", err)
	}
	if err := bm.Add(ctx, "/bob-only.txt", bytes.NewReader([]byte("bob was here"))); err != nil {
		t.Fatalf("bob add: %v", err)
	}
	bobResult, err := bob.SaveMount(ctx, bm, false)
	if err != nil {
		t.Fatalf("bob save: %v", err)
	}

	// Alice's on-demand ping should discover she is behind and sync.
	if err := alice.Ping(ctx, bucketID); err != nil {
		t.Fatalf("ping after bob advanced: %v", err)
	}
	eventually(t, 5*time.Second, func() error {
		head, height, err := alice.Logs().Head(ctx, bucketID, nil)
		if err != nil {
			return err
		}
		if height != bobResult.Height || head != bobResult.Link {
			return werrors.New(werrors.HeadNotFound, "alice has not caught up yet", nil)
		}
		am, err := alice.Mount(ctx, bucketID)
		if err != nil {
			return err
		}
		got, err := am.Cat(ctx, "/bob-only.txt")
		if err != nil {
			return err
		}
		if string(got) != "bob was here" {
			t.Fatalf("cat = %q, want %q", got, "bob was here")
		}
		return nil
	})
}

package mount

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/internal/werrors"
)

func newTestMount(t *testing.T) (*Mount, blobstore.BlobStore, wcrypto.SecretKey) {
	t.Helper()
	sk, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	blobs := blobstore.NewMemStore()
	m, err := Init(uuid.New(), "test-bucket", sk, blobs)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return m, blobs, sk
}

func TestAddCat(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Add(ctx, "/hello.txt", bytes.NewReader([]byte("hi there"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := m.Cat(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if string(got) != "hi there" {
		t.Fatalf("cat = %q", got)
	}
}

func TestAddRmCatNotFound(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Add(ctx, "/a.txt", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Rm(ctx, "/a.txt"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	_, err := m.Cat(ctx, "/a.txt")
	if !werrors.Of(err, werrors.PathNotFound) {
		t.Fatalf("cat after rm: got %v, want PathNotFound", err)
	}
}

func TestAddSaveLoadCat(t *testing.T) {
	ctx := context.Background()
	m, blobs, sk := newTestMount(t)

	if err := m.Add(ctx, "/dir/file.txt", bytes.NewReader([]byte("persisted"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := m.Save(ctx, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.PreviousLink != nil {
		t.Fatalf("genesis save should have nil previous, got %v", res.PreviousLink)
	}
	if res.NewHeight != 0 {
		t.Fatalf("genesis height = %d, want 0", res.NewHeight)
	}

	loaded, err := Load(ctx, res.NewLink, sk, blobs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := loaded.Cat(ctx, "/dir/file.txt")
	if err != nil {
		t.Fatalf("cat after load: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("cat after load = %q", got)
	}
}

func TestSecondSaveIncrementsHeight(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Add(ctx, "/a.txt", bytes.NewReader([]byte("1"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	first, err := m.Save(ctx, false)
	if err != nil {
		t.Fatalf("save 1: %v", err)
	}

	if err := m.Add(ctx, "/b.txt", bytes.NewReader([]byte("2"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := m.Save(ctx, false)
	if err != nil {
		t.Fatalf("save 2: %v", err)
	}
	if second.NewHeight != 1 {
		t.Fatalf("second height = %d, want 1", second.NewHeight)
	}
	if second.PreviousLink == nil || *second.PreviousLink != first.NewLink {
		t.Fatalf("second previous = %v, want %v", second.PreviousLink, first.NewLink)
	}
}

func TestMkdirTwiceFails(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Mkdir(ctx, "/dir"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	err := m.Mkdir(ctx, "/dir")
	if !werrors.Of(err, werrors.PathAlreadyExists) {
		t.Fatalf("second mkdir: got %v, want PathAlreadyExists", err)
	}
}

func TestMvAndCat(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Add(ctx, "/a.txt", bytes.NewReader([]byte("content"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Mv(ctx, "/a.txt", "/b/a.txt"); err != nil {
		t.Fatalf("mv: %v", err)
	}
	if _, err := m.Cat(ctx, "/a.txt"); !werrors.Of(err, werrors.PathNotFound) {
		t.Fatalf("cat old path: got %v, want PathNotFound", err)
	}
	got, err := m.Cat(ctx, "/b/a.txt")
	if err != nil {
		t.Fatalf("cat new path: %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("cat new path = %q", got)
	}
}

func TestMvIntoSelfRejected(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Mkdir(ctx, "/a"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := m.Mv(ctx, "/a", "/a/b"); !werrors.Of(err, werrors.MoveIntoSelf) {
		t.Fatalf("mv into descendant: got %v, want MoveIntoSelf", err)
	}
	if err := m.Mv(ctx, "/a", "/a"); !werrors.Of(err, werrors.MoveIntoSelf) {
		t.Fatalf("mv onto self: got %v, want MoveIntoSelf", err)
	}
}

func TestAddUnderFileParentFails(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMount(t)

	if err := m.Add(ctx, "/a", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := m.Add(ctx, "/a/b", bytes.NewReader([]byte("y")))
	if !werrors.Of(err, werrors.NotADirectory) {
		t.Fatalf("add under file: got %v, want NotADirectory", err)
	}
}

func TestMirrorCannotMountUnpublished(t *testing.T) {
	ctx := context.Background()
	m, blobs, _ := newTestMount(t)
	res, err := m.Save(ctx, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	mirrorSK, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate mirror key: %v", err)
	}
	_, err = Load(ctx, res.NewLink, mirrorSK, blobs)
	if !werrors.Of(err, werrors.MirrorCannotMount) {
		t.Fatalf("mirror load unpublished: got %v, want MirrorCannotMount", err)
	}
}

func TestPublishGrantsMirrorAccess(t *testing.T) {
	ctx := context.Background()
	m, blobs, _ := newTestMount(t)

	if err := m.Add(ctx, "/shared.txt", bytes.NewReader([]byte("public"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	mirrorSK, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate mirror key: %v", err)
	}
	if err := m.AddMirror(mirrorSK.Public()); err != nil {
		t.Fatalf("add mirror: %v", err)
	}
	if err := m.Publish(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	res, err := m.Save(ctx, true)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !m.IsPublished() {
		t.Fatal("expected published after save(true)")
	}

	mirrorMount, err := Load(ctx, res.NewLink, mirrorSK, blobs)
	if err != nil {
		t.Fatalf("mirror load: %v", err)
	}
	got, err := mirrorMount.Cat(ctx, "/shared.txt")
	if err != nil {
		t.Fatalf("mirror cat: %v", err)
	}
	if string(got) != "public" {
		t.Fatalf("mirror cat = %q", got)
	}

	if err := mirrorMount.Add(ctx, "/nope.txt", bytes.NewReader([]byte("x"))); !werrors.Of(err, werrors.NotAuthorized) {
		t.Fatalf("mirror write: got %v, want NotAuthorized", err)
	}
}

func TestAddOwnerShareExists(t *testing.T) {
	m, _, sk := newTestMount(t)
	err := m.AddOwner(sk.Public())
	if !errors.Is(err, werrors.ShareExists) {
		t.Fatalf("re-adding self as owner: got %v, want ShareExists", err)
	}
}

func TestSaveUnpublishRevokesMirror(t *testing.T) {
	ctx := context.Background()
	m, blobs, _ := newTestMount(t)

	mirrorSK, err := wcrypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate mirror key: %v", err)
	}
	if err := m.AddMirror(mirrorSK.Public()); err != nil {
		t.Fatalf("add mirror: %v", err)
	}
	if err := m.Publish(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := m.Save(ctx, true); err != nil {
		t.Fatalf("save(true): %v", err)
	}

	res, err := m.Save(ctx, false)
	if err != nil {
		t.Fatalf("save(false): %v", err)
	}
	if _, err := Load(ctx, res.NewLink, mirrorSK, blobs); !werrors.Of(err, werrors.MirrorCannotMount) {
		t.Fatalf("mirror load after unpublish: got %v, want MirrorCannotMount", err)
	}
}

package merge

import (
	"testing"

	"github.com/google/uuid"

	"github.com/weftfs/weft/internal/mount"
)

func op(id byte, typ mount.PathOpType, path, dest string) mount.PathOperation {
	var u uuid.UUID
	u[0] = id
	return mount.PathOperation{OpID: u, Type: typ, Path: path, DestPath: dest}
}

func TestMergeLogsDisjointPathsTakeBoth(t *testing.T) {
	a := mount.PathOpLog{Ops: []mount.PathOperation{op(1, mount.OpAdd, "/a.txt", "")}}
	b := mount.PathOpLog{Ops: []mount.PathOperation{op(2, mount.OpAdd, "/b.txt", "")}}

	res := MergeLogs(a, b)
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %d, want 0", len(res.Conflicts))
	}
	if len(res.Ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(res.Ops))
	}
}

func TestMergeLogsAgreeingOpsNoConflict(t *testing.T) {
	a := mount.PathOpLog{Ops: []mount.PathOperation{op(1, mount.OpRemove, "/gone.txt", "")}}
	b := mount.PathOpLog{Ops: []mount.PathOperation{op(2, mount.OpRemove, "/gone.txt", "")}}

	res := MergeLogs(a, b)
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %d, want 0", len(res.Conflicts))
	}
	if len(res.Ops) != 1 {
		t.Fatalf("ops = %d, want 1", len(res.Ops))
	}
}

func TestMergeLogsConflictingAddsProduceConflictFile(t *testing.T) {
	a := mount.PathOpLog{Ops: []mount.PathOperation{op(1, mount.OpAdd, "/x.txt", "")}}
	b := mount.PathOpLog{Ops: []mount.PathOperation{op(9, mount.OpAdd, "/x.txt", "")}}

	res := MergeLogs(a, b)
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Path != "/x.txt" {
		t.Fatalf("conflict path = %q, want /x.txt", c.Path)
	}
	// op id byte 9 > byte 1, so b's op wins.
	if c.Winner.OpID[0] != 9 || c.Loser.OpID[0] != 1 {
		t.Fatalf("winner/loser = %v/%v, want 9/1", c.Winner.OpID[0], c.Loser.OpID[0])
	}
	if c.LoserAlias == "" || c.LoserAlias == c.Path {
		t.Fatalf("loser alias = %q, want a distinct renamed path", c.LoserAlias)
	}
}

func TestMergeLogsMvVacatesSourcePath(t *testing.T) {
	a := mount.PathOpLog{Ops: []mount.PathOperation{op(1, mount.OpMv, "/a.txt", "/dir/a.txt")}}
	b := mount.PathOpLog{Ops: []mount.PathOperation{op(2, mount.OpAdd, "/a.txt", "")}}

	res := MergeLogs(a, b)
	// a's log vacates /a.txt (a remove recorded under the Mv's own op id);
	// b's log adds at the same path: these disagree and conflict.
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1 (vacated-path clash)", len(res.Conflicts))
	}
	foundDest := false
	for _, o := range res.Ops {
		if o.Type == mount.OpMv && o.DestPath == "/dir/a.txt" {
			foundDest = true
		}
	}
	if !foundDest {
		t.Fatal("resolution missing the Mv's destination op")
	}
}

func TestMergeLogsOrderIndependent(t *testing.T) {
	a := mount.PathOpLog{Ops: []mount.PathOperation{
		op(1, mount.OpAdd, "/a.txt", ""),
		op(3, mount.OpAdd, "/shared.txt", ""),
	}}
	b := mount.PathOpLog{Ops: []mount.PathOperation{
		op(2, mount.OpAdd, "/b.txt", ""),
		op(7, mount.OpAdd, "/shared.txt", ""),
	}}

	ab := MergeLogs(a, b)
	ba := MergeLogs(b, a)

	if len(ab.Ops) != len(ba.Ops) || len(ab.Conflicts) != len(ba.Conflicts) {
		t.Fatalf("merge(a,b) = %d ops/%d conflicts, merge(b,a) = %d ops/%d conflicts",
			len(ab.Ops), len(ab.Conflicts), len(ba.Ops), len(ba.Conflicts))
	}
	for i := range ab.Ops {
		if ab.Ops[i].OpID != ba.Ops[i].OpID {
			t.Fatalf("op order differs at %d: %v vs %v", i, ab.Ops[i].OpID, ba.Ops[i].OpID)
		}
	}
	for i := range ab.Conflicts {
		if ab.Conflicts[i].Winner.OpID != ba.Conflicts[i].Winner.OpID {
			t.Fatalf("conflict winner differs at %d", i)
		}
		if ab.Conflicts[i].Loser.OpID != ba.Conflicts[i].Loser.OpID {
			t.Fatalf("conflict loser differs at %d", i)
		}
	}
}

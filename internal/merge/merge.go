// Package merge reconciles two divergent Mount operation logs sharing a
// common ancestor (L8). It is reserved machinery: nothing in the sync
// path calls it today, since concurrent owner saves are left as
// coexisting forks (bucketlog.Head picks the winner by Link.Less) rather
// than auto-merged. It exists for a future three-way-merge UI or CLI
// command to call explicitly.
package merge

import (
	"bytes"
	"sort"

	"github.com/weftfs/weft/internal/mount"
)

// ConflictFile records that two divergent logs disagree about the final
// state of one path: both ops are kept, the loser renamed aside so the
// caller can materialize a conflict copy instead of silently dropping
// either side's work.
type ConflictFile struct {
	Path       string
	Winner     mount.PathOperation
	Loser      mount.PathOperation
	LoserAlias string // path the caller should materialize the loser's content under
}

// Resolution is merge_logs' output: the ops to replay against the common
// ancestor to produce the merged tree, plus any conflicts that couldn't
// be resolved by ordering alone.
type Resolution struct {
	Ops       []mount.PathOperation
	Conflicts []ConflictFile
}

// MergeLogs reconciles a and b. The policy: for each path either log's
// final op touches, if only one side touched it, take that side's op
// unchanged; if both sides touched it with the same effective op
// (by Type, Path and DestPath), take the one with the greater OpID; otherwise the
// op with the lexicographically greater OpID wins and the other becomes
// a ConflictFile. Replaying Resolution.Ops against the common ancestor,
// in the order returned, reproduces every non-conflicting op from both
// inputs with none lost; conflicts are surfaced for the caller to
// materialize separately.
//
// MergeLogs(a, b) and MergeLogs(b, a) agree on every op and conflict (the
// op with the greater OpID always wins, regardless of which log it arrived
// in).
func MergeLogs(a, b mount.PathOpLog) Resolution {
	effectsA := effectiveOps(a)
	effectsB := effectiveOps(b)

	paths := make(map[string]bool, len(effectsA)+len(effectsB))
	for p := range effectsA {
		paths[p] = true
	}
	for p := range effectsB {
		paths[p] = true
	}

	var res Resolution
	for path := range paths {
		opA, inA := effectsA[path]
		opB, inB := effectsB[path]
		switch {
		case inA && !inB:
			res.Ops = append(res.Ops, opA)
		case inB && !inA:
			res.Ops = append(res.Ops, opB)
		case sameEffect(opA, opB):
			if opIDLess(opA.OpID, opB.OpID) {
				res.Ops = append(res.Ops, opB)
			} else {
				res.Ops = append(res.Ops, opA)
			}
		default:
			winner, loser := opA, opB
			if opIDLess(winner.OpID, loser.OpID) {
				winner, loser = loser, winner
			}
			res.Ops = append(res.Ops, winner)
			res.Conflicts = append(res.Conflicts, ConflictFile{
				Path:       path,
				Winner:     winner,
				Loser:      loser,
				LoserAlias: conflictAlias(path, loser.OpID),
			})
		}
	}

	sort.Slice(res.Ops, func(i, j int) bool {
		if res.Ops[i].OpID != res.Ops[j].OpID {
			return opIDLess(res.Ops[i].OpID, res.Ops[j].OpID)
		}
		return res.Ops[i].Path < res.Ops[j].Path
	})
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Path < res.Conflicts[j].Path })
	return res
}

// effectiveOps replays log in order and returns, per logical path, the
// last op that determined its final state. A Mv vacates its source path
// (recorded as an OpRemove under the Mv's own OpID, so a concurrent edit
// of the pre-move path still conflicts against it) and claims its
// destination path under the Mv op itself.
func effectiveOps(log mount.PathOpLog) map[string]mount.PathOperation {
	effects := make(map[string]mount.PathOperation, len(log.Ops))
	for _, op := range log.Ops {
		switch op.Type {
		case mount.OpMv:
			delete(effects, op.Path)
			effects[op.Path] = mount.PathOperation{OpID: op.OpID, Type: mount.OpRemove, Path: op.Path}
			effects[op.DestPath] = op
		default:
			effects[op.Path] = op
		}
	}
	return effects
}

func sameEffect(a, b mount.PathOperation) bool {
	return a.Type == b.Type && a.Path == b.Path && a.DestPath == b.DestPath
}

// opIDLess orders UUIDs by their raw bytes, giving merge_logs a total,
// deterministic, argument-order-independent tie-break.
func opIDLess(a, b [16]byte) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func conflictAlias(path string, loserOpID [16]byte) string {
	return path + ".conflict-" + hexShort(loserOpID)
}

func hexShort(id [16]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		out[i*2] = hexdigits[id[i]>>4]
		out[i*2+1] = hexdigits[id[i]&0xf]
	}
	return string(out)
}

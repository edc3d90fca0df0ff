package mount

import "github.com/google/uuid"

// PathOpType enumerates the mutation kinds recorded in a PathOpLog.
type PathOpType uint8

const (
	OpAdd PathOpType = iota
	OpMkdir
	OpRemove
	OpMv
)

func (t PathOpType) String() string {
	switch t {
	case OpAdd:
		return "add"
	case OpMkdir:
		return "mkdir"
	case OpRemove:
		return "remove"
	case OpMv:
		return "mv"
	default:
		return "unknown"
	}
}

// PathOperation is one recorded mutation against a Mount: enough to replay
// the mutation against a divergent copy during merge_logs.
type PathOperation struct {
	OpID     uuid.UUID
	Type     PathOpType
	Path     string
	DestPath string // only set for OpMv
}

// PathOpLog is the ordered, append-only record of mutations applied to a
// Mount since it was loaded, for merge_logs to replay against a common
// ancestor. It is held in memory only: Save does not write it to the blob
// store or the manifest, and a freshly loaded Mount starts with an empty log.
type PathOpLog struct {
	Ops []PathOperation
}

func (l *PathOpLog) append(op PathOperation) {
	l.Ops = append(l.Ops, op)
}

func (l *PathOpLog) recordAdd(path string) {
	l.append(PathOperation{OpID: uuid.New(), Type: OpAdd, Path: path})
}

func (l *PathOpLog) recordMkdir(path string) {
	l.append(PathOperation{OpID: uuid.New(), Type: OpMkdir, Path: path})
}

func (l *PathOpLog) recordRemove(path string) {
	l.append(PathOperation{OpID: uuid.New(), Type: OpRemove, Path: path})
}

func (l *PathOpLog) recordMv(from, to string) {
	l.append(PathOperation{OpID: uuid.New(), Type: OpMv, Path: from, DestPath: to})
}

package scheduler

import (
	"context"

	"github.com/weftfs/weft/internal/werrors"
)

// DefaultQueueCapacity is the job queue's default bound (spec §4.6).
const DefaultQueueCapacity = 1000

// Queue is a bounded FIFO; a single worker drains it while any number of
// producers (protocol handlers, the periodic tick, user API calls) enqueue
// concurrently.
type Queue struct {
	ch chan Job
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Job, capacity)}
}

// Enqueue adds j to the back of the queue, failing with QueueFull instead
// of blocking when the queue is at capacity.
func (q *Queue) Enqueue(j Job) error {
	select {
	case q.ch <- j:
		return nil
	default:
		return werrors.New(werrors.QueueFull, j.Kind.String(), nil)
	}
}

// Dequeue blocks for the next job, or returns false if ctx is done first.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	select {
	case j := <-q.ch:
		return j, true
	case <-ctx.Done():
		return Job{}, false
	}
}

// Len reports the number of jobs currently queued (best-effort, racy by
// nature of a concurrent channel).
func (q *Queue) Len() int { return len(q.ch) }

// Package execution is the scheduling core: the dispatcher that admits and
// finalizes work tasks, the worker pool that executes them, the loop that
// drives both, and the session that owns the synchronous main path.
package execution

import (
	"context"
	"sync"

	"github.com/if001/trikernel/internal/domain/task"
)

// Dispatch is the message on the work channel: which task to run.
type Dispatch struct {
	TaskID string `json:"task_id"`
}

// Envelope is the message on the result channel: one terminal outcome per
// executed task.
type Envelope struct {
	TaskID       string         `json:"task_id"`
	TaskState    task.State     `json:"task_state"`
	UserOutput   string         `json:"user_output,omitempty"`
	ArtifactRefs []string       `json:"artifact_refs,omitempty"`
	Error        map[string]any `json:"error,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// WorkSender pushes dispatch messages toward the workers.
type WorkSender interface {
	Send(ctx context.Context, msg Dispatch) error
}

// WorkReceiver pulls dispatch messages without blocking.
type WorkReceiver interface {
	TryRecv() (Dispatch, bool)
}

// ResultSender publishes result envelopes back to the dispatcher.
type ResultSender interface {
	Send(ctx context.Context, env Envelope) error
}

// ResultReceiver drains result envelopes without blocking.
type ResultReceiver interface {
	TryRecv() (Envelope, bool)
}

// Queue is an unbounded in-process FIFO with try-receive semantics. Sends
// never block, so worker-side back-pressure cannot stall the loop; the
// dispatcher's inflight budget is what bounds admitted work.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Send enqueues msg. It fails only when ctx is already cancelled.
func (q *Queue[T]) Send(ctx context.Context, msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	return nil
}

// TryRecv dequeues the head, reporting false when empty.
func (q *Queue[T]) TryRecv() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	head := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return head, true
}

// Len reports the queued message count.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WorkQueue is the production in-process work channel.
type WorkQueue = Queue[Dispatch]

// ResultQueue is the production in-process result channel.
type ResultQueue = Queue[Envelope]

// Package memory provides an in-process task queue for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

// Queue implements posture.TaskQueue with synchronous in-process delivery.
// Enqueue invokes the registered handler inline and surfaces its error, which
// makes orchestration paths directly assertable in tests. Tasks enqueued with
// no handler registered are buffered and replayed on Subscribe.
type Queue struct {
	mu       sync.Mutex
	handlers map[posture.TaskKind]posture.TaskHandler
	pending  []posture.Task
	history  []posture.Task
	failWith error
}

var _ posture.TaskQueue = (*Queue)(nil)

// New creates an empty in-process queue.
func New() *Queue {
	return &Queue{handlers: make(map[posture.TaskKind]posture.TaskHandler)}
}

// FailEnqueues makes every subsequent Enqueue return err, simulating an
// unreachable broker.
func (q *Queue) FailEnqueues(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failWith = err
}

// Enqueue validates the task and delivers it to the registered handler.
func (q *Queue) Enqueue(ctx context.Context, task posture.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.failWith != nil {
		err := q.failWith
		q.mu.Unlock()
		return err
	}
	q.history = append(q.history, task)
	handler, ok := q.handlers[task.Kind]
	if !ok {
		q.pending = append(q.pending, task)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	return handler(ctx, task)
}

// Subscribe registers a handler for the given kinds and replays any buffered
// tasks of those kinds. Replay errors are returned to the subscriber.
func (q *Queue) Subscribe(ctx context.Context, handler posture.TaskHandler, kinds ...posture.TaskKind) error {
	q.mu.Lock()
	for _, kind := range kinds {
		q.handlers[kind] = handler
	}

	var replay []posture.Task
	var remaining []posture.Task
	for _, task := range q.pending {
		if _, ok := q.handlers[task.Kind]; ok {
			replay = append(replay, task)
		} else {
			remaining = append(remaining, task)
		}
	}
	q.pending = remaining
	q.mu.Unlock()

	for _, task := range replay {
		if err := handler(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// Enqueued returns every task seen so far, in publish order.
func (q *Queue) Enqueued() []posture.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]posture.Task, len(q.history))
	copy(out, q.history)
	return out
}

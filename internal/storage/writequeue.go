package storage

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrWriteQueueFull   = errors.New("write queue is full")
	ErrWriteQueueClosed = errors.New("write queue is closed")
)

type writeTask struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// WriteQueue serialises every mutating catalog operation through a single
// executor so concurrent writers never interleave on the same rows.
type WriteQueue struct {
	tasks chan writeTask

	mu     sync.RWMutex
	closed bool

	doneCh chan struct{}
}

// NewWriteQueue starts the executor. Size bounds how many writes may wait.
func NewWriteQueue(size int) *WriteQueue {
	if size <= 0 {
		size = 500
	}
	q := &WriteQueue{
		tasks:  make(chan writeTask, size),
		doneCh: make(chan struct{}),
	}
	go q.run()
	return q
}

// Do enqueues fn and waits for it to finish. A full queue is rejected
// immediately rather than blocking the caller.
func (q *WriteQueue) Do(ctx context.Context, fn func(context.Context) error) error {
	task := writeTask{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrWriteQueueClosed
	}
	select {
	case q.tasks <- task:
	default:
		q.mu.RUnlock()
		return errors.Wrapf(ErrWriteQueueFull, "max %d", cap(q.tasks))
	}
	q.mu.RUnlock()

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports how many writes are waiting.
func (q *WriteQueue) Len() int {
	return len(q.tasks)
}

// Close stops accepting writes, runs the ones already queued and waits for
// the executor to exit.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.doneCh
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.doneCh
}

func (q *WriteQueue) run() {
	defer close(q.doneCh)
	for task := range q.tasks {
		if err := task.ctx.Err(); err != nil {
			task.done <- err
			continue
		}
		task.done <- q.exec(task)
	}
}

func (q *WriteQueue) exec(task writeTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("write panicked: %v", r)
		}
	}()
	return task.fn(task.ctx)
}

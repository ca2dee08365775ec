// Package transferqueue runs transfer tasks in FIFO order under a global
// concurrency cap.
//
// A task canceled before it starts never runs and its future fails with
// ErrOperationCanceled. Once started, cancellation only reaches the task
// through its context; the task decides when to stop.
package transferqueue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrOperationCanceled rejects an item canceled before it started.
	ErrOperationCanceled = errors.New("OPERATION_CANCELED: operation canceled")
	// ErrCleared rejects items dropped by ClearPending.
	ErrCleared = errors.New("pending operation cleared")
)

// Task is one unit of queued work. ctx is the caller's context; long tasks
// should check it between steps.
type Task func(ctx context.Context) error

// Future resolves when its item finishes or is rejected.
type Future struct {
	ID    string
	Label string

	done chan struct{}
	err  error
}

func newFuture(label string) *Future {
	return &Future{ID: uuid.NewString(), Label: label, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the item has finished or been rejected.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the outcome. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the item resolves or ctx ends. A ctx ending here does not
// cancel the item.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ItemState is the lifecycle of a queued item.
type ItemState int

const (
	ItemPending ItemState = iota
	ItemStarted
	ItemFinished
	ItemCanceled
)

type item struct {
	ctx    context.Context
	task   Task
	future *Future
	state  ItemState
	elem   *list.Element
	stop   func() bool
}

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Active      int `json:"active"`
	Queued      int `json:"queued"`
	Concurrency int `json:"concurrency"`
}

// Queue is a FIFO of tasks with at most Concurrency running at once.
type Queue struct {
	log *zap.Logger

	mu          sync.Mutex
	pending     *list.List
	active      int
	concurrency int
}

// New creates a Queue; concurrency is floored at 1.
func New(concurrency int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		log:         logger.With(zap.String("component", "transferqueue")),
		pending:     list.New(),
		concurrency: max(concurrency, 1),
	}
}

// Enqueue appends task. If ctx is already done the returned future is
// rejected immediately and the task never enters the queue.
func (q *Queue) Enqueue(ctx context.Context, task Task, label string) *Future {
	f := newFuture(label)
	if ctx.Err() != nil {
		f.resolve(fmt.Errorf("%s: %w", label, ErrOperationCanceled))
		return f
	}

	it := &item{ctx: ctx, task: task, future: f}
	q.mu.Lock()
	it.elem = q.pending.PushBack(it)
	it.stop = context.AfterFunc(ctx, func() { q.cancelPending(it) })
	q.mu.Unlock()

	q.log.Debug("enqueued", zap.String("id", f.ID), zap.String("label", label))
	q.drain()
	return f
}

// cancelPending removes it if it has not started yet.
func (q *Queue) cancelPending(it *item) {
	q.mu.Lock()
	if it.state != ItemPending {
		q.mu.Unlock()
		return
	}
	q.pending.Remove(it.elem)
	it.state = ItemCanceled
	q.mu.Unlock()

	q.log.Debug("canceled before start", zap.String("id", it.future.ID), zap.String("label", it.future.Label))
	it.future.resolve(fmt.Errorf("%s: %w", it.future.Label, ErrOperationCanceled))
}

// drain admits pending items while capacity allows.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.active >= q.concurrency || q.pending.Len() == 0 {
			q.mu.Unlock()
			return
		}
		it := q.pending.Remove(q.pending.Front()).(*item)
		if it.ctx.Err() != nil {
			// canceled, but the AfterFunc has not removed it yet
			it.state = ItemCanceled
			q.mu.Unlock()
			it.stop()
			q.log.Debug("canceled before start", zap.String("id", it.future.ID), zap.String("label", it.future.Label))
			it.future.resolve(fmt.Errorf("%s: %w", it.future.Label, ErrOperationCanceled))
			continue
		}
		it.state = ItemStarted
		q.active++
		q.mu.Unlock()

		go q.run(it)
	}
}

func (q *Queue) run(it *item) {
	if it.stop != nil {
		it.stop()
	}
	err := it.task(it.ctx)

	q.mu.Lock()
	it.state = ItemFinished
	q.active--
	q.mu.Unlock()

	if err != nil {
		q.log.Debug("task failed", zap.String("id", it.future.ID), zap.String("label", it.future.Label), zap.Error(err))
	}
	it.future.resolve(err)
	q.drain()
}

// SetConcurrency changes the cap (floored at 1) and admits more work if it grew.
func (q *Queue) SetConcurrency(n int) {
	q.mu.Lock()
	q.concurrency = max(n, 1)
	q.mu.Unlock()
	q.drain()
}

// ClearPending rejects every item that has not started with reason wrapped
// around ErrCleared. Running items are unaffected. It returns the number of
// items dropped.
func (q *Queue) ClearPending(reason string) int {
	q.mu.Lock()
	var dropped []*item
	for e := q.pending.Front(); e != nil; e = e.Next() {
		it := e.Value.(*item)
		it.state = ItemCanceled
		dropped = append(dropped, it)
	}
	q.pending.Init()
	q.mu.Unlock()

	for _, it := range dropped {
		if it.stop != nil {
			it.stop()
		}
		it.future.resolve(fmt.Errorf("%s: %w", reason, ErrCleared))
	}
	if len(dropped) > 0 {
		q.log.Info("cleared pending transfers", zap.Int("count", len(dropped)), zap.String("reason", reason))
	}
	return len(dropped)
}

// Stats returns the current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Active: q.active, Queued: q.pending.Len(), Concurrency: q.concurrency}
}

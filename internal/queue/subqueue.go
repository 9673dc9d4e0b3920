package queue

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubQueueConcurrency bounds synthesis calls inside one job.
const DefaultSubQueueConcurrency = 2

// SubTask is one unit of work run by a SubQueue.
type SubTask[T any] func(ctx context.Context) (T, error)

type subEntry[T any] struct {
	ctx    context.Context
	fn     SubTask[T]
	handle *Handle[T]
}

// SubQueueStatus mirrors the job queue's stats for one sub-queue.
type SubQueueStatus struct {
	Name          string `json:"name"`
	Active        int    `json:"active"`
	Queued        int    `json:"queued"`
	MaxConcurrent int    `json:"max_concurrent"`
	Processed     int    `json:"processed"`
	Failed        int    `json:"failed"`
	Total         int    `json:"total"`
	PeakActive    int    `json:"peak_active"`
}

// SubQueue is a FIFO with bounded concurrency, scoped to a single job.
// It keeps its own counters independent of the job queue.
type SubQueue[T any] struct {
	name string

	mu            sync.Mutex
	maxConcurrent int
	active        int
	peak          int
	pending       []*subEntry[T]
	processed     int
	failed        int
}

func NewSubQueue[T any](name string, maxConcurrent int) *SubQueue[T] {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultSubQueueConcurrency
	}
	return &SubQueue[T]{name: name, maxConcurrent: maxConcurrent}
}

// Submit queues fn and returns a handle; fn runs with ctx once a slot frees up.
func (q *SubQueue[T]) Submit(ctx context.Context, fn SubTask[T]) *Handle[T] {
	e := &subEntry[T]{ctx: ctx, fn: fn, handle: newHandle[T](uuid.NewString())}

	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	q.dispatch()
	return e.handle
}

// Cancel removes a task that has not started yet.
func (q *SubQueue[T]) Cancel(id string) bool {
	q.mu.Lock()
	for i, e := range q.pending {
		if e.handle.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.mu.Unlock()

			var zero T
			e.handle.resolve(zero, ErrJobCancelled)
			return true
		}
	}
	q.mu.Unlock()
	return false
}

// Clear rejects every task that has not started yet.
func (q *SubQueue[T]) Clear() int {
	q.mu.Lock()
	removed := q.pending
	q.pending = nil
	q.mu.Unlock()

	var zero T
	for _, e := range removed {
		e.handle.resolve(zero, ErrQueueCleared)
	}
	if len(removed) > 0 {
		log.Printf("[SubQueue %s] Cleared %d task(s)", q.name, len(removed))
	}
	return len(removed)
}

// SetMaxConcurrent changes the concurrency bound; raising it starts waiting tasks.
func (q *SubQueue[T]) SetMaxConcurrent(n int) {
	if n <= 0 {
		n = 1
	}
	q.mu.Lock()
	q.maxConcurrent = n
	q.mu.Unlock()

	log.Printf("[SubQueue %s] Max concurrent set to %d", q.name, n)
	q.dispatch()
}

func (q *SubQueue[T]) Status() SubQueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return SubQueueStatus{
		Name:          q.name,
		Active:        q.active,
		Queued:        len(q.pending),
		MaxConcurrent: q.maxConcurrent,
		Processed:     q.processed,
		Failed:        q.failed,
		Total:         q.processed + q.failed + q.active + len(q.pending),
		PeakActive:    q.peak,
	}
}

func (q *SubQueue[T]) dispatch() {
	for {
		q.mu.Lock()
		if q.active >= q.maxConcurrent || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		e := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		if q.active > q.peak {
			q.peak = q.active
		}
		q.mu.Unlock()

		go q.run(e)
	}
}

func (q *SubQueue[T]) run(e *subEntry[T]) {
	value, err := q.execute(e)

	q.mu.Lock()
	q.active--
	if err != nil {
		q.failed++
	} else {
		q.processed++
	}
	q.mu.Unlock()

	e.handle.resolve(value, err)
	q.dispatch()
}

func (q *SubQueue[T]) execute(e *subEntry[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s task panicked: %v", q.name, r)
		}
	}()
	return e.fn(e.ctx)
}

package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrJobCancelled rejects a handle whose job was cancelled while pending.
	ErrJobCancelled = errors.New("job cancelled by user")
	// ErrQueueCleared rejects every pending handle removed by Clear.
	ErrQueueCleared = errors.New("queue cleared by system")
	// ErrQueueShutdown rejects submissions and pending handles after Shutdown.
	ErrQueueShutdown = errors.New("queue shut down")
	// ErrDuplicateJob is returned when a submitted id is already pending or running.
	ErrDuplicateJob = errors.New("job with this id is already queued")
	// ErrInvalidJobID rejects ids that are not plain letters, digits, '-' or '_'.
	ErrInvalidJobID = errors.New("job id must be 1-128 letters, digits, '-' or '_'")
)

// Handle resolves once its job or task reaches a terminal state.
type Handle[T any] struct {
	ID string

	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newHandle[T any](id string) *Handle[T] {
	return &Handle[T]{ID: id, done: make(chan struct{})}
}

func (h *Handle[T]) resolve(value T, err error) {
	h.once.Do(func() {
		h.value = value
		h.err = err
		close(h.done)
	})
}

// Done is closed when the handle is resolved or rejected.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx ends.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolved reports whether the handle has reached a terminal state.
func (h *Handle[T]) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubQueue_NeverExceedsCeiling(t *testing.T) {
	q := NewSubQueue[int]("synthesis", 2)

	var current, peak atomic.Int32
	handles := make([]*Handle[int], 0, 5)
	for i := 0; i < 5; i++ {
		n := i
		handles = append(handles, q.Submit(context.Background(), func(ctx context.Context) (int, error) {
			now := current.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return n * n, nil
		}))
		assert.LessOrEqual(t, q.Status().Active, 2)
	}

	for i, h := range handles {
		v, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*i, v)
	}

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load(), "two tasks should have overlapped")

	require.Eventually(t, func() bool { return q.Status().Active == 0 }, time.Second, 5*time.Millisecond)
	status := q.Status()
	assert.Equal(t, 5, status.Processed)
	assert.Equal(t, 0, status.Failed)
	assert.LessOrEqual(t, status.PeakActive, 2)
}

func TestSubQueue_FIFOWithSingleSlot(t *testing.T) {
	q := NewSubQueue[string]("transcription", 1)

	var order []string
	done := make(chan struct{})
	var last *Handle[string]
	for _, name := range []string{"a", "b", "c"} {
		name := name
		last = q.Submit(context.Background(), func(context.Context) (string, error) {
			order = append(order, name)
			return name, nil
		})
	}
	go func() {
		_, _ = last.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sub-queue did not drain")
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSubQueue_CancelClearAndCounters(t *testing.T) {
	q := NewSubQueue[int]("synthesis", 1)
	release := make(chan struct{})

	blocker := q.Submit(context.Background(), func(context.Context) (int, error) {
		<-release
		return 0, errors.New("voice unavailable")
	})
	waiting := q.Submit(context.Background(), func(context.Context) (int, error) { return 1, nil })
	cleared := q.Submit(context.Background(), func(context.Context) (int, error) { return 2, nil })

	require.Eventually(t, func() bool { return q.Status().Active == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, q.Cancel(waiting.ID))
	assert.False(t, q.Cancel(blocker.ID), "running tasks cannot be cancelled")
	_, err := waiting.Wait(context.Background())
	assert.ErrorIs(t, err, ErrJobCancelled)

	assert.Equal(t, 1, q.Clear())
	_, err = cleared.Wait(context.Background())
	assert.ErrorIs(t, err, ErrQueueCleared)

	close(release)
	_, err = blocker.Wait(context.Background())
	assert.EqualError(t, err, "voice unavailable")

	require.Eventually(t, func() bool { return q.Status().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Status().Processed)
}

func TestSubQueue_SetMaxConcurrentStartsWaiting(t *testing.T) {
	q := NewSubQueue[int]("synthesis", 1)
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		q.Submit(context.Background(), func(context.Context) (int, error) {
			started <- struct{}{}
			<-release
			return 0, nil
		})
	}

	<-started
	select {
	case <-started:
		t.Fatal("second task started before the bound was raised")
	case <-time.After(30 * time.Millisecond):
	}

	q.SetMaxConcurrent(2)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second task did not start after raising the bound")
	}
	close(release)
}

func TestSubQueue_DefaultConcurrency(t *testing.T) {
	q := NewSubQueue[int]("synthesis", 0)
	assert.Equal(t, DefaultSubQueueConcurrency, q.Status().MaxConcurrent)
}

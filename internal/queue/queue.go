package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	saveTimeout         = 10 * time.Second
)

// Store persists queue snapshots. Load returns (nil, nil) when nothing was saved yet.
type Store interface {
	Load(ctx context.Context) (*models.QueueSnapshot, error)
	Save(ctx context.Context, snap *models.QueueSnapshot) error
}

// ProgressFunc lets a running task report progress (0-100) and its current step.
type ProgressFunc func(percent int, step string)

// Task is the work a video job performs once it holds the execution slot.
type Task func(ctx context.Context, progress ProgressFunc) (*models.JobResult, error)

// JobSpec describes a job at submission time.
type JobSpec struct {
	ID       string
	Type     models.JobType
	Title    string
	Metadata models.JSONB
}

type Options struct {
	HistoryLimit int   // terminal jobs retained, newest first (default 50)
	Store        Store // nil disables persistence
}

type entry struct {
	job    models.VideoJob
	task   Task
	handle *Handle[*models.JobResult]
}

// JobQueue runs whole video jobs one at a time in submission order.
// Only pending jobs can be cancelled; a running job always finishes.
type JobQueue struct {
	maxConcurrent int
	historyLimit  int
	store         Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   []*entry
	active    *entry
	running   int
	history   []models.HistoryEntry
	processed int
	failed    int
	closed    bool

	// saveMu orders snapshot writes so an older snapshot never lands after a newer one.
	saveMu sync.Mutex
}

func NewJobQueue(opts Options) *JobQueue {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobQueue{
		maxConcurrent: 1,
		historyLimit:  opts.HistoryLimit,
		store:         opts.Store,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Restore loads history and counters from the store. The pending queue is not
// restored; a missing or unreadable snapshot leaves the queue empty.
func (q *JobQueue) Restore(ctx context.Context) {
	if q.store == nil {
		return
	}

	snap, err := q.store.Load(ctx)
	if err != nil {
		log.Printf("[JobQueue] Warning: could not load snapshot, starting empty: %v", err)
		return
	}
	if snap == nil {
		log.Printf("[JobQueue] No snapshot found, starting empty")
		return
	}

	q.mu.Lock()
	q.history = append([]models.HistoryEntry(nil), snap.History...)
	if len(q.history) > q.historyLimit {
		q.history = q.history[:q.historyLimit]
	}
	q.processed = snap.Stats.Processed
	q.failed = snap.Stats.Failed
	q.mu.Unlock()

	if len(snap.Queue) > 0 {
		log.Printf("[JobQueue] Discarding %d pending job(s) from previous run; resubmit them", len(snap.Queue))
	}
	log.Printf("[JobQueue] Restored snapshot: %d history item(s), %d completed, %d failed",
		len(snap.History), snap.Stats.Processed, snap.Stats.Failed)
}

// Submit enqueues a job and returns immediately. The handle resolves with the
// task's result, or rejects with its error or a cancellation error.
func (q *JobQueue) Submit(spec JobSpec, task Task) (*Handle[*models.JobResult], error) {
	if task == nil {
		return nil, fmt.Errorf("job task is required")
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if !models.ValidJobID(spec.ID) {
		return nil, ErrInvalidJobID
	}
	if spec.Type == "" {
		spec.Type = models.JobTypeCustom
	}

	e := &entry{
		job: models.VideoJob{
			ID:       spec.ID,
			Type:     spec.Type,
			Title:    spec.Title,
			Status:   models.JobStatusPending,
			AddedAt:  time.Now().UTC(),
			Metadata: spec.Metadata,
		},
		task:   task,
		handle: newHandle[*models.JobResult](spec.ID),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueShutdown
	}
	if q.activeOrPendingLocked(spec.ID) {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, spec.ID)
	}
	q.pending = append(q.pending, e)
	position := len(q.pending)
	q.mu.Unlock()

	log.Printf("[JobQueue] Queued %s job %q (%s), position %d", spec.Type, spec.Title, spec.ID, position)
	q.persist()
	q.dispatch()

	return e.handle, nil
}

// Position returns the 1-based position of a pending job, 0 if it is running, -1 if unknown.
func (q *JobQueue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil && q.active.job.ID == id {
		return 0
	}
	for i, e := range q.pending {
		if e.job.ID == id {
			return i + 1
		}
	}
	return -1
}

// Cancel removes a pending job and rejects its handle. It returns false when
// the job is already running or finished.
func (q *JobQueue) Cancel(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, e := range q.pending {
		if e.job.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	e := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.finishLocked(e, models.JobStatusCancelled, nil, ErrJobCancelled)
	q.mu.Unlock()

	log.Printf("[JobQueue] Cancelled %q (%s)", e.job.Title, id)
	q.persist()
	e.handle.resolve(nil, ErrJobCancelled)
	return true
}

// Clear rejects and removes every pending job, returning how many were removed.
func (q *JobQueue) Clear() int {
	removed := q.drainPending(ErrQueueCleared)
	if len(removed) > 0 {
		q.persist()
	}
	for _, e := range removed {
		e.handle.resolve(nil, ErrQueueCleared)
	}
	log.Printf("[JobQueue] Cleared %d job(s) from queue", len(removed))
	return len(removed)
}

// ClearHistory forgets every terminal job and returns how many were dropped.
func (q *JobQueue) ClearHistory() int {
	q.mu.Lock()
	n := len(q.history)
	q.history = nil
	q.mu.Unlock()

	q.persist()
	log.Printf("[JobQueue] Cleared %d item(s) from history", n)
	return n
}

// ResetStats zeroes the processed and failed counters.
func (q *JobQueue) ResetStats() {
	q.mu.Lock()
	q.processed = 0
	q.failed = 0
	q.mu.Unlock()

	q.persist()
	log.Printf("[JobQueue] Statistics reset")
}

// UpdateProgress records progress for the running job. Values are clamped
// to 0-100 and never move backwards.
func (q *JobQueue) UpdateProgress(id string, percent int, step string) {
	percent = max(0, min(100, percent))

	q.mu.Lock()
	if q.active == nil || q.active.job.ID != id {
		q.mu.Unlock()
		return
	}
	if percent > q.active.job.Progress {
		q.active.job.Progress = percent
	}
	if step != "" {
		q.active.job.CurrentStep = step
	}
	q.mu.Unlock()

	q.persist()
}

// Status returns a copy of the current queue state.
func (q *JobQueue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := models.QueueStatus{
		Queue: make([]models.VideoJob, 0, len(q.pending)),
		Stats: models.QueueStats{
			Active:        q.running,
			Queued:        len(q.pending),
			MaxConcurrent: q.maxConcurrent,
			Processed:     q.processed,
			Failed:        q.failed,
			Total:         q.processed + q.failed + q.running + len(q.pending),
		},
	}
	if q.active != nil {
		job := q.active.job
		status.ActiveJob = &job
	}
	for _, e := range q.pending {
		status.Queue = append(status.Queue, e.job)
	}
	return status
}

// History returns up to limit terminal jobs, newest first. limit <= 0 returns all.
func (q *JobQueue) History(limit int) []models.HistoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.history) {
		limit = len(q.history)
	}
	out := make([]models.HistoryEntry, limit)
	copy(out, q.history[:limit])
	return out
}

// Shutdown stops accepting jobs, rejects everything still pending and waits
// for the running job until ctx ends, after which its context is cancelled.
func (q *JobQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	removed := q.drainPending(ErrQueueShutdown)
	if len(removed) > 0 {
		q.persist()
	}
	for _, e := range removed {
		e.handle.resolve(nil, ErrQueueShutdown)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("running job interrupted by shutdown: %w", ctx.Err())
	}
}

// dispatch starts the next pending job if the execution slot is free.
func (q *JobQueue) dispatch() {
	q.mu.Lock()
	if q.closed || q.running >= q.maxConcurrent || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	q.running++
	now := time.Now().UTC()
	e.job.Status = models.JobStatusProcessing
	e.job.StartedAt = &now
	q.active = e
	q.wg.Add(1)
	q.mu.Unlock()

	log.Printf("[JobQueue] Starting %s job %q (%s)", e.job.Type, e.job.Title, e.job.ID)
	q.persist()

	go q.run(e)
}

func (q *JobQueue) run(e *entry) {
	defer q.wg.Done()

	result, err := q.execute(e)

	status := models.JobStatusCompleted
	if err != nil {
		status = models.JobStatusFailed
	}

	q.mu.Lock()
	q.finishLocked(e, status, result, err)
	q.active = nil
	q.running--
	q.mu.Unlock()

	if err != nil {
		log.Printf("[JobQueue] Job %q (%s) failed: %v", e.job.Title, e.job.ID, err)
	} else {
		log.Printf("[JobQueue] Job %q (%s) completed", e.job.Title, e.job.ID)
	}
	q.persist()
	e.handle.resolve(result, err)

	q.dispatch()
}

func (q *JobQueue) execute(e *entry) (result *models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	id := e.job.ID
	return e.task(q.ctx, func(percent int, step string) {
		q.UpdateProgress(id, percent, step)
	})
}

// finishLocked moves e into a terminal state and records it in history. q.mu must be held.
func (q *JobQueue) finishLocked(e *entry, status models.JobStatus, result *models.JobResult, err error) {
	now := time.Now().UTC()
	e.job.Status = status
	e.job.EndedAt = &now

	switch status {
	case models.JobStatusCompleted:
		e.job.Progress = 100
		e.job.Result = result
		q.processed++
	case models.JobStatusFailed:
		q.failed++
	}
	if err != nil {
		e.job.Error = err.Error()
	}

	var durationMs int64
	if e.job.StartedAt != nil {
		durationMs = now.Sub(*e.job.StartedAt).Milliseconds()
	}

	q.history = append([]models.HistoryEntry{{VideoJob: e.job, DurationMs: durationMs}}, q.history...)
	if len(q.history) > q.historyLimit {
		q.history = q.history[:q.historyLimit]
	}
}

func (q *JobQueue) drainPending(reason error) []*entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := q.pending
	q.pending = nil
	for _, e := range removed {
		q.finishLocked(e, models.JobStatusCancelled, nil, reason)
	}
	return removed
}

func (q *JobQueue) activeOrPendingLocked(id string) bool {
	if q.active != nil && q.active.job.ID == id {
		return true
	}
	for _, e := range q.pending {
		if e.job.ID == id {
			return true
		}
	}
	return false
}

func (q *JobQueue) snapshotLocked() *models.QueueSnapshot {
	snap := &models.QueueSnapshot{
		Queue:       make([]models.VideoJob, 0, len(q.pending)),
		History:     append([]models.HistoryEntry(nil), q.history...),
		Stats:       models.SnapshotStats{Processed: q.processed, Failed: q.failed},
		LastUpdated: time.Now().UTC(),
	}
	for _, e := range q.pending {
		snap.Queue = append(snap.Queue, e.job)
	}
	return snap
}

// persist writes the current state. Failures are logged and never block the queue.
func (q *JobQueue) persist() {
	if q.store == nil {
		return
	}

	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.Lock()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := q.store.Save(ctx, snap); err != nil {
		log.Printf("[JobQueue] Error saving queue snapshot: %v", err)
	}
}

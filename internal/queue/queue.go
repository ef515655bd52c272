// Package queue provides fair, priority-ordered, bounded-concurrency
// execution of sync jobs with automatic retry.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pricesmith/pricesmith/pkg/models"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotPending = errors.New("job is not pending")
	ErrJobNotRunning = errors.New("job is not running")
	ErrInvalidJob    = errors.New("invalid job")
)

// JobQueue schedules sync jobs. Dequeue and Complete are the only points
// requiring atomicity; a single mutex covers the pending set, the running
// count and all store writes, so a job can never be dequeued twice or run
// past the concurrency cap.
type JobQueue struct {
	mu             sync.Mutex
	store          JobStore
	pending        []uuid.UUID // sorted by (priority asc, created_at asc)
	running        int
	maxConcurrency int
	now            func() time.Time
}

// Status is a point-in-time snapshot of the queue for the API.
type Status struct {
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	MaxConcurrency int `json:"max_concurrency"`
}

// New creates a JobQueue over the given store.
func New(store JobStore, maxConcurrency int) *JobQueue {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &JobQueue{
		store:          store,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Enqueue inserts a job into the pending set and re-sorts it by
// (priority ascending, created_at ascending). Missing fields are defaulted.
func (q *JobQueue) Enqueue(job *models.SyncJob) error {
	if job.Provider == "" {
		return errors.Join(ErrInvalidJob, errors.New("provider is required"))
	}
	if !models.ValidJobType(job.Type) {
		return errors.Join(ErrInvalidJob, errors.New("unknown job type "+job.Type))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now().UTC()
	}
	job.Status = models.JobStatusPending

	if err := q.store.Save(job); err != nil {
		return err
	}
	q.pushPendingLocked(job.ID)
	return nil
}

// Dequeue atomically removes the highest-priority pending job, marks it
// running and stamps started_at. It returns (nil, nil) when no pending job
// exists or the running count has reached the concurrency cap.
func (q *JobQueue) Dequeue() (*models.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 || q.running >= q.maxConcurrency {
		return nil, nil
	}

	id := q.pending[0]
	q.pending = q.pending[1:]

	// A store failure must leave the job schedulable, not stranded
	// outside both the pending set and the running count.
	job, err := q.store.Get(id)
	if err != nil {
		q.pushPendingLocked(id)
		return nil, err
	}

	started := q.now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	if err := q.store.Save(job); err != nil {
		q.pushPendingLocked(id)
		return nil, err
	}
	q.running++
	return job, nil
}

// Complete reports the outcome of a running job. On failure a job with
// retries remaining is re-enqueued with degraded priority; a job out of
// retries is terminally failed.
func (q *JobQueue) Complete(id uuid.UUID, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return ErrJobNotRunning
	}
	q.running--

	now := q.now().UTC()
	if jobErr == nil {
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
		job.ErrorMessage = nil
		return q.store.Save(job)
	}

	msg := jobErr.Error()
	job.ErrorMessage = &msg

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Priority++ // degrade: numerically higher runs later
		job.Status = models.JobStatusRetrying
		job.StartedAt = nil
		if err := q.store.Save(job); err != nil {
			return err
		}
		q.pushPendingLocked(job.ID)
		return nil
	}

	job.Status = models.JobStatusFailed
	job.CompletedAt = &now
	return q.store.Save(job)
}

// Cancel removes a job from the pending set. Cancelling a running or
// terminal job is rejected.
func (q *JobQueue) Cancel(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusRetrying {
		return ErrJobNotPending
	}

	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	return q.store.Delete(id)
}

// Get returns a job by id.
func (q *JobQueue) Get(id uuid.UUID) (*models.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Get(id)
}

// Sweep removes terminal jobs that completed more than retention ago and
// returns how many were removed.
func (q *JobQueue) Sweep(retention time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.All()
	if err != nil {
		return 0, err
	}

	cutoff := q.now().UTC().Add(-retention)
	removed := 0
	for _, job := range jobs {
		if !job.Terminal() || job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		if err := q.store.Delete(job.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Status counts jobs per state.
func (q *JobQueue) Status() (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.All()
	if err != nil {
		return Status{}, err
	}

	st := Status{MaxConcurrency: q.maxConcurrency, Running: q.running}
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusPending, models.JobStatusRetrying:
			st.Pending++
		case models.JobStatusCompleted:
			st.Completed++
		case models.JobStatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

// StartSweeper periodically removes terminal jobs older than retention.
// It blocks until ctx is cancelled; run it in its own goroutine.
func (q *JobQueue) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := q.Sweep(retention)
			if err != nil {
				slog.Error("job sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("swept terminal jobs", "removed", removed)
			}
		}
	}
}

// pushPendingLocked inserts the id and re-sorts the pending set. Sorting a
// nearly-sorted slice is cheap and keeps ordering rules in one place.
func (q *JobQueue) pushPendingLocked(id uuid.UUID) {
	q.pending = append(q.pending, id)
	sort.SliceStable(q.pending, func(i, j int) bool {
		a, errA := q.store.Get(q.pending[i])
		b, errB := q.store.Get(q.pending[j])
		if errA != nil || errB != nil {
			return false
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

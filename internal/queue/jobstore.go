package queue

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// JobStore persists sync jobs. The queue never touches backing storage
// directly, so a persistent implementation can be substituted without
// touching scheduling logic.
type JobStore interface {
	Save(job *models.SyncJob) error
	Get(id uuid.UUID) (*models.SyncJob, error)
	Delete(id uuid.UUID) error
	All() ([]*models.SyncJob, error)
}

// MemoryJobStore is the default in-process JobStore. Values are copied on
// the way in and out so callers never alias stored state.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]models.SyncJob
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]models.SyncJob)}
}

func (s *MemoryJobStore) Save(job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Get(id uuid.UUID) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryJobStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) All() ([]*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := job
		out = append(out, &j)
	}
	return out, nil
}

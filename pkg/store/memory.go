package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petpixie/pixie/pkg/models"
)

// MemoryStore is an in-memory implementation of the job registry
type MemoryStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
	}
}

// Create registers a job
func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%s: %w", job.ID, ErrJobExists)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Delete removes a job
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// List returns all jobs ordered by start time
func (s *MemoryStore) List(ctx context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs, nil
}

// Count returns the number of registered jobs
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}

// SaveSnapshot caches the latest snapshot for a job
func (s *MemoryStore) SaveSnapshot(ctx context.Context, id string, snap models.Snapshot, observedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	changed, err := applySnapshot(job, snap, observedAt)
	if err != nil {
		return false, err
	}
	return changed && snap.IsTerminal(), nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

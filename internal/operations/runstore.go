package operations

import (
	"sort"
	"sync"
	"time"

	apperrors "kpicompare/internal/errors"
	"kpicompare/pkg/contracts/domain"
)

// RunStore persists comparison runs
type RunStore interface {
	Create(run *domain.Run) error
	Get(id string) (*domain.Run, error)
	Update(id string, fn func(run *domain.Run)) (*domain.Run, error)
	List(filter RunFilter) []*domain.Run
	Delete(id string) error
}

// RunFilter for querying runs
type RunFilter struct {
	Status domain.RunStatus
	Since  time.Time
	Limit  int
}

// MemoryRunStore is an in-memory RunStore. Once more than maxRuns runs are
// held, the oldest finished ones are evicted.
type MemoryRunStore struct {
	mu      sync.RWMutex
	runs    map[string]*domain.Run
	maxRuns int
}

// NewMemoryRunStore creates a new in-memory run store; maxRuns <= 0 disables eviction
func NewMemoryRunStore(maxRuns int) *MemoryRunStore {
	return &MemoryRunStore{
		runs:    make(map[string]*domain.Run),
		maxRuns: maxRuns,
	}
}

// Create stores a new run
func (s *MemoryRunStore) Create(run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return apperrors.NewConflictError("run " + run.ID + " already exists")
	}

	s.runs[run.ID] = run
	s.evictLocked()
	return nil
}

// Get returns a copy of the run
func (s *MemoryRunStore) Get(id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("run " + id)
	}

	runCopy := *run
	return &runCopy, nil
}

// Update applies fn to the stored run under the store lock and returns a copy of the result
func (s *MemoryRunStore) Update(id string, fn func(run *domain.Run)) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("run " + id)
	}

	fn(run)
	runCopy := *run
	return &runCopy, nil
}

// List returns runs matching the filter, newest first
func (s *MemoryRunStore) List(filter RunFilter) []*domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && run.CreatedAt.Before(filter.Since) {
			continue
		}
		runCopy := *run
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

// Delete removes a run from the store
func (s *MemoryRunStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return apperrors.NewNotFoundError("run " + id)
	}
	delete(s.runs, id)
	return nil
}

// CleanupOldRuns removes finished runs created before now-olderThan
func (s *MemoryRunStore) CleanupOldRuns(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, run := range s.runs {
		if run.IsFinished() && run.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted
}

// evictLocked drops the oldest finished runs above maxRuns; in-flight runs are kept
func (s *MemoryRunStore) evictLocked() {
	if s.maxRuns <= 0 || len(s.runs) <= s.maxRuns {
		return
	}

	finished := make([]*domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if run.IsFinished() {
			finished = append(finished, run)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})

	for _, run := range finished {
		if len(s.runs) <= s.maxRuns {
			return
		}
		delete(s.runs, run.ID)
	}
}

// Stats returns run counts by status
func (s *MemoryRunStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{
		"total":     len(s.runs),
		"pending":   0,
		"running":   0,
		"completed": 0,
		"failed":    0,
	}
	for _, run := range s.runs {
		stats[string(run.Status)]++
	}
	return stats
}

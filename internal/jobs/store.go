package jobs

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a job id has no record, either
	// because it never existed or its record was already swept.
	ErrNotFound = errors.New("job not found")

	// ErrCapacity is returned by Submit when the active-job ceiling is
	// reached.
	ErrCapacity = errors.New("too many active jobs")
)

// Store keeps job records in memory under a single mutex. Records do
// not survive a restart; the active-job ceiling bounds the map size, so
// the coarse lock is not a contention concern.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

func (s *Store) Create(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

// Get returns a snapshot of the record or ErrNotFound.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// Update replaces the stored record wholesale. Last writer wins; the
// orchestrator guarantees a single mutator per job.
func (s *Store) Update(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

// Delete removes the record and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok
}

// ListExpired returns the ids of terminal records completed before
// now−ttl. PENDING and PROCESSING records are never listed, regardless
// of age.
func (s *Store) ListExpired(now time.Time, ttl time.Duration) []string {
	cutoff := now.Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, job := range s.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// CleanupExpired deletes expired records and returns the count removed.
func (s *Store) CleanupExpired(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// CountActive counts PENDING and PROCESSING records.
func (s *Store) CountActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			active++
		}
	}
	return active
}

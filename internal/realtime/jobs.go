package realtime

import (
	"sync"
	"time"
)

// Job run states.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobStatus is the last known state of a tracked job. New subscribers get it
// as their initial snapshot.
type JobStatus struct {
	JobID              string    `json:"job_id"`
	Status             string    `json:"status"`
	ProgressPercentage float64   `json:"progress_percentage"`
	ProcessedTargets   int       `json:"processed_targets"`
	TotalTargets       int       `json:"total_targets"`
	CompaniesFound     int       `json:"companies_found"`
	ContactsFound      int       `json:"contacts_found"`
	Message            string    `json:"message,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// JobStore tracks in-flight and recently finished jobs in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]JobStatus
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]JobStatus)}
}

// Track registers a job so subscribers may attach before any progress is
// reported.
func (s *JobStore) Track(jobID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		return
	}
	s.jobs[jobID] = JobStatus{JobID: jobID, Status: JobStatusPending, UpdatedAt: now}
}

// Get returns the last known status for jobID.
func (s *JobStore) Get(jobID string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.jobs[jobID]
	return st, ok
}

// UpdateProgress records incremental progress from a progress report.
func (s *JobStore) UpdateProgress(p ProgressPayload, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.jobs[p.JobID]
	st.JobID = p.JobID
	st.Status = p.Status
	if st.Status == "" {
		st.Status = JobStatusRunning
	}
	st.ProgressPercentage = p.ProgressPercentage
	st.ProcessedTargets = p.ProcessedTargets
	st.TotalTargets = p.TotalTargets
	st.CompaniesFound = p.CompaniesFound
	st.ContactsFound = p.ContactsFound
	st.Message = p.Message
	st.UpdatedAt = now
	s.jobs[p.JobID] = st
}

// Finish marks jobID terminal with the given status.
func (s *JobStore) Finish(jobID, status string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.jobs[jobID]
	st.JobID = jobID
	st.Status = status
	if status == JobStatusCompleted {
		st.ProgressPercentage = 100
	}
	st.UpdatedAt = now
	s.jobs[jobID] = st
}

// Forget drops jobID from the store.
func (s *JobStore) Forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// PruneFinished removes terminal jobs last updated before cutoff and returns
// how many were removed.
func (s *JobStore) PruneFinished(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, st := range s.jobs {
		if (st.Status == JobStatusCompleted || st.Status == JobStatusFailed) && st.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Len reports how many jobs are tracked.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

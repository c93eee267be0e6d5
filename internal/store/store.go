package store

import (
	"log/slog"
	"sync"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/metrics"
)

// ProgressPatch is the partial update realtime events apply, decoupled from
// the heavier full-entity replace path the REST poller uses.
type ProgressPatch struct {
	Progress     int
	Status       domain.JobStatus // empty = leave unchanged
	ResultsCount *int
	ErrorMessage *string
	Version      int64 // 0 = unversioned, fall back to the monotonic guard
}

// PagePatch merges into the tracked pagination; nil fields retain their
// prior values.
type PagePatch struct {
	Page  *int
	Size  *int
	Total *int
	Pages *int
}

// JobStore is the single source of truth for job state shown to consumers.
// It reconciles REST responses and realtime push events under one mutex so
// a progress patch and a full-entity replace never interleave into a
// half-written record. Construct one instance at startup and pass it by
// reference to every consumer.
type JobStore struct {
	mu       sync.Mutex
	jobs     []domain.Job
	current  *domain.Job
	page     domain.PageInfo
	applied  map[string]int64 // last applied version per job id
	watchers []func()
	logger   *slog.Logger
}

func New(logger *slog.Logger) *JobStore {
	return &JobStore{
		page:    domain.PageInfo{Page: 1, Size: 20},
		applied: make(map[string]int64),
		logger:  logger.With("component", "job_store"),
	}
}

// Subscribe registers fn to run after every store mutation and returns a
// disposer. Callbacks fire outside the store lock.
func (s *JobStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	idx := len(s.watchers) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.watchers) {
			s.watchers[idx] = nil
		}
	}
}

// SetJobs replaces the visible collection with a fresh listing. Pagination
// fields present in patch are merged; unspecified ones keep prior values.
func (s *JobStore) SetJobs(jobs []domain.Job, patch *PagePatch) {
	s.mu.Lock()
	s.jobs = make([]domain.Job, len(jobs))
	copy(s.jobs, jobs)
	for i := range s.jobs {
		s.rememberVersionLocked(&s.jobs[i])
	}
	if patch != nil {
		s.mergePageLocked(patch)
	}
	metrics.StoreJobsVisible.Set(float64(len(s.jobs)))
	s.mu.Unlock()
	s.notify()
}

// AddJob prepends a freshly created job, preserving most-recent-first
// ordering, and bumps the total.
func (s *JobStore) AddJob(job domain.Job) {
	s.mu.Lock()
	s.jobs = append([]domain.Job{job}, s.jobs...)
	s.rememberVersionLocked(&job)
	s.page.Total++
	s.page.Pages = domain.PageCount(s.page.Total, s.page.Size)
	metrics.StoreJobsVisible.Set(float64(len(s.jobs)))
	s.mu.Unlock()
	s.notify()
}

// UpdateJob replaces the matching entry by id. A job not present in the
// collection is never inserted. The current-job detail view is updated in
// the same critical section so list and detail cannot disagree.
//
// A full entity that carries a version below the last applied one is
// discarded as stale, except when its retry count increased: a restart
// legitimately rewinds progress and must win.
func (s *JobStore) UpdateJob(job domain.Job) {
	s.mu.Lock()
	if !s.admitLocked(job) {
		s.mu.Unlock()
		return
	}

	for i := range s.jobs {
		if s.jobs[i].ID == job.ID {
			s.jobs[i] = job
			break
		}
	}
	if s.current != nil && s.current.ID == job.ID {
		copied := job
		s.current = &copied
	}
	s.rememberVersionLocked(&job)
	s.mu.Unlock()
	s.notify()
}

// UpdateProgress applies a progress-only patch to both the list entry and
// the current-job detail view, atomically from the caller's perspective.
// Stale patches (older version, regressed progress, or any mutation of a
// job already in a terminal state) are discarded.
func (s *JobStore) UpdateProgress(jobID string, patch ProgressPatch) {
	s.mu.Lock()

	existing := s.findLocked(jobID)
	if existing == nil && (s.current == nil || s.current.ID != jobID) {
		s.mu.Unlock()
		return
	}

	var currentStatus domain.JobStatus
	var currentProgress int
	if existing != nil {
		currentStatus = existing.Status
		currentProgress = existing.Progress
	} else {
		currentStatus = s.current.Status
		currentProgress = s.current.Progress
	}

	if !s.admitPatchLocked(jobID, patch, currentStatus, currentProgress) {
		metrics.StoreStaleDiscardsTotal.Inc()
		s.logger.Debug("discarding stale progress patch",
			"job_id", jobID, "progress", patch.Progress, "status", string(patch.Status), "version", patch.Version)
		s.mu.Unlock()
		return
	}

	apply := func(j *domain.Job) {
		j.Progress = patch.Progress
		if patch.Status != "" {
			j.Status = patch.Status
		}
		if patch.ResultsCount != nil {
			j.ResultsCount = *patch.ResultsCount
		}
		if patch.ErrorMessage != nil {
			j.ErrorMessage = patch.ErrorMessage
		}
		if patch.Version > j.Version {
			j.Version = patch.Version
		}
	}

	if existing != nil {
		apply(existing)
	}
	if s.current != nil && s.current.ID == jobID {
		apply(s.current)
	}
	if patch.Version > s.applied[jobID] {
		s.applied[jobID] = patch.Version
	}
	s.mu.Unlock()
	s.notify()
}

// RemoveJob deletes the entry, decrements the total and clears the
// current-job view if it matched. Used when the backend reports the job
// gone (stale local state).
func (s *JobStore) RemoveJob(jobID string) {
	s.mu.Lock()
	removed := false
	for i := range s.jobs {
		if s.jobs[i].ID == jobID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			removed = true
			break
		}
	}
	if removed && s.page.Total > 0 {
		s.page.Total--
		s.page.Pages = domain.PageCount(s.page.Total, s.page.Size)
	}
	if s.current != nil && s.current.ID == jobID {
		s.current = nil
	}
	delete(s.applied, jobID)
	metrics.StoreJobsVisible.Set(float64(len(s.jobs)))
	s.mu.Unlock()
	s.notify()
}

// SetCurrentJob installs the detail view entity. Pass nil to clear it.
func (s *JobStore) SetCurrentJob(job *domain.Job) {
	s.mu.Lock()
	if job == nil {
		s.current = nil
	} else {
		copied := *job
		s.current = &copied
		s.rememberVersionLocked(job)
	}
	s.mu.Unlock()
	s.notify()
}

// Jobs returns a copy of the visible collection, most recent first.
func (s *JobStore) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Job returns the visible entry for id, if present.
func (s *JobStore) Job(jobID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findLocked(jobID); j != nil {
		return *j, true
	}
	return domain.Job{}, false
}

// CurrentJob returns the detail-view entity, if one is set.
func (s *JobStore) CurrentJob() (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Job{}, false
	}
	return *s.current, true
}

func (s *JobStore) Pagination() domain.PageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *JobStore) findLocked(jobID string) *domain.Job {
	for i := range s.jobs {
		if s.jobs[i].ID == jobID {
			return &s.jobs[i]
		}
	}
	return nil
}

func (s *JobStore) mergePageLocked(patch *PagePatch) {
	if patch.Page != nil {
		s.page.Page = *patch.Page
	}
	if patch.Size != nil {
		s.page.Size = *patch.Size
	}
	if patch.Total != nil {
		s.page.Total = *patch.Total
	}
	if patch.Pages != nil {
		s.page.Pages = *patch.Pages
	} else if patch.Total != nil || patch.Size != nil {
		s.page.Pages = domain.PageCount(s.page.Total, s.page.Size)
	}
}

func (s *JobStore) rememberVersionLocked(job *domain.Job) {
	if job.Version > s.applied[job.ID] {
		s.applied[job.ID] = job.Version
	}
}

// admitLocked decides whether a full-entity replace may land.
func (s *JobStore) admitLocked(job domain.Job) bool {
	existing := s.findLocked(job.ID)
	if existing == nil && (s.current == nil || s.current.ID != job.ID) {
		// UpdateJob never inserts.
		return false
	}

	prior := existing
	if prior == nil {
		prior = s.current
	}

	// A restart resets progress and version legitimately.
	if job.RetryCount > prior.RetryCount {
		return true
	}

	if job.Version > 0 {
		if last := s.applied[job.ID]; job.Version < last {
			metrics.StoreStaleDiscardsTotal.Inc()
			s.logger.Debug("discarding stale entity", "job_id", job.ID, "version", job.Version, "last_applied", last)
			return false
		}
		return true
	}

	// Unversioned: terminal is sticky, except identical re-delivery.
	if prior.Status.Terminal() && job.Status != prior.Status {
		metrics.StoreStaleDiscardsTotal.Inc()
		return false
	}
	return true
}

// admitPatchLocked decides whether a progress-only patch may land.
func (s *JobStore) admitPatchLocked(jobID string, patch ProgressPatch, currentStatus domain.JobStatus, currentProgress int) bool {
	// Terminal is sticky: only an identical terminal re-delivery is
	// tolerated (as a no-op-ish idempotent apply), everything else waits
	// for an explicit restart via the full-entity path.
	if currentStatus.Terminal() {
		return patch.Status == currentStatus
	}

	if patch.Version > 0 {
		return patch.Version >= s.applied[jobID]
	}

	// Unversioned patch: never regress visible progress while running.
	if patch.Status == "" || patch.Status == currentStatus {
		return patch.Progress >= currentProgress
	}
	return currentStatus.CanTransitionTo(patch.Status)
}

func (s *JobStore) notify() {
	s.mu.Lock()
	watchers := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		if fn != nil {
			watchers = append(watchers, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range watchers {
		fn()
	}
}

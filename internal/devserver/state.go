package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadscout/leadscout/internal/domain"
)

// Options tunes the progress simulator. Tests use a small tick so jobs
// finish quickly.
type Options struct {
	Tick      time.Duration // simulator interval
	Step      int           // progress percent added per tick
	Version   string        // reported by /health
	ExportTTL time.Duration
}

func (o *Options) defaults() {
	if o.Tick == 0 {
		o.Tick = time.Second
	}
	if o.Step == 0 {
		o.Step = 10
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.ExportTTL == 0 {
		o.ExportTTL = 15 * time.Minute
	}
}

type export struct {
	jobID     string
	format    string
	expiresAt time.Time
}

// Server is an in-memory stand-in for the scraping backend. It honors the
// dashboard's REST and push contracts and simulates job progress, but it
// does not scrape anything.
type Server struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	order   []string // job ids, newest first
	results map[string][]domain.Business
	exports map[string]export

	hub    *Hub
	logger *slog.Logger
	opts   Options
}

func New(logger *slog.Logger, opts Options) *Server {
	opts.defaults()
	return &Server{
		jobs:    make(map[string]*domain.Job),
		order:   []string{},
		results: make(map[string][]domain.Business),
		exports: make(map[string]export),
		hub:     NewHub(logger),
		logger:  logger.With("component", "devserver"),
		opts:    opts,
	}
}

// Run drives the progress simulator until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.logger.Info("simulator started", "tick", s.opts.Tick, "step", s.opts.Step)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick advances every active job one simulation step and publishes the
// resulting push events.
func (s *Server) tick() {
	type event struct {
		jobID   string
		msgType string
		payload progressPayload
	}
	var events []event

	s.mu.Lock()
	now := time.Now()
	for _, job := range s.jobs {
		switch job.Status {
		case domain.StatusPending:
			job.Status = domain.StatusRunning
			started := now
			job.StartedAt = &started
			eta := now.Add(time.Duration((100-job.Progress)/s.opts.Step+1) * s.opts.Tick)
			job.EstimatedCompletion = &eta
			s.touchLocked(job, now)
			events = append(events, event{job.ID, "job_progress", s.payloadLocked(job, "started")})

		case domain.StatusRunning:
			job.Progress += s.opts.Step
			if job.Progress > 100 {
				job.Progress = 100
			}
			job.ResultsCount = len(s.growResultsLocked(job))

			// Keyword "fail" is a test hook: the job dies halfway.
			if job.Keyword == "fail" && job.Progress >= 50 {
				msg := "simulated scraper failure"
				job.Status = domain.StatusFailed
				job.ErrorMessage = &msg
				completed := now
				job.CompletedAt = &completed
				s.touchLocked(job, now)
				events = append(events, event{job.ID, "job_failed", s.payloadLocked(job, msg)})
				continue
			}

			if job.Progress >= 100 {
				job.Progress = 100
				job.Status = domain.StatusCompleted
				completed := now
				job.CompletedAt = &completed
				s.touchLocked(job, now)
				events = append(events, event{job.ID, "job_completed", s.payloadLocked(job, "done")})
				continue
			}

			s.touchLocked(job, now)
			events = append(events, event{job.ID, "job_progress", s.payloadLocked(job, "")})
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.hub.Publish(ev.jobID, ev.msgType, ev.payload)
	}
}

type progressPayload struct {
	JobID        string           `json:"job_id"`
	Progress     int              `json:"progress"`
	Status       domain.JobStatus `json:"status"`
	Message      string           `json:"message,omitempty"`
	ResultsCount *int             `json:"results_count,omitempty"`
	Version      int64            `json:"version"`
}

func (s *Server) payloadLocked(job *domain.Job, message string) progressPayload {
	count := job.ResultsCount
	return progressPayload{
		JobID:        job.ID,
		Progress:     job.Progress,
		Status:       job.Status,
		Message:      message,
		ResultsCount: &count,
		Version:      job.Version,
	}
}

func (s *Server) touchLocked(job *domain.Job, now time.Time) {
	job.Version++
	job.UpdatedAt = now
}

// growResultsLocked fabricates a couple of businesses per step so the
// results view has something to page through.
func (s *Server) growResultsLocked(job *domain.Job) []domain.Business {
	existing := s.results[job.ID]
	target := job.Progress / 5
	if job.Options.MaxResults != nil && target > *job.Options.MaxResults {
		target = *job.Options.MaxResults
	}
	now := time.Now()
	for i := len(existing); i < target; i++ {
		name := fmt.Sprintf("%s #%d (%s)", job.Keyword, i+1, job.Location)
		phone := fmt.Sprintf("+1-512-555-%04d", i)
		rating := fmt.Sprintf("%.1f", 3.0+float64(i%20)/10)
		b := domain.Business{
			ID:        uuid.NewString(),
			Name:      name,
			Phone:     &phone,
			Rating:    &rating,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if job.Options.IncludeEmails {
			email := fmt.Sprintf("contact%d@example.com", i)
			b.Email = &email
		}
		existing = append(existing, b)
	}
	s.results[job.ID] = existing
	return existing
}

func (s *Server) createJob(keyword, location string, radius float64, sources []string, options *domain.JobOptions) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if radius == 0 {
		radius = 25
	}
	if len(sources) == 0 {
		sources = []string{"google_maps"}
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		Keyword:     keyword,
		Location:    location,
		RadiusMiles: radius,
		Sources:     sources,
		Status:      domain.StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if options != nil {
		job.Options = *options
	}

	s.jobs[job.ID] = job
	s.order = append([]string{job.ID}, s.order...)
	s.logger.Info("job created", "job_id", job.ID, "keyword", keyword, "location", location)
	return job
}

func (s *Server) getJob(id string) (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

func (s *Server) listJobs(page, size int, status domain.JobStatus) domain.Page[domain.Job] {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []domain.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if status != "" && job.Status != status {
			continue
		}
		filtered = append(filtered, *job)
	}

	total := len(filtered)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return domain.Page[domain.Job]{
		Items: filtered[start:end],
		Total: total,
		Page:  page,
		Size:  size,
		Pages: domain.PageCount(total, size),
	}
}

func (s *Server) listResults(jobID string, page, size int) (*domain.Job, []domain.Business, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil, 0, false
	}

	all := make([]domain.Business, len(s.results[jobID]))
	copy(all, s.results[jobID])
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := len(all)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	copied := *job
	return &copied, all[start:end], total, true
}

func (s *Server) issueExport(jobID, format string) (string, time.Time, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return "", time.Time{}, 0, false
	}
	token := uuid.NewString()
	expires := time.Now().Add(s.opts.ExportTTL)
	s.exports[token] = export{jobID: jobID, format: format, expiresAt: expires}
	return token, expires, len(s.results[jobID]), true
}

func (s *Server) claimExport(token string) (export, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.exports[token]
	if !ok {
		return export{}, false
	}
	if time.Now().After(exp.expiresAt) {
		delete(s.exports, token)
		return export{}, false
	}
	return exp, true
}

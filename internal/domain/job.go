package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further progress mutation is expected.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the job may still produce progress updates.
func (s JobStatus) Active() bool {
	return s == StatusPending || s == StatusRunning || s == StatusPaused
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the job lifecycle state machine. Re-delivery of
// the current status is always allowed so duplicate events stay idempotent.
// The failed -> pending edge is the explicit restart action.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed || next == StatusCancelled
	case StatusRunning:
		return next == StatusPaused || next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusPaused:
		return next == StatusRunning || next == StatusCancelled
	case StatusFailed:
		return next == StatusPending
	case StatusCancelled:
		return next == StatusPending
	default: // completed
		return false
	}
}

type JobOptions struct {
	IncludeEmails  bool     `json:"include_emails"`
	IncludeSocial  bool     `json:"include_social"`
	IncludeReviews bool     `json:"include_reviews"`
	MaxResults     *int     `json:"max_results,omitempty"`
	MinRating      *float64 `json:"min_rating,omitempty"`
}

// Job is a single requested scraping task. The request parameters are
// immutable once created; status, progress and counters are owned by the
// backend and mirrored here.
type Job struct {
	ID          string     `json:"id"`
	Keyword     string     `json:"keyword"`
	Location    string     `json:"location"`
	RadiusMiles float64    `json:"radius_miles"`
	Sources     []string   `json:"sources"`
	Options     JobOptions `json:"options"`

	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	ResultsCount int       `json:"results_count"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`

	// Version increases on every server-side mutation. The store uses it
	// to discard updates that arrive out of order; 0 means unversioned.
	Version int64 `json:"version"`

	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Duration derives the displayable run time. A job that never started has
// no duration; a finished job reports completed_at - started_at; an active
// job reports elapsed time against now.
func (j *Job) Duration(now time.Time) (time.Duration, bool) {
	if j.StartedAt == nil {
		return 0, false
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt), true
	}
	if j.Status.Active() {
		return now.Sub(*j.StartedAt), true
	}
	return 0, false
}

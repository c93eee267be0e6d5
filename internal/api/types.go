package api

import (
	"time"

	"github.com/leadscout/leadscout/internal/domain"
)

type CreateJobRequest struct {
	Keyword     string             `json:"keyword"`
	Location    string             `json:"location"`
	RadiusMiles float64            `json:"radius_miles,omitempty"`
	Sources     []string           `json:"sources,omitempty"`
	Options     *domain.JobOptions `json:"options,omitempty"`
}

// UpdateJobRequest is a partial patch; nil fields are left untouched by the
// server-authoritative merge.
type UpdateJobRequest struct {
	Status       *domain.JobStatus `json:"status,omitempty"`
	Progress     *int              `json:"progress,omitempty"`
	ResultsCount *int              `json:"results_count,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
}

type ListJobsParams struct {
	Page   int
	Size   int
	Status domain.JobStatus // empty = all statuses
}

// JobResultsResponse combines the job, a page of its business matches and
// the pagination fields.
type JobResultsResponse struct {
	Job          domain.Job        `json:"job"`
	Businesses   []domain.Business `json:"businesses"`
	TotalResults int               `json:"total_results"`
	Page         int               `json:"page"`
	Size         int               `json:"size"`
	Pages        int               `json:"pages"`
}

type ExportFormat string

const (
	ExportCSV   ExportFormat = "csv"
	ExportJSON  ExportFormat = "json"
	ExportExcel ExportFormat = "excel"
)

type ExportRequest struct {
	Format  ExportFormat   `json:"format"`
	Fields  []string       `json:"fields,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
}

type ExportResponse struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	FileSize    int64     `json:"file_size"`
	RecordCount int       `json:"record_count"`
}

// Expired reports whether the time-limited download URL is no longer usable.
func (e *ExportResponse) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type SuccessResponse struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

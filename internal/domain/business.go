package domain

import "time"

// Business is a scraped record. The backend owns it; the client treats it
// as immutable once received and does not merge it into a long-lived cache.
type Business struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Address     *string        `json:"address,omitempty"`
	Phone       *string        `json:"phone,omitempty"`
	Email       *string        `json:"email,omitempty"`
	Website     *string        `json:"website,omitempty"`
	Rating      *string        `json:"rating,omitempty"`
	ReviewCount *int           `json:"review_count,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// JobResult links a Job to a Business with provenance. Many results may
// reference one business; each belongs to exactly one job.
type JobResult struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	BusinessID      string    `json:"business_id"`
	Source          string    `json:"source"`
	ConfidenceScore float64   `json:"confidence_score"`
	SearchTerm      *string   `json:"search_term,omitempty"`
	SearchPosition  *string   `json:"search_position,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Business        *Business `json:"business,omitempty"`
}

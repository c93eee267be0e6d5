package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/leadscout/leadscout/internal/domain"
)

const (
	errJobNotFound    = "Job not found"
	errExportNotFound = "Export not found or link expired"
	errCannotRestart  = "Job cannot be restarted in its current status"
	errBadTransition  = "Requested status transition is not allowed"
)

type createJobRequest struct {
	Keyword     string             `json:"keyword" binding:"required"`
	Location    string             `json:"location" binding:"required"`
	RadiusMiles float64            `json:"radius_miles" binding:"omitempty,gt=0"`
	Sources     []string           `json:"sources"`
	Options     *domain.JobOptions `json:"options"`
}

type updateJobRequest struct {
	Status       *domain.JobStatus `json:"status" binding:"omitempty,oneof=pending running paused completed failed cancelled"`
	Progress     *int              `json:"progress" binding:"omitempty,min=0,max=100"`
	ResultsCount *int              `json:"results_count" binding:"omitempty,min=0"`
	ErrorMessage *string           `json:"error_message"`
}

type exportRequest struct {
	Format  string         `json:"format" binding:"required,oneof=csv json excel"`
	Fields  []string       `json:"fields"`
	Filters map[string]any `json:"filters"`
}

// Router assembles the gin engine implementing the dashboard's REST and
// push contracts.
func (s *Server) Router(logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(logger))

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.handleHealth)

	jobs := v1.Group("/jobs")
	jobs.POST("", s.handleCreateJob)
	jobs.GET("", s.handleListJobs)
	jobs.GET("/:id", s.handleGetJob)
	jobs.PATCH("/:id", s.handleUpdateJob)
	jobs.DELETE("/:id", s.handleCancelJob)
	jobs.POST("/:id/restart", s.handleRestartJob)
	jobs.GET("/:id/results", s.handleJobResults)

	v1.POST("/exports/:id", s.handleRequestExport)
	v1.GET("/exports/download/:token", s.handleDownloadExport)

	r.GET("/ws", func(c *gin.Context) { s.hub.Serve(c.Writer, c.Request) })

	return r
}

func fail(c *gin.Context, status int, detail, code string) {
	c.JSON(status, gin.H{"detail": detail, "code": code})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version})
}

func (s *Server) handleCreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	job := s.createJob(req.Keyword, req.Location, req.RadiusMiles, req.Sources, req.Options)
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	status := domain.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status), "validation_error")
		return
	}

	c.JSON(http.StatusOK, s.listJobs(page, size, status))
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, errJobNotFound, "not_found")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleUpdateJob(c *gin.Context) {
	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		fail(c, http.StatusNotFound, errJobNotFound, "not_found")
		return
	}

	if req.Status != nil && !job.Status.CanTransitionTo(*req.Status) {
		s.mu.Unlock()
		fail(c, http.StatusConflict, errBadTransition, "invalid_state")
		return
	}

	now := time.Now()
	if req.Status != nil {
		job.Status = *req.Status
		if job.Status.Terminal() && job.CompletedAt == nil {
			completed := now
			job.CompletedAt = &completed
		}
	}
	if req.Progress != nil {
		job.Progress = *req.Progress
	}
	if req.ResultsCount != nil {
		job.ResultsCount = *req.ResultsCount
	}
	if req.ErrorMessage != nil {
		job.ErrorMessage = req.ErrorMessage
	}
	s.touchLocked(job, now)
	copied := *job
	s.mu.Unlock()

	c.JSON(http.StatusOK, copied)
}

// handleCancelJob cancels an active job. Cancelling a job that already
// reached a terminal state is a no-op success, so retries and double
// clicks stay harmless.
func (s *Server) handleCancelJob(c *gin.Context) {
	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		fail(c, http.StatusNotFound, errJobNotFound, "not_found")
		return
	}

	if job.Status.Terminal() {
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"message": "Job already finished"})
		return
	}

	now := time.Now()
	job.Status = domain.StatusCancelled
	completed := now
	job.CompletedAt = &completed
	s.touchLocked(job, now)
	s.mu.Unlock()

	s.logger.Info("job cancelled", "job_id", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"message": "Job cancelled successfully"})
}

func (s *Server) handleRestartJob(c *gin.Context) {
	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		fail(c, http.StatusNotFound, errJobNotFound, "not_found")
		return
	}

	if job.Status != domain.StatusFailed && job.Status != domain.StatusCancelled {
		s.mu.Unlock()
		fail(c, http.StatusConflict, errCannotRestart, "invalid_state")
		return
	}

	now := time.Now()
	job.Status = domain.StatusPending
	job.Progress = 0
	job.ErrorMessage = nil
	job.RetryCount++
	job.StartedAt = nil
	job.CompletedAt = nil
	delete(s.results, job.ID)
	job.ResultsCount = 0
	s.touchLocked(job, now)
	copied := *job
	s.mu.Unlock()

	s.logger.Info("job restarted", "job_id", copied.ID, "retry_count", copied.RetryCount)
	c.JSON(http.StatusOK, copied)
}

func (s *Server) handleJobResults(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 20)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	job, businesses, total, ok := s.listResults(c.Param("id"), page, size)
	if !ok {
		fail(c, http.StatusNotFound, errJobNotFound, "not_found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":           job,
		"businesses":    businesses,
		"total_results": total,
		"page":          page,
		"size":          size,
		"pages":         domain.PageCount(total, size),
	})
}

func (s *Server) handleRequestExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	jobID := c.Param("id")
	token, expires, count, ok := s.issueExport(jobID, req.Format)
	if !ok {
		fail(c, http.StatusNotFound, errJobNotFound, "not_found")
		return
	}

	downloadURL := fmt.Sprintf("http://%s/api/v1/exports/download/%s", c.Request.Host, token)
	body, _ := s.renderExport(jobID, req.Format)
	c.JSON(http.StatusOK, gin.H{
		"download_url": downloadURL,
		"expires_at":   expires,
		"file_size":    len(body),
		"record_count": count,
	})
}

func (s *Server) handleDownloadExport(c *gin.Context) {
	exp, ok := s.claimExport(c.Param("token"))
	if !ok {
		fail(c, http.StatusNotFound, errExportNotFound, "export_expired")
		return
	}

	body, contentType := s.renderExport(exp.jobID, exp.format)
	c.Data(http.StatusOK, contentType, body)
}

// renderExport serializes the job's businesses. Excel falls back to CSV;
// generating a real workbook is not something the dev stub needs.
func (s *Server) renderExport(jobID, format string) ([]byte, string) {
	s.mu.Lock()
	businesses := make([]domain.Business, len(s.results[jobID]))
	copy(businesses, s.results[jobID])
	s.mu.Unlock()

	if format == "json" {
		body, _ := json.Marshal(businesses)
		return body, "application/json"
	}

	out := "id,name,phone,email,rating\n"
	for _, b := range businesses {
		out += fmt.Sprintf("%s,%q,%s,%s,%s\n", b.ID, b.Name, strDeref(b.Phone), strDeref(b.Email), strDeref(b.Rating))
	}
	return []byte(out), "text/csv"
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

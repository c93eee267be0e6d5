package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/metrics"
)

const (
	defaultPage = 1
	defaultSize = 20
)

// Client is a typed wrapper around the job/results/export HTTP API. Every
// failure it returns is a normalized *Error.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With("component", "api_client"),
	}
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, "create_job", http.MethodPost, "/jobs/", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListJobs(ctx context.Context, params ListJobsParams) (*domain.Page[domain.Job], error) {
	if params.Page == 0 {
		params.Page = defaultPage
	}
	if params.Size == 0 {
		params.Size = defaultSize
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(params.Page))
	q.Set("size", strconv.Itoa(params.Size))
	if params.Status != "" {
		q.Set("status", string(params.Status))
	}

	var page domain.Page[domain.Job]
	if err := c.do(ctx, "list_jobs", http.MethodGet, "/jobs/?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, "get_job", http.MethodGet, "/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) UpdateJob(ctx context.Context, jobID string, req UpdateJobRequest) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, "update_job", http.MethodPatch, "/jobs/"+jobID, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob is idempotent: cancelling an already-terminal job is a no-op
// success on the server, not an error.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*SuccessResponse, error) {
	var resp SuccessResponse
	if err := c.do(ctx, "cancel_job", http.MethodDelete, "/jobs/"+jobID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestartJob resets a failed (or cancelled) job to pending and increments
// its retry count. Any other current status yields an invalid-state error.
func (c *Client) RestartJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, "restart_job", http.MethodPost, "/jobs/"+jobID+"/restart", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListJobResults(ctx context.Context, jobID string, page, size int) (*JobResultsResponse, error) {
	if page == 0 {
		page = defaultPage
	}
	if size == 0 {
		size = defaultSize
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var resp JobResultsResponse
	if err := c.do(ctx, "list_job_results", http.MethodGet, "/jobs/"+jobID+"/results?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RequestExport(ctx context.Context, jobID string, req ExportRequest) (*ExportResponse, error) {
	var resp ExportResponse
	if err := c.do(ctx, "request_export", http.MethodPost, "/exports/"+jobID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadExport fetches the export file behind a previously issued
// download URL. The URL is time-limited: once past expires_at the client
// refuses to retry it and reports the export as gone, so callers request a
// fresh export instead of hammering a dead link.
func (c *Client) DownloadExport(ctx context.Context, export *ExportResponse) ([]byte, error) {
	if export.Expired(time.Now()) {
		return nil, &Error{
			Status:  http.StatusNotFound,
			Message: "export download link has expired",
			Code:    CodeExportExpired,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, export.DownloadURL, nil)
	if err != nil {
		return nil, &Error{Status: 0, Message: err.Error(), Code: CodeNetworkError}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &Error{Status: 0, Message: err.Error(), Code: CodeNetworkError}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, normalizeHTTPError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "health_check", http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do performs one request/response cycle with central error normalization:
// a transport failure becomes status 0 with a network_error code, a non-2xx
// response becomes an *Error preferring the server's detail field, then the
// status text, then a generic message.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.observe(op, "transport", start)
		c.logger.Warn("request failed in transport", "operation", op, "error", err)
		return &Error{Status: 0, Message: err.Error(), Code: CodeNetworkError}
	}
	defer resp.Body.Close()

	c.observe(op, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := normalizeHTTPError(resp)
		c.logger.Debug("request rejected", "operation", op, "status", apiErr.Status, "message", apiErr.Message)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(op, status string, start time.Time) {
	metrics.APIRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	metrics.APIRequestsTotal.WithLabelValues(op, status).Inc()
}

func normalizeHTTPError(resp *http.Response) *Error {
	apiErr := &Error{Status: resp.StatusCode}

	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Detail != "" {
		apiErr.Message = body.Detail
		apiErr.Code = body.Code
		return apiErr
	}

	if text := http.StatusText(resp.StatusCode); text != "" {
		apiErr.Message = text
	} else {
		apiErr.Message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}
	return apiErr
}

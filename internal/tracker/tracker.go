package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadscout/leadscout/internal/api"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/jobctx"
	"github.com/leadscout/leadscout/internal/realtime"
	"github.com/leadscout/leadscout/internal/store"
)

// JobAPI is the slice of the REST client the tracker drives. Depending on
// the interface keeps the tracker testable with fakes.
type JobAPI interface {
	CreateJob(ctx context.Context, req api.CreateJobRequest) (*domain.Job, error)
	ListJobs(ctx context.Context, params api.ListJobsParams) (*domain.Page[domain.Job], error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID string) (*api.SuccessResponse, error)
	RestartJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// PushChannel is the slice of the realtime client the tracker drives.
type PushChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	On(event realtime.Event, fn realtime.Listener) func()
	SubscribeToJob(jobID string) error
	UnsubscribeFromJob(jobID string) error
	State() realtime.ConnState
}

// Tracker reconciles the two asynchronous sources, periodic REST polling
// and the push channel, into the job store. Push loss is non-fatal: the
// poll loop keeps the store converging while the channel recovers.
type Tracker struct {
	apic   JobAPI
	push   PushChannel
	store  *store.JobStore
	cron   *cron.Cron
	logger *slog.Logger

	pollInterval time.Duration
	disposers    []func()
}

func New(apic JobAPI, push PushChannel, st *store.JobStore, pollInterval time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		apic:         apic,
		push:         push,
		store:        st,
		pollInterval: pollInterval,
		logger:       logger.With("component", "tracker"),
	}
}

// Start registers the push handlers, connects the channel and begins the
// poll schedule. A failed initial connection downgrades to polling only;
// it is logged, not returned.
func (t *Tracker) Start(ctx context.Context) error {
	t.disposers = append(t.disposers,
		t.push.On(realtime.EventJobProgress, t.onProgress(ctx)),
		t.push.On(realtime.EventJobCompleted, t.onTerminal(ctx, domain.StatusCompleted)),
		t.push.On(realtime.EventJobFailed, t.onTerminal(ctx, domain.StatusFailed)),
		t.push.On(realtime.EventResultUpdate, t.onResultUpdate()),
	)

	if err := t.push.Connect(ctx); err != nil {
		t.logger.Warn("push channel unavailable, polling only", "error", err)
	}

	t.poll(ctx)

	t.cron = cron.New()
	if _, err := t.cron.AddFunc(fmt.Sprintf("@every %s", t.pollInterval), func() { t.poll(ctx) }); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	t.cron.Start()

	t.logger.Info("tracker started", "poll_interval", t.pollInterval)
	return nil
}

// Stop halts polling and tears down the push channel.
func (t *Tracker) Stop() {
	if t.cron != nil {
		<-t.cron.Stop().Done()
	}
	for _, dispose := range t.disposers {
		dispose()
	}
	t.disposers = nil
	t.push.Disconnect()
	t.logger.Info("tracker stopped")
}

// CreateJob submits the job, prepends it to the store and subscribes to its
// progress events.
func (t *Tracker) CreateJob(ctx context.Context, req api.CreateJobRequest) (*domain.Job, error) {
	job, err := t.apic.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}
	t.store.AddJob(*job)
	if err := t.push.SubscribeToJob(job.ID); err != nil {
		t.logger.Warn("subscribe after create", "error", err, "job_id", job.ID)
	}
	return job, nil
}

// OpenJob loads the entity into the detail view and subscribes to its
// events. A vanished job is removed from the store and the not-found error
// is returned.
func (t *Tracker) OpenJob(ctx context.Context, jobID string) (*domain.Job, error) {
	ctx = jobctx.WithJobID(ctx, jobID)
	job, err := t.apic.GetJob(ctx, jobID)
	if err != nil {
		if api.IsNotFound(err) {
			t.logger.InfoContext(ctx, "job vanished server-side, dropping local entry")
			t.store.RemoveJob(jobID)
		}
		return nil, err
	}
	t.store.SetCurrentJob(job)
	t.store.UpdateJob(*job)
	if err := t.push.SubscribeToJob(jobID); err != nil {
		t.logger.WarnContext(ctx, "subscribe", "error", err)
	}
	return job, nil
}

// CloseJob clears the detail view and drops the subscription.
func (t *Tracker) CloseJob(jobID string) {
	if err := t.push.UnsubscribeFromJob(jobID); err != nil {
		t.logger.Warn("unsubscribe", "error", err, "job_id", jobID)
	}
	t.store.SetCurrentJob(nil)
}

// CancelJob asks the backend to cancel and refreshes the entity so the
// store reflects the terminal state. Cancelling an already-terminal job is
// a no-op success.
func (t *Tracker) CancelJob(ctx context.Context, jobID string) error {
	ctx = jobctx.WithJobID(ctx, jobID)
	if _, err := t.apic.CancelJob(ctx, jobID); err != nil {
		return err
	}
	t.refreshJob(ctx, jobID)
	return nil
}

// RestartJob restarts a failed job. On an invalid-state rejection nothing
// in the store is mutated.
func (t *Tracker) RestartJob(ctx context.Context, jobID string) (*domain.Job, error) {
	ctx = jobctx.WithJobID(ctx, jobID)
	job, err := t.apic.RestartJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	t.store.UpdateJob(*job)
	if err := t.push.SubscribeToJob(jobID); err != nil {
		t.logger.WarnContext(ctx, "subscribe after restart", "error", err)
	}
	return job, nil
}

// poll refreshes the visible collection from the REST API. The current
// page is preserved so pagination survives refreshes.
func (t *Tracker) poll(ctx context.Context) {
	page := t.store.Pagination()
	listing, err := t.apic.ListJobs(ctx, api.ListJobsParams{Page: page.Page, Size: page.Size})
	if err != nil {
		if api.IsTransport(err) {
			t.logger.Warn("poll: backend unreachable", "error", err)
		} else {
			t.logger.Error("poll failed", "error", err)
		}
		return
	}

	t.store.SetJobs(listing.Items, &store.PagePatch{
		Page:  &listing.Page,
		Size:  &listing.Size,
		Total: &listing.Total,
		Pages: &listing.Pages,
	})
}

func (t *Tracker) refreshJob(ctx context.Context, jobID string) {
	job, err := t.apic.GetJob(ctx, jobID)
	if err != nil {
		if api.IsNotFound(err) {
			t.store.RemoveJob(jobID)
			return
		}
		t.logger.WarnContext(ctx, "refresh job", "error", err)
		return
	}
	t.store.UpdateJob(*job)
}

func (t *Tracker) onProgress(ctx context.Context) realtime.Listener {
	return func(data json.RawMessage) {
		upd, err := decodeProgress(data)
		if err != nil {
			t.logger.Warn("malformed job_progress payload", "error", err)
			return
		}
		t.store.UpdateProgress(upd.JobID, store.ProgressPatch{
			Progress:     upd.Progress,
			Status:       upd.Status,
			ResultsCount: upd.ResultsCount,
			Version:      upd.Version,
		})
		t.logger.DebugContext(jobctx.WithJobID(ctx, upd.JobID), "progress applied",
			"progress", upd.Progress, "status", string(upd.Status))
	}
}

// onTerminal handles job_completed and job_failed. The payload status wins
// when present; fallback is the status implied by the message type.
func (t *Tracker) onTerminal(ctx context.Context, fallback domain.JobStatus) realtime.Listener {
	return func(data json.RawMessage) {
		upd, err := decodeProgress(data)
		if err != nil {
			t.logger.Warn("malformed terminal payload", "error", err)
			return
		}
		status := upd.Status
		if status == "" {
			status = fallback
		}
		patch := store.ProgressPatch{
			Progress:     upd.Progress,
			Status:       status,
			ResultsCount: upd.ResultsCount,
			Version:      upd.Version,
		}
		if status == domain.StatusFailed && upd.Message != "" {
			msg := upd.Message
			patch.ErrorMessage = &msg
		}
		t.store.UpdateProgress(upd.JobID, patch)
		t.logger.InfoContext(jobctx.WithJobID(ctx, upd.JobID), "job reached terminal state",
			"status", string(status), "results_count", upd.ResultsCount)
	}
}

// onResultUpdate patches the running results count without touching
// progress or status.
func (t *Tracker) onResultUpdate() realtime.Listener {
	return func(data json.RawMessage) {
		upd, err := decodeProgress(data)
		if err != nil {
			t.logger.Warn("malformed result_update payload", "error", err)
			return
		}
		if upd.ResultsCount == nil {
			return
		}
		job, ok := t.store.Job(upd.JobID)
		if !ok {
			return
		}
		t.store.UpdateProgress(upd.JobID, store.ProgressPatch{
			Progress:     job.Progress,
			ResultsCount: upd.ResultsCount,
			Version:      upd.Version,
		})
	}
}

func decodeProgress(data json.RawMessage) (*realtime.ProgressUpdate, error) {
	var upd realtime.ProgressUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return nil, err
	}
	if upd.JobID == "" {
		return nil, fmt.Errorf("missing job_id")
	}
	return &upd, nil
}

package domain_test

import (
	"testing"
	"time"

	"github.com/leadscout/leadscout/internal/domain"
)

func TestStatusClasses(t *testing.T) {
	terminal := []domain.JobStatus{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled}
	active := []domain.JobStatus{domain.StatusPending, domain.StatusRunning, domain.StatusPaused}

	for _, s := range terminal {
		if !s.Terminal() || s.Active() {
			t.Errorf("%s: expected terminal, not active", s)
		}
	}
	for _, s := range active {
		if s.Terminal() || !s.Active() {
			t.Errorf("%s: expected active, not terminal", s)
		}
	}
	if domain.JobStatus("bogus").Valid() {
		t.Error("bogus status reported valid")
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to domain.JobStatus }{
		{domain.StatusPending, domain.StatusRunning},
		{domain.StatusRunning, domain.StatusPaused},
		{domain.StatusPaused, domain.StatusRunning},
		{domain.StatusRunning, domain.StatusCompleted},
		{domain.StatusRunning, domain.StatusFailed},
		{domain.StatusRunning, domain.StatusCancelled},
		{domain.StatusFailed, domain.StatusPending}, // restart
		{domain.StatusRunning, domain.StatusRunning}, // idempotent re-delivery
		{domain.StatusCompleted, domain.StatusCompleted},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to domain.JobStatus }{
		{domain.StatusCompleted, domain.StatusRunning},
		{domain.StatusCompleted, domain.StatusPending},
		{domain.StatusCancelled, domain.StatusRunning},
		{domain.StatusPaused, domain.StatusCompleted},
		{domain.StatusPending, domain.StatusPaused},
		{domain.StatusFailed, domain.StatusRunning},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestJobDuration(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-3 * time.Minute)
	completed := now.Add(-time.Minute)

	never := &domain.Job{Status: domain.StatusPending}
	if _, ok := never.Duration(now); ok {
		t.Error("job that never started should have no duration")
	}

	running := &domain.Job{Status: domain.StatusRunning, StartedAt: &started}
	if d, ok := running.Duration(now); !ok || d != 3*time.Minute {
		t.Errorf("running job: got (%v, %v), want (3m, true)", d, ok)
	}

	done := &domain.Job{Status: domain.StatusCompleted, StartedAt: &started, CompletedAt: &completed}
	if d, ok := done.Duration(now); !ok || d != 2*time.Minute {
		t.Errorf("finished job: got (%v, %v), want (2m, true)", d, ok)
	}
}

func TestPageCount(t *testing.T) {
	cases := []struct{ total, size, want int }{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{100, 20, 5},
		{5, 0, 0},
	}
	for _, tc := range cases {
		if got := domain.PageCount(tc.total, tc.size); got != tc.want {
			t.Errorf("PageCount(%d, %d) = %d, want %d", tc.total, tc.size, got, tc.want)
		}
	}
}

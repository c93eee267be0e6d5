package store_test

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/store"
)

func newStore() *store.JobStore {
	return store.New(slog.Default())
}

func job(id string, status domain.JobStatus, progress int, version int64) domain.Job {
	return domain.Job{ID: id, Status: status, Progress: progress, Version: version}
}

func TestSetJobs_MergesPagination(t *testing.T) {
	s := newStore()

	total, pages := 42, 3
	s.SetJobs([]domain.Job{job("a", domain.StatusPending, 0, 1)}, &store.PagePatch{Total: &total, Pages: &pages})

	p := s.Pagination()
	if p.Total != 42 || p.Pages != 3 {
		t.Fatalf("pagination = %+v", p)
	}
	// Unspecified fields retain prior values.
	if p.Page != 1 || p.Size != 20 {
		t.Fatalf("unspecified fields should keep defaults, got %+v", p)
	}

	newTotal := 43
	s.SetJobs(s.Jobs(), &store.PagePatch{Total: &newTotal})
	p = s.Pagination()
	if p.Total != 43 {
		t.Fatalf("total = %d, want 43", p.Total)
	}
	if p.Pages != 3 { // recomputed: ceil(43/20)
		t.Fatalf("pages = %d, want 3", p.Pages)
	}
}

func TestAddJob_PrependsAndBumpsTotal(t *testing.T) {
	s := newStore()
	s.SetJobs([]domain.Job{job("old", domain.StatusRunning, 50, 1)}, nil)

	s.AddJob(job("new", domain.StatusPending, 0, 1))

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != "new" {
		t.Fatalf("expected most-recent-first ordering, got %v", jobs)
	}
	if s.Pagination().Total != 1 {
		t.Fatalf("total = %d, want 1", s.Pagination().Total)
	}
}

func TestUpdateJob_NeverInserts(t *testing.T) {
	s := newStore()
	s.UpdateJob(job("ghost", domain.StatusRunning, 10, 1))
	if len(s.Jobs()) != 0 {
		t.Fatal("update of an unknown job must not insert")
	}
}

func TestUpdateJob_KeepsListAndDetailInAgreement(t *testing.T) {
	s := newStore()
	j := job("a", domain.StatusRunning, 10, 1)
	s.SetJobs([]domain.Job{j}, nil)
	s.SetCurrentJob(&j)

	s.UpdateJob(job("a", domain.StatusRunning, 60, 2))

	listed, _ := s.Job("a")
	current, ok := s.CurrentJob()
	if !ok {
		t.Fatal("current job vanished")
	}
	if listed.Progress != 60 || current.Progress != 60 {
		t.Fatalf("list (%d) and detail (%d) disagree", listed.Progress, current.Progress)
	}
}

func TestUpdateProgress_AppliesToListAndDetail(t *testing.T) {
	s := newStore()
	j := job("a", domain.StatusPending, 0, 1)
	s.SetJobs([]domain.Job{j}, nil)
	s.SetCurrentJob(&j)

	s.UpdateProgress("a", store.ProgressPatch{Progress: 45, Status: domain.StatusRunning, Version: 2})

	listed, _ := s.Job("a")
	current, _ := s.CurrentJob()
	if listed.Progress != 45 || listed.Status != domain.StatusRunning {
		t.Fatalf("list entry = %+v", listed)
	}
	if current.Progress != 45 || current.Status != domain.StatusRunning {
		t.Fatalf("detail entry = %+v", current)
	}
}

func TestUpdateProgress_TerminalIsSticky(t *testing.T) {
	s := newStore()
	s.SetJobs([]domain.Job{job("a", domain.StatusCompleted, 100, 5)}, nil)

	s.UpdateProgress("a", store.ProgressPatch{Progress: 50, Status: domain.StatusRunning, Version: 6})

	got, _ := s.Job("a")
	if got.Status != domain.StatusCompleted || got.Progress != 100 {
		t.Fatalf("terminal state mutated: %+v", got)
	}

	// Idempotent re-delivery of the same terminal event is tolerated.
	s.UpdateProgress("a", store.ProgressPatch{Progress: 100, Status: domain.StatusCompleted, Version: 5})
	got, _ = s.Job("a")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("re-delivery broke terminal state: %+v", got)
	}
}

func TestUpdateJob_RestartWinsOverVersion(t *testing.T) {
	s := newStore()
	s.SetJobs([]domain.Job{{ID: "a", Status: domain.StatusFailed, Progress: 70, RetryCount: 0, Version: 9}}, nil)

	restarted := domain.Job{ID: "a", Status: domain.StatusPending, Progress: 0, RetryCount: 1, Version: 10}
	s.UpdateJob(restarted)

	got, _ := s.Job("a")
	if got.Status != domain.StatusPending || got.Progress != 0 || got.RetryCount != 1 {
		t.Fatalf("restart not applied: %+v", got)
	}
}

func TestReconciliation_FullEntityAfterProgressEvents(t *testing.T) {
	s := newStore()
	s.SetJobs([]domain.Job{job("x", domain.StatusPending, 0, 1)}, nil)

	// Three progress-only events.
	s.UpdateProgress("x", store.ProgressPatch{Progress: 10, Status: domain.StatusRunning, Version: 2})
	s.UpdateProgress("x", store.ProgressPatch{Progress: 20, Status: domain.StatusRunning, Version: 3})
	s.UpdateProgress("x", store.ProgressPatch{Progress: 30, Status: domain.StatusRunning, Version: 4})

	// A full-entity refresh that postdates them all.
	s.UpdateJob(job("x", domain.StatusRunning, 35, 5))
	got, _ := s.Job("x")
	if got.Progress != 35 {
		t.Fatalf("full-entity refresh lost: progress = %d, want 35", got.Progress)
	}

	// A progress event that predates the refresh must be discarded.
	s.UpdateProgress("x", store.ProgressPatch{Progress: 25, Status: domain.StatusRunning, Version: 3})
	got, _ = s.Job("x")
	if got.Progress != 35 {
		t.Fatalf("stale progress overwrote refresh: progress = %d", got.Progress)
	}

	// Progress events after the refresh keep the value monotonically >= 35.
	s.UpdateProgress("x", store.ProgressPatch{Progress: 55, Status: domain.StatusRunning, Version: 6})
	got, _ = s.Job("x")
	if got.Progress != 55 {
		t.Fatalf("newer progress rejected: progress = %d", got.Progress)
	}
}

func TestReconciliation_UnversionedMonotonicGuard(t *testing.T) {
	s := newStore()
	s.SetJobs([]domain.Job{job("x", domain.StatusRunning, 40, 0)}, nil)

	s.UpdateProgress("x", store.ProgressPatch{Progress: 30, Status: domain.StatusRunning})
	got, _ := s.Job("x")
	if got.Progress != 40 {
		t.Fatalf("unversioned regression applied: progress = %d", got.Progress)
	}

	s.UpdateProgress("x", store.ProgressPatch{Progress: 60, Status: domain.StatusRunning})
	got, _ = s.Job("x")
	if got.Progress != 60 {
		t.Fatalf("monotonic advance rejected: progress = %d", got.Progress)
	}
}

func TestRemoveJob(t *testing.T) {
	s := newStore()
	j := job("a", domain.StatusRunning, 10, 1)
	total := 2
	s.SetJobs([]domain.Job{j, job("b", domain.StatusPending, 0, 1)}, &store.PagePatch{Total: &total})
	s.SetCurrentJob(&j)

	s.RemoveJob("a")

	if _, ok := s.Job("a"); ok {
		t.Fatal("job still present after removal")
	}
	if _, ok := s.CurrentJob(); ok {
		t.Fatal("current job should be cleared when it matched")
	}
	if s.Pagination().Total != 1 {
		t.Fatalf("total = %d, want 1", s.Pagination().Total)
	}

	// Removing again is harmless.
	s.RemoveJob("a")
	if s.Pagination().Total != 1 {
		t.Fatal("double removal decremented total twice")
	}
}

func TestSubscribe_NotifiesAndDisposes(t *testing.T) {
	s := newStore()

	var mu sync.Mutex
	count := 0
	dispose := s.Subscribe(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	s.AddJob(job("a", domain.StatusPending, 0, 1))
	mu.Lock()
	if count != 1 {
		mu.Unlock()
		t.Fatalf("notifications = %d, want 1", count)
	}
	mu.Unlock()

	dispose()
	s.AddJob(job("b", domain.StatusPending, 0, 1))
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("disposed subscriber still notified: %d", count)
	}
}

func TestConcurrentMutations(t *testing.T) {
	s := newStore()
	s.SetJobs([]domain.Job{job("x", domain.StatusRunning, 0, 1)}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		version := int64(i + 2)
		go func() {
			defer wg.Done()
			s.UpdateProgress("x", store.ProgressPatch{Progress: int(version), Status: domain.StatusRunning, Version: version})
		}()
		go func() {
			defer wg.Done()
			s.UpdateJob(job("x", domain.StatusRunning, int(version), version))
		}()
	}
	wg.Wait()

	got, ok := s.Job("x")
	if !ok {
		t.Fatal("job lost")
	}
	if got.Progress < 1 || got.Progress > 51 {
		t.Fatalf("implausible final progress %d", got.Progress)
	}
}

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

func TestImplementationTriggerWorker_TriggersApprovedRequest(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 50, ProjectID: 1, IssueNumber: 7, State: store.StateApproved, UpdatedAt: time.Now()})
	db.architectReviews[1] = &store.ArchitectReview{ID: 1, RequestID: 50, Decision: store.ArchitectApproved, SolutionSummary: "do the thing"}

	w := NewImplementationTriggerWorker(db, host, refdocs.New("", time.Minute), testConfigStore(db), time.Minute, nil)
	w.SetMetrics(NewMetrics(nil))

	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	req, _ := db.GetRequest(context.Background(), 50)
	if req.State != store.StateInProgress {
		t.Errorf("State = %s, want InProgress", req.State)
	}
	if req.ImplementationStatus != store.ImplPending {
		t.Errorf("ImplementationStatus = %s, want Pending", req.ImplementationStatus)
	}
	if req.SessionID == "" {
		t.Error("SessionID is empty, want one assigned")
	}
	if host.assignedIssue != 7 {
		t.Errorf("assignedIssue = %d, want 7", host.assignedIssue)
	}
}

func TestImplementationTriggerWorker_SkipsWhenNoApprovedReview(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 51, ProjectID: 1, State: store.StateApproved, UpdatedAt: time.Now()})

	w := NewImplementationTriggerWorker(db, host, refdocs.New("", time.Minute), testConfigStore(db), time.Minute, nil)

	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 51)
	if req.State != store.StateApproved {
		t.Errorf("State = %s, want unchanged Approved", req.State)
	}
	if host.assignedIssue != 0 {
		t.Errorf("assignedIssue = %d, want 0 (no review to act on)", host.assignedIssue)
	}
}

func TestImplementationTriggerWorker_RespectsConcurrencyCap(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 52, ProjectID: 1, State: store.StateInProgress, ImplementationStatus: store.ImplWorking, UpdatedAt: time.Now()})
	db.addRequest(&store.Request{ID: 53, ProjectID: 1, State: store.StateApproved, UpdatedAt: time.Now()})
	db.architectReviews[1] = &store.ArchitectReview{ID: 1, RequestID: 53, Decision: store.ArchitectApproved}

	cfg := testConfigStore(db)
	base := DefaultConfig()
	base.MaxConcurrentSessions = 1
	cfg.SetBase(base)

	w := NewImplementationTriggerWorker(db, host, refdocs.New("", time.Minute), cfg, time.Minute, nil)

	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0 (at concurrency cap)", n)
	}
}

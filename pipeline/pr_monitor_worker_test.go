package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/store"
)

func TestPullRequestMonitorWorker_FindsOpenedPR(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.foundPR = true
	host.pr = &codehost.PullRequest{Number: 101, URL: "https://example/pr/101", HeadBranch: "feature/x"}

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 60, ProjectID: 1, State: store.StateInProgress, ImplementationStatus: store.ImplPending, UpdatedAt: time.Now()})

	w := NewPullRequestMonitorWorker(db, host, testConfigStore(db), time.Minute, nil)
	w.SetMetrics(NewMetrics(nil))

	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	req, _ := db.GetRequest(context.Background(), 60)
	if req.ImplementationStatus != store.ImplPrOpened {
		t.Errorf("ImplementationStatus = %s, want PrOpened", req.ImplementationStatus)
	}
	if req.PrNumber != 101 {
		t.Errorf("PrNumber = %d, want 101", req.PrNumber)
	}
}

func TestPullRequestMonitorWorker_NoPRYetMovesToWorking(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.foundPR = false

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 61, ProjectID: 1, State: store.StateInProgress, ImplementationStatus: store.ImplPending, UpdatedAt: time.Now()})

	w := NewPullRequestMonitorWorker(db, host, testConfigStore(db), time.Minute, nil)
	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 61)
	if req.ImplementationStatus != store.ImplWorking {
		t.Errorf("ImplementationStatus = %s, want Working", req.ImplementationStatus)
	}
}

func TestPullRequestMonitorWorker_MergedPRCompletesRequest(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.pr = &codehost.PullRequest{Number: 102, Merged: true}

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 62, ProjectID: 1, PrNumber: 102, State: store.StateInProgress, ImplementationStatus: store.ImplPrOpened, UpdatedAt: time.Now()})

	w := NewPullRequestMonitorWorker(db, host, testConfigStore(db), time.Minute, nil)
	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 62)
	if req.State != store.StateDone {
		t.Errorf("State = %s, want Done", req.State)
	}
	if req.ImplementationStatus != store.ImplPrMerged {
		t.Errorf("ImplementationStatus = %s, want PrMerged", req.ImplementationStatus)
	}
	if req.DeploymentStatus != store.DeployPending {
		t.Errorf("DeploymentStatus = %s, want Pending", req.DeploymentStatus)
	}
}

func TestPullRequestMonitorWorker_ClosedUnmergedPRFailsRequest(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.pr = &codehost.PullRequest{Number: 103, State: "closed"}

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 63, ProjectID: 1, PrNumber: 103, State: store.StateInProgress, ImplementationStatus: store.ImplPrOpened, UpdatedAt: time.Now()})

	w := NewPullRequestMonitorWorker(db, host, testConfigStore(db), time.Minute, nil)
	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 63)
	if req.ImplementationStatus != store.ImplFailed {
		t.Errorf("ImplementationStatus = %s, want Failed", req.ImplementationStatus)
	}
}

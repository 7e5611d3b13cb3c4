package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/store"
)

func TestOrchestrator_FlagsStallAndNotifies(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 80, ProjectID: 1, State: store.StateNeedsClarification, UpdatedAt: time.Now().Add(-8 * 24 * time.Hour)})

	var notices []StallNotice
	orch := NewOrchestrator(db, host, testConfigStore(db), time.Minute, nil, func(n StallNotice) { notices = append(notices, n) })
	orch.SetMetrics(NewMetrics(nil))

	n, err := orch.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("flagged = %d, want 1", n)
	}
	if len(notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(notices))
	}
	if notices[0].Critical {
		t.Errorf("Critical = true, want false (just past the 7-day threshold, not the 14-day one)")
	}

	req, _ := db.GetRequest(context.Background(), 80)
	if req.StallNotifiedAt == nil {
		t.Error("StallNotifiedAt not set")
	}
}

func TestOrchestrator_DoesNotReflagAlreadyNotifiedStall(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	already := time.Now().Add(-1 * time.Hour)
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 81, ProjectID: 1, State: store.StateNeedsClarification, UpdatedAt: time.Now().Add(-8 * 24 * time.Hour), StallNotifiedAt: &already})

	orch := NewOrchestrator(db, host, testConfigStore(db), time.Minute, nil, nil)
	n, err := orch.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 0 {
		t.Errorf("flagged = %d, want 0 (already notified)", n)
	}
}

func TestOrchestrator_MergeEligiblePRs(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 82, ProjectID: 1, PrNumber: 300, Title: "Add export", BranchName: "feature/x",
		State: store.StateInProgress, ImplementationStatus: store.ImplReviewApproved, UpdatedAt: time.Now()})

	cfg := testConfigStore(db)
	base := DefaultConfig()
	base.DeploymentMode = "Auto"
	cfg.SetBase(base)

	orch := NewOrchestrator(db, host, cfg, time.Minute, nil, nil)
	merged, err := orch.DeployStaged(context.Background())
	if err != nil {
		t.Fatalf("DeployStaged() error = %v", err)
	}
	if merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
	if host.mergedPR != 300 {
		t.Errorf("mergedPR = %d, want 300", host.mergedPR)
	}

	req, _ := db.GetRequest(context.Background(), 82)
	if req.State != store.StateDone {
		t.Errorf("State = %s, want Done", req.State)
	}
	if req.DeploymentStatus != store.DeployPending {
		t.Errorf("DeploymentStatus = %s, want Pending", req.DeploymentStatus)
	}
}

func TestOrchestrator_ObserveDeploymentsMarksSucceeded(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.runs = map[string][]codehost.WorkflowRun{
		"deploy-api.yml": {{ID: 5, Status: "completed", Conclusion: "success"}},
	}
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 83, ProjectID: 1, State: store.StateDone, DeploymentStatus: store.DeployPending, UpdatedAt: time.Now()})

	orch := NewOrchestrator(db, host, testConfigStore(db), time.Minute, nil, nil)
	if _, err := orch.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 83)
	if req.DeploymentStatus != store.DeploySucceeded {
		t.Errorf("DeploymentStatus = %s, want Succeeded", req.DeploymentStatus)
	}
}

func TestOrchestrator_RetryDeploymentStopsAfterMaxRetries(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.runs = map[string][]codehost.WorkflowRun{
		"deploy-api.yml": {{ID: 6, Status: "completed", Conclusion: "failure"}},
	}
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 84, ProjectID: 1, State: store.StateDone, DeploymentStatus: store.DeployPending,
		DeploymentRetryCount: 3, UpdatedAt: time.Now()})

	cfg := testConfigStore(db)
	base := DefaultConfig()
	base.MaxDeployRetries = 3
	cfg.SetBase(base)

	orch := NewOrchestrator(db, host, cfg, time.Minute, nil, nil)
	orch.SetMetrics(NewMetrics(nil))
	if _, err := orch.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 84)
	if req.DeploymentStatus != store.DeployFailed {
		t.Errorf("DeploymentStatus = %s, want Failed (retries exhausted)", req.DeploymentStatus)
	}
	if req.StallNotifiedAt == nil {
		t.Error("StallNotifiedAt not set on exhausted retries")
	}
}

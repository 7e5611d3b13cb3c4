package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/forgepipeline/core/codebase"
	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

const solutionJSON = `{
  "solutionSummary": "Add export endpoint",
  "approach": "new handler + service method",
  "impactedFiles": [{"path": "server/handlers.go", "action": "modify", "description": "wire route", "estimatedLinesChanged": 20}],
  "newFiles": [{"path": "server/export.go", "description": "new handler", "estimatedLines": 80}],
  "estimatedComplexity": "Medium",
  "estimatedEffort": "2 days"
}`

func newArchitectTestWorker(db *fakeStore, host *fakeHost, llmClient *llm.Client) *ArchitectWorker {
	cache := codebase.New(host)
	docs := refdocs.New("", time.Minute)
	w := NewArchitectWorker(db, llmClient, cache, docs, testConfigStore(db), time.Minute, nil)
	w.SetMetrics(NewMetrics(nil))
	return w
}

func TestArchitectWorker_ProducesReviewAndAdvancesState(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	host.tree = []codehost.RepoFile{{Path: "server/handlers.go", SizeBytes: 4000}}

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 20, ProjectID: 1, Title: "Add export", Type: store.TypeFeature, State: store.StateTriaged, UpdatedAt: time.Now()})

	llmClient, _ := newTestLLMClient(&llm.Response{Content: solutionJSON, Model: "test-model"})
	w := newArchitectTestWorker(db, host, llmClient)

	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	req, _ := db.GetRequest(context.Background(), 20)
	if req.State != store.StateArchitectReview {
		t.Errorf("State = %s, want ArchitectReview", req.State)
	}
	if req.ArchitectCount != 1 {
		t.Errorf("ArchitectCount = %d, want 1", req.ArchitectCount)
	}

	review, ok, err := db.LatestArchitectReview(context.Background(), 20)
	if err != nil || !ok {
		t.Fatalf("LatestArchitectReview() ok=%v err=%v", ok, err)
	}
	if review.SolutionSummary != "Add export endpoint" {
		t.Errorf("SolutionSummary = %q", review.SolutionSummary)
	}
}

func TestArchitectWorker_FlagConflictsPostsWarningComment(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()

	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})

	other := &store.Request{ID: 30, ProjectID: 1, Title: "Other in flight", State: store.StateApproved, UpdatedAt: time.Now()}
	db.addRequest(other)
	db.architectReviews[1] = &store.ArchitectReview{
		ID: 1, RequestID: 30, Decision: store.ArchitectApproved,
		Solution: store.SolutionDocument{ImpactedFiles: []store.ImpactedFile{{Path: "server/handlers.go"}}},
	}

	req := &store.Request{ID: 31, ProjectID: 1, Title: "New request", UpdatedAt: time.Now()}
	db.addRequest(req)

	llmClient, _ := newTestLLMClient(nil)
	w := newArchitectTestWorker(db, host, llmClient)

	solution := store.SolutionDocument{ImpactedFiles: []store.ImpactedFile{{Path: "server/handlers.go"}}}
	if err := w.flagConflicts(context.Background(), req, &solution); err != nil {
		t.Fatalf("flagConflicts() error = %v", err)
	}

	comments := db.comments[31]
	if len(comments) != 1 {
		t.Fatalf("len(comments) = %d, want 1", len(comments))
	}
	if comments[0].Author != "architect-bot" {
		t.Errorf("comment author = %q, want architect-bot", comments[0].Author)
	}
}

func TestArchitectWorker_FlagConflictsNoOverlapIsSilent(t *testing.T) {
	db := newFakeStore()
	host := newFakeHost()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})

	other := &store.Request{ID: 40, ProjectID: 1, State: store.StateApproved, UpdatedAt: time.Now()}
	db.addRequest(other)
	db.architectReviews[1] = &store.ArchitectReview{
		ID: 1, RequestID: 40, Decision: store.ArchitectApproved,
		Solution: store.SolutionDocument{ImpactedFiles: []store.ImpactedFile{{Path: "unrelated/file.go"}}},
	}

	req := &store.Request{ID: 41, ProjectID: 1, UpdatedAt: time.Now()}
	db.addRequest(req)

	llmClient, _ := newTestLLMClient(nil)
	w := newArchitectTestWorker(db, host, llmClient)

	solution := store.SolutionDocument{ImpactedFiles: []store.ImpactedFile{{Path: "server/handlers.go"}}}
	if err := w.flagConflicts(context.Background(), req, &solution); err != nil {
		t.Fatalf("flagConflicts() error = %v", err)
	}
	if len(db.comments[41]) != 0 {
		t.Errorf("len(comments) = %d, want 0 (no path overlap)", len(db.comments[41]))
	}
}

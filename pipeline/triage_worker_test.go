package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

func TestTriageWorker_ApproveAdvancesToTriaged(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 10, ProjectID: 1, Title: "Add CSV export", Type: store.TypeFeature, State: store.StateNew, UpdatedAt: time.Now()})

	llmClient, _ := newTestLLMClient(&llm.Response{
		Content: `{"decision":"Approve","reasoning":"clear scope","alignmentScore":80,"completenessScore":90,"salesAlignmentScore":70,"suggestedPriority":"High","tags":["export"]}`,
		Model:   "test-model",
		Usage:   llm.ResponseUsage{InputTokens: 100, OutputTokens: 50},
	})

	host := newFakeHost()
	w := NewTriageWorker(db, host, llmClient, refdocs.New(t.TempDir(), time.Minute), testConfigStore(db), time.Minute, nil)
	w.SetMetrics(NewMetrics(nil))

	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("runCycle() processed = %d, want 1", n)
	}

	req, err := db.GetRequest(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if req.State != store.StateTriaged {
		t.Errorf("State = %s, want Triaged", req.State)
	}
	if req.Priority != store.PriorityHigh {
		t.Errorf("Priority = %s, want High", req.Priority)
	}
	if req.TriageCount != 1 {
		t.Errorf("TriageCount = %d, want 1", req.TriageCount)
	}

	if len(host.appliedLabels) != 1 || host.appliedLabels[0] != "agent:approved" {
		t.Errorf("appliedLabels = %v, want [agent:approved]", host.appliedLabels)
	}
	if len(host.comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(host.comments))
	}
	if len(db.comments[10]) != 1 || !db.comments[10][0].IsAgent {
		t.Errorf("internal audit comment not recorded for request 10")
	}
}

func TestTriageWorker_ClarifyMovesToNeedsClarification(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 11, ProjectID: 1, Title: "Make it faster", Type: store.TypeEnhancement, State: store.StateNew, UpdatedAt: time.Now()})

	llmClient, _ := newTestLLMClient(&llm.Response{
		Content: `{"decision":"Clarify","reasoning":"needs more detail","clarificationQuestions":["which endpoint?"]}`,
		Model:   "test-model",
	})

	w := NewTriageWorker(db, newFakeHost(), llmClient, refdocs.New(t.TempDir(), time.Minute), testConfigStore(db), time.Minute, nil)

	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 11)
	if req.State != store.StateNeedsClarification {
		t.Errorf("State = %s, want NeedsClarification", req.State)
	}
}

func TestTriageWorker_DuplicateOfLiveRequestForcesReject(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 4, ProjectID: 1, Title: "Original", State: store.StateApproved, UpdatedAt: time.Now()})
	db.addRequest(&store.Request{ID: 12, ProjectID: 1, Title: "Dup", Type: store.TypeBug, State: store.StateNew, UpdatedAt: time.Now()})

	llmClient, _ := newTestLLMClient(&llm.Response{
		Content: `{"decision":"Approve","isDuplicate":true,"duplicateOfRequestId":4}`,
	})

	w := NewTriageWorker(db, newFakeHost(), llmClient, refdocs.New(t.TempDir(), time.Minute), testConfigStore(db), time.Minute, nil)
	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 12)
	if req.State != store.StateRejected {
		t.Errorf("State = %s, want Rejected (duplicate of a live Approved request)", req.State)
	}
}

func TestTriageWorker_DuplicateOfDeadRequestDoesNotForceReject(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 4, ProjectID: 1, Title: "Original", State: store.StateRejected, UpdatedAt: time.Now()})
	db.addRequest(&store.Request{ID: 12, ProjectID: 1, Title: "Dup", Type: store.TypeBug, State: store.StateNew, UpdatedAt: time.Now()})

	llmClient, _ := newTestLLMClient(&llm.Response{
		Content: `{"decision":"Approve","isDuplicate":true,"duplicateOfRequestId":4}`,
	})

	w := NewTriageWorker(db, newFakeHost(), llmClient, refdocs.New(t.TempDir(), time.Minute), testConfigStore(db), time.Minute, nil)
	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	req, _ := db.GetRequest(context.Background(), 12)
	if req.State != store.StateTriaged {
		t.Errorf("State = %s, want Triaged (duplicate-of sibling is already Rejected, not live)", req.State)
	}
}

func TestTriageWorker_LLMFailureLeavesRequestUntouched(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 13, ProjectID: 1, Title: "X", State: store.StateNew, UpdatedAt: time.Now()})

	llmClient := llm.NewClient("anthropic") // no credentials registered, Complete fails

	w := NewTriageWorker(db, newFakeHost(), llmClient, refdocs.New(t.TempDir(), time.Minute), testConfigStore(db), time.Minute, nil)
	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0 (llm unavailable)", n)
	}

	req, _ := db.GetRequest(context.Background(), 13)
	if req.State != store.StateNew {
		t.Errorf("State = %s, want New (unchanged after failed completion)", req.State)
	}
}

func TestTriageWorker_SystemPromptOverrideIsUsed(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 14, ProjectID: 1, Title: "X", State: store.StateNew, UpdatedAt: time.Now()})
	db.SetConfigValue(context.Background(), "systemPrompt.triage", "custom triage instructions")

	llmClient, fp := newTestLLMClient(&llm.Response{Content: `{"decision":"Approve"}`})
	_ = fp

	var capturedSystem string
	llmClient.RegisterProvider("test", &capturingProvider{inner: &fakeProvider{name: "test", available: true, resp: &llm.Response{Content: `{"decision":"Approve"}`}}, capture: &capturedSystem})

	w := NewTriageWorker(db, newFakeHost(), llmClient, refdocs.New(t.TempDir(), time.Minute), testConfigStore(db), time.Minute, nil)
	if _, err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if capturedSystem != "custom triage instructions" {
		t.Errorf("system prompt = %q, want override to take effect", capturedSystem)
	}
}

func TestTriageWorker_BudgetExceededSkipsCycle(t *testing.T) {
	db := newFakeStore()
	db.tokenUsage = 1000
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 15, ProjectID: 1, Title: "X", State: store.StateNew, UpdatedAt: time.Now()})

	llmClient, _ := newTestLLMClient(&llm.Response{Content: `{"decision":"Approve"}`})

	cs := testConfigStore(db)
	cfg := DefaultConfig()
	cfg.DailyTokenBudget = 500
	cs.SetBase(cfg)

	w := NewTriageWorker(db, newFakeHost(), llmClient, refdocs.New(t.TempDir(), time.Minute), cs, time.Minute, nil)
	n, err := w.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0 (budget exceeded)", n)
	}

	req, _ := db.GetRequest(context.Background(), 15)
	if req.State != store.StateNew {
		t.Errorf("State = %s, want New (cycle skipped before triaging)", req.State)
	}
}

// capturingProvider records the System field of the last request it saw,
// delegating the actual response to inner.
type capturingProvider struct {
	inner   *fakeProvider
	capture *string
}

func (c *capturingProvider) Name() string    { return c.inner.Name() }
func (c *capturingProvider) Available() bool { return c.inner.Available() }
func (c *capturingProvider) GetUsage() llm.TokenUsage { return c.inner.GetUsage() }
func (c *capturingProvider) ResetUsage()              { c.inner.ResetUsage() }
func (c *capturingProvider) CreateMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	*c.capture = req.System
	return c.inner.CreateMessage(ctx, req)
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/prompt"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

// TriageWorker implements spec.md §4.1: it reads New and Clarify-pending
// requests, asks the LLM to align them against product objectives and
// sales positioning, and writes the resulting TriageReview.
type TriageWorker struct {
	loop *workerLoop

	db   store.Store
	host codehost.Client
	llm  *llm.Client
	docs *refdocs.Store
	cfg  *ConfigStore

	metrics *Metrics
}

// NewTriageWorker wires a TriageWorker polling at interval.
func NewTriageWorker(db store.Store, host codehost.Client, llmClient *llm.Client, docs *refdocs.Store, cfg *ConfigStore, interval time.Duration, log *slog.Logger) *TriageWorker {
	w := &TriageWorker{db: db, host: host, llm: llmClient, docs: docs, cfg: cfg}
	w.loop = newWorkerLoop("triage", interval, log, w.runCycle)
	return w
}

// Run blocks the caller, cycling until ctx is cancelled.
func (w *TriageWorker) Run(ctx context.Context) { w.loop.Run(ctx) }

// Pause/Resume/Status delegate to the shared loop.
func (w *TriageWorker) Pause()          { w.loop.Pause() }
func (w *TriageWorker) Resume()         { w.loop.Resume() }
func (w *TriageWorker) Status() Status  { return w.loop.GetStatus() }

// SetMetrics attaches m for cycle and token-usage observation.
func (w *TriageWorker) SetMetrics(m *Metrics) {
	w.metrics = m
	w.loop.SetMetrics(m)
}

func (w *TriageWorker) runCycle(ctx context.Context) (int, error) {
	cfg := w.cfg.Current(ctx)

	if exceeded, err := budgetExceeded(ctx, w.db, store.ReviewKindTriage, cfg); err != nil {
		return 0, fmt.Errorf("triage: check token budget: %w", err)
	} else if exceeded {
		w.loop.log.Warn("token budget exceeded, skipping cycle")
		return 0, nil
	}

	requests, err := w.db.SelectForTriage(ctx, cfg.MaxTriagesBeforeEscalation, cfg.TriageBatchSize)
	if err != nil {
		return 0, fmt.Errorf("triage: select candidates: %w", err)
	}

	processed := 0
	for i := range requests {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.triageOne(ctx, &requests[i]); err != nil {
			w.loop.log.Error("triage request failed", "requestId", requests[i].ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *TriageWorker) triageOne(ctx context.Context, req *store.Request) error {
	project, err := w.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	comments, err := w.db.ListComments(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}

	siblings, err := w.db.ListProjectSiblings(ctx, req.ProjectID, 20)
	if err != nil {
		return fmt.Errorf("list project siblings: %w", err)
	}

	refContext := w.docs.ProductAndSalesContext()
	system, user := prompt.TriagePrompt(req, project, refContext, comments, siblings)
	system = systemPromptOverride(ctx, w.db, llm.StageTriage, system)

	resp, err := w.llm.Complete(ctx, llm.StageTriage, &llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}
	if w.metrics != nil {
		w.metrics.ObserveTokens(llm.StageTriage, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	review := prompt.ParseTriageResponse(resp.Content)
	review.RequestID = req.ID
	review.PromptTokens = resp.Usage.InputTokens
	review.CompletionTokens = resp.Usage.OutputTokens
	review.Model = resp.Model
	review.Duration = resp.Duration

	w.forceDuplicateRejection(ctx, &review)

	if _, err := w.db.AddTriageReview(ctx, &review); err != nil {
		return fmt.Errorf("add triage review: %w", err)
	}

	return w.applyDecision(ctx, req, project, &review)
}

// liveDuplicateStates are the states a duplicateOfRequestId must be in for
// spec.md §4.1 step 6 to force this request's rejection. A duplicate in any
// other state (New, NeedsClarification, ArchitectReview, Rejected) doesn't
// block this one.
var liveDuplicateStates = map[store.RequestState]bool{
	store.StateTriaged:    true,
	store.StateApproved:   true,
	store.StateInProgress: true,
	store.StateDone:       true,
}

// forceDuplicateRejection, when review flags a duplicate, loads the
// referenced sibling and overrides the model's decision to Reject only if
// that sibling is still live (scenario S3). The parser can't make this
// call itself: it has no access to the sibling's current state.
func (w *TriageWorker) forceDuplicateRejection(ctx context.Context, review *store.TriageReview) {
	if !review.IsDuplicate || review.DuplicateOfRequestID == 0 {
		return
	}
	dup, err := w.db.GetRequest(ctx, review.DuplicateOfRequestID)
	if err != nil {
		w.loop.log.Warn("load duplicate-of request failed", "duplicateOfRequestId", review.DuplicateOfRequestID, "error", err)
		return
	}
	if liveDuplicateStates[dup.State] {
		review.Decision = store.TriageReject
	}
}

// triageLabels maps a TriageReview's decision to the namespaced label
// applied to the issue (spec.md §4.1 step 7). ApplyLabel strips any
// existing "agent:*" label before adding the new one (§4.9).
var triageLabels = map[store.TriageDecision]string{
	store.TriageApprove: "agent:approved",
	store.TriageReject:  "agent:rejected",
	store.TriageClarify: "agent:needs-info",
}

func (w *TriageWorker) applyDecision(ctx context.Context, req *store.Request, project *store.Project, review *store.TriageReview) error {
	now := time.Now()
	prevUpdatedAt := req.UpdatedAt

	req.LastTriageAt = &now
	req.TriageCount++

	switch review.Decision {
	case store.TriageApprove:
		req.State = store.StateTriaged
		if review.SuggestedPriority != "" {
			req.Priority = review.SuggestedPriority
		}
	case store.TriageReject:
		req.State = store.StateRejected
	case store.TriageClarify:
		req.State = store.StateNeedsClarification
	default:
		req.State = store.StateNeedsClarification
	}

	req.UpdatedAt = prevUpdatedAt
	if err := w.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}

	label := triageLabels[review.Decision]
	if label == "" {
		label = "agent:needs-info"
	}
	if err := w.host.ApplyLabel(ctx, project.Owner, project.Repo, req.IssueNumber, label); err != nil {
		w.loop.log.Warn("apply triage label failed", "requestId", req.ID, "error", err)
	}

	body := triageCommentBody(review)
	if err := w.host.PostIssueComment(ctx, project.Owner, project.Repo, req.IssueNumber, body); err != nil {
		w.loop.log.Warn("post triage comment failed", "requestId", req.ID, "error", err)
	}
	if _, err := w.db.AddComment(ctx, &store.Comment{
		RequestID: req.ID,
		Author:    "triage-bot",
		Content:   body,
		IsAgent:   true,
	}); err != nil {
		w.loop.log.Warn("record triage comment failed", "requestId", req.ID, "error", err)
	}

	return nil
}

// triageCommentBody renders a TriageReview's decision, scores, reasoning,
// and any clarification questions as the comment text posted both to the
// code host and the internal audit trail (spec.md §4.1 step 7).
func triageCommentBody(review *store.TriageReview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Triage decision: %s\n\n", review.Decision)
	fmt.Fprintf(&b, "Alignment: %d/100, Completeness: %d/100, Sales alignment: %d/100\n\n",
		review.AlignmentScore, review.CompletenessScore, review.SalesAlignmentScore)
	b.WriteString(review.Reasoning)
	b.WriteString("\n")
	if len(review.ClarificationQuestions) > 0 {
		b.WriteString("\nClarification needed:\n")
		for _, q := range review.ClarificationQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return b.String()
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/prompt"
	"github.com/forgepipeline/core/store"
)

// CodeReviewWorker implements spec.md §4.5: for every request with an open
// PR and no review against its current PR number yet, it fetches the diff,
// asks the LLM to evaluate it against the approved solution, and records
// the verdict.
type CodeReviewWorker struct {
	loop *workerLoop

	db   store.Store
	host codehost.Client
	llm  *llm.Client
	cfg  *ConfigStore

	metrics *Metrics
}

// NewCodeReviewWorker wires a CodeReviewWorker polling at interval.
func NewCodeReviewWorker(db store.Store, host codehost.Client, llmClient *llm.Client, cfg *ConfigStore, interval time.Duration, log *slog.Logger) *CodeReviewWorker {
	w := &CodeReviewWorker{db: db, host: host, llm: llmClient, cfg: cfg}
	w.loop = newWorkerLoop("code-review", interval, log, w.runCycle)
	return w
}

func (w *CodeReviewWorker) Run(ctx context.Context) { w.loop.Run(ctx) }
func (w *CodeReviewWorker) Pause()                  { w.loop.Pause() }
func (w *CodeReviewWorker) Resume()                 { w.loop.Resume() }
func (w *CodeReviewWorker) Status() Status          { return w.loop.GetStatus() }

// SetMetrics attaches m for cycle and token-usage observation.
func (w *CodeReviewWorker) SetMetrics(m *Metrics) {
	w.metrics = m
	w.loop.SetMetrics(m)
}

func (w *CodeReviewWorker) runCycle(ctx context.Context) (int, error) {
	cfg := w.cfg.Current(ctx)

	if exceeded, err := budgetExceeded(ctx, w.db, store.ReviewKindCodeReview, cfg); err != nil {
		return 0, fmt.Errorf("code-review: check token budget: %w", err)
	} else if exceeded {
		w.loop.log.Warn("token budget exceeded, skipping cycle")
		return 0, nil
	}

	requests, err := w.db.SelectForCodeReview(ctx, cfg.CodeReviewBatchSize)
	if err != nil {
		return 0, fmt.Errorf("code-review: select candidates: %w", err)
	}

	processed := 0
	for i := range requests {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.reviewOne(ctx, &requests[i], cfg); err != nil {
			w.loop.log.Error("code review failed", "requestId", requests[i].ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *CodeReviewWorker) reviewOne(ctx context.Context, req *store.Request, cfg Config) error {
	project, err := w.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	architect, ok, err := w.db.LatestApprovedArchitectReview(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("latest approved architect review: %w", err)
	}
	if !ok {
		w.loop.log.Warn("no approved architect review, skipping code review", "requestId", req.ID)
		return nil
	}

	pr, err := w.host.GetPullRequest(ctx, project.Owner, project.Repo, req.PrNumber)
	if err != nil {
		return fmt.Errorf("get pull request #%d: %w", req.PrNumber, err)
	}
	diff, err := w.host.GetPullRequestDiff(ctx, project.Owner, project.Repo, req.PrNumber)
	if err != nil {
		return fmt.Errorf("get pull request diff #%d: %w", req.PrNumber, err)
	}

	system, user := prompt.CodeReviewPrompt(req, architect, diff, cfg.MaxInputTokens)
	system = systemPromptOverride(ctx, w.db, llm.StageCodeReview, system)
	temp := cfg.CodeReviewTemperature
	resp, err := w.llm.Complete(ctx, llm.StageCodeReview, &llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: "user", Content: user}},
		MaxTokens:   cfg.CodeReviewMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}
	if w.metrics != nil {
		w.metrics.ObserveTokens(llm.StageCodeReview, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	review := prompt.ParseCodeReviewResponse(resp.Content)
	review.RequestID = req.ID
	review.PrNumber = req.PrNumber
	review.FilesChanged = pr.FilesChanged
	review.LinesAdded = pr.Additions
	review.LinesRemoved = pr.Deletions
	review.PromptTokens = resp.Usage.InputTokens
	review.CompletionTokens = resp.Usage.OutputTokens
	review.Model = resp.Model
	review.Duration = resp.Duration

	if _, err := w.db.AddCodeReview(ctx, &review); err != nil {
		return fmt.Errorf("add code review: %w", err)
	}

	event := "REQUEST_CHANGES"
	label := "review:changes-requested"
	if review.Decision == store.CodeReviewApproved {
		event = "APPROVE"
		label = "review:approved"
	}
	if err := w.host.PostPRReview(ctx, project.Owner, project.Repo, req.PrNumber, event, review.Summary); err != nil {
		w.loop.log.Warn("post PR review failed", "requestId", req.ID, "error", err)
	}
	if err := w.host.ApplyLabel(ctx, project.Owner, project.Repo, req.IssueNumber, label); err != nil {
		w.loop.log.Warn("apply review label failed", "requestId", req.ID, "error", err)
	}

	if review.Decision != store.CodeReviewApproved {
		return nil
	}

	prevUpdatedAt := req.UpdatedAt
	req.ImplementationStatus = store.ImplReviewApproved
	req.UpdatedAt = prevUpdatedAt
	if err := w.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}

	if cfg.DeploymentMode == "Staged" {
		if err := w.host.ApplyLabel(ctx, project.Owner, project.Repo, req.IssueNumber, "deploy:staged"); err != nil {
			w.loop.log.Warn("apply staged-deploy label failed", "requestId", req.ID, "error", err)
		}
	}
	// Auto mode: the Orchestrator picks up merge-eligible PRs on its own
	// cycle once implementationStatus = ReviewApproved, per spec.md §4.6.

	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/store"
)

// PullRequestMonitorWorker implements spec.md §4.4: it watches every
// request with an active coding-agent session until its PR is found,
// merged, or closed unmerged. Requests are processed one at a time within
// a single cycle, which is this worker's advisory-locking discipline — at
// most one monitor pass touches a given request concurrently.
type PullRequestMonitorWorker struct {
	loop *workerLoop

	db   store.Store
	host codehost.Client
	cfg  *ConfigStore
}

// NewPullRequestMonitorWorker wires a PullRequestMonitorWorker polling at
// interval.
func NewPullRequestMonitorWorker(db store.Store, host codehost.Client, cfg *ConfigStore, interval time.Duration, log *slog.Logger) *PullRequestMonitorWorker {
	w := &PullRequestMonitorWorker{db: db, host: host, cfg: cfg}
	w.loop = newWorkerLoop("pr-monitor", interval, log, w.runCycle)
	return w
}

func (w *PullRequestMonitorWorker) Run(ctx context.Context) { w.loop.Run(ctx) }
func (w *PullRequestMonitorWorker) Pause()                  { w.loop.Pause() }
func (w *PullRequestMonitorWorker) Resume()                 { w.loop.Resume() }
func (w *PullRequestMonitorWorker) Status() Status          { return w.loop.GetStatus() }

// SetMetrics attaches m for cycle observation.
func (w *PullRequestMonitorWorker) SetMetrics(m *Metrics) { w.loop.SetMetrics(m) }

func (w *PullRequestMonitorWorker) runCycle(ctx context.Context) (int, error) {
	cfg := w.cfg.Current(ctx)

	requests, err := w.db.SelectActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("pr-monitor: select active sessions: %w", err)
	}

	processed := 0
	for i := range requests {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.monitorOne(ctx, &requests[i], cfg); err != nil {
			w.loop.log.Error("pr monitor failed", "requestId", requests[i].ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *PullRequestMonitorWorker) monitorOne(ctx context.Context, req *store.Request, cfg Config) error {
	switch req.ImplementationStatus {
	case store.ImplPending, store.ImplWorking:
		return w.findPR(ctx, req, cfg)
	case store.ImplPrOpened:
		return w.checkPRStatus(ctx, req)
	default:
		return nil
	}
}

func (w *PullRequestMonitorWorker) findPR(ctx context.Context, req *store.Request, cfg Config) error {
	project, err := w.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	pr, found, err := w.host.FindPRByIssue(ctx, project.Owner, project.Repo, req.IssueNumber, cfg.CodingAgentPrincipal)
	if err != nil {
		return fmt.Errorf("find PR by issue %d: %w", req.IssueNumber, err)
	}
	if !found {
		if req.ImplementationStatus == store.ImplPending {
			return w.transitionStatus(ctx, req, store.ImplWorking, nil)
		}
		return nil
	}

	prevUpdatedAt := req.UpdatedAt
	req.PrNumber = pr.Number
	req.PrURL = pr.URL
	req.BranchName = pr.HeadBranch
	req.ImplementationStatus = store.ImplPrOpened
	req.UpdatedAt = prevUpdatedAt
	if err := w.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}

	if _, err := w.db.AddComment(ctx, &store.Comment{
		RequestID: req.ID,
		Author:    "pipeline",
		Content:   fmt.Sprintf("Pull request #%d opened: %s", pr.Number, pr.URL),
		IsAgent:   true,
	}); err != nil {
		w.loop.log.Warn("record comment failed", "requestId", req.ID, "error", err)
	}
	return nil
}

func (w *PullRequestMonitorWorker) checkPRStatus(ctx context.Context, req *store.Request) error {
	project, err := w.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	pr, err := w.host.GetPullRequest(ctx, project.Owner, project.Repo, req.PrNumber)
	if err != nil {
		return fmt.Errorf("get pull request #%d: %w", req.PrNumber, err)
	}

	now := time.Now()
	switch {
	case pr.Merged:
		prevUpdatedAt := req.UpdatedAt
		req.ImplementationStatus = store.ImplPrMerged
		req.CompletedAt = &now
		req.State = store.StateDone
		req.DeploymentStatus = store.DeployPending
		req.UpdatedAt = prevUpdatedAt
		return w.persist(ctx, req)
	case pr.State == "closed":
		prevUpdatedAt := req.UpdatedAt
		req.ImplementationStatus = store.ImplFailed
		req.CompletedAt = &now
		req.UpdatedAt = prevUpdatedAt
		return w.persist(ctx, req)
	default:
		return nil
	}
}

func (w *PullRequestMonitorWorker) transitionStatus(ctx context.Context, req *store.Request, status store.ImplementationStatus, completedAt *time.Time) error {
	prevUpdatedAt := req.UpdatedAt
	req.ImplementationStatus = status
	if completedAt != nil {
		req.CompletedAt = completedAt
	}
	req.UpdatedAt = prevUpdatedAt
	return w.persist(ctx, req)
}

func (w *PullRequestMonitorWorker) persist(ctx context.Context, req *store.Request) error {
	if err := w.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}
	return nil
}

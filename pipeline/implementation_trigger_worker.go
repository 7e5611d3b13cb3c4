package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/prompt"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

// ImplementationTriggerWorker implements spec.md §4.3: it hands approved
// requests with no active coding-agent session over to the code host's
// coding agent, optionally side-branching any image attachments first.
type ImplementationTriggerWorker struct {
	loop *workerLoop

	db   store.Store
	host codehost.Client
	docs *refdocs.Store
	cfg  *ConfigStore
}

// NewImplementationTriggerWorker wires an ImplementationTriggerWorker
// polling at interval.
func NewImplementationTriggerWorker(db store.Store, host codehost.Client, docs *refdocs.Store, cfg *ConfigStore, interval time.Duration, log *slog.Logger) *ImplementationTriggerWorker {
	w := &ImplementationTriggerWorker{db: db, host: host, docs: docs, cfg: cfg}
	w.loop = newWorkerLoop("implementation-trigger", interval, log, w.runCycle)
	return w
}

func (w *ImplementationTriggerWorker) Run(ctx context.Context) { w.loop.Run(ctx) }
func (w *ImplementationTriggerWorker) Pause()                  { w.loop.Pause() }
func (w *ImplementationTriggerWorker) Resume()                 { w.loop.Resume() }
func (w *ImplementationTriggerWorker) Status() Status          { return w.loop.GetStatus() }

// SetMetrics attaches m for cycle observation.
func (w *ImplementationTriggerWorker) SetMetrics(m *Metrics) { w.loop.SetMetrics(m) }

func (w *ImplementationTriggerWorker) runCycle(ctx context.Context) (int, error) {
	cfg := w.cfg.Current(ctx)

	active, err := w.db.ActiveImplementationCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("implementation-trigger: active session count: %w", err)
	}
	if active >= cfg.MaxConcurrentSessions {
		return 0, nil
	}

	// Batch B=1 per cycle, per spec.md §4.3.
	candidates, err := w.db.SelectForImplementationTrigger(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("implementation-trigger: select candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	req := candidates[0]
	if err := w.triggerOne(ctx, &req, cfg); err != nil {
		w.loop.log.Error("implementation trigger failed", "requestId", req.ID, "error", err)
		return 0, nil
	}
	return 1, nil
}

func (w *ImplementationTriggerWorker) triggerOne(ctx context.Context, req *store.Request, cfg Config) error {
	project, err := w.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	review, ok, err := w.db.LatestApprovedArchitectReview(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("latest approved architect review: %w", err)
	}
	if !ok {
		w.loop.log.Warn("no approved architect review, skipping", "requestId", req.ID)
		return nil
	}

	conventions := w.docs.Get(refdocs.DocCodingConventions)
	instructions := prompt.InstructionDocument(req, review, conventions)

	baseBranch := cfg.BaseBranch
	attachments, err := w.db.ListAttachments(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	var images []store.Attachment
	for _, a := range attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			images = append(images, a)
		}
	}

	if len(images) > 0 {
		branch, err := w.commitAttachmentBranch(ctx, project, req.ID, cfg.BaseBranch, images)
		if err != nil {
			w.loop.log.Warn("attachment side-branch failed, falling back to base branch", "requestId", req.ID, "error", err)
		} else {
			baseBranch = branch
			names := make([]string, len(images))
			for i, img := range images {
				names[i] = img.Filename
			}
			instructions += prompt.AttachmentInstructions(req.ID, names)
		}
	}

	if err := w.host.AssignIssueToAgent(ctx, project.Owner, project.Repo, req.IssueNumber, cfg.CodingAgentPrincipal, instructions, baseBranch); err != nil {
		return fmt.Errorf("assign issue to agent: %w", err)
	}

	if err := w.host.ApplyLabel(ctx, project.Owner, project.Repo, req.IssueNumber, "copilot:implementing"); err != nil {
		w.loop.log.Warn("apply label failed", "requestId", req.ID, "error", err)
	}

	sessionID := prompt.SessionID(req.ID, time.Now().UTC().Format("20060102T150405Z"))
	if err := w.host.PostIssueComment(ctx, project.Owner, project.Repo, req.IssueNumber,
		fmt.Sprintf("Assigned to the coding agent. Session `%s`, base branch `%s`.", sessionID, baseBranch)); err != nil {
		w.loop.log.Warn("post issue comment failed", "requestId", req.ID, "error", err)
	}

	now := time.Now()
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateInProgress
	req.ImplementationStatus = store.ImplPending
	req.SessionID = sessionID
	req.BranchName = baseBranch
	req.TriggeredAt = &now
	req.UpdatedAt = prevUpdatedAt
	if err := w.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}

	if _, err := w.db.AddComment(ctx, &store.Comment{
		RequestID: req.ID,
		Author:    "pipeline",
		Content:   fmt.Sprintf("Triggered implementation, session %s.", sessionID),
		IsAgent:   true,
	}); err != nil {
		w.loop.log.Warn("record comment failed", "requestId", req.ID, "error", err)
	}

	return nil
}

// commitAttachmentBranch creates `attachments/request-{id}` off base,
// commits every image to `_temp-attachments/{id}/{filename}` in a single
// commit, and deletes the branch again on any failure (spec.md §4.3 step 3).
func (w *ImplementationTriggerWorker) commitAttachmentBranch(ctx context.Context, project *store.Project, requestID int64, baseBranch string, images []store.Attachment) (branch string, err error) {
	branch = fmt.Sprintf("attachments/request-%d", requestID)

	commits, err := w.host.ListCommits(ctx, project.Owner, project.Repo, baseBranch, 1)
	if err != nil || len(commits) == 0 {
		return "", fmt.Errorf("resolve base branch head: %w", err)
	}

	if err := w.host.CreateBranch(ctx, project.Owner, project.Repo, branch, commits[0].SHA); err != nil {
		return "", fmt.Errorf("create attachment branch: %w", err)
	}

	files := make(map[string][]byte, len(images))
	for _, img := range images {
		path := fmt.Sprintf("_temp-attachments/%d/%s", requestID, img.Filename)
		files[path] = img.Data
	}

	message := fmt.Sprintf("Add reference attachments for request %d", requestID)
	if err := w.host.CommitFiles(ctx, project.Owner, project.Repo, branch, message, files); err != nil {
		if delErr := w.host.DeleteBranch(ctx, project.Owner, project.Repo, branch); delErr != nil {
			w.loop.log.Warn("cleanup attachment branch failed", "branch", branch, "error", delErr)
		}
		return "", fmt.Errorf("commit attachments: %w", err)
	}

	return branch, nil
}

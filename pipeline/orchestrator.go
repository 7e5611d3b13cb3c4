package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/store"
)

// Stall thresholds, per spec.md §4.6.
const (
	stallNeedsClarification         = 7 * 24 * time.Hour
	stallNeedsClarificationCritical = 14 * 24 * time.Hour
	stallArchitectReview            = 3 * 24 * time.Hour
	stallArchitectReviewCritical    = 7 * 24 * time.Hour
	stallApprovedNoSession          = 24 * time.Hour
	stallApprovedNoSessionCritical  = 3 * 24 * time.Hour
	stallImplementationFailed       = 24 * time.Hour
	stallImplementationFailedCritical = 72 * time.Hour
)

// StallNotice is one structured notification emitted when a request
// crosses into a stall state (spec.md §4.6).
type StallNotice struct {
	RequestID int64
	State     store.RequestState
	Age       time.Duration
	Critical  bool
}

// Orchestrator is the cross-cutting component that detects stalls and
// drives deployment to completion (spec.md §4.6). Unlike the five pipeline
// workers it is the sole writer of stallNotifiedAt and
// deploymentRetryCount, so there is exactly one Orchestrator loop per
// process.
type Orchestrator struct {
	loop *workerLoop

	db   store.Store
	host codehost.Client
	cfg  *ConfigStore

	notify  func(StallNotice)
	metrics *Metrics
}

// NewOrchestrator wires an Orchestrator polling at interval. notify, if
// non-nil, is called once per newly detected stall transition.
func NewOrchestrator(db store.Store, host codehost.Client, cfg *ConfigStore, interval time.Duration, log *slog.Logger, notify func(StallNotice)) *Orchestrator {
	o := &Orchestrator{db: db, host: host, cfg: cfg, notify: notify}
	o.loop = newWorkerLoop("orchestrator", interval, log, o.runCycle)
	return o
}

func (o *Orchestrator) Run(ctx context.Context) { o.loop.Run(ctx) }
func (o *Orchestrator) Pause()                  { o.loop.Pause() }
func (o *Orchestrator) Resume()                 { o.loop.Resume() }
func (o *Orchestrator) Status() Status          { return o.loop.GetStatus() }

// SetMetrics attaches m for cycle, stall, and deploy-retry observation.
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
	o.loop.SetMetrics(m)
}

func (o *Orchestrator) runCycle(ctx context.Context) (int, error) {
	cfg := o.cfg.Current(ctx)

	n1, err := o.detectStalls(ctx)
	if err != nil {
		return n1, fmt.Errorf("orchestrator: stall detection: %w", err)
	}

	n2 := 0
	if cfg.DeploymentMode == "Auto" {
		merged, err := o.mergeEligiblePRs(ctx, cfg)
		if err != nil {
			o.loop.log.Error("auto merge failed", "error", err)
		}
		n2 += merged
	}

	n3, err := o.observeDeployments(ctx, cfg)
	if err != nil {
		o.loop.log.Error("observe deployments failed", "error", err)
	}

	return n1 + n2 + n3, nil
}

// --- Stall detection (spec.md §4.6) ---

func (o *Orchestrator) detectStalls(ctx context.Context) (int, error) {
	flagged := 0
	now := time.Now()

	type check struct {
		state     store.RequestState
		threshold time.Duration
		critical  time.Duration
		ageOf     func(store.Request) (time.Time, bool)
	}

	checks := []check{
		{store.StateNeedsClarification, stallNeedsClarification, stallNeedsClarificationCritical,
			func(r store.Request) (time.Time, bool) { return r.UpdatedAt, true }},
		{store.StateArchitectReview, stallArchitectReview, stallArchitectReviewCritical,
			func(r store.Request) (time.Time, bool) { return r.UpdatedAt, true }},
		{store.StateApproved, stallApprovedNoSession, stallApprovedNoSessionCritical,
			func(r store.Request) (time.Time, bool) { return r.UpdatedAt, r.SessionID == "" }},
	}

	for _, c := range checks {
		requests, err := o.db.SelectByState(ctx, c.state)
		if err != nil {
			return flagged, fmt.Errorf("select by state %s: %w", c.state, err)
		}
		for i := range requests {
			req := requests[i]
			anchor, applies := c.ageOf(req)
			if !applies {
				continue
			}
			age := now.Sub(anchor)
			if age < c.threshold {
				continue
			}
			if o.flagStall(ctx, &req, age, age >= c.critical) {
				flagged++
			}
		}
	}

	inProgress, err := o.db.SelectByState(ctx, store.StateInProgress)
	if err != nil {
		return flagged, fmt.Errorf("select by state InProgress: %w", err)
	}
	for i := range inProgress {
		req := inProgress[i]
		if req.ImplementationStatus != store.ImplFailed || req.CompletedAt == nil {
			continue
		}
		age := now.Sub(*req.CompletedAt)
		if age < stallImplementationFailed {
			continue
		}
		if o.flagStall(ctx, &req, age, age >= stallImplementationFailedCritical) {
			flagged++
		}
	}

	return flagged, nil
}

func (o *Orchestrator) flagStall(ctx context.Context, req *store.Request, age time.Duration, critical bool) bool {
	if req.StallNotifiedAt != nil {
		return false
	}

	now := time.Now()
	prevUpdatedAt := req.UpdatedAt
	req.StallNotifiedAt = &now
	req.UpdatedAt = prevUpdatedAt
	if err := o.db.UpdateRequest(ctx, req); err != nil {
		o.loop.log.Error("flag stall failed", "requestId", req.ID, "error", err)
		return false
	}

	if o.metrics != nil {
		o.metrics.ObserveStall(string(req.State))
	}
	if o.notify != nil {
		o.notify(StallNotice{RequestID: req.ID, State: req.State, Age: age, Critical: critical})
	}
	return true
}

// --- Deployment (spec.md §4.6, §6 deployStaged/retryDeployment) ---

// DeployStaged merges every request currently ReviewApproved, per the
// admin-callable deployStaged() operation (spec.md §6). It is the same
// code path runCycle uses automatically in Auto mode.
func (o *Orchestrator) DeployStaged(ctx context.Context) (int, error) {
	cfg := o.cfg.Current(ctx)
	return o.mergeEligiblePRs(ctx, cfg)
}

func (o *Orchestrator) mergeEligiblePRs(ctx context.Context, cfg Config) (int, error) {
	inProgress, err := o.db.SelectByState(ctx, store.StateInProgress)
	if err != nil {
		return 0, fmt.Errorf("select in-progress requests: %w", err)
	}

	merged := 0
	for i := range inProgress {
		req := inProgress[i]
		if req.ImplementationStatus != store.ImplReviewApproved {
			continue
		}
		if err := o.mergeOne(ctx, &req); err != nil {
			o.loop.log.Error("merge request failed", "requestId", req.ID, "error", err)
			continue
		}
		merged++
	}
	return merged, nil
}

func (o *Orchestrator) mergeOne(ctx context.Context, req *store.Request) error {
	project, err := o.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	// Step 1: a branch carrying the attachments prefix is refreshed from
	// base so the PR no longer diffs against the side-branch content.
	if strings.HasPrefix(req.BranchName, "attachments/") {
		if err := o.host.UpdatePRBranch(ctx, project.Owner, project.Repo, req.PrNumber); err != nil {
			o.loop.log.Warn("refresh branch from base failed", "requestId", req.ID, "error", err)
		}
	}

	commitMessage := fmt.Sprintf("Merge #%d: %s", req.PrNumber, req.Title)
	if err := o.host.MergePullRequest(ctx, project.Owner, project.Repo, req.PrNumber, commitMessage); err != nil {
		return fmt.Errorf("merge PR #%d: %w", req.PrNumber, err)
	}

	// Step 2.
	now := time.Now()
	prevUpdatedAt := req.UpdatedAt
	req.ImplementationStatus = store.ImplPrMerged
	req.State = store.StateDone
	req.DeploymentStatus = store.DeployPending
	req.CompletedAt = &now
	req.UpdatedAt = prevUpdatedAt
	if err := o.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}

	if err := o.host.DeleteBranch(ctx, project.Owner, project.Repo, req.BranchName); err != nil {
		o.loop.log.Warn("delete branch failed", "requestId", req.ID, "branch", req.BranchName, "error", err)
	}
	for _, label := range []string{"deploy:staged", "copilot:implementing"} {
		if err := o.host.RemoveLabel(ctx, project.Owner, project.Repo, req.IssueNumber, label); err != nil {
			o.loop.log.Warn("remove label failed", "requestId", req.ID, "label", label, "error", err)
		}
	}
	if err := o.host.ApplyLabel(ctx, project.Owner, project.Repo, req.IssueNumber, "copilot:complete"); err != nil {
		o.loop.log.Warn("apply complete label failed", "requestId", req.ID, "error", err)
	}

	return nil
}

// observeDeployments watches recent deploy-api/deploy-web workflow runs for
// every Done request still Pending or InProgress, advancing deploymentStatus
// and auto-retrying failures up to MaxDeployRetries (spec.md §4.6 steps 3-4).
func (o *Orchestrator) observeDeployments(ctx context.Context, cfg Config) (int, error) {
	done, err := o.db.SelectByState(ctx, store.StateDone)
	if err != nil {
		return 0, fmt.Errorf("select done requests: %w", err)
	}

	touched := 0
	for i := range done {
		req := done[i]
		if req.DeploymentStatus != store.DeployPending && req.DeploymentStatus != store.DeployInProgress {
			continue
		}
		if err := o.observeOne(ctx, &req, cfg); err != nil {
			o.loop.log.Error("observe deployment failed", "requestId", req.ID, "error", err)
			continue
		}
		touched++
	}
	return touched, nil
}

func (o *Orchestrator) observeOne(ctx context.Context, req *store.Request, cfg Config) error {
	project, err := o.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	run, found, err := o.latestRelevantRun(ctx, project, cfg)
	if err != nil {
		return fmt.Errorf("list workflow runs: %w", err)
	}
	if !found {
		return nil
	}

	prevUpdatedAt := req.UpdatedAt
	switch {
	case run.Status != "completed":
		req.DeploymentStatus = store.DeployInProgress
		req.DeploymentRunID = fmt.Sprintf("%d", run.ID)
	case run.Conclusion == "success":
		req.DeploymentStatus = store.DeploySucceeded
		req.DeployedAt = timePtr(time.Now())
		req.DeploymentRetryCount = 0
	default:
		return o.retryDeployment(ctx, req, project, cfg, run.ID)
	}
	req.UpdatedAt = prevUpdatedAt
	return o.persistRequest(ctx, req)
}

// RetryDeployment re-runs or dispatches fresh workflow runs for requestID,
// the admin-callable retryDeployment() operation (spec.md §6).
func (o *Orchestrator) RetryDeployment(ctx context.Context, requestID int64) error {
	req, err := o.db.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", requestID, err)
	}
	project, err := o.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}
	cfg := o.cfg.Current(ctx)

	run, found, err := o.latestRelevantRun(ctx, project, cfg)
	if err != nil {
		return fmt.Errorf("list workflow runs: %w", err)
	}
	if !found {
		return fmt.Errorf("no workflow run found to retry for request %d", requestID)
	}
	return o.retryDeployment(ctx, req, project, cfg, run.ID)
}

func (o *Orchestrator) retryDeployment(ctx context.Context, req *store.Request, project *store.Project, cfg Config, failedRunID int64) error {
	if req.DeploymentRetryCount >= cfg.MaxDeployRetries {
		prevUpdatedAt := req.UpdatedAt
		req.DeploymentStatus = store.DeployFailed
		req.StallNotifiedAt = timePtr(time.Now())
		req.UpdatedAt = prevUpdatedAt
		return o.persistRequest(ctx, req)
	}

	var err error
	if req.DeploymentRetryCount == 0 {
		err = o.host.RerunFailedJobs(ctx, project.Owner, project.Repo, failedRunID)
	} else {
		workflow := cfg.DeployAPIWorkflow
		err = o.host.DispatchWorkflow(ctx, project.Owner, project.Repo, workflow, cfg.BaseBranch, nil)
	}
	if err != nil {
		return fmt.Errorf("retry deployment: %w", err)
	}

	prevUpdatedAt := req.UpdatedAt
	req.DeploymentRetryCount++
	req.DeploymentStatus = store.DeployInProgress
	req.UpdatedAt = prevUpdatedAt
	if o.metrics != nil {
		o.metrics.ObserveDeployRetry()
	}
	return o.persistRequest(ctx, req)
}

func (o *Orchestrator) latestRelevantRun(ctx context.Context, project *store.Project, cfg Config) (codehost.WorkflowRun, bool, error) {
	for _, workflow := range []string{cfg.DeployAPIWorkflow, cfg.DeployWebWorkflow} {
		runs, err := o.host.ListWorkflowRuns(ctx, project.Owner, project.Repo, workflow, 1)
		if err != nil {
			return codehost.WorkflowRun{}, false, err
		}
		if len(runs) > 0 {
			return runs[0], true, nil
		}
	}
	return codehost.WorkflowRun{}, false, nil
}

func (o *Orchestrator) persistRequest(ctx context.Context, req *store.Request) error {
	if err := o.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }

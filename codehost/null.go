package codehost

import (
	"context"
	"errors"
	"log/slog"
)

// ErrDegraded is returned by most NullClient calls (see NullClient) so a
// worker can distinguish "nothing configured" from a transient code-host
// failure.
var ErrDegraded = errors.New("codehost: running in degraded mode, no client configured")

// NullClient is the code host used when no credential is configured
// (spec.md §7 "Config missing ⇒ core runs in degraded mode with a null
// code-host"). The list and search calls (ListCommits, ListRepoTree,
// FindPRByIssue, ListWorkflowRuns) return empty results; PostIssueComment,
// PostPRReview and DeleteBranch drop the call and return nil; every other
// call, including GetFileContent, GetPullRequest and GetPullRequestDiff,
// returns ErrDegraded so callers log and retry next cycle exactly as they
// would for any other code-host failure.
type NullClient struct {
	log *slog.Logger
}

// NewNullClient builds a degraded-mode client that logs every call it
// declines to perform.
func NewNullClient(log *slog.Logger) *NullClient {
	if log == nil {
		log = slog.Default()
	}
	return &NullClient{log: log}
}

var _ Client = (*NullClient)(nil)

func (c *NullClient) warn(op string) {
	c.log.Warn("codehost: degraded mode, call skipped", "op", op)
}

func (c *NullClient) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	c.warn("CreateIssue")
	return nil, ErrDegraded
}

func (c *NullClient) UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error {
	c.warn("UpdateIssueBody")
	return ErrDegraded
}

func (c *NullClient) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	c.warn("CloseIssue")
	return ErrDegraded
}

func (c *NullClient) ApplyLabel(ctx context.Context, owner, repo string, number int, label string) error {
	c.warn("ApplyLabel")
	return ErrDegraded
}

func (c *NullClient) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	c.warn("RemoveLabel")
	return ErrDegraded
}

func (c *NullClient) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	c.warn("PostIssueComment")
	return nil // comments are fire-and-forget; degraded mode tolerates silent drop
}

func (c *NullClient) ListCommits(ctx context.Context, owner, repo, branch string, limit int) ([]Commit, error) {
	c.warn("ListCommits")
	return nil, nil
}

func (c *NullClient) ListRepoTree(ctx context.Context, owner, repo string) ([]RepoFile, error) {
	c.warn("ListRepoTree")
	return nil, nil
}

func (c *NullClient) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	c.warn("GetFileContent")
	return "", ErrDegraded
}

func (c *NullClient) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	c.warn("CreateBranch")
	return ErrDegraded
}

func (c *NullClient) CommitFiles(ctx context.Context, owner, repo, branch, message string, files map[string][]byte) error {
	c.warn("CommitFiles")
	return ErrDegraded
}

func (c *NullClient) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	c.warn("DeleteBranch")
	return nil
}

func (c *NullClient) AssignIssueToAgent(ctx context.Context, owner, repo string, number int, principal, instructions, baseBranch string) error {
	c.warn("AssignIssueToAgent")
	return ErrDegraded
}

func (c *NullClient) FindPRByIssue(ctx context.Context, owner, repo string, issueNumber int, author string) (*PullRequest, bool, error) {
	c.warn("FindPRByIssue")
	return nil, false, nil
}

func (c *NullClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	c.warn("GetPullRequest")
	return nil, ErrDegraded
}

func (c *NullClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	c.warn("GetPullRequestDiff")
	return "", ErrDegraded
}

func (c *NullClient) PostPRReview(ctx context.Context, owner, repo string, number int, event, body string) error {
	c.warn("PostPRReview")
	return nil
}

func (c *NullClient) MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) error {
	c.warn("MergePullRequest")
	return ErrDegraded
}

func (c *NullClient) UpdatePRBranch(ctx context.Context, owner, repo string, number int) error {
	c.warn("UpdatePRBranch")
	return ErrDegraded
}

func (c *NullClient) ListWorkflowRuns(ctx context.Context, owner, repo, workflowFile string, limit int) ([]WorkflowRun, error) {
	c.warn("ListWorkflowRuns")
	return nil, nil
}

func (c *NullClient) RerunFailedJobs(ctx context.Context, owner, repo string, runID int64) error {
	c.warn("RerunFailedJobs")
	return ErrDegraded
}

func (c *NullClient) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]any) error {
	c.warn("DispatchWorkflow")
	return ErrDegraded
}

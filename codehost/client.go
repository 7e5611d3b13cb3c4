// Package codehost is the pipeline's external code-host collaborator: issue
// and pull-request lifecycle, labels, branches, and deploy-workflow runs
// (spec.md §6 "Code host (dependency)"). GitHubClient is the concrete
// implementation; NullClient lets the core run in degraded mode when no
// code-host credential is configured (spec.md §7).
package codehost

import (
	"context"
	"time"
)

// Issue is the subset of issue fields the pipeline persists or acts on.
type Issue struct {
	Number int
	URL    string
	State  string
}

// Commit is one entry from a branch's commit history.
type Commit struct {
	SHA     string
	Message string
}

// PullRequest is the subset of PR fields the pipeline acts on.
type PullRequest struct {
	Number      int
	URL         string
	HeadBranch  string
	BaseBranch  string
	AuthorLogin string
	State       string
	Draft       bool
	Merged      bool
	MergedAt    *time.Time
	FilesChanged int
	Additions   int
	Deletions   int
}

// RepoFile is one entry in a repository's file tree.
type RepoFile struct {
	Path      string
	SizeBytes int64
}

// WorkflowRun is one run of a named deploy workflow.
type WorkflowRun struct {
	ID         int64
	Name       string
	Status     string // "queued" | "in_progress" | "completed"
	Conclusion string // "success" | "failure" | "" while incomplete
	HeadBranch string
	CreatedAt  time.Time
}

// Client is the narrow code-host surface every worker depends on.
// Every method is best-effort and idempotent by construction, per
// spec.md §4.9: labels replace their own namespace instead of
// accumulating, comments tolerate duplicates, and branch/commit
// operations no-op on already-satisfied state.
type Client interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error)
	UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error
	CloseIssue(ctx context.Context, owner, repo string, number int) error

	// ApplyLabel removes any existing label sharing label's "namespace:"
	// prefix (e.g. "copilot:", "review:", "agent:", "deploy:") before
	// adding label, so a request's status label is always singular.
	ApplyLabel(ctx context.Context, owner, repo string, number int, label string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error

	// PostIssueComment is fire-and-forget: callers log failures but never
	// fail a state transition because a comment couldn't be posted.
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error

	ListCommits(ctx context.Context, owner, repo, branch string, limit int) ([]Commit, error)

	// ListRepoTree returns every file in the repository's default branch,
	// feeding CodebaseCache's map cache (spec.md §4.7).
	ListRepoTree(ctx context.Context, owner, repo string) ([]RepoFile, error)
	// GetFileContent fetches one file's text content at the repository's
	// default branch, feeding CodebaseCache's content cache.
	GetFileContent(ctx context.Context, owner, repo, path string) (string, error)

	// CreateBranch no-ops if branch already exists.
	CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error
	// CommitFiles creates or updates each path with its paired content in
	// a single commit. No-ops (per file) if the existing blob content
	// already matches.
	CommitFiles(ctx context.Context, owner, repo, branch, message string, files map[string][]byte) error
	DeleteBranch(ctx context.Context, owner, repo, branch string) error

	// AssignIssueToAgent hands the issue to the platform's coding-agent
	// principal with a Markdown instruction payload and a base branch.
	AssignIssueToAgent(ctx context.Context, owner, repo string, number int, principal, instructions, baseBranch string) error

	// FindPRByIssue searches open PRs authored by author that reference
	// issueNumber. Returns ok=false, not an error, when none is found.
	FindPRByIssue(ctx context.Context, owner, repo string, issueNumber int, author string) (*PullRequest, bool, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	PostPRReview(ctx context.Context, owner, repo string, number int, event, body string) error

	// MergePullRequest refreshes the branch from base first if it is
	// behind, per spec.md §4.9 "a non-fast-forwardable branch is updated
	// first".
	MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) error
	UpdatePRBranch(ctx context.Context, owner, repo string, number int) error

	ListWorkflowRuns(ctx context.Context, owner, repo, workflowFile string, limit int) ([]WorkflowRun, error)
	RerunFailedJobs(ctx context.Context, owner, repo string, runID int64) error
	DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]any) error
}

// LabelNamespace returns the portion of a "namespace:value" label before
// the colon, or the whole label if it carries no namespace.
func LabelNamespace(label string) string {
	for i := 0; i < len(label); i++ {
		if label[i] == ':' {
			return label[:i]
		}
	}
	return label
}

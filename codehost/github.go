package codehost

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
)

// labelColors assigns a fixed color to every well-known label the pipeline
// applies, so a label is created with a sensible color the first time it's
// used in a repository (spec.md §4.9 "apply/remove Label (colored)").
var labelColors = map[string]string{
	"copilot:implementing":          "7057ff",
	"copilot:complete":              "0e8a16",
	"review:approved":               "0e8a16",
	"review:changes-requested":      "d93f0b",
	"deploy:staged":                 "fbca04",
	"agent:triaging":                "1d76db",
	"agent:architecting":            "1d76db",
	"agent:approved":                "0e8a16",
	"agent:rejected":                "b60205",
	"agent:needs-info":              "fbca04",
}

// GitHubClient implements Client against the real GitHub API via go-github.
type GitHubClient struct {
	gh *github.Client
}

// NewGitHubClient builds a client authenticated with a personal access
// token or GitHub App installation token.
func NewGitHubClient(token string, httpClient *http.Client) *GitHubClient {
	gh := github.NewClient(httpClient).WithAuthToken(token)
	return &GitHubClient{gh: gh}
}

var _ Client = (*GitHubClient)(nil)

func (c *GitHubClient) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	issue, _, err := c.gh.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title:  github.Ptr(title),
		Body:   github.Ptr(body),
		Labels: &labels,
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: create issue: %w", err)
	}
	return &Issue{Number: issue.GetNumber(), URL: issue.GetHTMLURL(), State: issue.GetState()}, nil
}

func (c *GitHubClient) UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("codehost: update issue #%d: %w", number, err)
	}
	return nil
}

func (c *GitHubClient) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	_, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{State: github.Ptr("closed")})
	if err != nil {
		return fmt.Errorf("codehost: close issue #%d: %w", number, err)
	}
	return nil
}

func (c *GitHubClient) ensureLabelExists(ctx context.Context, owner, repo, label string) error {
	if _, _, err := c.gh.Issues.GetLabel(ctx, owner, repo, label); err == nil {
		return nil
	}
	color := labelColors[label]
	if color == "" {
		color = "ededed"
	}
	_, _, err := c.gh.Issues.CreateLabel(ctx, owner, repo, &github.Label{Name: github.Ptr(label), Color: github.Ptr(color)})
	if err != nil {
		return fmt.Errorf("codehost: create label %q: %w", label, err)
	}
	return nil
}

// ApplyLabel strips any pre-existing label sharing label's namespace
// before adding it, so the issue never carries two status labels from the
// same family (e.g. two "review:*" labels).
func (c *GitHubClient) ApplyLabel(ctx context.Context, owner, repo string, number int, label string) error {
	if err := c.ensureLabelExists(ctx, owner, repo, label); err != nil {
		return err
	}

	namespace := LabelNamespace(label)
	existing, _, err := c.gh.Issues.ListLabelsByIssue(ctx, owner, repo, number, nil)
	if err != nil {
		return fmt.Errorf("codehost: list labels on #%d: %w", number, err)
	}
	for _, l := range existing {
		name := l.GetName()
		if name == label {
			return nil // already applied; idempotent no-op
		}
		if LabelNamespace(name) == namespace {
			if _, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, name); err != nil {
				return fmt.Errorf("codehost: remove stale label %q from #%d: %w", name, number, err)
			}
		}
	}

	if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{label}); err != nil {
		return fmt.Errorf("codehost: add label %q to #%d: %w", label, number, err)
	}
	return nil
}

func (c *GitHubClient) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	resp, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		return fmt.Errorf("codehost: remove label %q from #%d: %w", label, number, err)
	}
	return nil
}

func (c *GitHubClient) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("codehost: post comment on #%d: %w", number, err)
	}
	return nil
}

func (c *GitHubClient) ListCommits(ctx context.Context, owner, repo, branch string, limit int) ([]Commit, error) {
	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		SHA:         branch,
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: list commits on %s: %w", branch, err)
	}
	out := make([]Commit, 0, len(commits))
	for _, commit := range commits {
		out = append(out, Commit{SHA: commit.GetSHA(), Message: commit.GetCommit().GetMessage()})
	}
	return out, nil
}

func (c *GitHubClient) ListRepoTree(ctx context.Context, owner, repo string) ([]RepoFile, error) {
	repoInfo, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("codehost: get repo %s/%s: %w", owner, repo, err)
	}
	branchRef, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+repoInfo.GetDefaultBranch())
	if err != nil {
		return nil, fmt.Errorf("codehost: get default branch ref for %s/%s: %w", owner, repo, err)
	}

	tree, _, err := c.gh.Git.GetTree(ctx, owner, repo, branchRef.GetObject().GetSHA(), true)
	if err != nil {
		return nil, fmt.Errorf("codehost: get tree for %s/%s: %w", owner, repo, err)
	}

	out := make([]RepoFile, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		out = append(out, RepoFile{Path: entry.GetPath(), SizeBytes: int64(entry.GetSize())})
	}
	return out, nil
}

func (c *GitHubClient) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	fileContent, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return "", fmt.Errorf("codehost: get content of %q: %w", path, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("codehost: %q is not a file", path)
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return "", fmt.Errorf("codehost: decode content of %q: %w", path, err)
	}
	return content, nil
}

func (c *GitHubClient) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	ref := "refs/heads/" + branch
	if _, _, err := c.gh.Git.GetRef(ctx, owner, repo, ref); err == nil {
		return nil // already exists
	}
	_, _, err := c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.Ptr(ref),
		Object: &github.GitObject{SHA: github.Ptr(fromSHA)},
	})
	if err != nil {
		return fmt.Errorf("codehost: create branch %q: %w", branch, err)
	}
	return nil
}

// CommitFiles builds blobs for every file and lands them in a single tree
// + commit against branch's current head, per spec.md §4.3's "commit each
// image as a single commit".
func (c *GitHubClient) CommitFiles(ctx context.Context, owner, repo, branch, message string, files map[string][]byte) error {
	if len(files) == 0 {
		return nil
	}

	headRef, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		return fmt.Errorf("codehost: get head of %q: %w", branch, err)
	}
	headSHA := headRef.GetObject().GetSHA()

	headCommit, _, err := c.gh.Git.GetCommit(ctx, owner, repo, headSHA)
	if err != nil {
		return fmt.Errorf("codehost: get head commit of %q: %w", branch, err)
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for path, content := range files {
		blob, _, err := c.gh.Git.CreateBlob(ctx, owner, repo, &github.Blob{
			Content:  github.Ptr(base64.StdEncoding.EncodeToString(content)),
			Encoding: github.Ptr("base64"),
		})
		if err != nil {
			return fmt.Errorf("codehost: create blob for %q: %w", path, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.Ptr(path),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := c.gh.Git.CreateTree(ctx, owner, repo, headCommit.GetTree().GetSHA(), entries)
	if err != nil {
		return fmt.Errorf("codehost: create tree on %q: %w", branch, err)
	}
	// Every file already matches the head's content: nothing to commit.
	if tree.GetSHA() == headCommit.GetTree().GetSHA() {
		return nil
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, owner, repo, &github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(headSHA)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("codehost: create commit on %q: %w", branch, err)
	}

	_, _, err = c.gh.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return fmt.Errorf("codehost: update ref %q: %w", branch, err)
	}
	return nil
}

func (c *GitHubClient) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	resp, err := c.gh.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		return fmt.Errorf("codehost: delete branch %q: %w", branch, err)
	}
	return nil
}

func (c *GitHubClient) AssignIssueToAgent(ctx context.Context, owner, repo string, number int, principal, instructions, baseBranch string) error {
	body := instructions + fmt.Sprintf("\n\n_Base branch: `%s`_\n", baseBranch)
	_, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{
		Body:      github.Ptr(body),
		Assignees: &[]string{principal},
	})
	if err != nil {
		return fmt.Errorf("codehost: assign #%d to %s: %w", number, principal, err)
	}
	return nil
}

func (c *GitHubClient) FindPRByIssue(ctx context.Context, owner, repo string, issueNumber int, author string) (*PullRequest, bool, error) {
	prs, _, err := c.gh.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, false, fmt.Errorf("codehost: list open PRs: %w", err)
	}
	marker := fmt.Sprintf("#%d", issueNumber)
	for _, pr := range prs {
		if pr.GetUser().GetLogin() != author {
			continue
		}
		if strings.Contains(pr.GetBody(), marker) || strings.Contains(pr.GetTitle(), marker) {
			return toPullRequest(pr), true, nil
		}
	}
	return nil, false, nil
}

func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("codehost: get PR #%d: %w", number, err)
	}
	out := toPullRequest(pr)
	out.FilesChanged = pr.GetChangedFiles()
	out.Additions = pr.GetAdditions()
	out.Deletions = pr.GetDeletions()
	return out, nil
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	out := &PullRequest{
		Number:      pr.GetNumber(),
		URL:         pr.GetHTMLURL(),
		HeadBranch:  pr.GetHead().GetRef(),
		BaseBranch:  pr.GetBase().GetRef(),
		AuthorLogin: pr.GetUser().GetLogin(),
		State:       pr.GetState(),
		Draft:       pr.GetDraft(),
		Merged:      pr.GetMerged(),
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		out.MergedAt = &t
	}
	return out
}

func (c *GitHubClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("codehost: get diff for PR #%d: %w", number, err)
	}
	return diff, nil
}

func (c *GitHubClient) PostPRReview(ctx context.Context, owner, repo string, number int, event, body string) error {
	_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, number, &github.PullRequestReviewRequest{
		Body:  github.Ptr(body),
		Event: github.Ptr(event),
	})
	if err != nil {
		return fmt.Errorf("codehost: post review on PR #%d: %w", number, err)
	}
	return nil
}

func (c *GitHubClient) MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) error {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("codehost: get PR #%d before merge: %w", number, err)
	}
	if pr.GetMergeableState() == "behind" {
		if err := c.UpdatePRBranch(ctx, owner, repo, number); err != nil {
			return err
		}
	}

	_, _, err = c.gh.PullRequests.Merge(ctx, owner, repo, number, commitMessage, &github.PullRequestOptions{})
	if err != nil {
		return fmt.Errorf("codehost: merge PR #%d: %w", number, err)
	}
	return nil
}

func (c *GitHubClient) UpdatePRBranch(ctx context.Context, owner, repo string, number int) error {
	_, _, err := c.gh.PullRequests.UpdateBranch(ctx, owner, repo, number, nil)
	if err != nil {
		return fmt.Errorf("codehost: update branch for PR #%d: %w", number, err)
	}
	return nil
}

func (c *GitHubClient) ListWorkflowRuns(ctx context.Context, owner, repo, workflowFile string, limit int) ([]WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, owner, repo, workflowFile, &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: list workflow runs for %q: %w", workflowFile, err)
	}
	out := make([]WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, WorkflowRun{
			ID:         r.GetID(),
			Name:       r.GetName(),
			Status:     r.GetStatus(),
			Conclusion: r.GetConclusion(),
			HeadBranch: r.GetHeadBranch(),
			CreatedAt:  r.GetCreatedAt().Time,
		})
	}
	return out, nil
}

func (c *GitHubClient) RerunFailedJobs(ctx context.Context, owner, repo string, runID int64) error {
	_, err := c.gh.Actions.RerunFailedJobsByID(ctx, owner, repo, runID)
	if err != nil {
		return fmt.Errorf("codehost: rerun failed jobs for run %d: %w", runID, err)
	}
	return nil
}

func (c *GitHubClient) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]any) error {
	_, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, repo, workflowFile, github.CreateWorkflowDispatchEventRequest{
		Ref:    ref,
		Inputs: inputs,
	})
	if err != nil {
		return fmt.Errorf("codehost: dispatch workflow %q: %w", workflowFile, err)
	}
	return nil
}

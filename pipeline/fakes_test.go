package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/store"
)

// fakeStore is an in-memory store.Store good enough to drive one worker
// cycle at a time in tests. It does not try to replicate every selection
// predicate's ordering, only the subset each worker test exercises.
type fakeStore struct {
	mu sync.Mutex

	projects map[int64]*store.Project
	requests map[int64]*store.Request
	nextID   int64

	comments    map[int64][]store.Comment
	attachments map[int64][]store.Attachment

	triageReviews    map[int64]*store.TriageReview
	architectReviews map[int64]*store.ArchitectReview
	codeReviews      []store.CodeReview

	configValues map[string]string

	updateErr  error // when set, UpdateRequest always fails with this
	tokenUsage int    // stubbed total returned by TokenUsageSince for every kind/window
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:         make(map[int64]*store.Project),
		requests:         make(map[int64]*store.Request),
		comments:         make(map[int64][]store.Comment),
		attachments:      make(map[int64][]store.Attachment),
		triageReviews:    make(map[int64]*store.TriageReview),
		architectReviews: make(map[int64]*store.ArchitectReview),
		configValues:     make(map[string]string),
	}
}

func (f *fakeStore) addProject(p *store.Project) {
	f.projects[p.ID] = p
}

func (f *fakeStore) addRequest(r *store.Request) {
	f.requests[r.ID] = r
}

func (f *fakeStore) GetProject(ctx context.Context, id int64) (*store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListProjectSiblings(ctx context.Context, projectID int64, limit int) ([]store.Request, error) {
	var out []store.Request
	for _, r := range f.requests {
		if r.ProjectID == projectID {
			out = append(out, *r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id int64) (*store.Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) CreateRequest(ctx context.Context, r *store.Request) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r.ID = f.nextID
	f.requests[r.ID] = r
	return r.ID, nil
}

func (f *fakeStore) UpdateRequest(ctx context.Context, r *store.Request) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.requests[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	if !existing.UpdatedAt.Equal(r.UpdatedAt) {
		return store.ErrStaleWrite
	}
	cp := *r
	cp.UpdatedAt = time.Now()
	f.requests[r.ID] = &cp
	*r = cp
	return nil
}

func (f *fakeStore) SelectForTriage(ctx context.Context, maxTriages, limit int) ([]store.Request, error) {
	return f.selectState(store.StateNew, limit)
}

func (f *fakeStore) SelectForArchitect(ctx context.Context, limit int) ([]store.Request, error) {
	return f.selectState(store.StateTriaged, limit)
}

func (f *fakeStore) SelectForImplementationTrigger(ctx context.Context, limit int) ([]store.Request, error) {
	return f.selectState(store.StateApproved, limit)
}

func (f *fakeStore) SelectActiveSessions(ctx context.Context) ([]store.Request, error) {
	var out []store.Request
	for _, r := range f.requests {
		if r.State == store.StateInProgress && r.ImplementationStatus != store.ImplPrMerged && r.ImplementationStatus != store.ImplFailed {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) SelectForCodeReview(ctx context.Context, limit int) ([]store.Request, error) {
	var out []store.Request
	for _, r := range f.requests {
		if r.State == store.StateInProgress && r.ImplementationStatus == store.ImplPrOpened {
			out = append(out, *r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SelectByState(ctx context.Context, state store.RequestState) ([]store.Request, error) {
	return f.selectState(state, 0)
}

func (f *fakeStore) selectState(state store.RequestState, limit int) ([]store.Request, error) {
	var out []store.Request
	for _, r := range f.requests {
		if r.State == state {
			out = append(out, *r)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveImplementationCount(ctx context.Context) (int, error) {
	n := 0
	for _, r := range f.requests {
		if r.ImplementationStatus == store.ImplPending || r.ImplementationStatus == store.ImplWorking {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AddComment(ctx context.Context, c *store.Comment) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = int64(len(f.comments[c.RequestID]) + 1)
	c.CreatedAt = time.Now()
	f.comments[c.RequestID] = append(f.comments[c.RequestID], *c)
	return c.ID, nil
}

func (f *fakeStore) ListComments(ctx context.Context, requestID int64) ([]store.Comment, error) {
	return f.comments[requestID], nil
}

func (f *fakeStore) LatestSubmitterCommentAfter(ctx context.Context, requestID int64, after *time.Time) (*store.Comment, bool, error) {
	comments := f.comments[requestID]
	for i := len(comments) - 1; i >= 0; i-- {
		if !comments[i].IsAgent {
			return &comments[i], true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) LatestAgentComment(ctx context.Context, requestID int64) (*store.Comment, bool, error) {
	comments := f.comments[requestID]
	for i := len(comments) - 1; i >= 0; i-- {
		if comments[i].IsAgent {
			return &comments[i], true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) ListAttachments(ctx context.Context, requestID int64) ([]store.Attachment, error) {
	return f.attachments[requestID], nil
}

func (f *fakeStore) AddTriageReview(ctx context.Context, rv *store.TriageReview) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rv.ID = int64(len(f.triageReviews) + 1)
	rv.CreatedAt = time.Now()
	cp := *rv
	f.triageReviews[rv.ID] = &cp
	return rv.ID, nil
}

func (f *fakeStore) GetTriageReview(ctx context.Context, id int64) (*store.TriageReview, error) {
	rv, ok := f.triageReviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rv, nil
}

func (f *fakeStore) LatestTriageReview(ctx context.Context, requestID int64) (*store.TriageReview, bool, error) {
	var latest *store.TriageReview
	for _, rv := range f.triageReviews {
		if rv.RequestID != requestID {
			continue
		}
		if latest == nil || rv.CreatedAt.After(latest.CreatedAt) {
			latest = rv
		}
	}
	return latest, latest != nil, nil
}

func (f *fakeStore) TokenUsageSince(ctx context.Context, kind store.ReviewKind, since time.Time) (int, error) {
	return f.tokenUsage, nil
}

func (f *fakeStore) AddArchitectReview(ctx context.Context, rv *store.ArchitectReview) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rv.ID = int64(len(f.architectReviews) + 1)
	rv.CreatedAt = time.Now()
	cp := *rv
	f.architectReviews[rv.ID] = &cp
	return rv.ID, nil
}

func (f *fakeStore) GetArchitectReview(ctx context.Context, id int64) (*store.ArchitectReview, error) {
	rv, ok := f.architectReviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rv
	return &cp, nil
}

func (f *fakeStore) LatestArchitectReview(ctx context.Context, requestID int64) (*store.ArchitectReview, bool, error) {
	var latest *store.ArchitectReview
	for _, rv := range f.architectReviews {
		if rv.RequestID != requestID {
			continue
		}
		if latest == nil || rv.CreatedAt.After(latest.CreatedAt) {
			latest = rv
		}
	}
	return latest, latest != nil, nil
}

func (f *fakeStore) LatestApprovedArchitectReview(ctx context.Context, requestID int64) (*store.ArchitectReview, bool, error) {
	var latest *store.ArchitectReview
	for _, rv := range f.architectReviews {
		if rv.RequestID != requestID || rv.Decision != store.ArchitectApproved {
			continue
		}
		if latest == nil || rv.CreatedAt.After(latest.CreatedAt) {
			latest = rv
		}
	}
	return latest, latest != nil, nil
}

func (f *fakeStore) UpdateArchitectReview(ctx context.Context, rv *store.ArchitectReview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.architectReviews[rv.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *rv
	f.architectReviews[rv.ID] = &cp
	return nil
}

func (f *fakeStore) AddCodeReview(ctx context.Context, rv *store.CodeReview) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rv.ID = int64(len(f.codeReviews) + 1)
	rv.CreatedAt = time.Now()
	f.codeReviews = append(f.codeReviews, *rv)
	return rv.ID, nil
}

func (f *fakeStore) LatestCodeReviewForPR(ctx context.Context, requestID int64, prNumber int) (*store.CodeReview, bool, error) {
	for i := len(f.codeReviews) - 1; i >= 0; i-- {
		rv := f.codeReviews[i]
		if rv.RequestID == requestID && rv.PrNumber == prNumber {
			return &rv, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.configValues[key]
	return v, ok, nil
}

func (f *fakeStore) SetConfigValue(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configValues[key] = value
	return nil
}

// fakeHost is an in-memory codehost.Client, recording calls the tests care
// about and returning canned data for the rest.
type fakeHost struct {
	codehost.Client

	tree    []codehost.RepoFile
	files   map[string]string
	diff    string
	pr      *codehost.PullRequest
	foundPR bool
	runs    map[string][]codehost.WorkflowRun

	appliedLabels  []string
	removedLabels  []string
	comments       []string
	mergedPR       int
	deletedBranch  string
	assignedIssue  int
	prReviewEvents []string
	rerunCalls     []int64
	dispatchCalls  []string
	updatedBranch  bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{files: make(map[string]string), runs: make(map[string][]codehost.WorkflowRun)}
}

func (h *fakeHost) ApplyLabel(ctx context.Context, owner, repo string, number int, label string) error {
	h.appliedLabels = append(h.appliedLabels, label)
	return nil
}

func (h *fakeHost) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	h.removedLabels = append(h.removedLabels, label)
	return nil
}

func (h *fakeHost) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	h.comments = append(h.comments, body)
	return nil
}

func (h *fakeHost) ListRepoTree(ctx context.Context, owner, repo string) ([]codehost.RepoFile, error) {
	return h.tree, nil
}

func (h *fakeHost) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	return h.files[path], nil
}

func (h *fakeHost) ListCommits(ctx context.Context, owner, repo, branch string, limit int) ([]codehost.Commit, error) {
	return []codehost.Commit{{SHA: "deadbeef", Message: "head"}}, nil
}

func (h *fakeHost) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	return nil
}

func (h *fakeHost) CommitFiles(ctx context.Context, owner, repo, branch, message string, files map[string][]byte) error {
	return nil
}

func (h *fakeHost) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	h.deletedBranch = branch
	return nil
}

func (h *fakeHost) AssignIssueToAgent(ctx context.Context, owner, repo string, number int, principal, instructions, baseBranch string) error {
	h.assignedIssue = number
	return nil
}

func (h *fakeHost) FindPRByIssue(ctx context.Context, owner, repo string, issueNumber int, author string) (*codehost.PullRequest, bool, error) {
	return h.pr, h.foundPR, nil
}

func (h *fakeHost) GetPullRequest(ctx context.Context, owner, repo string, number int) (*codehost.PullRequest, error) {
	if h.pr == nil {
		return &codehost.PullRequest{Number: number}, nil
	}
	return h.pr, nil
}

func (h *fakeHost) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	return h.diff, nil
}

func (h *fakeHost) PostPRReview(ctx context.Context, owner, repo string, number int, event, body string) error {
	h.prReviewEvents = append(h.prReviewEvents, event)
	return nil
}

func (h *fakeHost) MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) error {
	h.mergedPR = number
	return nil
}

func (h *fakeHost) UpdatePRBranch(ctx context.Context, owner, repo string, number int) error {
	h.updatedBranch = true
	return nil
}

func (h *fakeHost) ListWorkflowRuns(ctx context.Context, owner, repo, workflowFile string, limit int) ([]codehost.WorkflowRun, error) {
	return h.runs[workflowFile], nil
}

func (h *fakeHost) RerunFailedJobs(ctx context.Context, owner, repo string, runID int64) error {
	h.rerunCalls = append(h.rerunCalls, runID)
	return nil
}

func (h *fakeHost) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]any) error {
	h.dispatchCalls = append(h.dispatchCalls, workflowFile)
	return nil
}

// fakeProvider is an llm.Provider stub returning a fixed response (or
// error) regardless of the request, letting worker tests pin the LLM's
// answer without a network call.
type fakeProvider struct {
	llm.BaseProvider

	name      string
	available bool
	resp      *llm.Response
	err       error
	calls     int
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Available() bool { return p.available }

func (p *fakeProvider) CreateMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

// newTestLLMClient builds an *llm.Client whose "test" provider is a
// fakeProvider answering every stage with resp, and pins every stage to it.
func newTestLLMClient(resp *llm.Response) (*llm.Client, *fakeProvider) {
	fp := &fakeProvider{name: "test", available: true, resp: resp}
	c := llm.NewClient("test")
	c.RegisterProvider("test", fp)
	c.SetStageConfig(llm.StageTriage, llm.StageConfig{Provider: "test"})
	c.SetStageConfig(llm.StageArchitect, llm.StageConfig{Provider: "test"})
	c.SetStageConfig(llm.StageCodeReview, llm.StageConfig{Provider: "test"})
	return c, fp
}

func testConfigStore(db store.Store) *ConfigStore {
	return NewConfigStore(DefaultConfig(), db)
}

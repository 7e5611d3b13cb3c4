package web

import (
	"context"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/store"
)

// fakeStore implements just enough of store.Store to drive the admin HTTP
// handlers in tests; unexercised methods fall through to the nil-embedded
// interface and would panic if called.
type fakeStore struct {
	store.Store

	projects         map[int64]*store.Project
	requests         map[int64]*store.Request
	architectReviews map[int64]*store.ArchitectReview
	triageReviews    map[int64]*store.TriageReview
	comments         map[int64][]store.Comment
	configValues     map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:         make(map[int64]*store.Project),
		requests:         make(map[int64]*store.Request),
		architectReviews: make(map[int64]*store.ArchitectReview),
		triageReviews:    make(map[int64]*store.TriageReview),
		comments:         make(map[int64][]store.Comment),
		configValues:     make(map[string]string),
	}
}

func (f *fakeStore) addProject(p *store.Project) { f.projects[p.ID] = p }
func (f *fakeStore) addRequest(r *store.Request) { f.requests[r.ID] = r }

func (f *fakeStore) GetProject(ctx context.Context, id int64) (*store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id int64) (*store.Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) UpdateRequest(ctx context.Context, r *store.Request) error {
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

func (f *fakeStore) SelectByState(ctx context.Context, state store.RequestState) ([]store.Request, error) {
	var out []store.Request
	for _, r := range f.requests {
		if r.State == state {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetArchitectReview(ctx context.Context, id int64) (*store.ArchitectReview, error) {
	rv, ok := f.architectReviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rv
	return &cp, nil
}

func (f *fakeStore) UpdateArchitectReview(ctx context.Context, rv *store.ArchitectReview) error {
	if _, ok := f.architectReviews[rv.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *rv
	f.architectReviews[rv.ID] = &cp
	return nil
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

func (f *fakeStore) GetTriageReview(ctx context.Context, id int64) (*store.TriageReview, error) {
	rv, ok := f.triageReviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rv
	return &cp, nil
}

func (f *fakeStore) AddComment(ctx context.Context, c *store.Comment) (int64, error) {
	c.ID = int64(len(f.comments[c.RequestID]) + 1)
	c.CreatedAt = time.Now()
	f.comments[c.RequestID] = append(f.comments[c.RequestID], *c)
	return c.ID, nil
}

func (f *fakeStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.configValues[key]
	return v, ok, nil
}

func (f *fakeStore) SetConfigValue(ctx context.Context, key, value string) error {
	f.configValues[key] = value
	return nil
}

// fakeHost implements just enough of codehost.Client to satisfy pipeline.NewManager's
// construction; the admin handlers exercised here never reach the code host directly.
type fakeHost struct {
	codehost.Client

	mergedPR int
}

func (h *fakeHost) MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) error {
	h.mergedPR = number
	return nil
}

func (h *fakeHost) UpdatePRBranch(ctx context.Context, owner, repo string, number int) error { return nil }

func (h *fakeHost) DeleteBranch(ctx context.Context, owner, repo, branch string) error { return nil }

func (h *fakeHost) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	return nil
}

func (h *fakeHost) ApplyLabel(ctx context.Context, owner, repo string, number int, label string) error {
	return nil
}

package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/forgepipeline/core/pipeline"
	"github.com/forgepipeline/core/store"
)

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func TestHandleHealth_ReportsCounts(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 1, ProjectID: 1, State: store.StateApproved, UpdatedAt: time.Now()})
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health pipeline.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if health.Pending != 1 {
		t.Errorf("Pending = %d, want 1", health.Pending)
	}
}

func TestHandleStats_ReturnsEveryWorker(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	var statuses map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := statuses["triage"]; !ok {
		t.Error("stats missing triage worker")
	}
}

func TestHandleApproveArchitect_AdvancesRequest(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{ID: 10, ProjectID: 1, State: store.StateArchitectReview, UpdatedAt: time.Now()})
	db.architectReviews[1] = &store.ArchitectReview{ID: 1, RequestID: 10}
	s := newTestServer(t, db, &fakeHost{})

	body := strings.NewReader(`{"actor":"alice","reason":"looks good"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/architect-reviews/1/approve", body)
	req = withVars(req, map[string]string{"id": "1"})
	rec := httptest.NewRecorder()

	s.handleApproveArchitect(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got, _ := db.GetRequest(req.Context(), 10)
	if got.State != store.StateApproved {
		t.Errorf("State = %s, want Approved", got.State)
	}
}

func TestHandleApproveArchitect_BadIDReturns400(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodPost, "/api/architect-reviews/nope/approve", nil)
	req = withVars(req, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()

	s.handleApproveArchitect(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleApproveArchitect_UnknownIDReturns500(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodPost, "/api/architect-reviews/99/approve", nil)
	req = withVars(req, map[string]string{"id": "99"})
	rec := httptest.NewRecorder()

	s.handleApproveArchitect(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleWorkerPause_UnknownWorkerReturns404(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodPost, "/api/workers/bogus/pause", nil)
	req = withVars(req, map[string]string{"name": "bogus"})
	rec := httptest.NewRecorder()

	s.handleWorkerPause(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleWorkerPauseResume_KnownWorker(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodPost, "/api/workers/triage/pause", nil)
	req = withVars(req, map[string]string{"name": "triage"})
	rec := httptest.NewRecorder()
	s.handleWorkerPause(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", rec.Code)
	}
	if !s.manager.Triage.Status().Paused {
		t.Error("triage worker not paused")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/workers/triage/resume", nil)
	req = withVars(req, map[string]string{"name": "triage"})
	rec = httptest.NewRecorder()
	s.handleWorkerResume(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", rec.Code)
	}
	if s.manager.Triage.Status().Paused {
		t.Error("triage worker still paused after resume")
	}
}

func TestHandleDeployStaged_MergesEligiblePRs(t *testing.T) {
	db := newFakeStore()
	db.addProject(&store.Project{ID: 1, Owner: "acme", Repo: "widgets"})
	db.addRequest(&store.Request{
		ID: 20, ProjectID: 1, PrNumber: 500, Title: "ship it", BranchName: "feature/z",
		State: store.StateInProgress, ImplementationStatus: store.ImplReviewApproved, UpdatedAt: time.Now(),
	})
	host := &fakeHost{}
	s := newTestServer(t, db, host)

	req := httptest.NewRequest(http.MethodPost, "/api/deploy/staged", nil)
	rec := httptest.NewRecorder()
	s.handleDeployStaged(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if host.mergedPR != 500 {
		t.Errorf("mergedPR = %d, want 500", host.mergedPR)
	}
}

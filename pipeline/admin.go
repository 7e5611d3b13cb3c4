package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/store"
)

// Admin implements the intake boundary's operation table (spec.md §6): the
// override, re-review, and deployment-control surface the external HTTP
// layer calls into. It holds no polling loop of its own.
type Admin struct {
	db   store.Store
	host codehost.Client
	orch *Orchestrator
}

// NewAdmin builds an Admin over the shared store, code host, and
// Orchestrator instance.
func NewAdmin(db store.Store, host codehost.Client, orch *Orchestrator) *Admin {
	return &Admin{db: db, host: host, orch: orch}
}

// QueueTriage resets requestId to New with triage counters cleared.
func (a *Admin) QueueTriage(ctx context.Context, requestID int64) error {
	req, err := a.db.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", requestID, err)
	}
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateNew
	req.TriageCount = 0
	req.LastTriageAt = nil
	req.UpdatedAt = prevUpdatedAt
	return a.update(ctx, req)
}

// QueueArchitect resets requestId to Triaged with architect counters cleared.
func (a *Admin) QueueArchitect(ctx context.Context, requestID int64) error {
	req, err := a.db.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", requestID, err)
	}
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateTriaged
	req.ArchitectCount = 0
	req.LastArchitectAt = nil
	req.UpdatedAt = prevUpdatedAt
	return a.update(ctx, req)
}

// ApproveArchitect marks reviewId Approved and advances its request to
// Approved.
func (a *Admin) ApproveArchitect(ctx context.Context, reviewID int64, actor, reason string) error {
	review, err := a.db.GetArchitectReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("get architect review %d: %w", reviewID, err)
	}
	now := time.Now()
	review.Decision = store.ArchitectApproved
	review.ApprovedBy = actor
	review.ApprovedAt = &now
	if err := a.db.UpdateArchitectReview(ctx, review); err != nil {
		return fmt.Errorf("update architect review %d: %w", reviewID, err)
	}

	req, err := a.db.GetRequest(ctx, review.RequestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", review.RequestID, err)
	}
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateApproved
	req.UpdatedAt = prevUpdatedAt
	if err := a.update(ctx, req); err != nil {
		return err
	}
	return a.recordComment(ctx, req.ID, actor, "Architect review approved.", reason)
}

// RejectArchitect marks reviewId Rejected and returns its request to
// Triaged for a fresh architect pass.
func (a *Admin) RejectArchitect(ctx context.Context, reviewID int64, actor, reason string) error {
	review, err := a.db.GetArchitectReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("get architect review %d: %w", reviewID, err)
	}
	review.Decision = store.ArchitectRejected
	review.ApprovedBy = actor
	if err := a.db.UpdateArchitectReview(ctx, review); err != nil {
		return fmt.Errorf("update architect review %d: %w", reviewID, err)
	}

	req, err := a.db.GetRequest(ctx, review.RequestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", review.RequestID, err)
	}
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateTriaged
	req.UpdatedAt = prevUpdatedAt
	if err := a.update(ctx, req); err != nil {
		return err
	}
	return a.recordComment(ctx, req.ID, actor, "Architect review rejected.", reason)
}

// FeedbackArchitect marks reviewId Revised and appends the actor's
// free-text feedback as a comment; ArchitectWorker's next pass reads it
// back as humanFeedback.
func (a *Admin) FeedbackArchitect(ctx context.Context, reviewID int64, actor, text string) error {
	review, err := a.db.GetArchitectReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("get architect review %d: %w", reviewID, err)
	}
	review.Decision = store.ArchitectRevised
	review.HumanFeedback = text
	if err := a.db.UpdateArchitectReview(ctx, review); err != nil {
		return fmt.Errorf("update architect review %d: %w", reviewID, err)
	}
	return a.recordComment(ctx, review.RequestID, actor, text, "")
}

// OverrideTriage forces the request behind triage review reviewID to
// newState regardless of the model's own decision, an escape hatch for
// human review. The triage review itself is left unchanged.
func (a *Admin) OverrideTriage(ctx context.Context, reviewID int64, actor string, newState store.RequestState, reason string) error {
	review, err := a.db.GetTriageReview(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("get triage review %d: %w", reviewID, err)
	}

	req, err := a.db.GetRequest(ctx, review.RequestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", review.RequestID, err)
	}
	prevUpdatedAt := req.UpdatedAt
	req.State = newState
	req.UpdatedAt = prevUpdatedAt
	if err := a.update(ctx, req); err != nil {
		return err
	}
	return a.recordComment(ctx, req.ID, actor, fmt.Sprintf("Triage overridden to %s.", newState), reason)
}

// TriggerImplementation makes an Approved requestId selectable for dispatch
// by clearing its sessionId. It does not dispatch the request itself:
// ImplementationTriggerWorker picks it up on its next poll cycle.
func (a *Admin) TriggerImplementation(ctx context.Context, requestID int64) error {
	req, err := a.db.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", requestID, err)
	}
	if req.State != store.StateApproved {
		return fmt.Errorf("request %d is not Approved", requestID)
	}
	prevUpdatedAt := req.UpdatedAt
	req.SessionID = ""
	req.UpdatedAt = prevUpdatedAt
	return a.update(ctx, req)
}

// RejectImplementation returns requestId to Approved and clears its
// coding-agent session fields, so it can be re-triggered.
func (a *Admin) RejectImplementation(ctx context.Context, requestID int64, reason string) error {
	req, err := a.db.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request %d: %w", requestID, err)
	}
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateApproved
	req.SessionID = ""
	req.PrNumber = 0
	req.PrURL = ""
	req.BranchName = ""
	req.TriggeredAt = nil
	req.ImplementationStatus = ""
	req.UpdatedAt = prevUpdatedAt
	if err := a.update(ctx, req); err != nil {
		return err
	}
	return a.recordComment(ctx, req.ID, "admin", "Implementation rejected, returned to Approved.", reason)
}

// DeployStaged merges every ReviewApproved PR now, regardless of
// deployment mode.
func (a *Admin) DeployStaged(ctx context.Context) (int, error) {
	return a.orch.DeployStaged(ctx)
}

// RetryDeployment re-runs or dispatches fresh workflow runs for requestId.
func (a *Admin) RetryDeployment(ctx context.Context, requestID int64) error {
	return a.orch.RetryDeployment(ctx, requestID)
}

// Health summarizes counters across the pipeline's states, per spec.md §6.
type Health struct {
	Stalled    int
	Pending    int
	InProgress int
	Succeeded  int
	Failed     int
}

// Health reports counters of stalled, pending, in-progress, succeeded, and
// failed requests.
func (a *Admin) Health(ctx context.Context) (Health, error) {
	var h Health

	for _, state := range []store.RequestState{
		store.StateNeedsClarification, store.StateArchitectReview, store.StateApproved, store.StateInProgress,
	} {
		requests, err := a.db.SelectByState(ctx, state)
		if err != nil {
			return h, fmt.Errorf("select by state %s: %w", state, err)
		}
		for _, r := range requests {
			if r.StallNotifiedAt != nil {
				h.Stalled++
			}
			switch state {
			case store.StateApproved:
				h.Pending++
			case store.StateInProgress:
				if r.ImplementationStatus == store.ImplFailed {
					h.Failed++
				} else {
					h.InProgress++
				}
			}
		}
	}

	done, err := a.db.SelectByState(ctx, store.StateDone)
	if err != nil {
		return h, fmt.Errorf("select by state Done: %w", err)
	}
	for _, r := range done {
		switch r.DeploymentStatus {
		case store.DeploySucceeded:
			h.Succeeded++
		case store.DeployFailed:
			h.Failed++
		}
	}

	return h, nil
}

func (a *Admin) update(ctx context.Context, req *store.Request) error {
	if err := a.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}
	return nil
}

func (a *Admin) recordComment(ctx context.Context, requestID int64, actor, content, reason string) error {
	if reason != "" {
		content = content + " Reason: " + reason
	}
	_, err := a.db.AddComment(ctx, &store.Comment{
		RequestID: requestID,
		Author:    actor,
		Content:   content,
		IsAgent:   false,
	})
	if err != nil {
		return fmt.Errorf("record comment: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrStaleWrite is returned by UpdateRequest when the caller's view of
// UpdatedAt no longer matches the stored row (optimistic concurrency, per
// spec.md §5 "optimistic concurrency on updatedAt as a version check").
var ErrStaleWrite = errors.New("store: stale write, request was modified concurrently")

// Store is the narrow persistence interface every worker and the
// Orchestrator depend on. The concrete implementation (sqlstore.Store) is
// an external collaborator from the core's point of view; nothing in this
// module reaches for *sql.DB directly outside of sqlstore.
type Store interface {
	// Projects.
	GetProject(ctx context.Context, id int64) (*Project, error)
	ListProjectSiblings(ctx context.Context, projectID int64, limit int) ([]Request, error)

	// Requests.
	GetRequest(ctx context.Context, id int64) (*Request, error)
	CreateRequest(ctx context.Context, r *Request) (int64, error)

	// UpdateRequest persists r using optimistic concurrency: the row's
	// current UpdatedAt must equal r.UpdatedAt, after which
	// UpdatedAt is bumped to now. Returns ErrStaleWrite on mismatch.
	UpdateRequest(ctx context.Context, r *Request) error

	// SelectForTriage returns up to limit requests matching §4.1's
	// selection predicate, ordered by creation ascending.
	SelectForTriage(ctx context.Context, maxTriages, limit int) ([]Request, error)

	// SelectForArchitect returns up to limit requests matching §4.2's
	// selection predicate, ordered by creation ascending.
	SelectForArchitect(ctx context.Context, limit int) ([]Request, error)

	// SelectForImplementationTrigger returns requests matching §4.3's
	// selection predicate, ordered by UpdatedAt ascending.
	SelectForImplementationTrigger(ctx context.Context, limit int) ([]Request, error)

	// SelectActiveSessions returns requests with an active implementation
	// session (§4.4), for the PullRequestMonitorWorker.
	SelectActiveSessions(ctx context.Context) ([]Request, error)

	// SelectForCodeReview returns requests in PrOpened without a CodeReview
	// for the current PR (§4.5).
	SelectForCodeReview(ctx context.Context, limit int) ([]Request, error)

	// SelectByState returns all requests currently in the given state,
	// used by the Orchestrator for stall detection (§4.6).
	SelectByState(ctx context.Context, state RequestState) ([]Request, error)

	// ActiveImplementationCount returns |{r : implementationStatus in
	// {Pending, Working}}| for MaxConcurrentSessions enforcement.
	ActiveImplementationCount(ctx context.Context) (int, error)

	// Comments.
	AddComment(ctx context.Context, c *Comment) (int64, error)
	ListComments(ctx context.Context, requestID int64) ([]Comment, error)
	LatestSubmitterCommentAfter(ctx context.Context, requestID int64, after *time.Time) (*Comment, bool, error)
	LatestAgentComment(ctx context.Context, requestID int64) (*Comment, bool, error)

	// Attachments.
	ListAttachments(ctx context.Context, requestID int64) ([]Attachment, error)

	// Reviews — each Add writes an immutable row; each Latest reads the
	// single most-recent row by CreatedAt descending (invariant 6).
	AddTriageReview(ctx context.Context, rv *TriageReview) (int64, error)
	GetTriageReview(ctx context.Context, id int64) (*TriageReview, error)
	LatestTriageReview(ctx context.Context, requestID int64) (*TriageReview, bool, error)
	TokenUsageSince(ctx context.Context, kind ReviewKind, since time.Time) (int, error)

	AddArchitectReview(ctx context.Context, rv *ArchitectReview) (int64, error)
	GetArchitectReview(ctx context.Context, id int64) (*ArchitectReview, error)
	LatestArchitectReview(ctx context.Context, requestID int64) (*ArchitectReview, bool, error)
	LatestApprovedArchitectReview(ctx context.Context, requestID int64) (*ArchitectReview, bool, error)
	UpdateArchitectReview(ctx context.Context, rv *ArchitectReview) error

	AddCodeReview(ctx context.Context, rv *CodeReview) (int64, error)
	LatestCodeReviewForPR(ctx context.Context, requestID int64, prNumber int) (*CodeReview, bool, error)

	// Config overrides (spec.md §9 "runtime-editable config").
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// ReviewKind discriminates token-usage queries across review tables.
type ReviewKind string

const (
	ReviewKindTriage     ReviewKind = "triage"
	ReviewKindArchitect  ReviewKind = "architect"
	ReviewKindCodeReview ReviewKind = "codereview"
)

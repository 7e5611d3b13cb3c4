package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgepipeline/core/store"
)

// DefaultOrphanSessionAge is how long an implementation session can sit in
// Pending/Working before startup reconciliation flags it as orphaned — it
// likely means the process died mid-session rather than the agent still
// being legitimately at work.
const DefaultOrphanSessionAge = 2 * time.Hour

// ReconcileOrphanedSessions logs (and leaves for PullRequestMonitorWorker
// to pick back up) every InProgress request whose session looks
// abandoned: implementationStatus still Pending/Working long after it was
// triggered, most likely because the process was killed mid-session.
// Generalizes the teacher's CleanupOrphanedRunningAgents/
// CleanupStaleRunningAgents, run once at startup rather than on its own
// ticker since a crash is a startup-time event, not a steady-state one.
func ReconcileOrphanedSessions(ctx context.Context, db store.Store, log *slog.Logger, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultOrphanSessionAge
	}

	requests, err := db.SelectByState(ctx, store.StateInProgress)
	if err != nil {
		return 0, fmt.Errorf("reconcile: select in-progress requests: %w", err)
	}

	flagged := 0
	now := time.Now()
	for _, req := range requests {
		if req.ImplementationStatus != store.ImplPending && req.ImplementationStatus != store.ImplWorking {
			continue
		}
		if req.TriggeredAt == nil || now.Sub(*req.TriggeredAt) < staleAfter {
			continue
		}
		log.Warn("orphaned implementation session found at startup",
			"requestId", req.ID,
			"status", req.ImplementationStatus,
			"triggeredAt", req.TriggeredAt,
			"age", now.Sub(*req.TriggeredAt))
		flagged++
	}
	return flagged, nil
}

package pipeline

import (
	"context"
	"time"

	"github.com/forgepipeline/core/store"
)

// budgetExceeded reports whether kind's recorded token usage has crossed
// cfg's configured daily or monthly ceiling (spec.md §4.1 "Budget gate",
// §5 "Budget gates"). A budget of 0 or less leaves that window unchecked.
func budgetExceeded(ctx context.Context, db store.Store, kind store.ReviewKind, cfg Config) (bool, error) {
	now := time.Now().UTC()

	if cfg.DailyTokenBudget > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		used, err := db.TokenUsageSince(ctx, kind, dayStart)
		if err != nil {
			return false, err
		}
		if used >= cfg.DailyTokenBudget {
			return true, nil
		}
	}

	if cfg.MonthlyTokenBudget > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		used, err := db.TokenUsageSince(ctx, kind, monthStart)
		if err != nil {
			return false, err
		}
		if used >= cfg.MonthlyTokenBudget {
			return true, nil
		}
	}

	return false, nil
}

package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/strabo/internal/db"
	"github.com/hpungsan/strabo/internal/errors"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Token   string // optional
	Outcome string // optional: completed, failed, failed_to_start, cancelled
	Limit   int    // default: 20, max: 200
	Offset  int
}

// HistoryOutput lists upload journal entries, newest first.
type HistoryOutput struct {
	Items      []db.JournalEntry `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// History lists recorded upload attempts.
func History(ctx context.Context, database *sql.DB, input HistoryInput) (*HistoryOutput, error) {
	var filter db.JournalFilter
	if tok := strings.TrimSpace(input.Token); tok != "" {
		tok, err := validateToken(tok)
		if err != nil {
			return nil, err
		}
		filter.Token = &tok
	}
	if input.Outcome != "" {
		switch input.Outcome {
		case db.OutcomeCompleted, db.OutcomeFailed, db.OutcomeFailedToStart, db.OutcomeCancelled:
			filter.Outcome = &input.Outcome
		default:
			return nil, errors.NewInvalidRequest("outcome must be one of: completed, failed, failed_to_start, cancelled")
		}
	}

	limit := clampLimit(input.Limit, DefaultHistoryLimit, MaxHistoryLimit)
	offset := max(input.Offset, 0)

	items, total, err := db.ListJournal(ctx, database, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	return &HistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

package ops

import (
	"context"
	"time"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/store"
)

// DefaultPruneAge is how old leftovers must be before Prune removes them.
const DefaultPruneAge = 24 * time.Hour

// PruneInput contains parameters for the Prune operation.
type PruneInput struct {
	OlderThan string // Go duration, e.g. "48h"; default 24h
}

// PruneOutput reports the removed files.
type PruneOutput struct {
	Temps   []string `json:"temps"`
	Orphans []string `json:"orphans"`
	Removed int      `json:"removed"`
}

// Prune removes stale temp files and orphaned capture files.
func Prune(ctx context.Context, st *store.Store, input PruneInput) (*PruneOutput, error) {
	age := DefaultPruneAge
	if input.OlderThan != "" {
		d, err := time.ParseDuration(input.OlderThan)
		if err != nil {
			return nil, errors.NewInvalidRequest("older_than must be a duration such as 24h")
		}
		age = d
	}

	res, err := st.Prune(ctx, age)
	if err != nil {
		return nil, err
	}
	return &PruneOutput{
		Temps:   res.Temps,
		Orphans: res.Orphans,
		Removed: len(res.Temps) + len(res.Orphans),
	}, nil
}

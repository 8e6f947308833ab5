package ops

import (
	"context"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/store"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Type     string // optional: "video" or "image"
	Uploaded *bool  // optional filter on upload state
	Limit    int    // default: 20, max: 100
	Offset   int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []CaptureSummary `json:"items"`
	Pagination Pagination       `json:"pagination"`
	Sort       string           `json:"sort"`
}

// List returns capture summaries, newest first, with pagination.
func List(ctx context.Context, st *store.Store, input ListInput) (*ListOutput, error) {
	var typ capture.Type
	if input.Type != "" {
		t, err := capture.ParseType(input.Type)
		if err != nil {
			return nil, err
		}
		typ = t
	}

	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	all, err := st.AllCaptures(ctx, true)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, c := range all {
		if typ != "" && c.Type() != typ {
			continue
		}
		if input.Uploaded != nil && c.HasBeenUploaded() != *input.Uploaded {
			continue
		}
		matched = append(matched, c)
	}

	total := len(matched)
	page := matched[min(offset, total):min(offset+limit, total)]

	return &ListOutput{
		Items: summarizeAll(page),
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(page) < total,
			Total:   total,
		},
		Sort: "creation_date_desc",
	}, nil
}

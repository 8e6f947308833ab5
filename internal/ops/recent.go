package ops

import (
	"context"
	"time"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/store"
)

// DateLayout is the calendar-day format accepted by OnDate.
const DateLayout = "2006-01-02"

// RecentInput contains parameters for the Recent operation.
type RecentInput struct {
	Limit int // default: 5, max: 100
}

// RecentOutput contains the most recent captures.
type RecentOutput struct {
	Items []CaptureSummary `json:"items"`
}

// Recent returns the newest captures.
func Recent(ctx context.Context, st *store.Store, input RecentInput) (*RecentOutput, error) {
	limit := clampLimit(input.Limit, DefaultRecentLimit, MaxListLimit)
	captures, err := st.RecentCaptures(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &RecentOutput{Items: summarizeAll(captures)}, nil
}

// OnDateInput contains parameters for the OnDate operation.
type OnDateInput struct {
	Date     string         // required, YYYY-MM-DD
	Location *time.Location // default: local time
}

// OnDateOutput lists the captures created on one calendar day.
type OnDateOutput struct {
	Date  string           `json:"date"`
	Items []CaptureSummary `json:"items"`
}

// OnDate returns the captures created on the given day, newest first.
func OnDate(ctx context.Context, st *store.Store, input OnDateInput) (*OnDateOutput, error) {
	if input.Date == "" {
		return nil, errors.NewInvalidRequest("date is required")
	}
	loc := input.Location
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(DateLayout, input.Date, loc)
	if err != nil {
		return nil, errors.NewInvalidRequest("date must be formatted as YYYY-MM-DD")
	}

	captures, err := st.CapturesOnDate(ctx, day)
	if err != nil {
		return nil, err
	}
	return &OnDateOutput{Date: input.Date, Items: summarizeAll(captures)}, nil
}

// CountOutput holds the number of locally stored captures.
type CountOutput struct {
	Count int `json:"count"`
}

// Count returns the number of captures in the store.
func Count(ctx context.Context, st *store.Store) *CountOutput {
	return &CountOutput{Count: st.LocalCaptureCount(ctx)}
}

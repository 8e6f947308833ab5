package store

import (
	"cmp"
	"context"
	stderrors "errors"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/token"
)

// AllCaptures loads every capture with a readable metadata file. Captures
// whose metadata is unreadable or malformed are logged and skipped. When
// sorted, the result is ordered by creation date, most recent first, with
// ties broken by token ascending.
func (s *Store) AllCaptures(ctx context.Context, sorted bool) ([]*capture.Capture, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.NewIO("read store root", err)
	}

	captures := make([]*capture.Capture, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("enumerate captures")
		}
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, capture.MetadataExt) {
			continue
		}
		if !token.Valid(strings.TrimSuffix(name, capture.MetadataExt)) {
			continue
		}
		c, err := capture.Load(s.root, name)
		if err != nil {
			s.log.Warn(ctx, "skipping unreadable capture", "file", name, "error", err)
			continue
		}
		captures = append(captures, c)
	}

	if sorted {
		SortByRecent(captures)
	}
	return captures, nil
}

// SortByRecent orders captures by creation date descending, then token.
func SortByRecent(captures []*capture.Capture) {
	slices.SortFunc(captures, func(a, b *capture.Capture) int {
		if c := b.CreationDate().Compare(a.CreationDate()); c != 0 {
			return c
		}
		return cmp.Compare(a.Token(), b.Token())
	})
}

// RecentCaptures returns at most limit captures, most recent first.
func (s *Store) RecentCaptures(ctx context.Context, limit int) ([]*capture.Capture, error) {
	if limit <= 0 {
		return []*capture.Capture{}, nil
	}
	all, err := s.AllCaptures(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CapturesOnDate returns captures created on the same calendar day as date,
// evaluated in date's location, most recent first.
func (s *Store) CapturesOnDate(ctx context.Context, date time.Time) ([]*capture.Capture, error) {
	all, err := s.AllCaptures(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]*capture.Capture, 0)
	for _, c := range all {
		if SameDay(c.CreationDate(), date) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SameDay reports whether t falls on the calendar day of ref in ref's location.
func SameDay(t, ref time.Time) bool {
	y1, m1, d1 := t.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// LocalCaptureCount returns the number of visible captures. Enumeration
// failures are logged and count as zero.
func (s *Store) LocalCaptureCount(ctx context.Context) int {
	all, err := s.AllCaptures(ctx, false)
	if err != nil {
		s.log.Error(ctx, "count captures", "error", err)
		return 0
	}
	return len(all)
}

// CaptureByToken loads one capture. Missing or unreadable metadata is NOT_FOUND.
func (s *Store) CaptureByToken(ctx context.Context, tok string) (*capture.Capture, error) {
	if !token.Valid(tok) {
		return nil, errors.NewNotFound(tok)
	}
	c, err := capture.Load(s.root, tok+capture.MetadataExt)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warn(ctx, "unreadable capture metadata", "token", tok, "error", err)
		}
		return nil, errors.NewNotFound(tok)
	}
	return c, nil
}

// DeleteCapture removes every file named after c's token. It reports false if the capture was
// already gone or if any file could not be removed; in the latter case the
// joined failures are returned too.
func (s *Store) DeleteCapture(ctx context.Context, c *capture.Capture) (bool, error) {
	if c == nil {
		return false, errors.NewInvalidRequest("capture is required")
	}
	return s.deleteFiles(ctx, c.Token(), tokenFiles(c.Token()))
}

// DeleteCaptureByToken removes the capture named by tok. Stray files of a
// capture without metadata are cleaned up as well, but report false.
func (s *Store) DeleteCaptureByToken(ctx context.Context, tok string) (bool, error) {
	if !token.Valid(tok) {
		return false, nil
	}
	c, err := capture.Load(s.root, tok+capture.MetadataExt)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warn(ctx, "deleting capture with unreadable metadata", "token", tok, "error", err)
		}
		return s.deleteFiles(ctx, tok, tokenFiles(tok))
	}
	return s.DeleteCapture(ctx, c)
}

// deleteFiles removes names in order; the first name must be the metadata
// file so the capture leaves enumeration before anything else goes.
func (s *Store) deleteFiles(ctx context.Context, tok string, names []string) (bool, error) {
	present := false
	var failures []error
	for i, name := range names {
		err := os.Remove(s.path(name))
		switch {
		case err == nil:
			if i == 0 {
				present = true
			}
		case os.IsNotExist(err):
		default:
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		joined := stderrors.Join(failures...)
		s.log.Error(ctx, "delete capture", "token", tok, "error", joined)
		return false, errors.NewIO("delete capture "+tok, joined)
	}
	if present {
		s.log.Info(ctx, "capture deleted", "token", tok)
	}
	return present, nil
}

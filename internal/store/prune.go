package store

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/token"
)

// PruneResult lists the file names Prune removed.
type PruneResult struct {
	Temps   []string `json:"temps"`
	Orphans []string `json:"orphans"`
}

// Prune removes leftovers of interrupted writes: temp files, and capture
// files whose metadata never appeared. Only files last modified more than
// olderThan ago are touched, so in-flight creations are left alone.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (*PruneResult, error) {
	if olderThan < 0 {
		return nil, errors.NewInvalidRequest("older_than must not be negative")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.NewIO("read store root", err)
	}
	cutoff := s.now().Add(-olderThan)

	res := &PruneResult{Temps: []string{}, Orphans: []string{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, errors.NewCancelled("prune")
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		name := e.Name()
		var list *[]string
		if strings.HasSuffix(name, tempSuffix) {
			list = &res.Temps
		} else if tok := ownerToken(name); tok != "" && !s.exists(tok) {
			list = &res.Orphans
		} else {
			continue
		}

		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			s.log.Warn(ctx, "prune: remove file", "file", name, "error", err)
			continue
		}
		*list = append(*list, name)
	}

	if len(res.Temps)+len(res.Orphans) > 0 {
		s.log.Info(ctx, "store pruned", "temps", len(res.Temps), "orphans", len(res.Orphans))
	}
	return res, nil
}

// ownerToken returns the token of a non-metadata capture file name, or "".
func ownerToken(name string) string {
	for _, ext := range []string{
		capture.ThumbnailExt,
		capture.GeoDataExt,
		capture.Video.MediaExt(),
		capture.Image.MediaExt(),
	} {
		if strings.HasSuffix(name, ext) {
			tok := strings.TrimSuffix(name, ext)
			if token.Valid(tok) {
				return tok
			}
			return ""
		}
	}
	return ""
}

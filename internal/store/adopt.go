package store

import (
	"context"
	"io"
	"os"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/geotrack"
)

// AdoptInput is a capture that already has a token, delivered as streams.
type AdoptInput struct {
	Metadata  capture.Metadata
	Media     io.Reader
	Thumbnail io.Reader
	GeoData   io.Reader
}

// Adopt persists a capture created elsewhere under its existing token. Paths
// in the metadata are replaced by the canonical names for the token. The
// geodata is validated before anything becomes visible. It fails with
// ALREADY_EXISTS if the token is taken.
func (s *Store) Adopt(ctx context.Context, in AdoptInput) (*capture.Capture, error) {
	if in.Media == nil || in.Thumbnail == nil || in.GeoData == nil {
		return nil, errors.NewInvalidRequest("media, thumbnail and geodata are required")
	}
	meta, err := s.adoptable(in.Metadata)
	if err != nil {
		return nil, err
	}

	c, err := s.create(ctx, meta, func(t *txn) error {
		if err := t.stageTrack(s.path(meta.GeoDataPath), in.GeoData); err != nil {
			return err
		}
		if err := t.stagePut(s.path(meta.MediaPath), in.Media); err != nil {
			return err
		}
		return t.stagePut(s.path(meta.ThumbnailPath), in.Thumbnail)
	})
	if err != nil {
		s.log.Warn(ctx, "adopt failed", "token", meta.Token, "error", err)
		return nil, err
	}
	s.log.Info(ctx, "capture adopted", "token", meta.Token, "type", meta.Type)
	return c, nil
}

// adoptable canonicalizes and validates foreign metadata.
func (s *Store) adoptable(m capture.Metadata) (capture.Metadata, error) {
	m.MediaPath = m.Token + m.Type.MediaExt()
	m.ThumbnailPath = m.Token + capture.ThumbnailExt
	m.GeoDataPath = m.Token + capture.GeoDataExt
	if m.Title == "" {
		m.Title = s.opts.defaultTitle
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	if s.exists(m.Token) {
		return m, errors.NewAlreadyExists(m.Token)
	}
	return m, nil
}

func (t *txn) stagePut(dst string, r io.Reader) error {
	sf, _, err := t.stage(dst, r)
	if err != nil {
		return err
	}
	return t.put(sf)
}

// stageTrack stages a geodata file and rejects it if it does not decode.
func (t *txn) stageTrack(dst string, r io.Reader) error {
	sf, _, err := t.stage(dst, r)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(sf.tmp)
	if err != nil {
		return errors.NewIO("read staged geodata", err)
	}
	if _, err := geotrack.Decode(data); err != nil {
		return err
	}
	return t.put(sf)
}

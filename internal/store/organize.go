package store

import (
	"bytes"
	"context"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/geotrack"
)

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OrganizeInput describes fresh recorder output.
type OrganizeInput struct {
	TempMediaPath     string
	TempThumbnailPath string
	Type              capture.Type
	Samples           []geotrack.Sample

	// InitialLocation defaults to the position of the first sample.
	InitialLocation *Location
	// InitialHeading defaults to the heading of the first sample, then 0.
	InitialHeading *float64

	Title        string    // optional
	CreationDate time.Time // zero means now
}

// Organize moves recorder output into the store under a new token.
//
// Media and thumbnail are moved (not copied), then the geodata and metadata
// files are written through temp names, metadata last. On any failure the
// files already placed are undone and an IO_ERROR is returned.
func (s *Store) Organize(ctx context.Context, in OrganizeInput) (*capture.Capture, error) {
	if _, err := capture.ParseType(string(in.Type)); err != nil {
		return nil, err
	}
	if in.TempMediaPath == "" {
		return nil, errors.NewInvalidRequest("temp media path is required")
	}
	if in.TempThumbnailPath == "" {
		return nil, errors.NewInvalidRequest("temp thumbnail path is required")
	}

	geo := geotrack.Encode(in.Samples)
	lat, lon, heading, err := initialPoint(geo, in.InitialLocation, in.InitialHeading)
	if err != nil {
		return nil, err
	}

	created := in.CreationDate
	if created.IsZero() {
		created = s.now()
	}

	tok := s.tokens.New()
	if s.exists(tok) {
		return nil, errors.NewAlreadyExists(tok)
	}
	meta := s.canonicalMetadata(tok, in.Type, created, lat, lon, heading, in.Title)

	c, err := s.create(ctx, meta, func(t *txn) error {
		if err := t.move(in.TempMediaPath, s.path(meta.MediaPath)); err != nil {
			return err
		}
		if err := t.move(in.TempThumbnailPath, s.path(meta.ThumbnailPath)); err != nil {
			return err
		}
		return t.writeFile(s.path(meta.GeoDataPath), geo)
	})
	if err != nil {
		s.log.Error(ctx, "organize failed", "token", tok, "error", err)
		return nil, err
	}
	s.log.Info(ctx, "capture organized", "token", tok, "type", in.Type, "samples", len(in.Samples))
	return c, nil
}

// ImportImageInput describes an existing JPEG to add to the store.
type ImportImageInput struct {
	ImagePath string
	// ThumbnailPath is optional; a copy of the image is used when empty.
	ThumbnailPath string

	Latitude  *float64 // required
	Longitude *float64 // required
	Heading   *float64 // default 0
	Date      *time.Time
	Title     string
}

// ImportImage copies an existing image into the store as an image capture
// with a one-sample track at the given position. The source files are left
// in place.
func (s *Store) ImportImage(ctx context.Context, in ImportImageInput) (*capture.Capture, error) {
	if in.ImagePath == "" {
		return nil, errors.NewInvalidRequest("image path is required")
	}
	if in.Latitude == nil || in.Longitude == nil {
		return nil, errors.NewInvalidRequest("latitude and longitude are required")
	}

	created := s.now()
	if in.Date != nil {
		created = *in.Date
	}
	var heading float64
	if in.Heading != nil {
		heading = *in.Heading
	}
	thumb := in.ThumbnailPath
	if thumb == "" {
		thumb = in.ImagePath
	}

	geo := geotrack.Encode([]geotrack.Sample{{
		Latitude:  *in.Latitude,
		Longitude: *in.Longitude,
		Heading:   in.Heading,
	}})

	tok := s.tokens.New()
	if s.exists(tok) {
		return nil, errors.NewAlreadyExists(tok)
	}
	meta := s.canonicalMetadata(tok, capture.Image, created, *in.Latitude, *in.Longitude, heading, in.Title)

	c, err := s.create(ctx, meta, func(t *txn) error {
		if err := t.copyFile(in.ImagePath, s.path(meta.MediaPath)); err != nil {
			return err
		}
		if err := t.copyFile(thumb, s.path(meta.ThumbnailPath)); err != nil {
			return err
		}
		return t.writeFile(s.path(meta.GeoDataPath), geo)
	})
	if err != nil {
		s.log.Error(ctx, "image import failed", "token", tok, "error", err)
		return nil, err
	}
	s.log.Info(ctx, "image imported", "token", tok, "source", in.ImagePath)
	return c, nil
}

// create runs place inside a transaction and then writes the metadata file.
func (s *Store) create(ctx context.Context, meta capture.Metadata, place func(*txn) error) (*capture.Capture, error) {
	t := s.begin(meta.Token)
	c := capture.New(s.root, meta)

	err := place(t)
	if err == nil && ctx.Err() != nil {
		err = errors.NewCancelled("create capture")
	}
	if err == nil {
		err = t.writeMetadata(c)
	}
	if err != nil {
		t.rollback(ctx)
		return nil, err
	}
	t.commit(ctx)
	return c, nil
}

func (t *txn) writeMetadata(c *capture.Capture) error {
	data, err := c.MarshalMetadata()
	if err != nil {
		return errors.NewInternal(err)
	}
	return t.writeFile(t.s.path(c.MetadataPath()), data)
}

// initialPoint resolves the start position and heading, falling back to the
// first record of the encoded track.
func initialPoint(geo []byte, loc *Location, heading *float64) (lat, lon, h float64, err error) {
	first, ok, err := geotrack.First(bytes.NewReader(geo))
	if err != nil {
		return 0, 0, 0, err
	}
	switch {
	case loc != nil:
		lat, lon = loc.Latitude, loc.Longitude
	case ok:
		lat, lon = first.Latitude, first.Longitude
	default:
		return 0, 0, 0, errors.NewInvalidRequest("initial location is required for an empty track")
	}
	switch {
	case heading != nil:
		h = *heading
	case ok:
		h = first.HeadingOr(0)
	}
	return lat, lon, h, nil
}

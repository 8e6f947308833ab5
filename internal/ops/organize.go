package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/geotrack"
	"github.com/hpungsan/strabo/internal/store"
)

// OrganizeInput describes a finished recording to move into the store.
type OrganizeInput struct {
	MediaPath     string // required, moved
	ThumbnailPath string // required, moved
	Type          string // required: "video" or "image"

	// TrackPath is an optional track file: binary .geo or a JSON array of
	// samples. Without it Latitude and Longitude are required.
	TrackPath string

	Latitude  *float64
	Longitude *float64
	Heading   *float64
	Title     string
	Date      string // optional RFC 3339 creation time
}

// Organize moves a recording's files into the store under a new token.
func Organize(ctx context.Context, st *store.Store, input OrganizeInput) (*CaptureSummary, error) {
	typ, err := capture.ParseType(input.Type)
	if err != nil {
		return nil, err
	}
	samples, err := readTrack(input.TrackPath)
	if err != nil {
		return nil, err
	}
	created, err := parseDate(input.Date)
	if err != nil {
		return nil, err
	}

	in := store.OrganizeInput{
		TempMediaPath:     input.MediaPath,
		TempThumbnailPath: input.ThumbnailPath,
		Type:              typ,
		Samples:           samples,
		InitialHeading:    input.Heading,
		Title:             input.Title,
		CreationDate:      created,
	}
	if input.Latitude != nil || input.Longitude != nil {
		if input.Latitude == nil || input.Longitude == nil {
			return nil, errors.NewInvalidRequest("latitude and longitude must be given together")
		}
		in.InitialLocation = &store.Location{Latitude: *input.Latitude, Longitude: *input.Longitude}
	}

	c, err := st.Organize(ctx, in)
	if err != nil {
		return nil, err
	}
	out := Summarize(c)
	return &out, nil
}

// ImportImageInput describes an existing JPEG to copy into the store.
type ImportImageInput struct {
	ImagePath     string   // required, copied
	ThumbnailPath string   // optional, copied; defaults to the image
	Latitude      *float64 // required
	Longitude     *float64 // required
	Heading       *float64
	Title         string
	Date          string // optional RFC 3339 creation time
}

// ImportImage adds an existing image as an image capture.
func ImportImage(ctx context.Context, st *store.Store, input ImportImageInput) (*CaptureSummary, error) {
	created, err := parseDate(input.Date)
	if err != nil {
		return nil, err
	}
	in := store.ImportImageInput{
		ImagePath:     input.ImagePath,
		ThumbnailPath: input.ThumbnailPath,
		Latitude:      input.Latitude,
		Longitude:     input.Longitude,
		Heading:       input.Heading,
		Title:         input.Title,
	}
	if !created.IsZero() {
		in.Date = &created
	}

	c, err := st.ImportImage(ctx, in)
	if err != nil {
		return nil, err
	}
	out := Summarize(c)
	return &out, nil
}

// readTrack loads samples from a .geo file or a JSON array. An empty path
// yields no samples.
func readTrack(path string) ([]geotrack.Sample, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewIO("read track", err)
	}

	if filepath.Ext(path) == capture.GeoDataExt {
		return geotrack.Decode(data)
	}

	var samples []geotrack.Sample
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&samples); err != nil {
		return nil, errors.NewMalformedTrack("track JSON: " + err.Error())
	}
	return samples, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest("date must be RFC 3339, e.g. 2024-05-01T10:00:00Z")
	}
	return t, nil
}

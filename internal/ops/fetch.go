package ops

import (
	"context"

	"github.com/hpungsan/strabo/internal/geotrack"
	"github.com/hpungsan/strabo/internal/store"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	Token        string
	IncludeTrack bool
}

// FetchOutput is a capture with the absolute locations of its files.
type FetchOutput struct {
	CaptureSummary
	MediaPath     string            `json:"media_path"`
	ThumbnailPath string            `json:"thumbnail_path"`
	GeoDataPath   string            `json:"geodata_path"`
	MetadataPath  string            `json:"metadata_path"`
	TrackPoints   int               `json:"track_points"`
	Track         []geotrack.Sample `json:"track,omitempty"`
}

// Fetch retrieves a capture by token. The track is decoded to report its
// length and is included only on request.
func Fetch(ctx context.Context, st *store.Store, input FetchInput) (*FetchOutput, error) {
	tok, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}
	c, err := st.CaptureByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	samples, err := c.GeoDataPoints()
	if err != nil {
		return nil, err
	}

	out := &FetchOutput{
		CaptureSummary: Summarize(c),
		MediaPath:      c.Abs(c.MediaPath()),
		ThumbnailPath:  c.Abs(c.ThumbnailPath()),
		GeoDataPath:    c.Abs(c.GeoDataPath()),
		MetadataPath:   c.Abs(c.MetadataPath()),
		TrackPoints:    len(samples),
	}
	if input.IncludeTrack {
		out.Track = samples
	}
	return out, nil
}

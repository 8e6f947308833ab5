// Package capture holds the in-memory view of one persisted capture: a
// read/write wrapper around its metadata file plus lazy access to its
// geodata track.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/filex"
	"github.com/hpungsan/strabo/internal/geotrack"
	"github.com/hpungsan/strabo/internal/token"
)

// Type is the kind of media a capture holds.
type Type string

const (
	Video Type = "video"
	Image Type = "image"
)

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Video, Image:
		return Type(s), nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown capture type %q (want video or image)", s))
}

// MediaExt returns the media file extension, including the dot.
func (t Type) MediaExt() string {
	if t == Video {
		return ".mov"
	}
	return ".jpg"
}

// File name suffixes relative to the token.
const (
	MetadataExt  = ".json"
	GeoDataExt   = ".geo"
	ThumbnailExt = ".thumb.jpg"
)

// Metadata is the on-disk JSON schema of a capture.
type Metadata struct {
	Token         string  `json:"token"`
	Type          Type    `json:"type"`
	CreationDate  int64   `json:"creationDate"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Heading       float64 `json:"heading"`
	Title         string  `json:"title"`
	UploadDate    *int64  `json:"uploadDate"`
	MediaPath     string  `json:"mediaPath"`
	ThumbnailPath string  `json:"thumbnailPath"`
	GeoDataPath   string  `json:"geoDataPath"`
}

// Validate checks that the metadata names a usable capture. File paths must
// be the canonical names derived from the token, so one capture's metadata
// can never point at another capture's files.
func (m *Metadata) Validate() error {
	if !token.Valid(m.Token) {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid token %q", m.Token))
	}
	if _, err := ParseType(string(m.Type)); err != nil {
		return err
	}
	for _, p := range []struct{ field, path, want string }{
		{"mediaPath", m.MediaPath, m.Token + m.Type.MediaExt()},
		{"thumbnailPath", m.ThumbnailPath, m.Token + ThumbnailExt},
		{"geoDataPath", m.GeoDataPath, m.Token + GeoDataExt},
	} {
		if p.path != p.want {
			return errors.NewInvalidRequest(fmt.Sprintf("%s must be %q, got %q", p.field, p.want, p.path))
		}
	}
	return nil
}

// Capture is safe for concurrent use; only Title and UploadDate mutate.
type Capture struct {
	root string

	mu   sync.RWMutex
	meta Metadata

	geoMu  sync.Mutex
	geo    []geotrack.Sample
	geoSet bool
}

// New wraps metadata for a capture stored under root.
func New(root string, meta Metadata) *Capture {
	return &Capture{root: root, meta: meta}
}

// Load reads and validates <root>/<token>.json.
func Load(root, metadataName string) (*Capture, error) {
	data, err := os.ReadFile(filepath.Join(root, metadataName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(strings.TrimSuffix(metadataName, MetadataExt))
		}
		return nil, errors.NewIO("read metadata", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed metadata %s: %v", metadataName, err))
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if meta.Token+MetadataExt != metadataName {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("metadata %s declares token %s", metadataName, meta.Token))
	}
	return New(root, meta), nil
}

func (c *Capture) Token() string { return c.meta.Token }
func (c *Capture) Type() Type    { return c.meta.Type }
func (c *Capture) Root() string  { return c.root }

// CreationDate is the time of the first frame or shot, second precision.
func (c *Capture) CreationDate() time.Time {
	return time.Unix(c.meta.CreationDate, 0)
}

// InitialLocationPoint returns the stored start position without touching
// the geodata file.
func (c *Capture) InitialLocationPoint() (lat, lon float64) {
	return c.meta.Latitude, c.meta.Longitude
}

func (c *Capture) InitialHeading() float64 { return c.meta.Heading }

func (c *Capture) MediaPath() string     { return c.meta.MediaPath }
func (c *Capture) ThumbnailPath() string { return c.meta.ThumbnailPath }
func (c *Capture) GeoDataPath() string   { return c.meta.GeoDataPath }
func (c *Capture) MetadataPath() string  { return c.meta.Token + MetadataExt }

// Abs resolves a store-relative path.
func (c *Capture) Abs(rel string) string {
	return filepath.Join(c.root, rel)
}

func (c *Capture) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta.Title
}

// SetTitle changes the title in memory; call Save to persist it.
func (c *Capture) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.Title = title
}

// UploadDate returns the time of the last successful upload, if any.
func (c *Capture) UploadDate() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.meta.UploadDate == nil {
		return time.Time{}, false
	}
	return time.Unix(*c.meta.UploadDate, 0), true
}

// HasBeenUploaded reports whether an upload date is recorded.
func (c *Capture) HasBeenUploaded() bool {
	_, ok := c.UploadDate()
	return ok
}

// MarkUploaded records t as the upload date in memory; call Save to persist it.
func (c *Capture) MarkUploaded(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec := t.Unix()
	c.meta.UploadDate = &sec
}

// Metadata returns a copy of the current metadata.
func (c *Capture) Metadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.meta
	if m.UploadDate != nil {
		v := *m.UploadDate
		m.UploadDate = &v
	}
	return m
}

// MarshalMetadata encodes the current metadata as stored on disk.
func (c *Capture) MarshalMetadata() ([]byte, error) {
	m := c.Metadata()
	return json.MarshalIndent(&m, "", "  ")
}

// Save overwrites the metadata file in place.
func (c *Capture) Save() error {
	data, err := c.MarshalMetadata()
	if err != nil {
		return errors.NewInternal(err)
	}
	f, err := filex.OpenNoFollow(c.Abs(c.MetadataPath()), os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return err
		}
		return errors.NewIO("save metadata", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.NewIO("save metadata", err)
	}
	if err := f.Close(); err != nil {
		return errors.NewIO("save metadata", err)
	}
	return nil
}

// GeoDataPoints decodes the geodata track on first use and caches it.
// Failed decodes are not cached.
func (c *Capture) GeoDataPoints() ([]geotrack.Sample, error) {
	c.geoMu.Lock()
	defer c.geoMu.Unlock()
	if c.geoSet {
		return c.geo, nil
	}
	data, err := os.ReadFile(c.Abs(c.meta.GeoDataPath))
	if err != nil {
		return nil, errors.NewIO("read geodata", err)
	}
	samples, err := geotrack.Decode(data)
	if err != nil {
		return nil, err
	}
	c.geo, c.geoSet = samples, true
	return samples, nil
}

// Package store owns the on-disk capture layout: it relocates recorder
// output into token-named files under one root directory and provides the
// repository operations over them.
//
// Every capture is four files sharing the token as name root:
//
//	<token>.json       metadata
//	<token>.geo        geodata track
//	<token>.mov|.jpg   media
//	<token>.thumb.jpg  thumbnail
//
// Enumeration is keyed on the metadata file, and the metadata file is always
// the last one put in place, so a capture becomes visible only once its other
// files exist.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/logging"
)

// TokenSource hands out new capture tokens.
type TokenSource interface {
	New() string
}

type Store struct {
	root   string
	tokens TokenSource
	log    logging.Logger
	opts   options
}

// New opens the store rooted at root, creating the directory if needed.
func New(root string, tokens TokenSource, log logging.Logger, opts ...OptionFunc) (*Store, error) {
	if root == "" {
		return nil, errors.NewInvalidRequest("store root is required")
	}
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewIO("resolve store root", err)
	}
	if err := os.MkdirAll(abs, o.dirMode); err != nil {
		return nil, errors.NewIO("create store root", err)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		root:   abs,
		tokens: tokens,
		log:    log.With("component", "store"),
		opts:   o,
	}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) now() time.Time {
	return s.opts.now()
}

// canonicalMetadata returns the metadata for a new capture with all paths
// derived from the token.
func (s *Store) canonicalMetadata(tok string, typ capture.Type, created time.Time, lat, lon, heading float64, title string) capture.Metadata {
	if title == "" {
		title = s.opts.defaultTitle
	}
	return capture.Metadata{
		Token:         tok,
		Type:          typ,
		CreationDate:  created.Unix(),
		Latitude:      lat,
		Longitude:     lon,
		Heading:       heading,
		Title:         title,
		MediaPath:     tok + typ.MediaExt(),
		ThumbnailPath: tok + capture.ThumbnailExt,
		GeoDataPath:   tok + capture.GeoDataExt,
	}
}

func (s *Store) exists(tok string) bool {
	_, err := os.Lstat(s.path(tok + capture.MetadataExt))
	return err == nil
}

// tokenFiles lists every file name a token may own, metadata first.
func tokenFiles(tok string) []string {
	return []string{
		tok + capture.MetadataExt,
		tok + capture.Video.MediaExt(),
		tok + capture.Image.MediaExt(),
		tok + capture.ThumbnailExt,
		tok + capture.GeoDataExt,
	}
}

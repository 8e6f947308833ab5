package store

import (
	"archive/tar"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/filex"
)

// Bundle entry names. Metadata always comes first.
const (
	bundleMetadata  = "metadata.json"
	bundleGeoData   = "track.geo"
	bundleThumbnail = "thumbnail.jpg"
	bundleMedia     = "media"

	maxBundleMetadata = 1 << 20
)

// ExportBundle writes the capture's four files to w as a zstd-compressed tar.
func (s *Store) ExportBundle(ctx context.Context, tok string, w io.Writer) error {
	c, err := s.CaptureByToken(ctx, tok)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errors.NewInternal(err)
	}
	tw := tar.NewWriter(zw)

	entries := []struct{ name, rel string }{
		{bundleMetadata, c.MetadataPath()},
		{bundleGeoData, c.GeoDataPath()},
		{bundleThumbnail, c.ThumbnailPath()},
		{bundleMedia + c.Type().MediaExt(), c.MediaPath()},
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return errors.NewCancelled("export bundle")
		}
		if err := addBundleEntry(tw, e.name, c.Abs(e.rel)); err != nil {
			zw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return errors.NewIO("finish bundle", err)
	}
	if err := zw.Close(); err != nil {
		return errors.NewIO("finish bundle", err)
	}
	s.log.Info(ctx, "bundle exported", "token", tok)
	return nil
}

func addBundleEntry(tw *tar.Writer, name, path string) error {
	f, err := filex.OpenNoFollowRead(path)
	if err != nil {
		return errors.NewIO("open "+name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.NewIO("stat "+name, err)
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0600,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.NewIO("write bundle header", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return errors.NewIO("write "+name, err)
	}
	return nil
}

// ImportBundle restores a bundle written by ExportBundle under its original
// token. It fails with ALREADY_EXISTS if that token is present.
func (s *Store) ImportBundle(ctx context.Context, r io.Reader) (*capture.Capture, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed bundle: %v", err))
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	hdr, err := tr.Next()
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed bundle: %v", err))
	}
	if hdr.Name != bundleMetadata {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("bundle must start with %s, got %s", bundleMetadata, hdr.Name))
	}
	raw, err := io.ReadAll(io.LimitReader(tr, maxBundleMetadata))
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed bundle: %v", err))
	}
	var in capture.Metadata
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed bundle metadata: %v", err))
	}
	meta, err := s.adoptable(in)
	if err != nil {
		return nil, err
	}

	c, err := s.create(ctx, meta, func(t *txn) error {
		seen := map[string]bool{}
		for {
			hdr, err := tr.Next()
			if stderrors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return errors.NewInvalidRequest(fmt.Sprintf("malformed bundle: %v", err))
			}
			if seen[hdr.Name] {
				return errors.NewInvalidRequest("duplicate bundle entry " + hdr.Name)
			}
			seen[hdr.Name] = true

			switch hdr.Name {
			case bundleGeoData:
				err = t.stageTrack(s.path(meta.GeoDataPath), tr)
			case bundleThumbnail:
				err = t.stagePut(s.path(meta.ThumbnailPath), tr)
			case bundleMedia + meta.Type.MediaExt():
				err = t.stagePut(s.path(meta.MediaPath), tr)
			default:
				err = errors.NewInvalidRequest("unexpected bundle entry " + hdr.Name)
			}
			if err != nil {
				return err
			}
		}
		if len(seen) != 3 {
			return errors.NewInvalidRequest("bundle is missing files")
		}
		return nil
	})
	if err != nil {
		s.log.Warn(ctx, "bundle import failed", "token", meta.Token, "error", err)
		return nil, err
	}
	s.log.Info(ctx, "bundle imported", "token", meta.Token)
	return c, nil
}

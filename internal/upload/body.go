package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
)

// Multipart field names of the upload wire contract.
const (
	FieldToken     = "token"
	FieldMetadata  = "metadata"
	FieldGeoData   = "geodata"
	FieldThumbnail = "thumbnail"
	FieldMedia     = "media"
)

// body is a streamed multipart request body whose exact size is known up
// front, so the request carries a Content-Length.
type body struct {
	io.Reader
	size        int64
	contentType string
	files       []*os.File
}

func (b *body) Close() error {
	var first error
	for _, f := range b.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.files = nil
	return first
}

type filePart struct {
	field, contentType, rel string
}

// newBody opens the capture's files and lays out the multipart framing
// around them. Missing or unreadable files fail with VALIDATION_ERROR.
func newBody(c *capture.Capture) (*body, error) {
	parts := []filePart{
		{FieldGeoData, "application/octet-stream", c.GeoDataPath()},
		{FieldThumbnail, "image/jpeg", c.ThumbnailPath()},
		{FieldMedia, mediaContentType(c.Type()), c.MediaPath()},
	}

	b := &body{}
	files := make([]*os.File, 0, len(parts))
	sizes := make([]int64, 0, len(parts))
	for _, p := range parts {
		f, size, err := openPart(c, p)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, err
		}
		files = append(files, f)
		sizes = append(sizes, size)
	}
	b.files = files

	meta, err := c.MarshalMetadata()
	if err != nil {
		b.Close()
		return nil, errors.NewInternal(err)
	}

	var framing bytes.Buffer
	var readers []io.Reader
	cut := func() {
		seg := bytes.Clone(framing.Bytes())
		framing.Reset()
		readers = append(readers, bytes.NewReader(seg))
		b.size += int64(len(seg))
	}

	mw := multipart.NewWriter(&framing)
	b.contentType = mw.FormDataContentType()

	if err := mw.WriteField(FieldToken, c.Token()); err != nil {
		b.Close()
		return nil, errors.NewInternal(err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, FieldMetadata))
	h.Set("Content-Type", "application/json")
	w, err := mw.CreatePart(h)
	if err == nil {
		_, err = w.Write(meta)
	}
	if err != nil {
		b.Close()
		return nil, errors.NewInternal(err)
	}

	for i, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.rel))
		h.Set("Content-Type", p.contentType)
		if _, err := mw.CreatePart(h); err != nil {
			b.Close()
			return nil, errors.NewInternal(err)
		}
		cut()
		readers = append(readers, io.LimitReader(files[i], sizes[i]))
		b.size += sizes[i]
	}
	if err := mw.Close(); err != nil {
		b.Close()
		return nil, errors.NewInternal(err)
	}
	cut()

	b.Reader = io.MultiReader(readers...)
	return b, nil
}

func openPart(c *capture.Capture, p filePart) (*os.File, int64, error) {
	f, err := os.Open(c.Abs(p.rel))
	if err != nil {
		return nil, 0, errors.NewValidation(c.Token(), fmt.Sprintf("%s file is not readable", p.field), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.NewValidation(c.Token(), fmt.Sprintf("%s file is not readable", p.field), err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, errors.NewValidation(c.Token(), fmt.Sprintf("%s is not a regular file", p.field), nil)
	}
	return f, info.Size(), nil
}

func mediaContentType(t capture.Type) string {
	if t == capture.Video {
		return "video/quicktime"
	}
	return "image/jpeg"
}

// progressReader counts bytes handed to the transport.
type progressReader struct {
	r      io.Reader
	sent   int64
	report func(sent int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.sent += int64(n)
		pr.report(pr.sent)
	}
	return n, err
}

// Package geotrack encodes the time-indexed location track stored next to
// each capture.
//
// Layout (big endian):
//
//	magic   "STRG"   4 bytes
//	version 0x01     1 byte
//	count   uint32   4 bytes
//	count records of 33 bytes:
//	  offset    int64 nanoseconds since capture start
//	  latitude  float64 bits
//	  longitude float64 bits
//	  flags     uint8, bit0 set when heading is present
//	  heading   float64 bits, zero when absent
//
// A zero-length input is an empty track.
package geotrack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hpungsan/strabo/internal/errors"
)

const (
	Magic      = "STRG"
	Version    = 0x01
	HeaderSize = 9
	RecordSize = 33

	flagHeading = 0x01
	knownFlags  = flagHeading
)

// Sample is one point of a track.
type Sample struct {
	Offset    time.Duration `json:"offset_ns"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Heading   *float64      `json:"heading,omitempty"`
}

// HeadingOr returns the heading, or def when the sample has none.
func (s Sample) HeadingOr(def float64) float64 {
	if s.Heading == nil {
		return def
	}
	return *s.Heading
}

// Encode serializes samples in the order given.
func Encode(samples []Sample) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(samples)*RecordSize)
	putHeader(buf, uint32(len(samples)))
	for _, s := range samples {
		buf = appendRecord(buf, s)
	}
	return buf
}

// Decode parses a whole track. It fails with MALFORMED_TRACK on corrupt input.
func Decode(data []byte) ([]Sample, error) {
	if len(data) == 0 {
		return []Sample{}, nil
	}
	count, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]
	if uint64(len(body)) != uint64(count)*RecordSize {
		return nil, errors.NewMalformedTrack(fmt.Sprintf(
			"track body is %d bytes, header declares %d records", len(body), count))
	}

	samples := make([]Sample, 0, count)
	for i := 0; i < int(count); i++ {
		s, err := parseRecord(body[i*RecordSize : (i+1)*RecordSize])
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// First reads only the header and the first record. ok is false for an
// empty track.
func First(r io.Reader) (s Sample, ok bool, err error) {
	tr, err := NewReader(r)
	if err != nil {
		return Sample{}, false, err
	}
	s, err = tr.Next()
	if stderrors.Is(err, io.EOF) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, err
	}
	return s, true, nil
}

// Reader streams samples from an encoded track.
type Reader struct {
	r     io.Reader
	count uint32
	read  uint32
	rec   [RecordSize]byte
}

// NewReader reads and validates the header. A reader with no bytes at all
// yields an empty track.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	switch {
	case n == 0 && stderrors.Is(err, io.EOF):
		return &Reader{r: r}, nil
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return nil, errors.NewMalformedTrack("truncated track header")
	case err != nil:
		return nil, errors.NewIO("read track header", err)
	}
	count, err := parseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, count: count}, nil
}

// Count returns the number of records declared by the header.
func (tr *Reader) Count() int {
	return int(tr.count)
}

// Next returns the next sample, or io.EOF after the last declared record.
func (tr *Reader) Next() (Sample, error) {
	if tr.read >= tr.count {
		return Sample{}, io.EOF
	}
	if _, err := io.ReadFull(tr.r, tr.rec[:]); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return Sample{}, errors.NewMalformedTrack(fmt.Sprintf(
				"track truncated at record %d of %d", tr.read, tr.count))
		}
		return Sample{}, errors.NewIO("read track record", err)
	}
	tr.read++
	return parseRecord(tr.rec[:])
}

// Writer appends samples to a track as they arrive. The record count in the
// header is patched on Close, so the destination must be seekable.
type Writer struct {
	ws    io.WriteSeeker
	bw    *bufio.Writer
	start int64
	count uint32
	err   error
}

// NewWriter writes a header with a zero count at the current position of ws.
func NewWriter(ws io.WriteSeeker) (*Writer, error) {
	start, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.NewIO("seek track", err)
	}
	w := &Writer{ws: ws, bw: bufio.NewWriter(ws), start: start}
	var hdr [HeaderSize]byte
	putHeader(hdr[:], 0)
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return nil, errors.NewIO("write track header", err)
	}
	return w, nil
}

// Append writes one sample. Samples must be appended in offset order.
func (w *Writer) Append(s Sample) error {
	if w.err != nil {
		return w.err
	}
	if w.count == math.MaxUint32 {
		w.err = errors.NewMalformedTrack("track record limit reached")
		return w.err
	}
	if _, err := w.bw.Write(appendRecord(nil, s)); err != nil {
		w.err = errors.NewIO("write track record", err)
		return w.err
	}
	w.count++
	return nil
}

// Count returns the number of samples appended so far.
func (w *Writer) Count() int {
	return int(w.count)
}

// Close flushes buffered records and finalizes the header count. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if err := w.bw.Flush(); err != nil {
		return errors.NewIO("flush track", err)
	}
	end, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.NewIO("seek track", err)
	}
	if _, err := w.ws.Seek(w.start+5, io.SeekStart); err != nil {
		return errors.NewIO("seek track header", err)
	}
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], w.count)
	if _, err := w.ws.Write(cnt[:]); err != nil {
		return errors.NewIO("write track count", err)
	}
	if _, err := w.ws.Seek(end, io.SeekStart); err != nil {
		return errors.NewIO("seek track", err)
	}
	w.err = errors.NewInvalidRequest("track writer closed")
	return nil
}

func putHeader(b []byte, count uint32) {
	copy(b[0:4], Magic)
	b[4] = Version
	binary.BigEndian.PutUint32(b[5:9], count)
}

func parseHeader(b []byte) (uint32, error) {
	if len(b) < HeaderSize {
		return 0, errors.NewMalformedTrack("truncated track header")
	}
	if !bytes.Equal(b[0:4], []byte(Magic)) {
		return 0, errors.NewMalformedTrack("bad track magic")
	}
	if b[4] != Version {
		return 0, errors.NewMalformedTrack(fmt.Sprintf("unsupported track version %d", b[4]))
	}
	return binary.BigEndian.Uint32(b[5:9]), nil
}

func appendRecord(b []byte, s Sample) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(s.Offset))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(s.Latitude))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(s.Longitude))
	var flags byte
	var heading float64
	if s.Heading != nil {
		flags |= flagHeading
		heading = *s.Heading
	}
	b = append(b, flags)
	return binary.BigEndian.AppendUint64(b, math.Float64bits(heading))
}

func parseRecord(b []byte) (Sample, error) {
	flags := b[24]
	if flags&^knownFlags != 0 {
		return Sample{}, errors.NewMalformedTrack(fmt.Sprintf("unknown record flags 0x%02x", flags))
	}
	s := Sample{
		Offset:    time.Duration(int64(binary.BigEndian.Uint64(b[0:8]))),
		Latitude:  math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
		Longitude: math.Float64frombits(binary.BigEndian.Uint64(b[16:24])),
	}
	if flags&flagHeading != 0 {
		h := math.Float64frombits(binary.BigEndian.Uint64(b[25:33]))
		s.Heading = &h
	}
	return s, nil
}

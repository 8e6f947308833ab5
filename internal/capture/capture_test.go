package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/geotrack"
)

func testMetadata(tok string) Metadata {
	return Metadata{
		Token:         tok,
		Type:          Video,
		CreationDate:  1700000000,
		Latitude:      37.7749,
		Longitude:     -122.4194,
		Heading:       45,
		Title:         "Untitled Capture",
		MediaPath:     tok + ".mov",
		ThumbnailPath: tok + ThumbnailExt,
		GeoDataPath:   tok + GeoDataExt,
	}
}

func writeCapture(t *testing.T, root string, meta Metadata, track []geotrack.Sample) *Capture {
	t.Helper()
	c := New(root, meta)
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.WriteFile(c.Abs(meta.GeoDataPath), geotrack.Encode(track), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return c
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"video", Video, false},
		{"image", Image, false},
		{"audio", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := ParseType(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if Video.MediaExt() != ".mov" || Image.MediaExt() != ".jpg" {
		t.Error("unexpected media extensions")
	}
}

func TestMetadata_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{"bad token", func(m *Metadata) { m.Token = "../x" }},
		{"bad type", func(m *Metadata) { m.Type = "audio" }},
		{"absolute media", func(m *Metadata) { m.MediaPath = "/etc/passwd" }},
		{"escaping thumbnail", func(m *Metadata) { m.ThumbnailPath = "../x.jpg" }},
		{"empty geodata", func(m *Metadata) { m.GeoDataPath = "" }},
		{"media of another token", func(m *Metadata) { m.MediaPath = "tok2.mov" }},
		{"thumbnail of another token", func(m *Metadata) { m.ThumbnailPath = "tok2" + ThumbnailExt }},
		{"media extension of other type", func(m *Metadata) { m.Type = Image }},
		{"media in subdirectory", func(m *Metadata) { m.MediaPath = "sub/tok1.mov" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := testMetadata("tok1")
			tc.mutate(&m)
			if err := m.Validate(); !errors.Is(err, errors.ErrInvalidRequest) {
				t.Fatalf("Validate() error = %v, want INVALID_REQUEST", err)
			}
		})
	}

	m := testMetadata("tok1")
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() on valid metadata error = %v", err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	c := writeCapture(t, root, testMetadata("tok1"), nil)

	c.SetTitle("Golden Gate")
	uploaded := time.Unix(1700000500, 0)
	c.MarkUploaded(uploaded)
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(root, "tok1.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Title() != "Golden Gate" {
		t.Errorf("Title() = %q", loaded.Title())
	}
	if !loaded.HasBeenUploaded() {
		t.Fatal("HasBeenUploaded() = false after save")
	}
	if at, _ := loaded.UploadDate(); !at.Equal(uploaded) {
		t.Errorf("UploadDate() = %v, want %v", at, uploaded)
	}
	if !loaded.CreationDate().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CreationDate() = %v", loaded.CreationDate())
	}
	lat, lon := loaded.InitialLocationPoint()
	if lat != 37.7749 || lon != -122.4194 {
		t.Errorf("InitialLocationPoint() = %v, %v", lat, lon)
	}
	if loaded.InitialHeading() != 45 {
		t.Errorf("InitialHeading() = %v", loaded.InitialHeading())
	}
}

func TestSave_WritesNullUploadDate(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root, testMetadata("tok1"), nil)

	data, err := os.ReadFile(filepath.Join(root, "tok1.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	v, present := raw["uploadDate"]
	if !present || v != nil {
		t.Fatalf("uploadDate = %v (present %v), want explicit null", v, present)
	}
	for _, key := range []string{"token", "type", "creationDate", "latitude", "longitude", "heading", "title", "mediaPath", "thumbnailPath", "geoDataPath"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("metadata missing key %q", key)
		}
	}
}

func TestSave_RefusesSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink refusal is unix-only")
	}
	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "outside.json")
	if err := os.WriteFile(target, []byte("keep"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(root, "tok1.json")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := New(root, testMetadata("tok1")).Save()
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("Save() error = %v, want INVALID_REQUEST", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "keep" {
		t.Fatalf("symlink target = %q, %v; want untouched", data, err)
	}
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()

	if _, err := Load(root, "missing.json"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Load(missing) error = %v, want NOT_FOUND", err)
	}

	if err := os.WriteFile(filepath.Join(root, "bad.json"), []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root, "bad.json"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Load(bad) error = %v, want INVALID_REQUEST", err)
	}

	// Metadata whose token does not match its file name.
	writeCapture(t, root, testMetadata("tok2"), nil)
	if err := os.Rename(filepath.Join(root, "tok2.json"), filepath.Join(root, "other.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root, "other.json"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Load(mismatch) error = %v, want INVALID_REQUEST", err)
	}
}

func TestGeoDataPoints_CachesAfterFirstDecode(t *testing.T) {
	root := t.TempDir()
	h := 12.5
	track := []geotrack.Sample{
		{Offset: 0, Latitude: 1, Longitude: 2, Heading: &h},
		{Offset: time.Second, Latitude: 1.1, Longitude: 2.1},
	}
	c := writeCapture(t, root, testMetadata("tok1"), track)

	got, err := c.GeoDataPoints()
	if err != nil {
		t.Fatalf("GeoDataPoints() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(GeoDataPoints()) = %d, want 2", len(got))
	}

	// Removing the file must not matter once decoded.
	if err := os.Remove(c.Abs(c.GeoDataPath())); err != nil {
		t.Fatal(err)
	}
	again, err := c.GeoDataPoints()
	if err != nil {
		t.Fatalf("GeoDataPoints() second call error = %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("cached len = %d, want 2", len(again))
	}
}

func TestGeoDataPoints_MalformedNotCached(t *testing.T) {
	root := t.TempDir()
	c := writeCapture(t, root, testMetadata("tok1"), nil)
	if err := os.WriteFile(c.Abs(c.GeoDataPath()), []byte("garbage!!"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GeoDataPoints(); !errors.Is(err, errors.ErrMalformedTrack) {
		t.Fatalf("GeoDataPoints() error = %v, want MALFORMED_TRACK", err)
	}

	if err := os.WriteFile(c.Abs(c.GeoDataPath()), geotrack.Encode(nil), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := c.GeoDataPoints()
	if err != nil {
		t.Fatalf("GeoDataPoints() after repair error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestMetadata_ReturnsCopy(t *testing.T) {
	c := New(t.TempDir(), testMetadata("tok1"))
	c.MarkUploaded(time.Unix(10, 0))

	m := c.Metadata()
	*m.UploadDate = 99
	m.Title = "changed"

	if at, _ := c.UploadDate(); at.Unix() != 10 {
		t.Errorf("UploadDate mutated through copy: %v", at)
	}
	if c.Title() == "changed" {
		t.Error("Title mutated through copy")
	}
}

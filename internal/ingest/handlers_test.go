package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/geotrack"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/store"
	"github.com/hpungsan/strabo/internal/upload"
)

type seqTokens struct {
	mu sync.Mutex
	n  int
}

func (s *seqTokens) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("tok%d", s.n)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), &seqTokens{}, logging.Nop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

func setupServer(t *testing.T, cfg *config.Config) (*httptest.Server, *store.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	st := newStore(t)
	srv := NewServer(st, cfg, logging.Nop(), "test")
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, st
}

// organizeCapture stores a two-sample video capture in st.
func organizeCapture(t *testing.T, st *store.Store) *capture.Capture {
	t.Helper()
	dir := t.TempDir()
	media := filepath.Join(dir, "rec.mov")
	thumb := filepath.Join(dir, "rec.jpg")
	if err := os.WriteFile(media, bytes.Repeat([]byte("v"), 64<<10), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(thumb, []byte("jpeg"), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := st.Organize(context.Background(), store.OrganizeInput{
		TempMediaPath:     media,
		TempThumbnailPath: thumb,
		Type:              capture.Video,
		Samples: []geotrack.Sample{
			{Latitude: 59.3293, Longitude: 18.0686},
			{Offset: time.Second, Latitude: 59.3294, Longitude: 18.0687},
		},
		Title: "Gamla stan",
	})
	if err != nil {
		t.Fatalf("Organize: %v", err)
	}
	return c
}

// uploadThroughPipeline uploads c through a pipeline and returns the terminal event.
func uploadThroughPipeline(t *testing.T, url string, c *capture.Capture) upload.Event {
	t.Helper()
	done := make(chan upload.Event, 1)
	p, err := upload.New(upload.Options{
		URL: url,
		Observer: upload.ObserverFunc(func(e upload.Event) {
			if e.Kind.Terminal() {
				done <- e
			}
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Begin(c); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	select {
	case e := <-done:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("upload timed out")
		return upload.Event{}
	}
}

type part struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, url string, parts []part) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		var err error
		if p.filename == "" {
			err = mw.WriteField(p.field, string(p.data))
		} else {
			var w io.Writer
			w, err = mw.CreateFormFile(p.field, p.filename)
			if err == nil {
				_, err = w.Write(p.data)
			}
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/captures", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func validParts(tok string) []part {
	meta, _ := json.Marshal(capture.Metadata{
		Token:        tok,
		Type:         capture.Image,
		CreationDate: 1714557600,
		Latitude:     1,
		Longitude:    2,
	})
	return []part{
		{field: upload.FieldToken, data: []byte(tok)},
		{field: upload.FieldMetadata, data: meta},
		{field: upload.FieldGeoData, filename: "g.geo", data: geotrack.Encode([]geotrack.Sample{{Latitude: 1, Longitude: 2}})},
		{field: upload.FieldThumbnail, filename: "t.jpg", data: []byte("thumb")},
		{field: upload.FieldMedia, filename: "m.jpg", data: []byte("image")},
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestUpload_EndToEnd(t *testing.T) {
	ts, received := setupServer(t, nil)
	local := newStore(t)
	c := organizeCapture(t, local)

	if e := uploadThroughPipeline(t, ts.URL+"/captures", c); e.Kind != upload.EventCompleted {
		t.Fatalf("terminal = %v (%v), want completed", e.Kind, e.Err)
	}

	got, err := received.CaptureByToken(context.Background(), c.Token())
	if err != nil {
		t.Fatalf("received capture missing: %v", err)
	}
	if got.Title() != "Gamla stan" || got.Type() != capture.Video {
		t.Errorf("received metadata = %+v", got.Metadata())
	}
	media, err := os.ReadFile(got.Abs(got.MediaPath()))
	if err != nil || len(media) != 64<<10 {
		t.Errorf("received media = %d bytes, %v", len(media), err)
	}
	samples, err := got.GeoDataPoints()
	if err != nil || len(samples) != 2 {
		t.Errorf("received track = %v, %v", samples, err)
	}

	// Retrying the same token is acknowledged.
	if e := uploadThroughPipeline(t, ts.URL+"/captures", c); e.Kind != upload.EventCompleted {
		t.Fatalf("retry terminal = %v (%v), want completed", e.Kind, e.Err)
	}
	if n := received.LocalCaptureCount(context.Background()); n != 1 {
		t.Errorf("received count = %d, want 1", n)
	}
}

func TestUpload_Rejections(t *testing.T) {
	ts, received := setupServer(t, nil)

	mismatch := validParts("tokA")
	mismatch[0].data = []byte("tokB")

	noMedia := validParts("tokC")[:4]

	badTrack := validParts("tokD")
	badTrack[2].data = []byte("not a track")

	badMeta := validParts("tokE")
	badMeta[1].data = []byte("{")

	badToken := validParts("tokF")
	badToken[0].data = []byte("../etc")

	tests := []struct {
		name   string
		parts  []part
		status int
		code   string
	}{
		{"token mismatch", mismatch, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing media", noMedia, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed track", badTrack, http.StatusUnprocessableEntity, "MALFORMED_TRACK"},
		{"bad metadata", badMeta, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad token", badToken, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := multipartRequest(t, ts.URL, tc.parts)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if code := errorCode(t, resp); code != tc.code {
				t.Errorf("code = %q, want %q", code, tc.code)
			}
		})
	}

	if n := received.LocalCaptureCount(context.Background()); n != 0 {
		t.Errorf("rejected uploads stored %d captures", n)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxUploadBytes = 1024
	ts, _ := setupServer(t, cfg)

	parts := validParts("tokBig")
	parts[4].data = bytes.Repeat([]byte("x"), 8<<10)

	resp := multipartRequest(t, ts.URL, parts)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestUpload_ImageParts(t *testing.T) {
	ts, received := setupServer(t, nil)
	resp := multipartRequest(t, ts.URL, validParts("tokImg"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var ack upload.Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Token != "tokImg" || !ack.Accepted {
		t.Errorf("ack = %+v", ack)
	}
	c, err := received.CaptureByToken(context.Background(), "tokImg")
	if err != nil {
		t.Fatal(err)
	}
	if c.Title() != config.DefaultTitle {
		t.Errorf("title = %q, want default", c.Title())
	}
}

func TestReadEndpoints(t *testing.T) {
	ts, received := setupServer(t, nil)
	c := organizeCapture(t, received)

	resp, err := http.Get(ts.URL + "/captures")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list struct {
		Items []struct {
			Token string `json:"token"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].Token != c.Token() {
		t.Errorf("list = %+v", list)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}

	resp, err = http.Get(ts.URL + "/captures/" + c.Token() + "/track")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var track struct {
		Track []geotrack.Sample `json:"track"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		t.Fatal(err)
	}
	if len(track.Track) != 2 || track.Track[1].Offset != time.Second {
		t.Errorf("track = %+v", track.Track)
	}

	resp, err = http.Get(ts.URL + "/captures/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("code = %q", code)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	st := newStore(t)
	srv := NewServer(st, config.DefaultConfig(), logging.Nop(), "test")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, srv, ln, logging.Nop()) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

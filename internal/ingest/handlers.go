package ingest

import (
	"encoding/json"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/geotrack"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/ops"
	"github.com/hpungsan/strabo/internal/store"
	"github.com/hpungsan/strabo/internal/token"
	"github.com/hpungsan/strabo/internal/upload"
)

// maxMemory is how much of a multipart upload is held in memory; larger
// parts spill to temp files.
const maxMemory = 8 << 20

// Handlers contains the HTTP route handlers.
type Handlers struct {
	store   *store.Store
	cfg     *config.Config
	log     logging.Logger
	version string
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.version,
		"captures": h.store.LocalCaptureCount(r.Context()),
	})
}

// HandleUpload handles POST /captures. Uploading a token that is already
// stored is acknowledged without touching the stored copy, so a client
// retrying after a lost response succeeds.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			renderError(w, &errors.StraboError{
				Code:    errors.ErrInvalidRequest,
				Status:  http.StatusRequestEntityTooLarge,
				Message: "upload exceeds max_upload_bytes",
			})
			return
		}
		renderError(w, errors.NewInvalidRequest("malformed multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	tok := r.FormValue(upload.FieldToken)
	if !token.Valid(tok) {
		renderError(w, errors.NewInvalidRequest("token is missing or invalid"))
		return
	}
	var meta capture.Metadata
	if err := json.Unmarshal([]byte(r.FormValue(upload.FieldMetadata)), &meta); err != nil {
		renderError(w, errors.NewInvalidRequest("metadata is not valid JSON"))
		return
	}
	if meta.Token != tok {
		renderError(w, errors.NewInvalidRequest("metadata token does not match"))
		return
	}

	if _, err := h.store.CaptureByToken(ctx, tok); err == nil {
		h.log.Info(ctx, "duplicate upload acknowledged", "token", tok)
		renderJSON(w, http.StatusOK, upload.Ack{Token: tok, Accepted: true})
		return
	}

	files := make(map[string]multipart.File, 3)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, field := range []string{upload.FieldGeoData, upload.FieldThumbnail, upload.FieldMedia} {
		f, _, err := r.FormFile(field)
		if err != nil {
			renderError(w, errors.NewInvalidRequest("missing file part: "+field))
			return
		}
		files[field] = f
	}

	_, err := h.store.Adopt(ctx, store.AdoptInput{
		Metadata:  meta,
		GeoData:   files[upload.FieldGeoData],
		Thumbnail: files[upload.FieldThumbnail],
		Media:     files[upload.FieldMedia],
	})
	if err != nil && !errors.Is(err, errors.ErrAlreadyExists) {
		h.log.Warn(ctx, "upload rejected", "token", tok, "error", err)
		renderError(w, err)
		return
	}

	h.log.Info(ctx, "capture received", "token", tok, "bytes", r.ContentLength)
	renderJSON(w, http.StatusOK, upload.Ack{Token: tok, Accepted: true})
}

// HandleList handles GET /captures.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListInput{
		Type:   q.Get("type"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}
	result, err := ops.List(r.Context(), h.store, input)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDetail handles GET /captures/{token}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Fetch(r.Context(), h.store, ops.FetchInput{Token: r.PathValue("token")})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleTrack handles GET /captures/{token}/track.
func (h *Handlers) HandleTrack(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Fetch(r.Context(), h.store, ops.FetchInput{Token: r.PathValue("token"), IncludeTrack: true})
	if err != nil {
		renderError(w, err)
		return
	}
	track := result.Track
	if track == nil {
		track = []geotrack.Sample{}
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"track": track,
	})
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// renderError writes err in the {"error": {code, message, status}} shape.
func renderError(w http.ResponseWriter, err error) {
	var sErr *errors.StraboError
	if !stderrors.As(err, &sErr) {
		sErr = errors.NewInternal(err)
	}
	renderJSON(w, sErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(sErr.Code),
			"message": sErr.Message,
			"status":  sErr.Status,
		},
	})
}

// parseIntParam reads an integer query parameter, falling back to defaultVal.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

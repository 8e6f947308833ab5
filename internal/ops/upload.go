package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/db"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/store"
	"github.com/hpungsan/strabo/internal/upload"
)

// UploadInput contains parameters for the Upload operation.
type UploadInput struct {
	Token string
	URL   string // default: cfg.UploadURL

	// OnProgress, if set, receives the fraction sent so far.
	OnProgress func(float64)
	Client     upload.Doer
	Logger     logging.Logger
}

// UploadOutput contains the result of a completed upload.
type UploadOutput struct {
	Token      string `json:"token"`
	Outcome    string `json:"outcome"`
	UploadDate int64  `json:"upload_date"`
}

// Upload sends one capture and waits for the outcome. Cancelling ctx
// cancels the request. Failures are returned with the pipeline's error
// code; every attempt is journaled when database is non-nil.
func Upload(ctx context.Context, st *store.Store, database *sql.DB, cfg *config.Config, input UploadInput) (*UploadOutput, error) {
	tok, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSpace(input.URL)
	if url == "" && cfg != nil {
		url = cfg.UploadURL
	}
	if url == "" {
		return nil, errors.NewInvalidRequest("upload_url is not configured")
	}

	c, err := st.CaptureByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	done := make(chan upload.Event, 1)
	observer := upload.ObserverFunc(func(e upload.Event) {
		if e.Kind == upload.EventProgress && input.OnProgress != nil {
			input.OnProgress(e.Progress)
		}
		if e.Kind.Terminal() {
			done <- e
		}
	})

	opts := upload.Options{
		URL:      url,
		Client:   input.Client,
		Observer: observer,
		Logger:   input.Logger,
	}
	if cfg != nil {
		opts.Timeout = cfg.UploadTimeout()
	}
	if database != nil {
		opts.Recorder = JournalRecorder{DB: database}
	}
	p, err := upload.New(opts)
	if err != nil {
		return nil, err
	}
	if err := p.Begin(c); err != nil {
		return nil, err
	}

	var ev upload.Event
	select {
	case ev = <-done:
	case <-ctx.Done():
		p.CancelCurrent()
		ev = <-done
	}

	switch ev.Kind {
	case upload.EventCompleted:
		out := &UploadOutput{Token: tok, Outcome: db.OutcomeCompleted}
		if t, ok := c.UploadDate(); ok {
			out.UploadDate = t.Unix()
		}
		return out, nil
	case upload.EventCancelled:
		return nil, errors.NewCancelled("upload")
	default:
		return nil, ev.Err
	}
}

// JournalRecorder writes finished upload attempts to the upload journal.
type JournalRecorder struct {
	DB *sql.DB
}

// RecordUpload implements upload.Recorder.
func (j JournalRecorder) RecordUpload(ctx context.Context, r upload.Record) error {
	e := &db.JournalEntry{
		Token:      r.Token,
		Outcome:    outcomeOf(r.Kind),
		BytesTotal: r.BytesTotal,
		StartedAt:  r.StartedAt.Unix(),
		FinishedAt: r.FinishedAt.Unix(),
	}
	if r.Err != nil {
		code := string(errors.CodeOf(r.Err))
		msg := r.Err.Error()
		e.ErrorCode = &code
		e.Message = &msg
	}
	return db.InsertJournal(ctx, j.DB, e)
}

func outcomeOf(kind upload.EventKind) string {
	switch kind {
	case upload.EventCompleted:
		return db.OutcomeCompleted
	case upload.EventFailedToStart:
		return db.OutcomeFailedToStart
	case upload.EventCancelled:
		return db.OutcomeCancelled
	default:
		return db.OutcomeFailed
	}
}

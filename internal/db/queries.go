package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/strabo/internal/errors"
)

// InstallID returns the identifier of this installation, creating it on
// first use. Concurrent first calls agree on one value.
func InstallID(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM install WHERE singleton = 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.NewInternal(err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO install (singleton, id, created_at) VALUES (1, ?, ?)`,
		ulid.Make().String(), time.Now().Unix(),
	)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if err := db.QueryRowContext(ctx, `SELECT id FROM install WHERE singleton = 1`).Scan(&id); err != nil {
		return "", errors.NewInternal(err)
	}
	return id, nil
}

// Upload outcomes recorded in the journal.
const (
	OutcomeCompleted     = "completed"
	OutcomeFailed        = "failed"
	OutcomeFailedToStart = "failed_to_start"
	OutcomeCancelled     = "cancelled"
)

// JournalEntry is one finished upload attempt.
type JournalEntry struct {
	ID         string  `json:"id"`
	Token      string  `json:"token"`
	Outcome    string  `json:"outcome"`
	ErrorCode  *string `json:"error_code,omitempty"`
	Message    *string `json:"message,omitempty"`
	BytesTotal int64   `json:"bytes_total"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt int64   `json:"finished_at"`
}

// InsertJournal records an upload attempt. An empty ID is filled with a new ULID.
func InsertJournal(ctx context.Context, db *sql.DB, e *JournalEntry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO upload_journal (
			id, token, outcome, error_code, message, bytes_total, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Token, e.Outcome, toNullString(e.ErrorCode), toNullString(e.Message),
		e.BytesTotal, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// JournalFilter narrows ListJournal. A nil Token lists every capture.
type JournalFilter struct {
	Token   *string
	Outcome *string
}

// ListJournal returns entries newest first plus the total matching count.
func ListJournal(ctx context.Context, db *sql.DB, filter JournalFilter, limit, offset int) ([]JournalEntry, int, error) {
	where := " WHERE 1=1"
	var args []any
	if filter.Token != nil {
		where += " AND token = ?"
		args = append(args, *filter.Token)
	}
	if filter.Outcome != nil {
		where += " AND outcome = ?"
		args = append(args, *filter.Outcome)
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_journal"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT id, token, outcome, error_code, message, bytes_total, started_at, finished_at
		FROM upload_journal` + where + `
		ORDER BY finished_at DESC, id DESC
		LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		var e JournalEntry
		var code, msg sql.NullString
		if err := rows.Scan(&e.ID, &e.Token, &e.Outcome, &code, &msg, &e.BytesTotal, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		e.ErrorCode = fromNullString(code)
		e.Message = fromNullString(msg)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return entries, total, nil
}

// DeleteJournalForToken removes the history of one capture and returns the
// number of rows removed.
func DeleteJournalForToken(ctx context.Context, db *sql.DB, tok string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM upload_journal WHERE token = ?`, tok)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

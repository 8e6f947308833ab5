package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/strabo/internal/db"
	"github.com/hpungsan/strabo/internal/store"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	Token string
	// PurgeHistory also removes the capture's upload journal entries.
	PurgeHistory bool
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted        bool   `json:"deleted"`
	Token          string `json:"token"`
	HistoryRemoved int64  `json:"history_removed"`
}

// Delete removes a capture's files. Deleting an unknown token is not an
// error; Deleted reports whether a capture was removed. database may be nil
// when PurgeHistory is false.
func Delete(ctx context.Context, st *store.Store, database *sql.DB, input DeleteInput) (*DeleteOutput, error) {
	tok, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}

	deleted, err := st.DeleteCaptureByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	out := &DeleteOutput{Deleted: deleted, Token: tok}
	if input.PurgeHistory && database != nil {
		n, err := db.DeleteJournalForToken(ctx, database, tok)
		if err != nil {
			return nil, err
		}
		out.HistoryRemoved = n
	}
	return out, nil
}

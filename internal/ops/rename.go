package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/store"
)

// MaxTitleLength bounds capture titles, in runes.
const MaxTitleLength = 200

// RenameInput contains parameters for the Rename operation.
type RenameInput struct {
	Token string
	Title string
}

// RenameOutput contains the result of the Rename operation.
type RenameOutput struct {
	Token string `json:"token"`
	Title string `json:"title"`
}

// Rename sets a capture's title and saves its metadata.
func Rename(ctx context.Context, st *store.Store, input RenameInput) (*RenameOutput, error) {
	tok, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidRequest("title must not be empty")
	}
	if len([]rune(title)) > MaxTitleLength {
		return nil, errors.NewInvalidRequest("title is too long")
	}

	c, err := st.CaptureByToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	c.SetTitle(title)
	if err := c.Save(); err != nil {
		return nil, err
	}
	return &RenameOutput{Token: tok, Title: title}, nil
}

package ops

import (
	"context"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/filex"
	"github.com/hpungsan/strabo/internal/store"
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string // required
}

// ImportOutput contains the imported capture.
type ImportOutput struct {
	CaptureSummary
}

// Import restores a bundle written by Export under its original token.
// It fails with ALREADY_EXISTS when the token is already stored.
func Import(ctx context.Context, st *store.Store, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}
	f, err := filex.OpenNoFollowRead(input.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := st.ImportBundle(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ImportOutput{CaptureSummary: Summarize(c)}, nil
}

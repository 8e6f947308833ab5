// Package ops implements the capture operations shared by the CLI and the
// MCP server. Each operation takes an Input struct and returns an Output
// struct that marshals to the JSON both surfaces print.
package ops

import (
	"strings"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/token"
)

// Pagination limits
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultRecentLimit  = 5
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies the default and the upper bound.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// CaptureSummary is the listing view of a capture.
type CaptureSummary struct {
	Token        string       `json:"token"`
	Type         capture.Type `json:"type"`
	Title        string       `json:"title"`
	CreationDate int64        `json:"creation_date"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	Heading      float64      `json:"heading"`
	Uploaded     bool         `json:"uploaded"`
	UploadDate   *int64       `json:"upload_date,omitempty"`
}

// Summarize builds the listing view of c.
func Summarize(c *capture.Capture) CaptureSummary {
	m := c.Metadata()
	return CaptureSummary{
		Token:        m.Token,
		Type:         m.Type,
		Title:        m.Title,
		CreationDate: m.CreationDate,
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		Heading:      m.Heading,
		Uploaded:     m.UploadDate != nil,
		UploadDate:   m.UploadDate,
	}
}

func summarizeAll(captures []*capture.Capture) []CaptureSummary {
	out := make([]CaptureSummary, 0, len(captures))
	for _, c := range captures {
		out = append(out, Summarize(c))
	}
	return out
}

// validateToken trims tok and checks its format.
func validateToken(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", errors.NewInvalidRequest("token is required")
	}
	if !token.Valid(tok) {
		return "", errors.NewInvalidRequest("token has an invalid format")
	}
	return tok, nil
}

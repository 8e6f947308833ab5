// Package token generates capture tokens.
//
// A token is the hex SHA-256 of the install identifier, the current time in
// nanoseconds and a process-local sequence number. Tokens are opaque,
// filesystem-safe and 64 characters long.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"
)

// Length is the number of characters in a generated token.
const Length = sha256.Size * 2

var validToken = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Valid reports whether s can be used as a token in file names.
// It accepts generated tokens as well as externally supplied ones
// (imported bundles, ingest uploads).
func Valid(s string) bool {
	return validToken.MatchString(s)
}

// Generator produces unique tokens. It is safe for concurrent use.
type Generator struct {
	installID string
	now       func() time.Time
	seq       atomic.Uint64
}

// New returns a Generator bound to installID.
func New(installID string) *Generator {
	return &Generator{installID: installID, now: time.Now}
}

// New returns a fresh token.
func (g *Generator) New() string {
	n := g.seq.Add(1)

	h := sha256.New()
	h.Write([]byte(g.installID))
	h.Write([]byte{'|'})
	h.Write(strconv.AppendInt(nil, g.now().UnixNano(), 10))
	h.Write([]byte{'|'})
	h.Write(strconv.AppendUint(nil, n, 10))
	return hex.EncodeToString(h.Sum(nil))
}

// Package ingest is the receiving side of the upload wire contract: an HTTP
// server that stores multipart capture uploads and serves them back as JSON.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServer creates the ingest HTTP server for st.
func NewServer(st *store.Store, cfg *config.Config, log logging.Logger, version string) *http.Server {
	h := &Handlers{
		store:   st,
		cfg:     cfg,
		log:     log.With("component", "ingest"),
		version: version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("POST /captures", h.HandleUpload)
	mux.HandleFunc("GET /captures", h.HandleList)
	mux.HandleFunc("GET /captures/{token}", h.HandleDetail)
	mux.HandleFunc("GET /captures/{token}/track", h.HandleTrack)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.IngestBind, cfg.IngestPort),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv until ctx is done, then shuts it down gracefully.
// If ln is nil the server listens on srv.Addr.
func Run(ctx context.Context, srv *http.Server, ln net.Listener, log logging.Logger) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", srv.Addr)
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	addr := ln.Addr().String()
	log.Info(ctx, "ingest server running", "url", "http://"+addr)
	if strings.HasPrefix(addr, "0.0.0.0") || strings.HasPrefix(addr, "[::]") {
		log.Warn(ctx, "server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

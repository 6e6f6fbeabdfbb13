// Package app exposes the incident ledger over HTTP.
//
// The surface is deliberately small: submit and list incidents, fetch a
// verification report, and download a legal export. Authentication and
// authorization are handled upstream; handlers trust the tenant and author
// identifiers they receive.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tandemfamily/tandem/internal/ledger/export"
	"github.com/tandemfamily/tandem/internal/ledger/storage"
	"github.com/tandemfamily/tandem/internal/ledger/verify"
	"github.com/tandemfamily/tandem/internal/ledger/writer"
	"github.com/tandemfamily/tandem/internal/platform/telemetry/metrics"
)

// shutdownTimeout bounds how long in-flight requests may run after the
// server context ends.
const shutdownTimeout = 10 * time.Second

// Server hosts the ledger HTTP API.
type Server struct {
	addr       string
	httpServer *http.Server
	writer     *writer.Writer
	verifier   *verify.Verifier
	exporter   *export.Exporter
	store      storage.IncidentStore
	metrics    *metrics.LedgerMetrics
	now        func() time.Time
}

// New builds a ledger server listening on addr.
func New(addr string, w *writer.Writer, v *verify.Verifier, e *export.Exporter, store storage.IncidentStore, m *metrics.LedgerMetrics) *Server {
	s := &Server{
		addr:     addr,
		writer:   w,
		verifier: v,
		exporter: e,
		store:    store,
		metrics:  m,
		now:      time.Now,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tenants/{tenant}/incidents", s.handleSubmit)
	mux.HandleFunc("GET /v1/tenants/{tenant}/incidents", s.handleList)
	mux.HandleFunc("GET /v1/tenants/{tenant}/incidents/{seq}", s.handleGet)
	mux.HandleFunc("GET /v1/tenants/{tenant}/verification", s.handleVerify)
	mux.HandleFunc("GET /v1/tenants/{tenant}/export", s.handleExport)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("ledger server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("ledger listening on %s", s.addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

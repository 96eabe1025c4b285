package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pulsedir/beacon/internal/envelope"
)

// maxBodyBytes bounds a heartbeat request body; diagnostics payloads are
// small and everything larger is hostile.
const maxBodyBytes = 64 * 1024

type acceptResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
}

type rejectResponse struct {
	Error string `json:"error"`
}

// NewHandler builds the HTTP surface for the ingest pipeline: a single
// POST /v1/heartbeat operation.
func NewHandler(p *Pipeline, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		handleHeartbeat(p, logger, w, r)
	})
	return mux
}

func handleHeartbeat(p *Pipeline, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, rejectResponse{Error: "method_not_allowed"})
		return
	}

	var env envelope.Envelope
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&env); err != nil {
		// An undecodable body has no trustworthy unit id; audit without one.
		p.Audit(ReasonMalformedEnvelope, nil)
		writeJSON(w, http.StatusBadRequest, rejectResponse{Error: string(ReasonMalformedEnvelope)})
		return
	}

	result, err := p.Submit(&env)
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) {
			status := rejection.Reason.HTTPStatus()
			if status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "60")
			}
			writeJSON(w, status, rejectResponse{Error: string(rejection.Reason)})
			return
		}

		// Transient infrastructure failure: retryable, nothing half-persisted
		logger.Error("heartbeat submission failed",
			"unit_id", env.UnitID,
			"error", err)
		writeJSON(w, http.StatusServiceUnavailable, rejectResponse{Error: "storage_unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, acceptResponse{Accepted: true, Duplicate: result.Duplicate})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Server runs the ingest HTTP server tied to a lifecycle context.
type Server struct {
	listen string
	ln     net.Listener
	server *http.Server
	logger *slog.Logger
}

// NewServer creates an HTTP server and binds to the listen address.
func NewServer(listen string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		listen: listen,
		ln:     ln,
		server: server,
		logger: logger,
	}, nil
}

// Addr returns the bound listen address
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run starts serving and shuts down gracefully on context cancellation.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("ingest server stopped unexpectedly",
			"listen", s.listen,
			"error", err)
		return err
	}
}

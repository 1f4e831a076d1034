package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tably/internal/config"
	"tably/internal/database"
	"tably/internal/domain"
	"tably/internal/metrics"
	"tably/internal/service"
	"tably/internal/verify"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking and verification API.
type HTTPServer struct {
	cfg       config.APIConfig
	bookings  *service.BookingService
	authority *verify.Authority
	server    *http.Server
	auth      *HTTPAuth
	logger    *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, bookings *service.BookingService, authority *verify.Authority, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, bookings: bookings, authority: authority, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/resources", srv.handleResources)
	mux.HandleFunc("/api/v1/availability/", srv.handleAvailability)
	mux.HandleFunc("/api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingSubroutes)
	mux.HandleFunc("/api/v1/verification/redeem", srv.handleRedeem)
	mux.HandleFunc("/api/v1/export/bookings.xlsx", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeRejection maps a domain error to an HTTP status and JSON body.
// Unexpected errors become a 500 with no internal detail.
func (s *HTTPServer) writeRejection(w http.ResponseWriter, err error) {
	if err == database.ErrConcurrentModification {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "booking was modified concurrently, retry with the current version",
			"code":  "concurrent_modification",
		})
		return
	}

	rej, ok := domain.AsRejection(err)
	if !ok {
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusBadRequest
	switch rej.Code {
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeInvalidInput:
		status = http.StatusBadRequest
	case domain.CodeConflict, domain.CodeCapacityExceeded, domain.CodeReplayDetected:
		status = http.StatusConflict
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeExpired:
		status = http.StatusGone
	case domain.CodeAttemptsExceeded:
		status = http.StatusTooManyRequests
	}

	body := map[string]any{
		"error": rej.Message,
		"code":  string(rej.Code),
	}
	if len(rej.Conflicts) > 0 {
		body["conflicts"] = rej.Conflicts
	}
	if rej.Code == domain.CodeCapacityExceeded {
		body["occupied"] = rej.Occupied
		body["capacity"] = rej.Capacity
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

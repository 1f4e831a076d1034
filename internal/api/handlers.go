package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tably/internal/domain"
	"tably/internal/export"
	"tably/internal/metrics"
	"tably/internal/models"
)

type createBookingRequest struct {
	ResourceID  int64             `json:"resource_id"`
	Date        string            `json:"date"`
	StartMinute int               `json:"start_minute"`
	EndMinute   int               `json:"end_minute"`
	PartySize   int               `json:"party_size"`
	Comment     string            `json:"comment,omitempty"`
	Extensions  map[string]string `json:"extensions,omitempty"`
}

type cancelBookingRequest struct {
	Version int64  `json:"version"`
	Actor   string `json:"actor,omitempty"`
}

type redeemRequest struct {
	Code     string `json:"code"`
	Verifier string `json:"verifier"`
}

type revokeRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resources, err := s.bookings.Resources(r.Context(), TenantFromContext(r.Context()))
	if err != nil {
		s.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/availability/"
	rawID := strings.TrimPrefix(r.URL.Path, prefix)
	resourceID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || resourceID <= 0 {
		writeError(w, http.StatusBadRequest, "resource id is required")
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.Parse(models.DateLayout, dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	slots, err := s.bookings.Availability(r.Context(), resourceID, date)
	if err != nil {
		s.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id": resourceID,
		"date":        dateStr,
		"slots":       slots,
	})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body createBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date, err := time.Parse(models.DateLayout, strings.TrimSpace(body.Date))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	req := &domain.AdmissionRequest{
		TenantID:    TenantFromContext(r.Context()),
		ResourceID:  body.ResourceID,
		Date:        date,
		StartMinute: body.StartMinute,
		EndMinute:   body.EndMinute,
		PartySize:   body.PartySize,
		Comment:     body.Comment,
	}
	if len(body.Extensions) > 0 {
		req.Extensions = models.NewExtensions(body.Extensions)
	}

	booking, err := s.bookings.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// handleBookingSubroutes dispatches /api/v1/bookings/{id} and its
// actions: cancel, ticket, revoke.
func (s *HTTPServer) handleBookingSubroutes(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/bookings/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "booking id is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = strings.TrimSpace(parts[1])
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetBooking(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleCancelBooking(w, r, id)
	case action == "ticket" && r.Method == http.MethodPost:
		s.handleIssueTicket(w, r, id)
	case action == "revoke" && r.Method == http.MethodPost:
		s.handleRevoke(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, id int64) {
	booking, err := s.bookings.GetBooking(r.Context(), id, TenantFromContext(r.Context()))
	if err != nil {
		s.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request, id int64) {
	var body cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Version <= 0 {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	booking, err := s.bookings.CancelBooking(r.Context(), id, TenantFromContext(r.Context()), body.Version, body.Actor)
	if err != nil {
		s.writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleIssueTicket(w http.ResponseWriter, r *http.Request, id int64) {
	tenantID := TenantFromContext(r.Context())
	ticket, err := s.authority.Issue(r.Context(), id, tenantID)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	s.bookings.PublishTicketIssued(r.Context(), id, tenantID)
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	booking, err := s.authority.Redeem(r.Context(), body.Code, TenantFromContext(r.Context()), body.Verifier)
	if err != nil {
		rej, ok := domain.AsRejection(err)
		if !ok {
			s.writeRejection(w, err)
			return
		}
		metrics.IncVerification(string(rej.Code))
		s.bookings.PublishVerificationDenied(TenantFromContext(r.Context()), body.Verifier, string(rej.Code))
		// Signature failures get a deliberately vague response; the
		// precise cause only goes to the log.
		if rej.Code == domain.CodeForbidden {
			s.logger.Warn().Str("code", string(rej.Code)).Str("detail", rej.Message).Msg("verification denied")
			writeError(w, http.StatusForbidden, "verification failed")
			return
		}
		s.writeRejection(w, err)
		return
	}

	metrics.IncVerification("redeemed")
	s.bookings.PublishCheckIn(r.Context(), booking, body.Verifier)
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleRevoke(w http.ResponseWriter, r *http.Request, id int64) {
	var body revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	booking, err := s.authority.Revoke(r.Context(), id, TenantFromContext(r.Context()), body.Actor, body.Reason)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	s.bookings.PublishRevoke(r.Context(), booking, body.Actor, body.Reason)
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now()
	start := now.AddDate(0, 0, -30)
	end := now.AddDate(0, 0, 30)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date; expected YYYY-MM-DD")
			return
		}
		end = parsed
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	bookings, err := s.bookings.BookingsByDateRange(r.Context(), TenantFromContext(r.Context()), start, end)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bookings.xlsx"`)
	if err := export.WriteBookings(w, bookings, start, end); err != nil {
		s.logger.Error().Err(err).Msg("export write error")
	}
}

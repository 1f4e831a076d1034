package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tably/internal/config"
	"tably/internal/database"
	"tably/internal/models"
	"tably/internal/repository"
	"tably/internal/service"
	"tably/internal/verify"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	frontdeskKey = "frontdesk-test-key"
	scannerKey   = "scanner-test-key"
	adminKey     = "admin-test-key"
)

type apiFixture struct {
	ts       *httptest.Server
	db       *database.DB
	resource *models.Resource
	date     string
}

func testAPIConfig(rps float64, burst int) config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: frontdeskKey, Name: "frontdesk", TenantID: 1, Permissions: []string{
					permReadResources, permReadAvailability, permWriteBookings,
				}},
				{Key: scannerKey, Name: "door-scanner", TenantID: 1, Permissions: []string{permVerifyTickets}},
				{Key: adminKey, Name: "admin", TenantID: 1, Permissions: []string{permAdmin}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: rps, Burst: burst},
	}
}

func setupAPI(t *testing.T, cfg config.APIConfig) *apiFixture {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	res := &models.Resource{
		TenantID: 1,
		Name:     "Table 1",
		Capacity: 1,
		Bookable: true,
		Status:   models.ResourceActive,
	}
	require.NoError(t, db.UpsertResource(t.Context(), res))

	hours := make(models.WeekHours, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours[d] = []models.Interval{{Start: 9 * 60, End: 21 * 60}}
	}
	require.NoError(t, db.UpsertRule(t.Context(), &models.SlotRule{
		ResourceID:     res.ID,
		SlotMinutes:    30,
		Hours:          hours,
		MaxAdvanceDays: models.DefaultMaxAdvanceDays,
	}))

	state := repository.NewMemoryStateRepository(30 * time.Second)
	bookings := service.NewBookingService(db, state, nil, nil, nil, nil, &logger)
	authority := verify.NewAuthority("0123456789abcdef", 15*time.Minute, 5*time.Minute, 3, db, &logger)

	srv := NewHTTPServer(cfg, bookings, authority, &logger)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return &apiFixture{
		ts:       ts,
		db:       db,
		resource: res,
		date:     time.Now().AddDate(0, 0, 7).Format(models.DateLayout),
	}
}

func (f *apiFixture) request(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func (f *apiFixture) createBooking(t *testing.T, start, end int) models.Booking {
	t.Helper()
	resp := f.request(t, http.MethodPost, "/api/v1/bookings", frontdeskKey, map[string]any{
		"resource_id":  f.resource.ID,
		"date":         f.date,
		"start_minute": start,
		"end_minute":   end,
		"party_size":   2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var booking models.Booking
	decodeBody(t, resp, &booking)
	return booking
}

func TestHTTPServer_Auth(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0, 0))

	t.Run("healthz needs no key", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing key", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/resources", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown key", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/resources", "wrong-key", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("key without the required permission", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/resources", scannerKey, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin implies everything", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/resources", adminKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHTTPServer_RateLimit(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0.1, 1))

	resp := f.request(t, http.MethodGet, "/api/v1/resources", frontdeskKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/v1/resources", frontdeskKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	t.Run("budgets are per key", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/resources", adminKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHTTPServer_Resources(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0, 0))

	resp := f.request(t, http.MethodGet, "/api/v1/resources", frontdeskKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Resources []models.Resource `json:"resources"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Resources, 1)
	assert.Equal(t, "Table 1", body.Resources[0].Name)
}

func TestHTTPServer_Availability(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0, 0))

	t.Run("projects the day", func(t *testing.T) {
		resp := f.request(t, http.MethodGet,
			fmt.Sprintf("/api/v1/availability/%d?date=%s", f.resource.ID, f.date), frontdeskKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			ResourceID int64                     `json:"resource_id"`
			Date       string                    `json:"date"`
			Slots      []models.SlotAvailability `json:"slots"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, f.date, body.Date)
		assert.Len(t, body.Slots, 24)
	})

	t.Run("missing date", func(t *testing.T) {
		resp := f.request(t, http.MethodGet,
			fmt.Sprintf("/api/v1/availability/%d", f.resource.ID), frontdeskKey, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown resource", func(t *testing.T) {
		resp := f.request(t, http.MethodGet,
			"/api/v1/availability/999?date="+f.date, frontdeskKey, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHTTPServer_Bookings(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0, 0))

	booking := f.createBooking(t, 10*60, 11*60)
	assert.Equal(t, models.StatusConfirmed, booking.Status)

	t.Run("conflicting request maps to 409 with the colliding slots", func(t *testing.T) {
		resp := f.request(t, http.MethodPost, "/api/v1/bookings", frontdeskKey, map[string]any{
			"resource_id":  f.resource.ID,
			"date":         f.date,
			"start_minute": 10*60 + 30,
			"end_minute":   11*60 + 30,
			"party_size":   2,
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var body struct {
			Code      string            `json:"code"`
			Conflicts []models.Interval `json:"conflicts"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, "conflict", body.Code)
		require.Len(t, body.Conflicts, 1)
		assert.Equal(t, models.Interval{Start: 10 * 60, End: 11 * 60}, body.Conflicts[0])
	})

	t.Run("invalid body", func(t *testing.T) {
		resp := f.request(t, http.MethodPost, "/api/v1/bookings", frontdeskKey, map[string]any{
			"resource_id": f.resource.ID,
			"date":        f.date,
			"unexpected":  true,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("get booking", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", booking.ID), frontdeskKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Booking
		decodeBody(t, resp, &got)
		assert.Equal(t, booking.Ref, got.Ref)
	})

	t.Run("unknown booking", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/bookings/999", frontdeskKey, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("cancel with a stale version", func(t *testing.T) {
		resp := f.request(t, http.MethodPost,
			fmt.Sprintf("/api/v1/bookings/%d/cancel", booking.ID), frontdeskKey,
			map[string]any{"version": booking.Version + 5})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var body struct {
			Code string `json:"code"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, "concurrent_modification", body.Code)
	})

	t.Run("cancel with the live version", func(t *testing.T) {
		resp := f.request(t, http.MethodPost,
			fmt.Sprintf("/api/v1/bookings/%d/cancel", booking.ID), frontdeskKey,
			map[string]any{"version": booking.Version, "actor": "frontdesk"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Booking
		decodeBody(t, resp, &got)
		assert.Equal(t, models.StatusCancelled, got.Status)
	})
}

func TestHTTPServer_Verification(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0, 0))
	booking := f.createBooking(t, 10*60, 11*60)

	issueTicket := func(t *testing.T) string {
		t.Helper()
		resp := f.request(t, http.MethodPost,
			fmt.Sprintf("/api/v1/bookings/%d/ticket", booking.ID), frontdeskKey, map[string]any{})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var ticket verify.Ticket
		decodeBody(t, resp, &ticket)
		require.NotEmpty(t, ticket.Code)
		return ticket.Code
	}

	code := issueTicket(t)

	t.Run("scanner key redeems", func(t *testing.T) {
		resp := f.request(t, http.MethodPost, "/api/v1/verification/redeem", scannerKey,
			map[string]any{"code": code, "verifier": "door-1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Booking
		decodeBody(t, resp, &got)
		assert.Equal(t, models.StatusCheckedIn, got.Status)
		assert.Equal(t, "door-1", got.Verification.VerifiedBy)
	})

	t.Run("second presentation is replay", func(t *testing.T) {
		resp := f.request(t, http.MethodPost, "/api/v1/verification/redeem", scannerKey,
			map[string]any{"code": code, "verifier": "door-2"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var body struct {
			Code string `json:"code"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, "replay_detected", body.Code)
	})

	t.Run("tampered code gets a vague 403", func(t *testing.T) {
		tampered := []byte(code)
		if tampered[1] == 'A' {
			tampered[1] = 'B'
		} else {
			tampered[1] = 'A'
		}

		resp := f.request(t, http.MethodPost, "/api/v1/verification/redeem", scannerKey,
			map[string]any{"code": string(tampered), "verifier": "door-1"})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		var body struct {
			Error string `json:"error"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, "verification failed", body.Error)
	})

	t.Run("revoke needs admin", func(t *testing.T) {
		resp := f.request(t, http.MethodPost,
			fmt.Sprintf("/api/v1/bookings/%d/revoke", booking.ID), frontdeskKey,
			map[string]any{"actor": "frontdesk", "reason": "mistake"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin revokes and a fresh ticket redeems", func(t *testing.T) {
		resp := f.request(t, http.MethodPost,
			fmt.Sprintf("/api/v1/bookings/%d/revoke", booking.ID), adminKey,
			map[string]any{"actor": "manager", "reason": "wrong guest"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Booking
		decodeBody(t, resp, &got)
		assert.Equal(t, models.StatusConfirmed, got.Status)

		fresh := issueTicket(t)
		resp = f.request(t, http.MethodPost, "/api/v1/verification/redeem", scannerKey,
			map[string]any{"code": fresh, "verifier": "door-1"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("ticket for an unknown booking", func(t *testing.T) {
		resp := f.request(t, http.MethodPost, "/api/v1/bookings/999/ticket", frontdeskKey, map[string]any{})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHTTPServer_Export(t *testing.T) {
	f := setupAPI(t, testAPIConfig(0, 0))
	f.createBooking(t, 10*60, 11*60)

	t.Run("requires admin", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/export/bookings.xlsx", frontdeskKey, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("streams a workbook", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/v1/export/bookings.xlsx", adminKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			resp.Header.Get("Content-Type"))

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("rejects a reversed range", func(t *testing.T) {
		resp := f.request(t, http.MethodGet,
			"/api/v1/export/bookings.xlsx?from=2026-09-20&to=2026-09-10", adminKey, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tably/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var errRowNotFound = errors.New("booking row not found")

// SheetsLedger mirrors booking state into a Google spreadsheet. Rows
// are keyed by booking ref in column A, so replaying the same snapshot
// is idempotent.
type SheetsLedger struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

func NewSheetsLedger(credentialsFile, spreadsheetID string) (*SheetsLedger, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	return &SheetsLedger{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
	}, nil
}

// TestConnection reads the header cell to verify access.
func (s *SheetsLedger) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "Bookings!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// RecordBooking updates the booking's row if present, otherwise
// appends a new one.
func (s *SheetsLedger) RecordBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}

	rowIdx, err := s.findBookingRow(ctx, booking.Ref)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("Bookings!A%d:K%d", rowIdx, rowIdx)
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (s *SheetsLedger) appendBooking(ctx context.Context, booking *models.Booking) error {
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, "Bookings!A:K", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCachedRow(booking.Ref)
	}
	return err
}

// findBookingRow locates the 1-based row index for a booking ref in
// column A, with a cache warmed on first lookup.
func (s *SheetsLedger) findBookingRow(ctx context.Context, ref string) (int, error) {
	if ref == "" {
		return 0, fmt.Errorf("booking ref is required")
	}

	if row, ok := s.getCachedRow(ref); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "Bookings!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v, ok := row[0].(string); ok && v == ref {
			rowIdx := i + 1 // Values are zero-based; sheet rows are 1-based
			s.setCachedRow(ref, rowIdx)
			return rowIdx, nil
		}
	}

	return 0, errRowNotFound
}

func bookingRowValues(b *models.Booking) []interface{} {
	verified := ""
	if b.Verification.VerifiedAt != nil {
		verified = b.Verification.VerifiedAt.Format("2006-01-02 15:04:05")
	}
	return []interface{}{
		b.Ref,
		b.TenantID,
		b.ResourceID,
		b.ResourceName,
		b.Date.Format(models.DateLayout),
		models.MinuteClock(b.StartMinute),
		models.MinuteClock(b.EndMinute),
		b.PartySize,
		b.Status,
		verified,
		time.Now().Format("2006-01-02 15:04:05"),
	}
}

func (s *SheetsLedger) getCachedRow(ref string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[ref]
	return row, ok
}

func (s *SheetsLedger) setCachedRow(ref string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[ref] = row
}

func (s *SheetsLedger) deleteCachedRow(ref string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, ref)
}

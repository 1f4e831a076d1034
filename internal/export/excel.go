package export

import (
	"fmt"
	"io"
	"time"

	"tably/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

// WriteBookings renders a bookings workbook for one tenant and writes
// the xlsx bytes to w.
func WriteBookings(w io.Writer, bookings []*models.Booking, start, end time.Time) error {
	f, err := buildWorkbook(bookings, start, end)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func buildWorkbook(bookings []*models.Booking, start, end time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s",
		start.Format(models.DateLayout), end.Format(models.DateLayout)))
	_ = f.MergeCell(sheetName, "A1", "J1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headers := []string{
		"Ref", "Resource", "Date", "Start", "End",
		"Party", "Status", "Checked In At", "Comment", "Created At",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, b := range bookings {
		row := i + 3
		checkedIn := ""
		if b.Verification.VerifiedAt != nil {
			checkedIn = b.Verification.VerifiedAt.Format("2006-01-02 15:04")
		}
		values := []interface{}{
			b.Ref,
			b.ResourceName,
			b.Date.Format(models.DateLayout),
			models.MinuteClock(b.StartMinute),
			models.MinuteClock(b.EndMinute),
			b.PartySize,
			b.Status,
			checkedIn,
			b.Comment,
			b.CreatedAt.Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		if styleID, err := rowStyle(f, b.Status); err == nil && styleID != 0 {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(sheetName, first, last, styleID)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 25)
	_ = f.SetColWidth(sheetName, "C", "J", 14)

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func rowStyle(f *excelize.File, status string) (int, error) {
	var color string
	switch status {
	case models.StatusCheckedIn, models.StatusCompleted:
		color = "#C6EFCE"
	case models.StatusCancelled, models.StatusExpired:
		color = "#FFC7CE"
	default:
		return 0, nil
	}
	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
}

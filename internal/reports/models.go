package reports

import (
	"errors"
	"time"

	"github.com/fdg312/metabolic-hub/internal/agent"
)

const (
	FormatPDF = "pdf"
	FormatCSV = "csv"
)

var (
	ErrInvalidFormat  = errors.New("invalid format")
	ErrReportNotFound = errors.New("no monthly report for user")
)

// DayRow is one day of the exported month.
type DayRow struct {
	Date         string
	ProteinG     float64
	CarbsG       float64
	FatsG        float64
	HiddenOilTsp float64
	WaterMl      int
	InsulinScore *float64
}

// Document is everything a rendered report shows.
type Document struct {
	UserID      string
	GeneratedAt time.Time
	Report      agent.MonthlyReport
	Days        []DayRow
}

// Export describes an uploaded report.
type Export struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func contentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/pdf"
}

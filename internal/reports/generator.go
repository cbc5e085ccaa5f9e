package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/jung-kurt/gofpdf"
)

type Store interface {
	storage.RecommendationsStorage
	storage.AggregatesStorage
	storage.ScoresStorage
}

// Generator renders the latest monthly review of a user as PDF or CSV.
type Generator struct {
	store Store
}

func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// Build loads the newest monthly report and the daily rows of its window.
func (g *Generator) Build(ctx context.Context, userID string, now time.Time) (Document, error) {
	recs, err := g.store.ListRecommendations(ctx, userID, "", 200)
	if err != nil {
		return Document{}, fmt.Errorf("list recommendations: %w", err)
	}
	var latest *storage.PendingRecommendation
	for i := range recs {
		if recs[i].Type != agent.TypeMonthlyReport {
			continue
		}
		if latest == nil || recs[i].CreatedAt.After(latest.CreatedAt) {
			latest = &recs[i]
		}
	}
	if latest == nil {
		return Document{}, ErrReportNotFound
	}

	var report agent.MonthlyReport
	if err := json.Unmarshal(latest.DataUsed, &report); err != nil {
		return Document{}, fmt.Errorf("decode monthly report: %w", err)
	}

	days, err := g.days(ctx, userID, report.Window)
	if err != nil {
		return Document{}, err
	}
	return Document{UserID: userID, GeneratedAt: now.UTC(), Report: report, Days: days}, nil
}

func (g *Generator) days(ctx context.Context, userID string, w agent.ReportWindow) ([]DayRow, error) {
	aggs, err := g.store.ListDailyAggregates(ctx, userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	scores, err := g.store.ListInsulinScores(ctx, userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list insulin scores: %w", err)
	}
	// scores come ordered by time, so the last one per day wins
	latest := make(map[string]float64, len(scores))
	for _, s := range scores {
		latest[s.Date] = s.Score
	}

	rows := make([]DayRow, 0, len(aggs))
	for _, a := range aggs {
		row := DayRow{
			Date:         a.Date,
			ProteinG:     a.Totals.ProteinG,
			CarbsG:       a.Totals.CarbsG,
			FatsG:        a.Totals.FatsG,
			HiddenOilTsp: a.Totals.HiddenOilTsp,
			WaterMl:      a.WaterMl,
		}
		if s, ok := latest[a.Date]; ok {
			row.InsulinScore = &s
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

func (g *Generator) Render(doc Document, format string) ([]byte, error) {
	switch format {
	case FormatPDF:
		return renderPDF(doc)
	case FormatCSV:
		return renderCSV(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

var csvHeader = []string{"date", "protein_g", "carbs_g", "fats_g", "hidden_oil_tsp", "water_ml", "insulin_score"}

func renderCSV(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, d := range doc.Days {
		if err := w.Write([]string{
			d.Date,
			formatFloat(d.ProteinG),
			formatFloat(d.CarbsG),
			formatFloat(d.FatsG),
			formatFloat(d.HiddenOilTsp),
			strconv.Itoa(d.WaterMl),
			formatOpt(d.InsulinScore),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderPDF(doc Document) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Report.ReportType, false)
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, doc.Report.ReportType)
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Period: %s - %s", doc.Report.Window.Start, doc.Report.Window.End))
	pdf.Ln(11)

	s := doc.Report.Scores
	section(pdf, "Scores")
	line(pdf, "Average insulin score", formatOpt(s.AverageInsulinScore))
	line(pdf, "Average strength score", formatFloat(s.AverageStrengthScore))
	line(pdf, "Waist reduction (cm)", formatOpt(s.WaistReductionCm))
	line(pdf, "Fasting compliance", formatFloat(s.FastingComplianceRatio))
	line(pdf, "Habit compliance", formatFloat(s.HabitComplianceRatio))
	pdf.Ln(6)

	c := doc.Report.Classification
	section(pdf, "Classification")
	line(pdf, "Risk", c.Risk)
	line(pdf, "Carb tolerance phase", c.CarbPhase)
	line(pdf, "Strength progression", c.StrengthPhase)
	line(pdf, "Hydration", c.HydrationAdvice)
	pdf.Ln(6)

	section(pdf, "Daily log")
	drawDays(pdf, doc.Days)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, title)
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
}

func line(pdf *gofpdf.Fpdf, label, value string) {
	pdf.CellFormat(70, 6, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
}

var dayColumns = []struct {
	title string
	width float64
}{
	{"Date", 26}, {"Protein g", 22}, {"Carbs g", 22}, {"Fats g", 22},
	{"Oil tsp", 20}, {"Water ml", 22}, {"Insulin", 22},
}

func drawDays(pdf *gofpdf.Fpdf, days []DayRow) {
	pdf.SetFont("Helvetica", "B", 8)
	for i, col := range dayColumns {
		ln := 0
		if i == len(dayColumns)-1 {
			ln = 1
		}
		pdf.CellFormat(col.width, 6, col.title, "1", ln, "C", false, 0, "")
	}

	pdf.SetFont("Helvetica", "", 8)
	for _, d := range days {
		cells := []string{
			d.Date,
			formatFloat(d.ProteinG),
			formatFloat(d.CarbsG),
			formatFloat(d.FatsG),
			formatFloat(d.HiddenOilTsp),
			strconv.Itoa(d.WaterMl),
			formatOpt(d.InsulinScore),
		}
		for i, v := range cells {
			ln := 0
			if i == len(cells)-1 {
				ln = 1
			}
			pdf.CellFormat(dayColumns[i].width, 6, v, "1", ln, "C", false, 0, "")
		}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOpt(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatFloat(*v)
}

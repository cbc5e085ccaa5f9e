package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

// MonthlyReport is the data_used of a monthly review and the agent notes
// after it.
type MonthlyReport struct {
	ReportType     string                `json:"report_type"`
	Window         ReportWindow          `json:"window"`
	Scores         MonthlyScores         `json:"scores"`
	Classification MonthlyClassification `json:"classification"`
}

type ReportWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type MonthlyScores struct {
	AverageInsulinScore    *float64 `json:"average_insulin_score"`
	AverageStrengthScore   float64  `json:"average_strength_score"`
	WaistReductionCm       *float64 `json:"waist_reduction_cm"`
	HabitComplianceRatio   float64  `json:"habit_compliance_ratio"`
	FastingComplianceRatio float64  `json:"fasting_compliance_ratio"`
}

type MonthlyClassification struct {
	Risk            string `json:"risk_classification"`
	CarbPhase       string `json:"suggested_carb_tolerance_phase"`
	StrengthPhase   string `json:"suggested_strength_progression_phase"`
	HydrationAdvice string `json:"suggested_hydration_improvements"`
}

func monthlyWindow(today time.Time) span { return daysBack(today, 29, 0) }

func buildMonthlyReport(h *history, today time.Time) MonthlyReport {
	window := monthlyWindow(today)
	start, _ := time.Parse(storage.DateLayout, window.From)
	firstWeek := span{From: window.From, To: start.AddDate(0, 0, 6).Format(storage.DateLayout)}
	lastWeek := daysBack(today, 6, 0)

	avgInsulin := h.meanScore(window)
	avgStrength := h.strengthIndex(window)
	var waistReduction *float64
	if first, last := h.avgVital(firstWeek, waist), h.avgVital(lastWeek, waist); first != nil && last != nil {
		waistReduction = round2Ptr(*first - *last)
	}
	fasting := h.fastingCompliance(window)
	habits := h.habitCompliance(window)

	return MonthlyReport{
		ReportType: "Monthly Metabolic Report",
		Window:     ReportWindow{Start: window.From, End: window.To},
		Scores: MonthlyScores{
			AverageInsulinScore:    avgInsulin,
			AverageStrengthScore:   insulin.Round2(avgStrength),
			WaistReductionCm:       waistReduction,
			HabitComplianceRatio:   habits,
			FastingComplianceRatio: fasting,
		},
		Classification: MonthlyClassification{
			Risk:            riskClass(avgInsulin, fasting, habits),
			CarbPhase:       carbPhase(avgInsulin),
			StrengthPhase:   strengthPhase(avgStrength),
			HydrationAdvice: hydrationAdvice(h.hydrationCompliance(window)),
		},
	}
}

func monthlyScan(h *history, state storage.AgentState, today time.Time) ([]draft, storage.AgentState, error) {
	report := buildMonthlyReport(h, today)
	notes, err := json.Marshal(report)
	if err != nil {
		return nil, state, fmt.Errorf("marshal monthly report: %w", err)
	}
	state.Notes = string(notes)

	s := report.Scores
	return []draft{{
		kind:       TypeMonthlyReport,
		title:      "Monthly Metabolic Report ready",
		summary:    "Your monthly deterministic metabolic review is available for approval and coaching follow-up.",
		confidence: 0.9,
		data:       report,
		threshold:  "Monthly macro-evaluation completed.",
		historical: fmt.Sprintf("Waist change over month=%scm, average insulin=%s, average strength=%g.",
			fmtOpt(s.WaistReductionCm), fmtOpt(s.AverageInsulinScore), s.AverageStrengthScore),
	}}, state, nil
}

// riskClass treats a month without scores as the worst case.
func riskClass(avgInsulin *float64, fasting, habits float64) string {
	score := 100.0
	if avgInsulin != nil {
		score = *avgInsulin
	}
	switch {
	case score < 45 && fasting >= 0.8 && habits >= 0.75:
		return "Low"
	case score < 70 && fasting >= 0.6 && habits >= 0.5:
		return "Moderate"
	default:
		return "Elevated"
	}
}

func carbPhase(avgInsulin *float64) string {
	switch {
	case avgInsulin == nil:
		return "Assessment phase"
	case *avgInsulin <= 45:
		return "Carb tolerance expansion"
	case *avgInsulin <= 70:
		return "Controlled carb maintenance"
	default:
		return "Carb tightening"
	}
}

func strengthPhase(avgStrength float64) string {
	switch {
	case avgStrength >= 45:
		return "Progressive overload"
	case avgStrength >= 20:
		return "Base strength consolidation"
	default:
		return "Foundational activation"
	}
}

func hydrationAdvice(compliance float64) string {
	switch {
	case compliance >= 0.8:
		return "Hydration habits are strong; maintain current approach."
	case compliance > 0:
		return "Set fixed hydration checkpoints (wake-up, post-workout, evening)."
	default:
		return "Hydration tracking is missing; add a daily hydration check-in habit."
	}
}

package agent

import (
	"encoding/json"
	"fmt"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	TypeDailyCarbReduction     = "daily_carb_reduction"
	TypeDailyProteinSupport    = "daily_protein_support"
	TypeWeeklyCarbCeiling      = "weekly_carb_ceiling_adjustment"
	TypeWeeklyRefeed           = "weekly_refeed"
	TypeWeeklyFruitAllowance   = "weekly_fruit_allowance"
	TypeWeeklyHDLSupport       = "weekly_hdl_support"
	TypeWeeklyHDLFruitIncrease = "weekly_hdl_fruit_increase"
	TypeMonthlyReport          = "monthly_metabolic_report"
)

// CarbCeilingStep is how much a weekly adjustment lowers the ceiling.
const CarbCeilingStep = 10.0

// CarbCeilingPayload is the data_used of a weekly carb ceiling adjustment.
// Acceptance decodes it strictly.
type CarbCeilingPayload struct {
	WaistRecentAvgCm    *float64 `json:"waist_recent_avg_cm"`
	WaistPreviousAvgCm  *float64 `json:"waist_previous_avg_cm"`
	WaistPriorPriorCm   *float64 `json:"waist_prior_prior_avg_cm,omitempty"`
	CarbCeilingCurrentG float64  `json:"carb_ceiling_current_g"`
	CarbCeilingTargetG  float64  `json:"carb_ceiling_proposed_g"`
}

type draft struct {
	kind       string
	title      string
	summary    string
	confidence float64
	data       any
	threshold  string
	historical string
}

func (d draft) pending(userID, cadence string) (storage.PendingRecommendation, error) {
	data, err := json.Marshal(d.data)
	if err != nil {
		return storage.PendingRecommendation{}, fmt.Errorf("marshal %s evidence: %w", d.kind, err)
	}
	return storage.PendingRecommendation{
		UserID:               userID,
		Cadence:              cadence,
		Type:                 d.kind,
		Title:                d.title,
		Summary:              d.summary,
		Confidence:           d.confidence,
		DataUsed:             data,
		ThresholdTriggered:   d.threshold,
		HistoricalComparison: d.historical,
		Status:               storage.StatusPending,
	}, nil
}

// fmtOpt renders an optional measurement the way notes and comparisons show it.
func fmtOpt(v *float64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *v)
}

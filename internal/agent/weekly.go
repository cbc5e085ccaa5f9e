package agent

import (
	"fmt"
	"math"
	"time"

	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	carbCeilingFloor     = 80.0
	stableWaistDeltaCm   = 0.4
	dailyFruitDays       = 6
	reducedFruitWeekly   = 3
	hdlSupportDaysNeeded = 4
	hdlFruitBonus        = 2
	maxFruitWeekly       = 9
)

type weeklyWindows struct {
	recent, prior, priorPrior span
}

func weeklyWindowsFor(today time.Time) weeklyWindows {
	return weeklyWindows{
		recent:     daysBack(today, 6, 0),
		prior:      daysBack(today, 13, 7),
		priorPrior: daysBack(today, 20, 14),
	}
}

// waistNotDecreasing compares weekly waist averages. With two trend weeks
// all three windows must be present and non-decreasing.
func waistNotDecreasing(recent, prior, priorPrior *float64, trendWeeks int) bool {
	if recent == nil || prior == nil {
		return false
	}
	if trendWeeks <= 1 {
		return *recent >= *prior
	}
	return priorPrior != nil && *recent >= *prior && *prior >= *priorPrior
}

func weeklyScan(h *history, state storage.AgentState, today time.Time, trendWeeks int) ([]draft, storage.AgentState) {
	w := weeklyWindowsFor(today)
	var drafts []draft

	waistRecent := h.avgVital(w.recent, waist)
	waistPrior := h.avgVital(w.prior, waist)
	waistPriorPrior := h.avgVital(w.priorPrior, waist)
	notDecreasing := waistNotDecreasing(waistRecent, waistPrior, waistPriorPrior, trendWeeks)

	strengthRecent := h.strengthIndex(w.recent)
	strengthPrior := h.strengthIndex(w.prior)

	hdlRecent := h.avgVital(w.recent, hdl)
	hdlPrior := h.avgVital(w.prior, hdl)

	fruitDays := h.fruitDays(w.recent)
	supportDays := h.hdlSupportDays(w.recent)

	ceiling := h.profile.CarbCeiling
	if notDecreasing && ceiling > carbCeilingFloor {
		proposed := ceiling - CarbCeilingStep
		payload := CarbCeilingPayload{
			WaistRecentAvgCm:    waistRecent,
			WaistPreviousAvgCm:  waistPrior,
			CarbCeilingCurrentG: ceiling,
			CarbCeilingTargetG:  proposed,
		}
		if trendWeeks > 1 {
			payload.WaistPriorPriorCm = waistPriorPrior
		}
		drafts = append(drafts, draft{
			kind:       TypeWeeklyCarbCeiling,
			title:      "Reduce carb ceiling by 10g",
			summary:    fmt.Sprintf("Waist is not reducing and carb ceiling is %gg. Recommend reducing to %gg after approval.", ceiling, proposed),
			confidence: 0.82,
			data:       payload,
			threshold:  "Waist not reducing AND carb ceiling > 80g.",
			historical: fmt.Sprintf("Waist average comparison: recent=%s, previous=%s.", fmtOpt(waistRecent), fmtOpt(waistPrior)),
		})
	}

	if strengthRecent > strengthPrior && waistRecent != nil && waistPrior != nil &&
		math.Abs(*waistRecent-*waistPrior) <= stableWaistDeltaCm {
		drafts = append(drafts, draft{
			kind:       TypeWeeklyRefeed,
			title:      "Allow 1 controlled refeed meal",
			summary:    "Strength is rising while waist is stable. Allow 1 controlled refeed meal this week.",
			confidence: 0.78,
			data: map[string]any{
				"strength_recent":       strengthRecent,
				"strength_previous":     strengthPrior,
				"waist_recent_avg_cm":   waistRecent,
				"waist_previous_avg_cm": waistPrior,
			},
			threshold: "Strength rising AND waist stable.",
			historical: fmt.Sprintf("Strength index delta=%g, waist delta=%gcm.",
				insulin.Round2(strengthRecent-strengthPrior), insulin.Round2(*waistRecent-*waistPrior)),
		})
	}

	if notDecreasing && fruitDays >= dailyFruitDays {
		state.FruitAllowanceCurrent = 0
		state.FruitAllowanceWeekly = reducedFruitWeekly
		drafts = append(drafts, draft{
			kind:       TypeWeeklyFruitAllowance,
			title:      "Reduce fruit allowance",
			summary:    "Waist is not reducing with near-daily fruit intake. Reduce fruit allowance to 3 servings/week.",
			confidence: 0.86,
			data: map[string]any{
				"waist_recent_avg_cm":   waistRecent,
				"waist_previous_avg_cm": waistPrior,
				"fruit_days":            fruitDays,
			},
			threshold:  "Waist not reducing AND fruit logged on 6 or more days.",
			historical: fmt.Sprintf("fruit_days=%d/7 with non-improving waist trend.", fruitDays),
		})
	}

	if supportDays >= hdlSupportDaysNeeded {
		drafts = append(drafts, draft{
			kind:       TypeWeeklyHDLSupport,
			title:      "HDL support consistent",
			summary:    "Nuts intake plus strength sessions were consistent this week.",
			confidence: 0.75,
			data:       map[string]any{"hdl_support_days": supportDays},
			threshold:  "HDL-support days (nuts + strength) high.",
			historical: fmt.Sprintf("HDL-support days this week: %d/7.", supportDays),
		})
	}

	if hdlRecent != nil && hdlPrior != nil && *hdlRecent > *hdlPrior {
		state.FruitAllowanceWeekly = min(maxFruitWeekly, state.FruitAllowanceWeekly+hdlFruitBonus)
		drafts = append(drafts, draft{
			kind:       TypeWeeklyHDLFruitIncrease,
			title:      "Add 2 fruit servings this week",
			summary:    "HDL is improving, so controlled fruit allowance is expanded by 2 servings/week.",
			confidence: 0.74,
			data:       map[string]any{"hdl_recent": hdlRecent, "hdl_previous": hdlPrior},
			threshold:  "HDL improving week-over-week.",
			historical: fmt.Sprintf("HDL moved from %s to %s.", fmtOpt(hdlPrior), fmtOpt(hdlRecent)),
		})
	}

	carbRecent, overCeiling := h.carbPattern(w.recent, ceiling)
	carbPrior, _ := h.carbPattern(w.prior, ceiling)
	insulinRecent := h.meanScore(w.recent)
	insulinPrior := h.meanScore(w.prior)

	state.Notes = fmt.Sprintf("Weekly scan %s..%s: rhr=%s, sleep=%s, fruit_days=%d, oil_avg_tsp=%s, image_restaurant_freq=%d"+
		"; waist_trend=%s, insulin_trend=%s (%s vs %s), carb_trend=%s (%s vs %s), days_over_carb_ceiling=%d, vitals=%s",
		w.recent.From, w.recent.To,
		fmtOpt(h.avgVital(w.recent, restingHR)), fmtOpt(h.avgVital(w.recent, sleep)),
		fruitDays, fmtOpt(h.avgOil(w.recent)), h.restaurantMeals(w.recent),
		trendOf(waistRecent, waistPrior, waistStableCm),
		trendOf(insulinRecent, insulinPrior, insulinStable), fmtOpt(insulinRecent), fmtOpt(insulinPrior),
		trendOf(carbRecent, carbPrior, carbStableGrams), fmtOpt(carbRecent), fmtOpt(carbPrior),
		overCeiling, AssessVitals(h.vitals).Flag)
	return drafts, state
}

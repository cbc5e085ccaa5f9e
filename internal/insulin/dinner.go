package insulin

import "time"

const (
	DinnerCarbCeilingG     = 30.0
	dinnerCarbMultiplier   = 1.2
	dinnerOverLimitFactor  = 0.75
	LateDinnerPenalty      = 5.0
	lateDinnerAfterMinutes = 20 * 60
	ProteinOnlyBonus       = 2.5
	proteinOnlyMaxCarbsG   = 5.0
	proteinOnlyMinProteinG = 20.0

	DinnerModeProteinOnly = "protein_only"
)

type Dinner struct {
	CarbsG   float64
	ProteinG float64
	LoggedAt time.Time
	Mode     string
}

type DinnerImpact struct {
	Impact            float64 `json:"impact"`
	CarbLimitExceeded bool    `json:"carb_limit_exceeded"`
	EveningSpikeRisk  bool    `json:"evening_spike_risk"`
	LateDinner        bool    `json:"late_dinner"`
	ProteinOnly       bool    `json:"protein_only"`
}

// AdjustDinner scores the evening meal on its own. LoggedAt is read in its
// own location, so callers pass user-local time.
func AdjustDinner(d Dinner) DinnerImpact {
	carbs := clampNonNegative(d.CarbsG)
	protein := clampNonNegative(d.ProteinG)

	var out DinnerImpact
	impact := carbs
	if carbs > DinnerCarbCeilingG {
		out.CarbLimitExceeded = true
		impact = carbs*dinnerCarbMultiplier + (carbs-DinnerCarbCeilingG)*dinnerOverLimitFactor
	}

	if !d.LoggedAt.IsZero() && d.LoggedAt.Hour()*60+d.LoggedAt.Minute() > lateDinnerAfterMinutes {
		out.LateDinner = true
		impact += LateDinnerPenalty
	}

	if d.Mode == DinnerModeProteinOnly || (carbs <= proteinOnlyMaxCarbsG && protein >= proteinOnlyMinProteinG) {
		out.ProteinOnly = true
		impact -= ProteinOnlyBonus
	}

	out.EveningSpikeRisk = out.CarbLimitExceeded || (out.LateDinner && carbs > proteinOnlyMaxCarbsG)
	out.Impact = Round2(impact)
	return out
}

package compliance

import "math"

const (
	HydrationTargetMinMl = 2500
	HydrationTargetMaxMl = 3000

	hydrationRecoveryBelowMl = 1200
)

type Hydration struct {
	WaterMl        int     `json:"water_ml"`
	Score          float64 `json:"score"`
	TargetMinMl    int     `json:"target_min_ml"`
	TargetMaxMl    int     `json:"target_max_ml"`
	TargetAchieved bool    `json:"target_achieved"`
	Message        string  `json:"message"`
}

// EvaluateHydration scores water against the 2500 ml minimum, capped at 100
// and rounded to one decimal.
func EvaluateHydration(waterMl int) Hydration {
	score := math.Min(100, float64(waterMl)/HydrationTargetMinMl*100)
	h := Hydration{
		WaterMl:        waterMl,
		Score:          math.Round(score*10) / 10,
		TargetMinMl:    HydrationTargetMinMl,
		TargetMaxMl:    HydrationTargetMaxMl,
		TargetAchieved: waterMl >= HydrationTargetMinMl,
	}
	switch {
	case h.TargetAchieved:
		h.Message = "Hydration target achieved."
	case waterMl < hydrationRecoveryBelowMl:
		h.Message = "Recovery Mode: water intake below pace."
	default:
		h.Message = "Discipline Active: keep hydrating toward target."
	}
	return h
}

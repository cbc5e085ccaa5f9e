package agent

import (
	"sort"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	stressRestingHR  = 85.0
	stressSleepHours = 6.0

	VitalsFlagNormal = "Normal"
	VitalsFlagStress = "Metabolic Stress Rising"
)

type VitalsRisk struct {
	MetabolicStressRising bool   `json:"metabolic_stress_rising"`
	Flag                  string `json:"flag"`
}

// AssessVitals flags metabolic stress when the latest reading has a resting
// HR above 85 and under 6h of sleep while the last three waist readings
// rise strictly. Missing HR counts as low and missing sleep as plenty.
func AssessVitals(entries []storage.VitalsSnapshot) VitalsRisk {
	risk := VitalsRisk{Flag: VitalsFlagNormal}
	if len(entries) == 0 {
		return risk
	}
	sorted := append([]storage.VitalsSnapshot(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordedAt.Before(sorted[j].RecordedAt) })

	latest := sorted[len(sorted)-1]
	highHR := latest.RestingHR != nil && *latest.RestingHR > stressRestingHR
	lowSleep := latest.SleepHours != nil && *latest.SleepHours < stressSleepHours

	waistUp := false
	if n := len(sorted); n >= 3 {
		a, b, c := sorted[n-3].WaistCm, sorted[n-2].WaistCm, sorted[n-1].WaistCm
		waistUp = a != nil && b != nil && c != nil && *a < *b && *b < *c
	}

	if highHR && lowSleep && waistUp {
		risk.MetabolicStressRising = true
		risk.Flag = VitalsFlagStress
	}
	return risk
}

const (
	TrendUnknown    = "unknown"
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"

	waistStableCm   = 0.1
	insulinStable   = 0.5
	carbStableGrams = 2.0
)

// trendOf labels a week-over-week change; |delta| within stable is flat.
func trendOf(recent, prior *float64, stable float64) string {
	if recent == nil || prior == nil {
		return TrendUnknown
	}
	switch delta := *recent - *prior; {
	case delta > stable:
		return TrendIncreasing
	case delta < -stable:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// carbPattern returns the mean daily carbs over the span and how many of
// those days went above the ceiling.
func (h *history) carbPattern(sp span, ceiling float64) (*float64, int) {
	sum, n, over := 0.0, 0, 0
	for _, a := range h.aggregates {
		if !sp.has(a.Date) {
			continue
		}
		sum += a.Totals.CarbsG
		n++
		if a.Totals.CarbsG > ceiling {
			over++
		}
	}
	if n == 0 {
		return nil, 0
	}
	return round2Ptr(sum / float64(n)), over
}

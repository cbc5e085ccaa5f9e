// Package insulin implements the deterministic insulin load model.
//
// All functions are pure. Negative numeric inputs are treated as zero.
package insulin

import "math"

const (
	carbWeight       = 1.0
	oilWeight        = 0.5
	fruitSugarWeight = 0.8
	proteinWeight    = 0.3
	nutFatWeight     = 0.2
	walkBonusWeight  = 10.0

	MinScore = 0.0
	MaxScore = 100.0
)

type Band string

const (
	BandGreen  Band = "green"
	BandYellow Band = "yellow"
	BandRed    Band = "red"
)

// Inputs are the day totals fed into Score.
type Inputs struct {
	CarbsG             float64
	HiddenOilTsp       float64
	ProteinG           float64
	WalkBonus          float64
	FruitSugarG        float64
	NutHealthyFatScore float64
}

// Result holds the bounded score and the raw weighted sum.
type Result struct {
	Normalized float64
	Raw        float64
}

// Score computes the insulin load for a day.
func Score(in Inputs) Result {
	carbs := clampNonNegative(in.CarbsG)
	oil := clampNonNegative(in.HiddenOilTsp)
	protein := clampNonNegative(in.ProteinG)
	walk := clampNonNegative(in.WalkBonus)
	fruit := clampNonNegative(in.FruitSugarG)
	nut := clampNonNegative(in.NutHealthyFatScore)

	raw := carbs*carbWeight +
		oil*oilWeight +
		fruit*fruitSugarWeight -
		protein*proteinWeight -
		nut*nutFatWeight -
		walk*walkBonusWeight

	raw = Round2(raw)
	return Result{Normalized: Clamp(raw), Raw: raw}
}

// Classify maps a normalized score to a band. Ties go to the lower band.
func Classify(normalized, greenThreshold, yellowThreshold float64) Band {
	switch {
	case normalized <= greenThreshold:
		return BandGreen
	case normalized <= yellowThreshold:
		return BandYellow
	default:
		return BandRed
	}
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(v float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, v))
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampNonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// Package compliance evaluates a day's nutrition and exercise against the
// user's profile and produces the insulin load verdict.
package compliance

import (
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/daywindow"
	"github.com/fdg312/metabolic-hub/internal/exercise"
	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	ReductionBonusPerMeal = 1.25

	FoodGroupFruit  = "fruit"
	FoodGroupNut    = "nut"
	FoodGroupStaple = "staple"
)

// Day is an aggregate with the meals that built it.
type Day struct {
	Aggregate storage.DailyAggregate
	Meals     []storage.MealEntry
}

type Checks struct {
	ProteinOK bool `json:"protein_ok"`
	CarbsOK   bool `json:"carbs_ok"`
	OilOK     bool `json:"oil_ok"`
	StapleOK  bool `json:"staple_ok"`
}

type DailyStatus struct {
	Date           string                `json:"date"`
	Totals         storage.MacroTotals   `json:"totals"`
	WalkBonus      float64               `json:"walk_bonus"`
	ReductionBonus float64               `json:"reduction_bonus"`
	TotalBonus     float64               `json:"total_bonus"`
	FruitSugarG    float64               `json:"fruit_sugar_g"`
	NutFatScore    float64               `json:"nut_fat_score"`
	StapleUnits    float64               `json:"staple_units"`
	Score          float64               `json:"score"`
	RawScore       float64               `json:"raw_score"`
	Band           insulin.Band          `json:"band"`
	Checks         Checks                `json:"checks"`
	Compliant      bool                  `json:"compliant"`
	Hydration      Hydration             `json:"hydration"`
	Dinner         *insulin.DinnerImpact `json:"dinner,omitempty"`
}

// Failed names the checks that did not pass, in a fixed order.
func (c Checks) Failed() []string {
	var out []string
	if !c.ProteinOK {
		out = append(out, "protein")
	}
	if !c.CarbsOK {
		out = append(out, "carbs")
	}
	if !c.OilOK {
		out = append(out, "oil")
	}
	if !c.StapleOK {
		out = append(out, "staple")
	}
	return out
}

// EvaluateDailyStatus is pure: the same inputs always give the same status.
func EvaluateDailyStatus(day Day, exercises []storage.ExerciseEvent, profile storage.MetabolicProfile) DailyStatus {
	totals := day.Aggregate.Totals
	walkBonus := exercise.WalkBonus(exercises)
	reduction := reductionBonus(day.Meals, exercises)

	var fruitSugar, nutFat, staple float64
	for _, m := range day.Meals {
		switch m.FoodGroup {
		case FoodGroupFruit:
			fruitSugar += m.Macros.SugarG
		case FoodGroupNut:
			nutFat += m.HealthyFatScore
		}
		staple += m.StapleUnits
	}

	total := walkBonus + reduction
	res := insulin.Score(insulin.Inputs{
		CarbsG:             totals.CarbsG,
		HiddenOilTsp:       totals.HiddenOilTsp,
		ProteinG:           totals.ProteinG,
		WalkBonus:          total,
		FruitSugarG:        fruitSugar,
		NutHealthyFatScore: nutFat,
	})

	status := DailyStatus{
		Date:           day.Aggregate.Date,
		Totals:         totals,
		WalkBonus:      walkBonus,
		ReductionBonus: reduction,
		TotalBonus:     total,
		FruitSugarG:    insulin.Round2(fruitSugar),
		NutFatScore:    insulin.Round2(nutFat),
		StapleUnits:    staple,
		Score:          res.Normalized,
		RawScore:       res.Raw,
		Band:           insulin.Classify(res.Normalized, profile.GreenThreshold, profile.YellowThreshold),
		Checks: Checks{
			ProteinOK: totals.ProteinG >= profile.ProteinTargetMin,
			CarbsOK:   totals.CarbsG <= profile.CarbCeiling,
			OilOK:     totals.HiddenOilTsp <= profile.OilLimitTsp,
			StapleOK:  profile.MaxStapleUnits <= 0 || staple <= profile.MaxStapleUnits,
		},
		Hydration: EvaluateHydration(day.Aggregate.WaterMl),
	}
	status.Compliant = len(status.Checks.Failed()) == 0

	if d := day.Aggregate.Dinner; d != nil {
		impact := insulin.AdjustDinner(insulin.Dinner{
			CarbsG:   d.CarbsG,
			ProteinG: d.ProteinG,
			LoggedAt: d.LoggedAt.In(profile.Location()),
			Mode:     d.Mode,
		})
		status.Dinner = &impact
	}

	return status
}

// reductionBonus credits each meal at most once for a walk within an hour.
func reductionBonus(meals []storage.MealEntry, events []storage.ExerciseEvent) float64 {
	bonus := 0.0
	for _, m := range meals {
		if exercise.WalkAfter(events, m.ConsumedAt) {
			bonus += ReductionBonusPerMeal
		}
	}
	return bonus
}

// FastingWindow returns the profile's fasting window.
func FastingWindow(profile storage.MetabolicProfile) daywindow.Window {
	return daywindow.New(profile.FastingStartMinutes, profile.FastingEndMinutes)
}

// InFastingWindow evaluates t in the profile's time zone.
func InFastingWindow(profile storage.MetabolicProfile, t time.Time) bool {
	return FastingWindow(profile).Contains(t.In(profile.Location()))
}

// CheckMealTime rejects a meal consumed inside the fasting window.
func CheckMealTime(profile storage.MetabolicProfile, consumedAt time.Time) error {
	if !InFastingWindow(profile, consumedAt) {
		return nil
	}
	return &RejectionError{Violations: []Violation{fastingViolation(profile, consumedAt)}}
}

// Precheck evaluates a candidate meal against the day without logging it.
// It returns nil when the meal passes every rule.
func Precheck(profile storage.MetabolicProfile, agg storage.DailyAggregate, candidate storage.MacroTotals, consumedAt time.Time) error {
	var violations []Violation
	if InFastingWindow(profile, consumedAt) {
		violations = append(violations, fastingViolation(profile, consumedAt))
	}

	projectedCarbs := agg.Totals.CarbsG + candidate.CarbsG
	if projectedCarbs > profile.CarbCeiling {
		violations = append(violations, Violation{
			Rule:    RuleCarbCeiling,
			Message: fmt.Sprintf("projected carbs %.1fg exceed ceiling %.1fg", projectedCarbs, profile.CarbCeiling),
			Limit:   profile.CarbCeiling,
			Actual:  insulin.Round2(projectedCarbs),
		})
	}

	projectedOil := agg.Totals.HiddenOilTsp + candidate.HiddenOilTsp
	if projectedOil > profile.OilLimitTsp {
		violations = append(violations, Violation{
			Rule:    RuleOilLimit,
			Message: fmt.Sprintf("projected hidden oil %.1ftsp exceeds limit %.1ftsp", projectedOil, profile.OilLimitTsp),
			Limit:   profile.OilLimitTsp,
			Actual:  insulin.Round2(projectedOil),
		})
	}

	if len(violations) == 0 {
		return nil
	}
	return &RejectionError{Violations: violations}
}

func fastingViolation(profile storage.MetabolicProfile, consumedAt time.Time) Violation {
	local := consumedAt.In(profile.Location())
	return Violation{
		Rule: RuleFastingWindow,
		Message: fmt.Sprintf("meal at %s is inside fasting window %s",
			local.Format("15:04"), FastingWindow(profile).String()),
	}
}

package copilot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrUnknownAction = errors.New("unknown copilot action")
	ErrInvalidAction = errors.New("invalid copilot action")
)

const (
	KindLogMeal     = "log_meal"
	KindLogWater    = "log_water"
	KindLogExercise = "log_exercise"
	KindLogVitals   = "log_vitals"
	KindLogHabit    = "log_habit"
)

// Action is one decoded copilot action. The concrete type is one of
// *MealAction, *WaterAction, *ExerciseAction, *VitalsAction, *HabitAction.
type Action interface {
	Kind() string
	validate() error
}

type EstimatedMacros struct {
	Protein   float64 `json:"protein"`
	Carbs     float64 `json:"carbs"`
	Fats      float64 `json:"fats"`
	HiddenOil float64 `json:"hidden_oil"`
}

type MealAction struct {
	Action          string           `json:"action"`
	Items           []string         `json:"items"`
	EstimatedMacros *EstimatedMacros `json:"estimated_macros,omitempty"`
	Confidence      float64          `json:"confidence"`
	ConsumedAt      *time.Time       `json:"consumed_at,omitempty"`
	IsDinner        bool             `json:"is_dinner,omitempty"`
}

type WaterAction struct {
	Action string     `json:"action"`
	Ml     int        `json:"ml"`
	At     *time.Time `json:"at,omitempty"`
}

type ExerciseAction struct {
	Action          string     `json:"action"`
	ActivityType    string     `json:"activity_type"`
	MovementType    string     `json:"movement_type,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	PostMealWalk    bool       `json:"post_meal_walk,omitempty"`
	Reps            int        `json:"reps,omitempty"`
	Sets            int        `json:"sets,omitempty"`
	PullUps         int        `json:"pull_ups,omitempty"`
	DeadHangSeconds int        `json:"dead_hang_seconds,omitempty"`
	PerformedAt     *time.Time `json:"performed_at,omitempty"`
}

type VitalsAction struct {
	Action         string     `json:"action"`
	WeightKg       *float64   `json:"weight_kg,omitempty"`
	WaistCm        *float64   `json:"waist_cm,omitempty"`
	HDL            *float64   `json:"hdl,omitempty"`
	RestingHR      *float64   `json:"resting_hr,omitempty"`
	SleepHours     *float64   `json:"sleep_hours,omitempty"`
	FastingGlucose *float64   `json:"fasting_glucose,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
}

type HabitAction struct {
	Action  string `json:"action"`
	Code    string `json:"code"`
	Date    string `json:"date,omitempty"`
	Success bool   `json:"success"`
}

func (*MealAction) Kind() string     { return KindLogMeal }
func (*WaterAction) Kind() string    { return KindLogWater }
func (*ExerciseAction) Kind() string { return KindLogExercise }
func (*VitalsAction) Kind() string   { return KindLogVitals }
func (*HabitAction) Kind() string    { return KindLogHabit }

var foodNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9\s\-]`)

func (a *MealAction) validate() error {
	items := make([]string, 0, len(a.Items))
	for _, item := range a.Items {
		if name := normalizeFoodName(item); name != "" {
			items = append(items, name)
		}
	}
	if len(items) == 0 {
		return errors.New("meal needs at least one item")
	}
	a.Items = items
	if a.Confidence < 0 || a.Confidence > 1 {
		return errors.New("confidence must be within 0..1")
	}
	if m := a.EstimatedMacros; m != nil && (m.Protein < 0 || m.Carbs < 0 || m.Fats < 0 || m.HiddenOil < 0) {
		return errors.New("estimated macros must be non-negative")
	}
	return nil
}

func (a *WaterAction) validate() error {
	if a.Ml <= 0 {
		return errors.New("ml must be positive")
	}
	return nil
}

func (a *ExerciseAction) validate() error {
	if strings.TrimSpace(a.ActivityType) == "" && strings.TrimSpace(a.MovementType) == "" {
		return errors.New("activity_type is required")
	}
	if a.DurationMinutes < 0 || a.Reps < 0 || a.Sets < 0 || a.PullUps < 0 || a.DeadHangSeconds < 0 {
		return errors.New("counts must be non-negative")
	}
	return nil
}

func (a *VitalsAction) validate() error {
	if a.WeightKg == nil && a.WaistCm == nil && a.HDL == nil && a.RestingHR == nil &&
		a.SleepHours == nil && a.FastingGlucose == nil {
		return errors.New("at least one vital is required")
	}
	return nil
}

func (a *HabitAction) validate() error {
	if strings.TrimSpace(a.Code) == "" {
		return errors.New("code is required")
	}
	return nil
}

// DecodeAction reads {"action": "...", ...} into the matching variant.
// Unknown actions and unknown fields are rejected.
func DecodeAction(data []byte) (Action, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	var action Action
	switch head.Action {
	case KindLogMeal:
		action = &MealAction{}
	case KindLogWater:
		action = &WaterAction{}
	case KindLogExercise:
		action = &ExerciseAction{}
	case KindLogVitals:
		action = &VitalsAction{}
	case KindLogHabit:
		action = &HabitAction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, head.Action)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(action); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if err := action.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return action, nil
}

func normalizeFoodName(v string) string {
	cleaned := strings.ToLower(strings.TrimSpace(foodNameCleaner.ReplaceAllString(v, "")))
	if len(cleaned) > 120 {
		cleaned = cleaned[:120]
	}
	return cleaned
}

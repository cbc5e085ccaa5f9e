package compliance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFastingViolation    = errors.New("fasting violation")
	ErrCarbCeilingExceeded = errors.New("carb ceiling exceeded")
	ErrOilLimitExceeded    = errors.New("hidden oil limit exceeded")
)

const (
	RuleFastingWindow = "fasting_window"
	RuleCarbCeiling   = "carb_ceiling"
	RuleOilLimit      = "oil_limit"
)

// Violation names the rule a meal broke and the numbers involved.
type Violation struct {
	Rule    string  `json:"rule"`
	Message string  `json:"message"`
	Limit   float64 `json:"limit,omitempty"`
	Actual  float64 `json:"actual,omitempty"`
}

func (v Violation) sentinel() error {
	switch v.Rule {
	case RuleFastingWindow:
		return ErrFastingViolation
	case RuleCarbCeiling:
		return ErrCarbCeilingExceeded
	case RuleOilLimit:
		return ErrOilLimitExceeded
	default:
		return nil
	}
}

// RejectionError carries every violated rule. errors.Is matches each
// rule's sentinel.
type RejectionError struct {
	Violations []Violation
}

func (e *RejectionError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Rule+": "+v.Message)
	}
	return fmt.Sprintf("meal rejected: %s", strings.Join(parts, "; "))
}

func (e *RejectionError) Is(target error) bool {
	for _, v := range e.Violations {
		if s := v.sentinel(); s != nil && s == target {
			return true
		}
	}
	return false
}

// Rules lists the violated rule names.
func (e *RejectionError) Rules() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Rule)
	}
	return out
}

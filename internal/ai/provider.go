package ai

import (
	"context"
	"errors"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	SourceEstimator = "estimator"
	SourceFallback  = "fallback"
	SourcePhoto     = "photo"
)

var (
	// ErrEmptyRequest is returned when neither text nor image is given.
	ErrEmptyRequest = errors.New("estimate request has no text or image")
	// ErrQuotaExceeded means the per-user LLM budget is spent.
	ErrQuotaExceeded = errors.New("ai quota exceeded")
)

// Estimator turns a free-text or photo meal description into macros.
type Estimator interface {
	EstimateMacros(ctx context.Context, req EstimateRequest) (Estimate, error)
}

// Narrator paraphrases agent evidence into one or two sentences.
type Narrator interface {
	Narrate(ctx context.Context, req NarrateRequest) (string, error)
}

type EstimateRequest struct {
	UserID    string
	Text      string
	Image     []byte
	ImageMIME string
}

func (r EstimateRequest) isEmpty() bool {
	return len(r.Image) == 0 && trimmed(r.Text) == ""
}

type EstimateItem struct {
	Name            string              `json:"name"`
	FoodGroup       string              `json:"food_group"`
	Quantity        float64             `json:"quantity"`
	Macros          storage.MacroTotals `json:"macros"`
	HealthyFatScore float64             `json:"healthy_fat_score"`
	StapleUnits     float64             `json:"staple_units"`
}

// Estimate is the estimator result; Totals sums Items.
type Estimate struct {
	Items           []EstimateItem
	Totals          storage.MacroTotals
	HealthyFatScore float64
	StapleUnits     float64
	FoodGroup       string
	Confidence      float64
	Source          string
}

type NarrateRequest struct {
	UserID   string
	Type     string
	Title    string
	Summary  string
	Evidence []byte // JSON
}

func summarize(items []EstimateItem) Estimate {
	est := Estimate{Items: items}
	group := ""
	for i, it := range items {
		est.Totals.ProteinG += it.Macros.ProteinG
		est.Totals.CarbsG += it.Macros.CarbsG
		est.Totals.FatsG += it.Macros.FatsG
		est.Totals.SugarG += it.Macros.SugarG
		est.Totals.FiberG += it.Macros.FiberG
		est.Totals.HiddenOilTsp += it.Macros.HiddenOilTsp
		est.HealthyFatScore += it.HealthyFatScore
		est.StapleUnits += it.StapleUnits
		switch {
		case i == 0:
			group = it.FoodGroup
		case group != it.FoodGroup:
			group = "other"
		}
	}
	if group == "" {
		group = "other"
	}
	est.FoodGroup = group
	return est
}

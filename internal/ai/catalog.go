package ai

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

// CatalogEstimator matches catalog names in the text. It never calls out and
// is the fallback for every other estimator.
type CatalogEstimator struct {
	catalog storage.FoodCatalogStorage
}

func NewCatalogEstimator(catalog storage.FoodCatalogStorage) *CatalogEstimator {
	return &CatalogEstimator{catalog: catalog}
}

func (e *CatalogEstimator) EstimateMacros(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if req.isEmpty() {
		return Estimate{}, ErrEmptyRequest
	}

	foods, err := e.catalog.ListFoodItems(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("list food catalog: %w", err)
	}
	// longer names first so "brown rice" wins over "rice"
	sort.SliceStable(foods, func(i, j int) bool { return len(foods[i].Name) > len(foods[j].Name) })

	tokens := tokenize(req.Text)
	used := make([]bool, len(tokens))
	items := make([]EstimateItem, 0, 4)

	for _, food := range foods {
		nameTokens := tokenize(food.Name)
		if len(nameTokens) == 0 {
			continue
		}
		for i := 0; i+len(nameTokens) <= len(tokens); i++ {
			if !matchAt(tokens, used, i, nameTokens) {
				continue
			}
			qty := 1.0
			if i > 0 && !used[i-1] {
				if q, ok := parseQuantity(tokens[i-1]); ok {
					qty = q
					used[i-1] = true
				}
			}
			for k := range nameTokens {
				used[i+k] = true
			}
			items = append(items, scaleItem(food, qty))
		}
	}

	est := summarize(items)
	est.Source = SourceFallback
	switch {
	case len(items) == 0:
		est.Confidence = 0
	case allUsed(tokens, used):
		est.Confidence = 0.6
	default:
		est.Confidence = 0.4
	}
	return est, nil
}

func scaleItem(food storage.FoodItem, qty float64) EstimateItem {
	m := food.Macros
	return EstimateItem{
		Name:      food.Name,
		FoodGroup: food.FoodGroup,
		Quantity:  qty,
		Macros: storage.MacroTotals{
			ProteinG:     m.ProteinG * qty,
			CarbsG:       m.CarbsG * qty,
			FatsG:        m.FatsG * qty,
			SugarG:       m.SugarG * qty,
			FiberG:       m.FiberG * qty,
			HiddenOilTsp: m.HiddenOilTsp * qty,
		},
		HealthyFatScore: food.HealthyFatScore * qty,
		StapleUnits:     food.StapleUnits * qty,
	}
}

func matchAt(tokens []string, used []bool, at int, name []string) bool {
	for k, nt := range name {
		if used[at+k] || singular(tokens[at+k]) != singular(nt) {
			return false
		}
	}
	return true
}

func allUsed(tokens []string, used []bool) bool {
	for i, t := range tokens {
		if !used[i] && !fillerWords[t] {
			return false
		}
	}
	return true
}

var fillerWords = map[string]bool{
	"and": true, "with": true, "of": true, "a": true, "an": true, "some": true, "bowl": true, "plate": true, "cup": true,
}

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "half": 0.5,
}

func parseQuantity(tok string) (float64, bool) {
	if v, ok := numberWords[tok]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || v <= 0 || v > 20 {
		return 0, false
	}
	return v, true
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r > 127)
	})
}

func singular(s string) string {
	if len(s) > 3 && strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		return strings.TrimSuffix(s, "s")
	}
	return s
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

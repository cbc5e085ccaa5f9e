package agent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/ai"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"go.uber.org/zap"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// narrate fills Narrative on each recommendation. A narrator failure or a
// narrative that fails the number check leaves it empty.
func (s *Service) narrate(ctx context.Context, recs []storage.PendingRecommendation) {
	if s.narrator == nil {
		return
	}
	for i := range recs {
		rec := &recs[i]
		text, err := s.narrator.Narrate(ctx, ai.NarrateRequest{
			UserID:   rec.UserID,
			Type:     rec.Type,
			Title:    rec.Title,
			Summary:  rec.Summary,
			Evidence: rec.DataUsed,
		})
		if err != nil {
			s.logger.Warn("narrate recommendation", zap.String("type", rec.Type), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if !groundedNarrative(text, string(rec.DataUsed), rec.Title, rec.Summary, rec.ThresholdTriggered, rec.HistoricalComparison) {
			s.logger.Warn("narrative rejected: numbers not in evidence", zap.String("type", rec.Type))
			continue
		}
		rec.Narrative = text
	}
}

// groundedNarrative reports whether every number in text appears in one of
// the evidence strings. Numbers compare by value, so 80 matches 80.0.
func groundedNarrative(text string, evidence ...string) bool {
	allowed := make(map[float64]struct{})
	for _, e := range evidence {
		for _, n := range numberPattern.FindAllString(e, -1) {
			if v, err := strconv.ParseFloat(n, 64); err == nil {
				allowed[v] = struct{}{}
			}
		}
	}
	for _, n := range numberPattern.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return false
		}
		if _, ok := allowed[v]; !ok {
			return false
		}
	}
	return true
}

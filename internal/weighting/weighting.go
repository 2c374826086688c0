// Package weighting derives a rule-based report confidence from source tiers and contradictions.
package weighting

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/DeafMist/intel-radar/backend/internal/models"
)

const (
	// EmptyConfidence is returned when there are no documents at all.
	EmptyConfidence = 0.3

	MinConfidence = 0.1
	MaxConfidence = 0.95

	penaltyPerContradiction = 0.15
	maxPenalizedContradicts = 5
)

// Weigh computes the weighted confidence. It makes no external calls.
// Extractions are accepted for parity with the other stages and do not affect the score.
func Weigh(docs []models.ProcessedDocument, _ []models.Extraction, contradictions []models.Contradiction) models.WeightingResult {
	if len(docs) == 0 {
		return models.WeightingResult{
			WeightedConfidence: EmptyConfidence,
			SourceSummary:      "No sources",
			TierBreakdown:      map[int]int{},
		}
	}

	breakdown := make(map[int]int)
	total := 0
	for _, doc := range docs {
		breakdown[doc.SourceTier]++
		total += doc.SourceTier
	}

	avgTier := float64(total) / float64(len(docs))
	base := 0.3 + 0.6*(avgTier-1)/2
	penalty := penaltyPerContradiction * float64(min(len(contradictions), maxPenalizedContradicts))

	return models.WeightingResult{
		WeightedConfidence: Round2(Clamp(base - penalty)),
		SourceSummary:      summary(len(docs), breakdown, len(contradictions)),
		TierBreakdown:      breakdown,
	}
}

// Clamp bounds a confidence to [MinConfidence, MaxConfidence]. NaN maps to MinConfidence.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinConfidence
	}
	return math.Max(MinConfidence, math.Min(MaxConfidence, v))
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func summary(n int, breakdown map[int]int, contradictions int) string {
	tiers := make([]int, 0, len(breakdown))
	for tier := range breakdown {
		tiers = append(tiers, tier)
	}
	sort.Ints(tiers)

	parts := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		parts = append(parts, fmt.Sprintf("%d=%d", tier, breakdown[tier]))
	}
	return fmt.Sprintf("%d sources (tiers: %s); %d contradictions.", n, strings.Join(parts, ", "), contradictions)
}

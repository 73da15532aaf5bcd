package services

import (
	"math"

	"listing_dedup/models"
)

// Signals are the sub-scores of one listing/candidate comparison, each in [0,100]
type Signals struct {
	Title     float64
	Price     float64
	Location  int
	Composite float64
}

// Verdict is the scorer's tagged result. Reason ReasonNone means the
// candidate did not qualify; Score is then 0.
type Verdict struct {
	Reason models.DuplicateReason
	Score  int
}

func (v Verdict) Duplicate() bool {
	return v.Reason != models.ReasonNone
}

// Diagnostic is the blend reported for candidates that do not qualify
func (s Signals) Diagnostic() float64 {
	return s.Title*0.5 + s.Price*0.3
}

func measure(probe *models.ListingProbe, c *models.Candidate, tolerance float64) Signals {
	s := Signals{
		Title:    clamp(c.Similarity*100, 0, 100),
		Price:    priceScore(probe.PriceValue, c.PriceValue, tolerance),
		Location: locationScore(probe, c),
	}
	s.Composite = s.Title*0.5 + s.Price*0.3 + float64(s.Location)*0.2
	return s
}

// priceScore is 100 minus twice the percent difference, relative to the
// checked price, when that difference is within tolerance
func priceScore(query, candidate *float64, tolerance float64) float64 {
	if query == nil || candidate == nil || *query <= 0 || *candidate <= 0 {
		return 0
	}
	diffPct := math.Abs(*query-*candidate) / *query * 100
	if diffPct > tolerance {
		return 0
	}
	return math.Max(0, 100-diffPct*2)
}

func locationScore(probe *models.ListingProbe, c *models.Candidate) int {
	score := 0
	if probe.City != nil && c.City != nil && *probe.City == *c.City {
		score += 30
	}
	if probe.District != nil && c.District != nil && *probe.District == *c.District {
		score += 70
	}
	return score
}

// decide applies the rules in priority order; the first match wins
func decide(s Signals) Verdict {
	switch {
	case s.Title >= 85:
		return Verdict{Reason: models.ReasonFuzzyTitle, Score: round(s.Title)}
	case s.Title >= 70 && s.Price >= 80 && s.Location >= 70:
		return Verdict{Reason: models.ReasonComposite, Score: round(s.Composite)}
	case s.Price >= 95 && s.Location == 100 && s.Title >= 50:
		return Verdict{Reason: models.ReasonPriceLocation, Score: round(s.Composite)}
	}
	return Verdict{Reason: models.ReasonNone}
}

func round(f float64) int {
	return int(math.Round(f))
}

func clamp(f, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, f))
}

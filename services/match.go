package services

import (
	"context"
	"fmt"
	"strings"

	"listing_dedup/models"
	"listing_dedup/storage"
)

// precedence limits a persisted probe to records that come before it in
// sweep order, so the oldest record of a cluster stays canonical
func precedence(probe *models.ListingProbe) (*storage.Cursor, bool) {
	if !probe.Persisted() {
		return nil, false
	}
	return &storage.Cursor{CrawledAt: probe.CrawledAt, ID: *probe.ID}, true
}

// exactMatch returns the earliest live record sharing the probe's source id
func (s *DedupService) exactMatch(ctx context.Context, probe *models.ListingProbe) (*models.CollectedListing, error) {
	if probe.SourceID == "" {
		return nil, nil
	}

	q := storage.ExactQuery{SourceID: probe.SourceID, Exclude: probe.ID}
	if cursor, ok := precedence(probe); ok {
		q.Before = cursor
	}

	match, err := s.store.FindBySourceID(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("exact match: %w", err)
	}
	return match, nil
}

// fuzzyCandidates runs the similarity-ranked candidate query
func (s *DedupService) fuzzyCandidates(ctx context.Context, probe *models.ListingProbe, opts Options) ([]models.Candidate, error) {
	if strings.TrimSpace(probe.Title) == "" || opts.TitleThreshold >= 1 {
		return nil, nil
	}

	q := storage.SimilarQuery{
		Title:     probe.Title,
		Threshold: opts.TitleThreshold,
		Limit:     opts.MaxCandidates,
		Exclude:   probe.ID,
	}
	if opts.SameCategory && probe.Category != "" {
		category := probe.Category
		q.Category = &category
	}
	if opts.SameTransactionType && probe.TransactionType != "" {
		tt := probe.TransactionType
		q.TransactionType = &tt
	}
	if opts.SameLocation {
		q.City = probe.City
		q.District = probe.District
	}
	if cursor, ok := precedence(probe); ok {
		q.Before = cursor
	}

	candidates, err := s.store.FindSimilar(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fuzzy match: %w", err)
	}
	return candidates, nil
}

// scoreCandidates walks candidates in rank order and returns the first
// qualifying verdict. When none qualifies the best diagnostic blend is
// returned instead.
func scoreCandidates(probe *models.ListingProbe, candidates []models.Candidate, opts Options) (*models.Candidate, Verdict, float64) {
	best := 0.0
	for i := range candidates {
		c := &candidates[i]
		signals := measure(probe, c, opts.PriceTolerance)
		if v := decide(signals); v.Duplicate() {
			return c, v, 0
		}
		if d := signals.Diagnostic(); d > best {
			best = d
		}
	}
	return nil, Verdict{Reason: models.ReasonNone}, best
}

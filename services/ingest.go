package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"listing_dedup/identity"
	"listing_dedup/models"
)

// IngestResult contains the outcome of ingesting one raw listing
type IngestResult struct {
	Listing *models.CollectedListing `json:"listing"`
	Check   *models.CheckResult      `json:"check,omitempty"`
	Marked  bool                     `json:"marked"`
}

// Ingest stores a raw crawler record as a pending listing and, when check is
// set, runs the single duplicate check right away and marks the record if
// it is a re-appearance.
func (s *DedupService) Ingest(ctx context.Context, raw *models.RawListing, check bool) (*IngestResult, error) {
	l, err := buildListing(raw)
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertListing(ctx, l); err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	result := &IngestResult{Listing: l}
	if !check {
		return result, nil
	}

	res, err := s.CheckDuplicate(ctx, l.Probe(), nil)
	if err != nil {
		return result, fmt.Errorf("check %s: %w", l.ID, err)
	}
	result.Check = res
	if !res.IsDuplicate {
		return result, nil
	}

	err = s.MarkAsDuplicate(ctx, l.ID, *res.DuplicateOf, float64(res.Score), res.Reason)
	switch {
	case err == nil:
		result.Marked = true
		if updated, err := s.store.GetListing(ctx, l.ID); err == nil && updated != nil {
			result.Listing = updated
		}
	case errors.Is(err, ErrDuplicateChain), errors.Is(err, ErrNotFound):
		// left pending; the next sweep re-evaluates it
		log.Printf("Warning: could not link %s to %s: %v", l.ID, res.DuplicateOf, err)
	default:
		return result, fmt.Errorf("mark %s: %w", l.ID, err)
	}
	return result, nil
}

func buildListing(raw *models.RawListing) (*models.CollectedListing, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty record", ErrInvalidInput)
	}
	title := identity.SanitizeTitle(raw.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	sourceID := strings.TrimSpace(raw.SourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("%w: sourceId is required", ErrInvalidInput)
	}
	if !raw.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, raw.Category)
	}
	if !raw.TransactionType.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, raw.TransactionType)
	}

	l := &models.CollectedListing{
		SourceID:        sourceID,
		SourceURL:       raw.SourceURL,
		Title:           title,
		PriceValue:      raw.PriceValue,
		City:            raw.City,
		District:        raw.District,
		Neighborhood:    raw.Neighborhood,
		Category:        raw.Category,
		TransactionType: raw.TransactionType,
		Status:          models.StatusPending,
	}
	if p := strings.TrimSpace(raw.Price); p != "" {
		l.Price = &p
		if l.PriceValue == nil {
			l.PriceValue = identity.ParsePrice(p)
		}
	}
	if loc := strings.TrimSpace(raw.Location); loc != "" {
		l.Location = &loc
		parsed := identity.SplitLocation(loc)
		if l.City == nil {
			l.City = parsed.City
		}
		if l.District == nil {
			l.District = parsed.District
		}
		if l.Neighborhood == nil {
			l.Neighborhood = parsed.Neighborhood
		}
	}
	if raw.CrawledAt != nil {
		l.CrawledAt = *raw.CrawledAt
	}
	return l, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"listing_dedup/metrics"
	"listing_dedup/models"
)

const progressEvery = 10

// ScanOptions configures one sweep
type ScanOptions struct {
	// Options overrides the service defaults when set
	Options *Options
	// Since restricts the sweep to records crawled on or after it
	Since  *time.Time
	DryRun bool
	// OnProgress is called every 10 records with the records attempted so
	// far and the duplicates found so far
	OnProgress func(processed, found int)
}

type outcome int

const (
	outcomeUnique outcome = iota
	outcomeDuplicate
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeDuplicate:
		return "duplicate"
	case outcomeSkipped:
		return "skipped"
	case outcomeFailed:
		return "failed"
	}
	return "unique"
}

// ScanForDuplicates sweeps every unresolved record oldest-first and links
// the duplicates it finds. Records are processed strictly one after the
// other so a record marked early in the sweep is no longer a candidate for
// later ones. Per-record store failures do not stop the sweep; they are
// returned in Failed. Cancelling ctx stops between records and returns the
// partial result together with ctx.Err().
func (s *DedupService) ScanForDuplicates(ctx context.Context, so ScanOptions) (*models.ScanResult, error) {
	opts, err := s.resolve(so.Options)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	listings, err := s.store.ListUnresolved(ctx, so.Since)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w", err)
	}

	result := &models.ScanResult{
		Total:      len(listings),
		Duplicates: []models.DuplicateFinding{},
		Failed:     []uuid.UUID{},
		Skipped:    []uuid.UUID{},
		DryRun:     so.DryRun,
	}

	for i := range listings {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		l := &listings[i]
		out, finding, err := s.sweepOne(ctx, l, opts, so.DryRun)
		if err != nil && ctx.Err() != nil {
			return result, ctx.Err()
		}
		metrics.SweepRecords.WithLabelValues(out.String()).Inc()

		switch out {
		case outcomeDuplicate:
			result.Scanned++
			result.DuplicatesFound++
			result.Duplicates = append(result.Duplicates, *finding)
		case outcomeSkipped:
			result.Scanned++
			result.Skipped = append(result.Skipped, l.ID)
		case outcomeFailed:
			result.Failed = append(result.Failed, l.ID)
		default:
			result.Scanned++
		}

		if so.OnProgress != nil && (i+1)%progressEvery == 0 {
			so.OnProgress(i+1, result.DuplicatesFound)
		}
	}

	return result, nil
}

func (s *DedupService) sweepOne(ctx context.Context, l *models.CollectedListing, opts Options, dryRun bool) (outcome, *models.DuplicateFinding, error) {
	check, err := s.check(ctx, l.Probe(), opts)
	if err != nil {
		log.Printf("Warning: check %s failed: %v", l.ID, err)
		return outcomeFailed, nil, err
	}
	if !check.IsDuplicate {
		return outcomeUnique, nil, nil
	}

	finding := &models.DuplicateFinding{
		ID:          l.ID,
		SourceID:    l.SourceID,
		Title:       l.Title,
		DuplicateOf: *check.DuplicateOf,
		Score:       check.Score,
		Reason:      check.Reason,
	}
	if dryRun {
		return outcomeDuplicate, finding, nil
	}

	err = s.MarkAsDuplicate(ctx, l.ID, *check.DuplicateOf, float64(check.Score), check.Reason)
	switch {
	case err == nil:
		log.Printf("Marked %s as duplicate of %s (%s, score %d)", l.ID, finding.DuplicateOf, finding.Reason, finding.Score)
		return outcomeDuplicate, finding, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateChain):
		log.Printf("Skipping %s: %v", l.ID, err)
		return outcomeSkipped, nil, nil
	default:
		log.Printf("Warning: mark %s failed: %v", l.ID, err)
		return outcomeFailed, nil, err
	}
}

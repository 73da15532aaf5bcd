package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"listing_dedup/metrics"
	"listing_dedup/models"
	"listing_dedup/storage"
)

var (
	// ErrInvalidInput is returned before any store access when a check
	// request or option set is unusable
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound         = storage.ErrNotFound
	ErrStoreUnavailable = storage.ErrStoreUnavailable
	ErrDuplicateChain   = storage.ErrDuplicateChain
)

// DedupService decides whether collected listings re-appear and links them
// to their canonical record
type DedupService struct {
	store   storage.Store
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
}

// NewDedupService creates a DedupService with default options for calls
// that do not pass their own
func NewDedupService(store storage.Store, opts Options) (*DedupService, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &DedupService{
		store: store,
		opts:  opts,
		now:   time.Now,
	}, nil
}

// SetScanRate throttles sweeps to perSecond records. 0 removes the limit.
func (s *DedupService) SetScanRate(perSecond float64) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (s *DedupService) Options() Options {
	return s.opts
}

func (s *DedupService) resolve(opts *Options) (Options, error) {
	if opts == nil {
		return s.opts, nil
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return *opts, nil
}

// CheckDuplicate checks one listing against the store. A nil opts uses the
// service defaults.
func (s *DedupService) CheckDuplicate(ctx context.Context, probe *models.ListingProbe, opts *Options) (*models.CheckResult, error) {
	if probe == nil || strings.TrimSpace(probe.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	o, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.check(ctx, probe, o)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ChecksTotal.WithLabelValues(string(result.Reason)).Inc()
	metrics.CheckDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// check runs exact-key then fuzzy matching without validating the title,
// so sweeps can evaluate stored records whose title is blank
func (s *DedupService) check(ctx context.Context, probe *models.ListingProbe, opts Options) (*models.CheckResult, error) {
	exact, err := s.exactMatch(ctx, probe)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		id := exact.ID
		return &models.CheckResult{
			IsDuplicate:    true,
			DuplicateOf:    &id,
			Score:          100,
			Reason:         models.ReasonExactID,
			MatchedListing: exact.Matched(),
		}, nil
	}

	candidates, err := s.fuzzyCandidates(ctx, probe, opts)
	if err != nil {
		return nil, err
	}

	match, verdict, diagnostic := scoreCandidates(probe, candidates, opts)
	if !verdict.Duplicate() {
		return &models.CheckResult{
			Score:         round(diagnostic),
			Reason:        models.ReasonNone,
			ComparedCount: len(candidates),
		}, nil
	}

	id := match.ID
	return &models.CheckResult{
		IsDuplicate:    true,
		DuplicateOf:    &id,
		Score:          verdict.Score,
		Reason:         verdict.Reason,
		MatchedListing: match.Matched(),
		ComparedCount:  len(candidates),
	}, nil
}

// MarkAsDuplicate links id to its canonical record. Records already linked
// to id move with it. A duplicate target or a self-link fails with
// ErrDuplicateChain, a vanished record with ErrNotFound.
func (s *DedupService) MarkAsDuplicate(ctx context.Context, id, duplicateOf uuid.UUID, score float64, reason models.DuplicateReason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidInput, reason)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: score %.2f out of range", ErrInvalidInput, score)
	}

	err := s.store.MarkDuplicate(ctx, storage.DuplicateMark{
		ID:          id,
		DuplicateOf: duplicateOf,
		Score:       score,
		Reason:      reason,
		ProcessedAt: s.now(),
	})
	if err != nil {
		return err
	}
	metrics.DuplicatesMarked.WithLabelValues(string(reason)).Inc()
	return nil
}

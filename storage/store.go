package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"listing_dedup/models"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps every driver-level query or update failure
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyExists is returned when inserting an id that is already stored
	ErrAlreadyExists = errors.New("already exists")
	// ErrDuplicateChain is returned when a link would point at a duplicate
	// or at the record itself
	ErrDuplicateChain = errors.New("duplicate chain")
)

// Cursor is a position in sweep order (crawled_at, then id)
type Cursor struct {
	CrawledAt time.Time
	ID        uuid.UUID
}

// ExactQuery looks up the earliest live record carrying a source id
type ExactQuery struct {
	SourceID string
	Exclude  *uuid.UUID
	Before   *Cursor
}

// SimilarQuery is the similarity-ranked candidate query. Nil filters are not
// applied; City and District let through candidates that lack the field.
type SimilarQuery struct {
	Title           string
	Threshold       float64
	Limit           int
	Category        *models.Category
	TransactionType *models.TransactionType
	City            *string
	District        *string
	Exclude         *uuid.UUID
	Before          *Cursor
}

// DuplicateMark is the payload of an atomic duplicate transition
type DuplicateMark struct {
	ID          uuid.UUID
	DuplicateOf uuid.UUID
	Score       float64
	Reason      models.DuplicateReason
	ProcessedAt time.Time
}

// Store is the candidate store both backends implement
type Store interface {
	InsertListing(ctx context.Context, l *models.CollectedListing) error
	GetListing(ctx context.Context, id uuid.UUID) (*models.CollectedListing, error)

	// FindBySourceID returns the earliest record with the source id whose
	// status is not duplicate, or nil
	FindBySourceID(ctx context.Context, q ExactQuery) (*models.CollectedListing, error)
	// FindSimilar returns live, unlinked records with similarity above the
	// threshold, ordered by similarity desc then sweep order
	FindSimilar(ctx context.Context, q SimilarQuery) ([]models.Candidate, error)
	// MarkDuplicate sets the duplicate linkage in one transaction. Records
	// already linked to m.ID are moved onto m.DuplicateOf.
	MarkDuplicate(ctx context.Context, m DuplicateMark) error
	// ListUnresolved returns records with status != duplicate and no
	// linkage, in sweep order
	ListUnresolved(ctx context.Context, since *time.Time) ([]models.CollectedListing, error)

	CountByStatus(ctx context.Context) (map[models.ListingStatus]int, error)
	CountByReason(ctx context.Context) (map[models.DuplicateReason]int, error)
	RecentDuplicates(ctx context.Context, limit int) ([]models.RecentDuplicate, error)

	// PurgeRejected deletes rejected records processed before the cutoff
	// that no duplicate points at
	PurgeRejected(ctx context.Context, before time.Time) (int64, error)

	CreateScanRun(ctx context.Context, run *models.ScanRun) error
	UpdateScanRun(ctx context.Context, run *models.ScanRun) error
	GetScanRun(ctx context.Context, id int64) (*models.ScanRun, error)

	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// prepareInsert fills store-assigned defaults and rejects duplicate
// fields that disagree with the status
func prepareInsert(l *models.CollectedListing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CrawledAt.IsZero() {
		l.CrawledAt = time.Now()
	}
	l.CrawledAt = l.CrawledAt.UTC().Truncate(time.Microsecond)
	if l.Status == "" {
		l.Status = models.StatusPending
	}
	if !l.Status.Valid() {
		return fmt.Errorf("insert listing: invalid status %q", l.Status)
	}
	if !l.Category.Valid() {
		return fmt.Errorf("insert listing: invalid category %q", l.Category)
	}
	if !l.TransactionType.Valid() {
		return fmt.Errorf("insert listing: invalid transaction type %q", l.TransactionType)
	}

	linked := l.DuplicateOf != nil || l.DuplicateScore != nil || l.DuplicateReason != nil
	if l.Status == models.StatusDuplicate {
		if l.DuplicateOf == nil || l.DuplicateScore == nil || l.DuplicateReason == nil {
			return errors.New("insert listing: duplicate status needs duplicateOf, score and reason")
		}
		if !l.DuplicateReason.Valid() {
			return fmt.Errorf("insert listing: invalid duplicate reason %q", *l.DuplicateReason)
		}
		if *l.DuplicateOf == l.ID {
			return fmt.Errorf("insert listing: %w: cannot link a listing to itself", ErrDuplicateChain)
		}
	} else if linked {
		return fmt.Errorf("insert listing: duplicate fields set on a %s listing", l.Status)
	}
	return nil
}

// checkMark rejects links that can be refused without touching the store
func checkMark(m DuplicateMark) error {
	if m.ID == m.DuplicateOf {
		return fmt.Errorf("mark %s: %w: cannot link a listing to itself", m.ID, ErrDuplicateChain)
	}
	if !m.Reason.Valid() {
		return fmt.Errorf("mark %s: invalid reason %q", m.ID, m.Reason)
	}
	if m.Score < 0 || m.Score > 100 {
		return fmt.Errorf("mark %s: score %.2f out of range", m.ID, m.Score)
	}
	return nil
}

// checkMarkTarget rejects a mark whose record is gone or whose target is
// missing or itself a duplicate
func checkMarkTarget(m DuplicateMark, recordExists bool, target *models.ListingStatus) error {
	switch {
	case !recordExists:
		return fmt.Errorf("mark %s: %w", m.ID, ErrNotFound)
	case target == nil:
		return fmt.Errorf("mark %s: target %s: %w", m.ID, m.DuplicateOf, ErrNotFound)
	case *target == models.StatusDuplicate:
		return fmt.Errorf("mark %s: %w: target %s is itself a duplicate", m.ID, ErrDuplicateChain, m.DuplicateOf)
	}
	return nil
}

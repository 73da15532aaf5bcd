package models

import (
	"time"

	"github.com/google/uuid"
)

// DuplicateReason tags which rule produced a verdict. ReasonNone is the
// not-duplicate variant and is never persisted.
type DuplicateReason string

const (
	ReasonNone          DuplicateReason = "none"
	ReasonExactID       DuplicateReason = "exact_id"
	ReasonFuzzyTitle    DuplicateReason = "fuzzy_title"
	ReasonComposite     DuplicateReason = "composite"
	ReasonPriceLocation DuplicateReason = "price_location"
)

// Valid reports whether r may be stored on a duplicate record
func (r DuplicateReason) Valid() bool {
	switch r {
	case ReasonExactID, ReasonFuzzyTitle, ReasonComposite, ReasonPriceLocation:
		return true
	}
	return false
}

// AllReasons lists persisted reasons in reporting order
var AllReasons = []DuplicateReason{ReasonExactID, ReasonFuzzyTitle, ReasonComposite, ReasonPriceLocation}

// CheckResult is the outcome of checking one listing
type CheckResult struct {
	IsDuplicate    bool            `json:"isDuplicate"`
	DuplicateOf    *uuid.UUID      `json:"duplicateOf,omitempty"`
	Score          int             `json:"score"`
	Reason         DuplicateReason `json:"reason"`
	MatchedListing *MatchedListing `json:"matchedListing,omitempty"`
	ComparedCount  int             `json:"comparedCount"`
}

// DuplicateFinding is one duplicate found by a sweep
type DuplicateFinding struct {
	ID          uuid.UUID       `json:"id"`
	SourceID    string          `json:"sourceId"`
	Title       string          `json:"title"`
	DuplicateOf uuid.UUID       `json:"duplicateOf"`
	Score       int             `json:"score"`
	Reason      DuplicateReason `json:"reason"`
}

// ScanResult summarises one sweep. Scanned counts records evaluated
// successfully; records whose store access failed appear only in Failed.
// Skipped holds duplicates that could not be marked (record vanished or
// target became a duplicate in the meantime).
type ScanResult struct {
	Total           int                `json:"total"`
	Scanned         int                `json:"scanned"`
	DuplicatesFound int                `json:"duplicatesFound"`
	Duplicates      []DuplicateFinding `json:"duplicates"`
	Failed          []uuid.UUID        `json:"failed"`
	Skipped         []uuid.UUID        `json:"skipped"`
	DryRun          bool               `json:"dryRun"`
}

// RecentDuplicate is a row of the stats "recently processed" list
type RecentDuplicate struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	DuplicateOf uuid.UUID       `json:"duplicateOf"`
	Score       float64         `json:"score"`
	Reason      DuplicateReason `json:"reason"`
	ProcessedAt *time.Time      `json:"processedAt"`
}

// DuplicateStats is the read-only reporting view over the store
type DuplicateStats struct {
	Total            int                     `json:"total"`
	Duplicates       int                     `json:"duplicates"`
	ByReason         map[DuplicateReason]int `json:"byReason"`
	ByStatus         map[ListingStatus]int   `json:"byStatus"`
	RecentDuplicates []RecentDuplicate       `json:"recentDuplicates"`
}

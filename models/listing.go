package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is the source site's top-level listing category
type Category string

const (
	CategoryKonut  Category = "konut"
	CategoryIsyeri Category = "isyeri"
	CategoryArsa   Category = "arsa"
	CategoryBina   Category = "bina"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryKonut, CategoryIsyeri, CategoryArsa, CategoryBina:
		return true
	}
	return false
}

// TransactionType is sale, rent, transfer or land-for-flat
type TransactionType string

const (
	TransactionSatilik       TransactionType = "satilik"
	TransactionKiralik       TransactionType = "kiralik"
	TransactionDevrenSatilik TransactionType = "devren-satilik"
	TransactionDevrenKiralik TransactionType = "devren-kiralik"
	TransactionKatKarsiligi  TransactionType = "kat-karsiligi"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSatilik, TransactionKiralik, TransactionDevrenSatilik,
		TransactionDevrenKiralik, TransactionKatKarsiligi:
		return true
	}
	return false
}

// ListingStatus is the review state of a collected listing.
// Every value other than pending is terminal.
type ListingStatus string

const (
	StatusPending   ListingStatus = "pending"
	StatusApproved  ListingStatus = "approved"
	StatusRejected  ListingStatus = "rejected"
	StatusDuplicate ListingStatus = "duplicate"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDuplicate:
		return true
	}
	return false
}

// AllStatuses lists statuses in reporting order
var AllStatuses = []ListingStatus{StatusPending, StatusApproved, StatusRejected, StatusDuplicate}

// CollectedListing is one externally sourced listing observation
type CollectedListing struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	SourceID        string           `json:"sourceId" db:"source_id"` // not unique, re-crawls repeat it
	SourceURL       string           `json:"sourceUrl" db:"source_url"`
	Title           string           `json:"title" db:"title"`
	Price           *string          `json:"price" db:"price"` // display string, "2.500.000 TL"
	PriceValue      *float64         `json:"priceValue" db:"price_value"`
	Location        *string          `json:"location" db:"location"` // "Sakarya / Hendek / Merkez"
	City            *string          `json:"city" db:"city"`
	District        *string          `json:"district" db:"district"`
	Neighborhood    *string          `json:"neighborhood" db:"neighborhood"`
	Category        Category         `json:"category" db:"category"`
	TransactionType TransactionType  `json:"transactionType" db:"transaction_type"`
	Status          ListingStatus    `json:"status" db:"status"`
	DuplicateOf     *uuid.UUID       `json:"duplicateOf" db:"duplicate_of"`
	DuplicateScore  *float64         `json:"duplicateScore" db:"duplicate_score"`
	DuplicateReason *DuplicateReason `json:"duplicateReason" db:"duplicate_reason"`
	CrawledAt       time.Time        `json:"crawledAt" db:"crawled_at"`
	ProcessedAt     *time.Time       `json:"processedAt" db:"processed_at"`
	ApprovedAt      *time.Time       `json:"approvedAt" db:"approved_at"`
}

// Probe converts a stored listing into the attribute set the matchers compare
func (l *CollectedListing) Probe() *ListingProbe {
	id := l.ID
	return &ListingProbe{
		ID:              &id,
		SourceID:        l.SourceID,
		Title:           l.Title,
		PriceValue:      l.PriceValue,
		City:            l.City,
		District:        l.District,
		Category:        l.Category,
		TransactionType: l.TransactionType,
		CrawledAt:       l.CrawledAt,
	}
}

// ListingProbe is the queried side of a duplicate check. ID and CrawledAt are
// set when the probe is already persisted; matchers then exclude the record
// itself and everything crawled after it.
type ListingProbe struct {
	ID              *uuid.UUID      `json:"id,omitempty"`
	SourceID        string          `json:"sourceId"`
	Title           string          `json:"title"`
	PriceValue      *float64        `json:"priceValue,omitempty"`
	City            *string         `json:"city,omitempty"`
	District        *string         `json:"district,omitempty"`
	Category        Category        `json:"category,omitempty"`
	TransactionType TransactionType `json:"transactionType,omitempty"`
	CrawledAt       time.Time       `json:"crawledAt,omitempty"`
}

// Persisted reports whether precedence filtering applies to this probe
func (p *ListingProbe) Persisted() bool {
	return p.ID != nil && !p.CrawledAt.IsZero()
}

// Candidate is a fuzzy-match result with its title similarity in [0,1]
type Candidate struct {
	ID         uuid.UUID `json:"id"`
	SourceID   string    `json:"sourceId"`
	Title      string    `json:"title"`
	Price      *string   `json:"price"`
	PriceValue *float64  `json:"priceValue"`
	Location   *string   `json:"location"`
	City       *string   `json:"city"`
	District   *string   `json:"district"`
	CrawledAt  time.Time `json:"crawledAt"`
	Similarity float64   `json:"similarity"`
}

// MatchedListing is the compact view of the canonical record returned with a verdict
type MatchedListing struct {
	ID       uuid.UUID `json:"id"`
	SourceID string    `json:"sourceId"`
	Title    string    `json:"title"`
	Price    *string   `json:"price"`
	Location *string   `json:"location"`
}

func (c *Candidate) Matched() *MatchedListing {
	return &MatchedListing{ID: c.ID, SourceID: c.SourceID, Title: c.Title, Price: c.Price, Location: c.Location}
}

func (l *CollectedListing) Matched() *MatchedListing {
	return &MatchedListing{ID: l.ID, SourceID: l.SourceID, Title: l.Title, Price: l.Price, Location: l.Location}
}

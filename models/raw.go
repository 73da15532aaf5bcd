package models

import "time"

// RawListing is one crawler record from the ingest feed (JSON lines).
// Structured location and price fields are optional and derived from the
// display strings when missing.
type RawListing struct {
	SourceID        string          `json:"sourceId"`
	SourceURL       string          `json:"sourceUrl"`
	Title           string          `json:"title"`
	Price           string          `json:"price"`
	PriceValue      *float64        `json:"priceValue,omitempty"`
	Location        string          `json:"location"`
	City            *string         `json:"city,omitempty"`
	District        *string         `json:"district,omitempty"`
	Neighborhood    *string         `json:"neighborhood,omitempty"`
	Category        Category        `json:"category"`
	TransactionType TransactionType `json:"transactionType"`
	CrawledAt       *time.Time      `json:"crawledAt,omitempty"`
}

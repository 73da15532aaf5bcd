package services

import "fmt"

// Options tunes a duplicate check. The same values drive single checks and
// sweeps.
type Options struct {
	// TitleThreshold is the minimum trigram similarity in [0,1] for a
	// record to become a fuzzy candidate
	TitleThreshold float64 `yaml:"title_threshold" json:"titleThreshold"`

	// PriceTolerance is the largest price difference, in percent of the
	// checked listing's price, that still earns a price score
	PriceTolerance float64 `yaml:"price_tolerance" json:"priceTolerance"`

	SameCategory        bool `yaml:"same_category" json:"sameCategory"`
	SameTransactionType bool `yaml:"same_transaction_type" json:"sameTransactionType"`
	// SameLocation restricts candidates to the listing's city and district
	SameLocation bool `yaml:"same_location" json:"sameLocation"`

	MaxCandidates int `yaml:"max_candidates" json:"maxCandidates"`
}

// DefaultOptions returns the stock tuning
func DefaultOptions() Options {
	return Options{
		TitleThreshold:      0.7,
		PriceTolerance:      5,
		SameCategory:        true,
		SameTransactionType: true,
		SameLocation:        true,
		MaxCandidates:       100,
	}
}

// Validate checks if the options have usable values
func (o Options) Validate() error {
	if o.TitleThreshold < 0 || o.TitleThreshold > 1 {
		return fmt.Errorf("%w: title_threshold must be between 0.0 and 1.0 (got %.2f)", ErrInvalidInput, o.TitleThreshold)
	}
	if o.PriceTolerance < 0 {
		return fmt.Errorf("%w: price_tolerance cannot be negative (got %.2f)", ErrInvalidInput, o.PriceTolerance)
	}
	if o.MaxCandidates <= 0 {
		return fmt.Errorf("%w: max_candidates must be positive (got %d)", ErrInvalidInput, o.MaxCandidates)
	}
	if o.MaxCandidates > 1000 {
		return fmt.Errorf("%w: max_candidates too large (got %d, max 1000)", ErrInvalidInput, o.MaxCandidates)
	}
	return nil
}

func (o Options) String() string {
	return fmt.Sprintf("Options{Threshold: %.2f, PriceTolerance: %.1f%%, SameCategory: %t, "+
		"SameTransactionType: %t, SameLocation: %t, MaxCandidates: %d}",
		o.TitleThreshold, o.PriceTolerance, o.SameCategory, o.SameTransactionType, o.SameLocation, o.MaxCandidates)
}

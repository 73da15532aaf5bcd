package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing_dedup/models"
)

func rawListing(sourceID, title string) *models.RawListing {
	return &models.RawListing{
		SourceID:        sourceID,
		SourceURL:       "https://www.sahibinden.com/ilan/" + sourceID,
		Title:           title,
		Price:           "2.500.000 TL",
		Location:        "Sakarya / Hendek / Merkez",
		Category:        models.CategoryKonut,
		TransactionType: models.TransactionSatilik,
	}
}

func TestIngest_NormalizesRecord(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	res, err := svc.Ingest(context.Background(), rawListing(" 1001 ", "  Satılık   3+1 Daire  "), false)
	require.NoError(t, err)
	assert.Nil(t, res.Check)
	assert.False(t, res.Marked)

	got := getListing(t, store, res.Listing.ID)
	assert.Equal(t, "1001", got.SourceID)
	assert.Equal(t, "Satılık 3+1 Daire", got.Title)
	assert.Equal(t, models.StatusPending, got.Status)
	require.NotNil(t, got.PriceValue)
	assert.InDelta(t, 2500000, *got.PriceValue, 0.001)
	assert.Equal(t, "Sakarya", *got.City)
	assert.Equal(t, "Hendek", *got.District)
	assert.Equal(t, "Merkez", *got.Neighborhood)
	assert.False(t, got.CrawledAt.IsZero())
}

func TestIngest_KeepsStructuredFields(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	raw := rawListing("1002", "Kiralık Ofis")
	raw.PriceValue = fptr(15000)
	raw.District = sptr("Akyazı")
	raw.CrawledAt = &t0

	res, err := svc.Ingest(context.Background(), raw, false)
	require.NoError(t, err)
	got := getListing(t, store, res.Listing.ID)
	assert.InDelta(t, 15000, *got.PriceValue, 0.001)
	assert.Equal(t, "Akyazı", *got.District)
	assert.Equal(t, "Sakarya", *got.City)
	assert.True(t, got.CrawledAt.Equal(t0))
}

func TestIngest_MarksReappearance(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	existing := insertSeed(t, store, seed{
		sourceID: "100", title: "Satılık 3+1 Daire Hendek Merkez 120 m2",
		price: fptr(2500000), city: "Sakarya", district: "Hendek",
	})

	res, err := svc.Ingest(context.Background(), rawListing("200", "Hendek Merkez  Satılık 3+1 Daire 120m2"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Check)
	assert.True(t, res.Marked)
	assert.Equal(t, models.ReasonFuzzyTitle, res.Check.Reason)
	assert.Equal(t, models.StatusDuplicate, res.Listing.Status)
	assert.Equal(t, existing.ID, *res.Listing.DuplicateOf)
}

func TestIngest_CheckWithoutMatch(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	res, err := svc.Ingest(context.Background(), rawListing("300", "Satılık Villa Deniz Manzaralı"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Check)
	assert.False(t, res.Check.IsDuplicate)
	assert.False(t, res.Marked)
	assert.Equal(t, models.StatusPending, getListing(t, store, res.Listing.ID).Status)
}

func TestIngest_InvalidInput(t *testing.T) {
	svc := newTestService(t, newTestStore(t))

	tests := []struct {
		name   string
		mutate func(*models.RawListing)
	}{
		{"blank title", func(r *models.RawListing) { r.Title = "  " }},
		{"blank source id", func(r *models.RawListing) { r.SourceID = "" }},
		{"unknown category", func(r *models.RawListing) { r.Category = "ofis" }},
		{"unknown transaction", func(r *models.RawListing) { r.TransactionType = "takas" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawListing("1", "Satılık Daire")
			tt.mutate(raw)
			_, err := svc.Ingest(context.Background(), raw, true)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := svc.Ingest(context.Background(), nil, true)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

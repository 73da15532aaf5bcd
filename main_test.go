package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing_dedup/models"
	"listing_dedup/services"
	"listing_dedup/storage"
)

func TestIngest_JSONLines(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	svc, err := services.NewDedupService(store, services.DefaultOptions())
	require.NoError(t, err)

	input := strings.Join([]string{
		`{"sourceId":"1","title":"Satılık Daire Merkez","price":"1.250.000 TL","location":"Sakarya / Hendek","category":"konut","transactionType":"satilik","crawledAt":"2025-03-01T09:00:00Z"}`,
		``,
		`{"sourceId":"2","title":"Satılık Daire Merkez","price":"1.250.000 TL","location":"Sakarya / Hendek","category":"konut","transactionType":"satilik","crawledAt":"2025-03-01T10:00:00Z"}`,
		`not json`,
		`{"sourceId":"3","title":"","category":"konut","transactionType":"satilik"}`,
		`{"sourceId":"1","title":"Satılık Daire Merkez Fiyat Düştü","category":"konut","transactionType":"satilik","crawledAt":"2025-03-02T09:00:00Z"}`,
	}, "\n")

	sum, err := ingest(context.Background(), svc, strings.NewReader(input), true)
	require.NoError(t, err)
	assert.Equal(t, ingestSummary{inserted: 3, marked: 2, invalid: 2}, sum)

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusPending])
	assert.Equal(t, 2, counts[models.StatusDuplicate])

	reasons, err := store.CountByReason(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reasons[models.ReasonExactID])
	assert.Equal(t, 1, reasons[models.ReasonFuzzyTitle])
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2025-03-01")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	got, err = parseSince("2025-03-01T12:30:00+03:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)))

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

func TestMaskConnectionString(t *testing.T) {
	assert.Equal(t, "postgres://dedup:xxxxx@db:5432/listings",
		maskConnectionString("postgres://dedup:s3cret@db:5432/listings"))
	assert.Equal(t, "dedup.db", maskConnectionString("dedup.db"))
}

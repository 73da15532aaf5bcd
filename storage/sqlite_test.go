package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing_dedup/models"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func str(s string) *string { return &s }

func insert(t *testing.T, store *SQLiteStore, sourceID, title string, offset time.Duration) *models.CollectedListing {
	t.Helper()
	l := &models.CollectedListing{
		SourceID:        sourceID,
		SourceURL:       "https://www.sahibinden.com/ilan/" + sourceID,
		Title:           title,
		City:            str("Sakarya"),
		District:        str("Hendek"),
		Category:        models.CategoryKonut,
		TransactionType: models.TransactionSatilik,
		CrawledAt:       base.Add(offset),
	}
	require.NoError(t, store.InsertListing(context.Background(), l))
	return l
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	price := 2500000.0
	l := &models.CollectedListing{
		SourceID:        "1001",
		SourceURL:       "https://www.sahibinden.com/ilan/1001",
		Title:           "Satılık 3+1 Daire",
		Price:           str("2.500.000 TL"),
		PriceValue:      &price,
		Location:        str("Sakarya / Hendek / Merkez"),
		Category:        models.CategoryKonut,
		TransactionType: models.TransactionSatilik,
		CrawledAt:       base.Add(123456789 * time.Nanosecond),
	}
	require.NoError(t, store.InsertListing(ctx, l))
	assert.NotEqual(t, uuid.Nil, l.ID)
	assert.Equal(t, models.StatusPending, l.Status)

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, l.Title, got.Title)
	assert.Equal(t, "2.500.000 TL", *got.Price)
	assert.InDelta(t, 2500000, *got.PriceValue, 0.001)
	assert.Nil(t, got.City)
	assert.Nil(t, got.DuplicateOf)
	assert.True(t, l.CrawledAt.Equal(got.CrawledAt), "crawled_at round-trips at microsecond precision")

	err = store.InsertListing(ctx, l)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	missing, err := store.GetListing(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_InsertRejectsUnknownEnums(t *testing.T) {
	store := newTestStore(t)
	err := store.InsertListing(context.Background(), &models.CollectedListing{
		SourceID: "1", Title: "x", Category: "villa", TransactionType: models.TransactionSatilik,
	})
	assert.Error(t, err)
}

func TestSQLiteStore_InsertRejectsInconsistentLinkage(t *testing.T) {
	store := newTestStore(t)
	target := insert(t, store, "1", "Satılık Daire", 0)
	score := 90.0
	reason := models.ReasonFuzzyTitle

	tests := []struct {
		name    string
		listing models.CollectedListing
	}{
		{"pending with score", models.CollectedListing{Status: models.StatusPending, DuplicateScore: &score}},
		{"pending with reason", models.CollectedListing{DuplicateReason: &reason}},
		{"approved with link", models.CollectedListing{Status: models.StatusApproved, DuplicateOf: &target.ID}},
		{"duplicate without link", models.CollectedListing{Status: models.StatusDuplicate, DuplicateScore: &score, DuplicateReason: &reason}},
		{"duplicate without reason", models.CollectedListing{Status: models.StatusDuplicate, DuplicateOf: &target.ID, DuplicateScore: &score}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.listing
			l.SourceID, l.Title = "2", "Satılık Daire"
			l.Category, l.TransactionType = models.CategoryKonut, models.TransactionSatilik
			assert.Error(t, store.InsertListing(context.Background(), &l))
		})
	}

	l := &models.CollectedListing{
		SourceID: "2", Title: "Satılık Daire", Category: models.CategoryKonut, TransactionType: models.TransactionSatilik,
		Status: models.StatusDuplicate, DuplicateOf: &target.ID, DuplicateScore: &score, DuplicateReason: &reason,
	}
	require.NoError(t, store.InsertListing(context.Background(), l))
}

func TestSQLiteStore_FindBySourceID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := insert(t, store, "555", "Satılık Daire", 0)
	second := insert(t, store, "555", "Satılık Daire", time.Hour)
	insert(t, store, "777", "Başka İlan", 2*time.Hour)

	got, err := store.FindBySourceID(ctx, ExactQuery{SourceID: "555"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "earliest record wins")

	got, err = store.FindBySourceID(ctx, ExactQuery{
		SourceID: "555",
		Exclude:  &first.ID,
		Before:   &Cursor{CrawledAt: first.CrawledAt, ID: first.ID},
	})
	require.NoError(t, err)
	assert.Nil(t, got, "nothing precedes the oldest record")

	got, err = store.FindBySourceID(ctx, ExactQuery{
		SourceID: "555",
		Exclude:  &second.ID,
		Before:   &Cursor{CrawledAt: second.CrawledAt, ID: second.ID},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	got, err = store.FindBySourceID(ctx, ExactQuery{SourceID: "999"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_FindSimilar(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := insert(t, store, "1", "Hendek Merkez Satılık 3+1 Daire 120m2", 0)
	b := insert(t, store, "2", "Satılık 3+1 Daire Hendek Merkez 120 m2", time.Minute)
	insert(t, store, "3", "Kiralık Ofis Plaza", 2*time.Minute)

	candidates, err := store.FindSimilar(ctx, SimilarQuery{
		Title:     "Hendek Merkez Satılık 3+1 Daire 120m2",
		Threshold: 0.7,
		Limit:     5,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, a.ID, candidates[0].ID)
	assert.InDelta(t, 1.0, candidates[0].Similarity, 1e-9)
	assert.Equal(t, b.ID, candidates[1].ID)
	assert.InDelta(t, 35.0/39.0, candidates[1].Similarity, 1e-9)

	candidates, err = store.FindSimilar(ctx, SimilarQuery{
		Title:     b.Title,
		Threshold: 0.7,
		Limit:     5,
		Exclude:   &b.ID,
		Before:    &Cursor{CrawledAt: b.CrawledAt, ID: b.ID},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, a.ID, candidates[0].ID)

	other := models.CategoryArsa
	candidates, err = store.FindSimilar(ctx, SimilarQuery{Title: a.Title, Threshold: 0.7, Limit: 5, Category: &other})
	require.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = store.FindSimilar(ctx, SimilarQuery{Title: a.Title, Threshold: 0.7, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, candidates, 1, "limit caps the pool")
}

func TestSQLiteStore_FindSimilarTiesBrokenBySweepOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	later := insert(t, store, "2", "Kiralık Dükkan Çarşı", time.Hour)
	earlier := insert(t, store, "1", "Kiralık Dükkan Çarşı", 0)

	candidates, err := store.FindSimilar(ctx, SimilarQuery{Title: "Kiralık Dükkan Çarşı", Threshold: 0.5, Limit: 5})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, earlier.ID, candidates[0].ID)
	assert.Equal(t, later.ID, candidates[1].ID)
}

func TestSQLiteStore_MarkDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := insert(t, store, "1", "Satılık Daire", 0)
	b := insert(t, store, "2", "Satılık Daire", time.Minute)
	c := insert(t, store, "3", "Satılık Daire", 2*time.Minute)
	now := base.Add(time.Hour)

	err := store.MarkDuplicate(ctx, DuplicateMark{ID: b.ID, DuplicateOf: a.ID, Score: 100, Reason: models.ReasonFuzzyTitle, ProcessedAt: now})
	require.NoError(t, err)

	got, err := store.GetListing(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDuplicate, got.Status)
	assert.Equal(t, a.ID, *got.DuplicateOf)
	assert.Equal(t, 100.0, *got.DuplicateScore)
	assert.Equal(t, models.ReasonFuzzyTitle, *got.DuplicateReason)
	assert.True(t, now.Equal(*got.ProcessedAt))

	t.Run("target is a duplicate", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: c.ID, DuplicateOf: b.ID, Score: 90, Reason: models.ReasonComposite, ProcessedAt: now})
		assert.ErrorIs(t, err, ErrDuplicateChain)
		got, err := store.GetListing(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
	})

	t.Run("record has dependents", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: a.ID, DuplicateOf: c.ID, Score: 90, Reason: models.ReasonComposite, ProcessedAt: now})
		require.NoError(t, err)

		got, err := store.GetListing(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDuplicate, got.Status)
		assert.Equal(t, c.ID, *got.DuplicateOf)

		// b followed a and keeps its own score and reason
		got, err = store.GetListing(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDuplicate, got.Status)
		assert.Equal(t, c.ID, *got.DuplicateOf)
		assert.Equal(t, 100.0, *got.DuplicateScore)
		assert.Equal(t, models.ReasonFuzzyTitle, *got.DuplicateReason)

		got, err = store.GetListing(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Nil(t, got.DuplicateOf)
	})

	t.Run("crossing link is refused", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: c.ID, DuplicateOf: a.ID, Score: 90, Reason: models.ReasonComposite, ProcessedAt: now})
		assert.ErrorIs(t, err, ErrDuplicateChain)
	})

	t.Run("self link", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: c.ID, DuplicateOf: c.ID, Score: 90, Reason: models.ReasonComposite, ProcessedAt: now})
		assert.ErrorIs(t, err, ErrDuplicateChain)
	})

	t.Run("missing record", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: uuid.New(), DuplicateOf: a.ID, Score: 90, Reason: models.ReasonComposite, ProcessedAt: now})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing target", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: c.ID, DuplicateOf: uuid.New(), Score: 90, Reason: models.ReasonComposite, ProcessedAt: now})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid reason", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: c.ID, DuplicateOf: a.ID, Score: 90, Reason: models.ReasonNone, ProcessedAt: now})
		assert.Error(t, err)
	})

	t.Run("overwrite existing linkage", func(t *testing.T) {
		err := store.MarkDuplicate(ctx, DuplicateMark{ID: b.ID, DuplicateOf: c.ID, Score: 80, Reason: models.ReasonComposite, ProcessedAt: now})
		require.NoError(t, err)
		got, err := store.GetListing(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, *got.DuplicateOf)
		assert.Equal(t, models.ReasonComposite, *got.DuplicateReason)
	})
}

func TestSQLiteStore_ListUnresolved(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	c := insert(t, store, "3", "Üç", 2*time.Hour)
	a := insert(t, store, "1", "Bir", 0)
	b := insert(t, store, "2", "İki", time.Hour)
	require.NoError(t, store.MarkDuplicate(ctx, DuplicateMark{
		ID: b.ID, DuplicateOf: a.ID, Score: 100, Reason: models.ReasonExactID, ProcessedAt: base,
	}))

	listings, err := store.ListUnresolved(ctx, nil)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, a.ID, listings[0].ID)
	assert.Equal(t, c.ID, listings[1].ID)

	since := base.Add(90 * time.Minute)
	listings, err = store.ListUnresolved(ctx, &since)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, c.ID, listings[0].ID)
}

func TestSQLiteStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := insert(t, store, "1", "Bir", 0)
	b := insert(t, store, "2", "İki", time.Hour)
	c := insert(t, store, "3", "Üç", 2*time.Hour)
	require.NoError(t, store.MarkDuplicate(ctx, DuplicateMark{ID: b.ID, DuplicateOf: a.ID, Score: 100, Reason: models.ReasonExactID, ProcessedAt: base}))
	require.NoError(t, store.MarkDuplicate(ctx, DuplicateMark{ID: c.ID, DuplicateOf: a.ID, Score: 85, Reason: models.ReasonComposite, ProcessedAt: base.Add(time.Hour)}))

	byStatus, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.ListingStatus]int{models.StatusPending: 1, models.StatusDuplicate: 2}, byStatus)

	byReason, err := store.CountByReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.DuplicateReason]int{models.ReasonExactID: 1, models.ReasonComposite: 1}, byReason)

	recent, err := store.RecentDuplicates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, c.ID, recent[0].ID, "most recently processed first")
	assert.Equal(t, a.ID, recent[0].DuplicateOf)
	assert.Equal(t, 85.0, recent[0].Score)

	recent, err = store.RecentDuplicates(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestSQLiteStore_PurgeRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := base.Add(-60 * 24 * time.Hour)
	insertRejected := func(sourceID string, processed time.Time) *models.CollectedListing {
		l := &models.CollectedListing{
			SourceID: sourceID, SourceURL: "u", Title: "Reddedilen " + sourceID,
			Category: models.CategoryArsa, TransactionType: models.TransactionSatilik,
			Status: models.StatusRejected, ProcessedAt: &processed, CrawledAt: processed,
		}
		require.NoError(t, store.InsertListing(ctx, l))
		return l
	}

	stale := insertRejected("1", old)
	fresh := insertRejected("2", base)
	target := insertRejected("3", old)
	dup := insert(t, store, "4", "Kopya", 0)
	require.NoError(t, store.MarkDuplicate(ctx, DuplicateMark{ID: dup.ID, DuplicateOf: target.ID, Score: 100, Reason: models.ReasonExactID, ProcessedAt: base}))

	n, err := store.PurgeRejected(ctx, base.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetListing(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	for _, id := range []uuid.UUID{fresh.ID, target.ID} {
		got, err := store.GetListing(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}
}

func TestSQLiteStore_ScanRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &models.ScanRun{StartedAt: base, Status: models.RunStatusRunning, Trigger: "cli", Total: 4}
	require.NoError(t, store.CreateScanRun(ctx, run))
	assert.NotZero(t, run.ID)

	run.Finish(&models.ScanResult{Total: 4, Scanned: 3, DuplicatesFound: 1, Failed: []uuid.UUID{uuid.New()}}, nil)
	require.NoError(t, store.UpdateScanRun(ctx, run))

	got, err := store.GetScanRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, "cli", got.Trigger)
	assert.Equal(t, 3, got.Scanned)
	assert.Equal(t, 1, got.FailedCount)
	assert.NotNil(t, got.FinishedAt)
}

func TestDirArchive_Save(t *testing.T) {
	dir := t.TempDir()
	run := &models.ScanRun{ID: 7, StartedAt: time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)}
	key := ReportKey(run)
	assert.Equal(t, "scan-reports/2025/03/01/run-7-140509.json", key)

	path, err := DirArchive{Root: dir}.Save(context.Background(), key, []byte(`{"total":0}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan-reports", "2025", "03", "01", "run-7-140509.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":0}`, string(data))
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"listing_dedup/models"
	"listing_dedup/storage"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, store storage.Store) *DedupService {
	t.Helper()
	svc, err := NewDedupService(store, DefaultOptions())
	require.NoError(t, err)
	svc.now = func() time.Time { return t0.Add(24 * time.Hour) }
	return svc
}

// seed describes a stored listing relative to t0
type seed struct {
	sourceID string
	title    string
	price    *float64
	city     string
	district string
	offset   time.Duration
	category models.Category
	txn      models.TransactionType
}

func insertSeed(t *testing.T, store storage.Store, s seed) *models.CollectedListing {
	t.Helper()
	l := &models.CollectedListing{
		SourceID:        s.sourceID,
		SourceURL:       "https://www.sahibinden.com/ilan/" + s.sourceID,
		Title:           s.title,
		PriceValue:      s.price,
		Category:        models.CategoryKonut,
		TransactionType: models.TransactionSatilik,
		CrawledAt:       t0.Add(s.offset),
	}
	if s.category != "" {
		l.Category = s.category
	}
	if s.txn != "" {
		l.TransactionType = s.txn
	}
	if s.city != "" {
		l.City = sptr(s.city)
	}
	if s.district != "" {
		l.District = sptr(s.district)
	}
	require.NoError(t, store.InsertListing(context.Background(), l))
	return l
}

func getListing(t *testing.T, store storage.Store, id uuid.UUID) *models.CollectedListing {
	t.Helper()
	l, err := store.GetListing(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

var errInjected = errors.New("connection reset by peer")

// faultyStore wraps a real store and fails selected calls
type faultyStore struct {
	storage.Store

	mu             sync.Mutex
	calls          int
	failExact      bool
	failSimilarFor map[string]bool // by title
	markErr        error
	markErrFor     map[uuid.UUID]bool
}

func (f *faultyStore) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *faultyStore) FindBySourceID(ctx context.Context, q storage.ExactQuery) (*models.CollectedListing, error) {
	f.count()
	if f.failExact {
		return nil, errors.Join(storage.ErrStoreUnavailable, errInjected)
	}
	return f.Store.FindBySourceID(ctx, q)
}

func (f *faultyStore) FindSimilar(ctx context.Context, q storage.SimilarQuery) ([]models.Candidate, error) {
	f.count()
	if f.failSimilarFor[q.Title] {
		return nil, errors.Join(storage.ErrStoreUnavailable, errInjected)
	}
	return f.Store.FindSimilar(ctx, q)
}

func (f *faultyStore) MarkDuplicate(ctx context.Context, m storage.DuplicateMark) error {
	f.count()
	if f.markErr != nil && (f.markErrFor == nil || f.markErrFor[m.ID]) {
		return f.markErr
	}
	return f.Store.MarkDuplicate(ctx, m)
}

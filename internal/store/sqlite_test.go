package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testListing(i int) ListingRecord {
	return ListingRecord{
		ID:           fmt.Sprintf("car-%04d", i),
		Title:        fmt.Sprintf("2020 Honda Civic #%d", i),
		Price:        "$19,400",
		Mileage:      "61,000 km",
		Year:         2020,
		Make:         "Honda",
		Model:        "Civic",
		Location:     "Toronto, ON",
		Link:         fmt.Sprintf("https://example.com/listing/car-%04d", i),
		Platform:     "autotrader",
		OverallScore: 0.8,
	}
}

func TestSQLiteStore_Migration_CreatesTablesAndVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var version int
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestSQLiteStore_SaveAndListListings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	cars := []ListingRecord{testListing(1), testListing(2), testListing(3)}
	require.NoError(t, s.SaveListings("task-1", cars))

	got, err := s.RecentListings(10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "task-1", got[0].TaskID)
	assert.Equal(t, "Honda", got[0].Make)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestSQLiteStore_SaveListings_EmptySliceIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.SaveListings("task-1", nil))

	got, err := s.RecentListings(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_SaveListings_SameListingTwiceUpserts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	car := testListing(1)
	require.NoError(t, s.SaveListings("task-1", []ListingRecord{car}))

	car.OverallScore = 0.95
	require.NoError(t, s.SaveListings("task-1", []ListingRecord{car}))

	got, err := s.RecentListings(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.95, got[0].OverallScore, 0.001)
}

func TestSQLiteStore_SameListingAcrossTasks_KeptSeparately(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	car := testListing(1)
	require.NoError(t, s.SaveListings("task-1", []ListingRecord{car}))
	require.NoError(t, s.SaveListings("task-2", []ListingRecord{car}))

	got, err := s.RecentListings(10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteStore_RecentListings_RespectsLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var cars []ListingRecord
	for i := 0; i < 5; i++ {
		cars = append(cars, testListing(i))
	}
	require.NoError(t, s.SaveListings("task-1", cars))

	got, err := s.RecentListings(2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteStore_RecordAndListSearches(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	rec := &SearchRecord{
		TaskID:      "task-1",
		Query:       "honda civic under 20000",
		ResultCount: 7,
		Duration:    3200 * time.Millisecond,
	}
	require.NoError(t, s.RecordSearch(rec))
	assert.NotZero(t, rec.ID)

	got, err := s.RecentSearches(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "honda civic under 20000", got[0].Query)
	assert.Equal(t, 7, got[0].ResultCount)
	assert.Equal(t, 3200*time.Millisecond, got[0].Duration)
}

func TestSQLiteStore_RecentSearches_NewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := &SearchRecord{
			TaskID:    fmt.Sprintf("task-%d", i),
			Query:     fmt.Sprintf("query %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.RecordSearch(rec))
	}

	got, err := s.RecentSearches(10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "query 2", got[0].Query)
	assert.Equal(t, "query 0", got[2].Query)
}

func TestSQLiteStore_Cleanup_RemovesExpiredRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	old := &SearchRecord{TaskID: "task-old", Query: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &SearchRecord{TaskID: "task-new", Query: "new", CreatedAt: time.Now()}
	require.NoError(t, s.RecordSearch(old))
	require.NoError(t, s.RecordSearch(fresh))

	removed, err := s.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := s.RecentSearches(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Query)
}

func TestSQLiteStore_Cleanup_NothingExpiredReturnsZero(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.RecordSearch(&SearchRecord{TaskID: "t", Query: "q"}))

	removed, err := s.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

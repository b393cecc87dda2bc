package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openMetricsStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, InitTelemetrySchema(db))
	// Idempotent: a second migration run must not fail.
	require.NoError(t, InitTelemetrySchema(db))

	store, err := NewSQLiteMetricsStore(db)
	require.NoError(t, err)
	return store
}

func TestNewSQLiteMetricsStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(nil)
	assert.Error(t, err)
}

func TestQueryTypeCounts_RoundTripAndAccumulate(t *testing.T) {
	store := openMetricsStore(t)

	day := "2026-08-01"
	require.NoError(t, store.SaveQueryTypeCounts(day, map[QueryType]int64{
		QueryTypeLexical:  3,
		QueryTypeSemantic: 2,
	}))
	// A second flush for the same day adds, not replaces.
	require.NoError(t, store.SaveQueryTypeCounts(day, map[QueryType]int64{
		QueryTypeLexical: 4,
	}))

	counts, err := store.GetQueryTypeCounts(day, day)
	require.NoError(t, err)
	assert.Equal(t, int64(7), counts[QueryTypeLexical])
	assert.Equal(t, int64(2), counts[QueryTypeSemantic])

	// A range outside the data is empty, not an error.
	counts, err = store.GetQueryTypeCounts("2020-01-01", "2020-01-02")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestTermCounts_UpsertAndTop(t *testing.T) {
	store := openMetricsStore(t)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{
		"lease": 5, "snapshot": 9, "tombstone": 1,
	}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{
		"lease": 10, // accumulates to 15
	}))
	require.NoError(t, store.UpsertTermCounts(nil)) // no-op

	top, err := store.GetTopTerms(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, TermCount{Term: "lease", Count: 15}, top[0])
	assert.Equal(t, TermCount{Term: "snapshot", Count: 9}, top[1])
}

func TestZeroResultQueries_RingBehavior(t *testing.T) {
	store := openMetricsStore(t)

	for i := 0; i < 105; i++ {
		require.NoError(t, store.AddZeroResultQuery(
			"query-"+intToStr(i), time.Now()))
	}

	all, err := store.GetZeroResultQueries(200)
	require.NoError(t, err)
	// The ring holds at most 100, newest first.
	assert.Len(t, all, 100)
	assert.Equal(t, "query-104", all[0])
	assert.NotContains(t, all, "query-0")

	few, err := store.GetZeroResultQueries(5)
	require.NoError(t, err)
	assert.Len(t, few, 5)
}

func TestLatencyCounts_RoundTrip(t *testing.T) {
	store := openMetricsStore(t)

	day := "2026-08-01"
	require.NoError(t, store.SaveLatencyCounts(day, map[LatencyBucket]int64{
		BucketP10: 8, BucketP500: 2,
	}))
	require.NoError(t, store.SaveLatencyCounts(day, map[LatencyBucket]int64{
		BucketP10: 2,
	}))

	counts, err := store.GetLatencyCounts(day, day)
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts[BucketP10])
	assert.Equal(t, int64(2), counts[BucketP500])
}

func TestStoreClose_LeavesSharedDBOpen(t *testing.T) {
	store := openMetricsStore(t)
	require.NoError(t, store.Close())

	// The shared handle still works after Close.
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"still": 1}))
}

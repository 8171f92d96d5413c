package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderwatch/tendersync/internal/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "tenders.jsonl"), Options{
		LockTimeout: 2 * time.Second,
	})
}

func TestUpsertFreshKeyAdds(t *testing.T) {
	s := newTestStore(t)
	result, err := s.Upsert(record.Record{Number: "GEO250000001", Status: "announced"})
	require.NoError(t, err)
	assert.Equal(t, Added, result)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertIdenticalSkips(t *testing.T) {
	s := newTestStore(t)
	r := record.Record{Number: "GEO250000001", Status: "announced"}

	_, err := s.Upsert(r)
	require.NoError(t, err)

	result, err := s.Upsert(r)
	require.NoError(t, err)
	assert.Equal(t, Skipped, result)
}

func TestUpsertStatusChangeReplaces(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(record.Record{Number: "NAT250000001", Status: "open"})
	require.NoError(t, err)

	result, err := s.Upsert(record.Record{Number: "NAT250000001", Status: "closed"})
	require.NoError(t, err)
	assert.Equal(t, Replaced, result)

	got, ok, err := s.Get("NAT250000001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "closed", got.Status)
}

func TestUpsertCompletenessMarkersReplace(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(record.Record{Number: "GEO250000001", Status: "announced"})
	require.NoError(t, err)

	detailed := record.Record{
		Number:   "GEO250000001",
		Status:   "announced",
		CPVCodes: []string{"60100000"},
	}
	result, err := s.Upsert(detailed)
	require.NoError(t, err)
	assert.Equal(t, Replaced, result)
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(record.Record{Buyer: "City Hall"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoIdentity))
}

func TestUpsertAllCounts(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(record.Record{Number: "GEO250000001", Status: "open"})
	require.NoError(t, err)

	counts, err := s.UpsertAll([]record.Record{
		{Number: "GEO250000001", Status: "closed"}, // replaced
		{Number: "GEO250000001", Status: "closed"}, // skipped (already merged)
		{Number: "GEO250000002", Status: "open"},   // added
		{Buyer: "no identity"},                     // rejected
	})
	require.NoError(t, err)
	assert.Equal(t, Counts{Added: 1, Replaced: 1, Skipped: 1, Rejected: 1}, counts)
}

func TestPersistedFileHasUniqueIdentityLines(t *testing.T) {
	s := newTestStore(t)
	for _, st := range []string{"open", "evaluating", "closed"} {
		_, err := s.Upsert(record.Record{Number: "GEO250000001", Status: st})
		require.NoError(t, err)
	}
	_, err := s.Upsert(record.Record{Number: "GEO250000002", Status: "open"})
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)

	fresh := New(s.Path(), Options{})
	n, err := fresh.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok, err := fresh.Get("GEO250000001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "closed", got.Status)
}

func TestLoadSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.jsonl")
	content := `{"number":"GEO250000001","status":"open"}
{not json at all
{"number":"GEO250000002","status":"open"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := New(path, Options{})
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.jsonl"), Options{})
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLockConflictTimesOut(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tenders.jsonl"), Options{
		LockTimeout: 200 * time.Millisecond,
	})

	// Simulate another live writer holding the lock.
	require.NoError(t, os.WriteFile(s.Path()+".lock", []byte("9999\n"), 0o644))

	_, err := s.Upsert(record.Record{Number: "GEO250000001"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrLockConflict))

	// The store file must be untouched.
	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestStaleLockIsBroken(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tenders.jsonl"), Options{
		LockTimeout:  2 * time.Second,
		StaleLockAge: 50 * time.Millisecond,
	})

	lockPath := s.Path() + ".lock"
	require.NoError(t, os.WriteFile(lockPath, []byte("1\n"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	result, err := s.Upsert(record.Record{Number: "GEO250000001"})
	require.NoError(t, err)
	assert.Equal(t, Added, result)

	// Lock released after the write.
	_, statErr := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPreviewDoesNotPersist(t *testing.T) {
	s := newTestStore(t)
	counts, err := s.Preview([]record.Record{
		{Number: "GEO250000001", Status: "open"},
		{Number: "GEO250000001", Status: "open"},
	})
	require.NoError(t, err)
	assert.Equal(t, Counts{Added: 1, Skipped: 1}, counts)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountBetweenAndOnDate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertAll([]record.Record{
		{Number: "GEO250000001", PublishedDate: "2025-05-01"},
		{Number: "GEO250000002", PublishedDate: "2025-05-01"},
		{Number: "GEO250000003", PublishedDate: "2025-05-02"},
		{Number: "GEO250000004"}, // dateless
	})
	require.NoError(t, err)

	day1 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	n, err := s.CountOnDate(day1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountBetween(day1, day2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err := s.IDsOnDate(day2)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEO250000003"}, ids)
}

func TestLatestPublishedDate(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.LatestPublishedDate()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpsertAll([]record.Record{
		{Number: "GEO250000001", PublishedDate: "2025-05-01"},
		{Number: "GEO250000002", PublishedDate: "2025-05-03"},
	})
	require.NoError(t, err)

	latest, ok, err := s.LatestPublishedDate()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), latest)
}

func TestSelectMutable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertAll([]record.Record{
		{Number: "GEO250000001", Status: "announced", PublishedDate: "2025-05-01"},
		{Number: "GEO250000002", Status: "contract signed", PublishedDate: "2025-05-01"},
		{Number: "GEO250000003", Status: "announced", PublishedDate: "2025-01-01"},
	})
	require.NoError(t, err)

	mutable := map[string]struct{}{"announced": {}}
	cutoff := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	out, err := s.SelectMutable(mutable, cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "GEO250000001", out[0].Number)
}

func TestReloadPicksUpExternalChanges(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(record.Record{Number: "GEO250000001", Status: "open"})
	require.NoError(t, err)

	// Another process appends a record.
	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"number":"GEO250000002","status":"open"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Cached view is stale until reload.
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Reload())
	n, err = s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInvalidateForcesLazyReload(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(record.Record{Number: "GEO250000001"})
	require.NoError(t, err)

	s.Invalidate()
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderwatch/tendersync/internal/record"
)

func mustDedupe(t *testing.T, in []record.Record) []record.Record {
	t.Helper()
	out, err := Dedupe(in)
	require.NoError(t, err)
	return out
}

func TestDedupeKeepsDistinctContent(t *testing.T) {
	out := mustDedupe(t, []record.Record{
		{Number: "GEO250000001", Status: "announced"},
		{Number: "GEO250000002", Status: "announced"},
	})
	assert.Len(t, out, 2)
}

func TestDedupeCollapsesVolatileOnlyDifferences(t *testing.T) {
	older := record.Record{
		Number:    "GEO250000001",
		Status:    "announced",
		ScrapedAt: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	newer := older
	newer.ScrapedAt = time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)
	newer.ExtractionMethod = "detail-panel"

	out := mustDedupe(t, []record.Record{older, newer})
	require.Len(t, out, 1)
	assert.Equal(t, newer.ScrapedAt, out[0].ScrapedAt)
}

func TestDedupeTieBreaksOnCompleteness(t *testing.T) {
	// Same content, same capture time; only volatile metadata differs, so the
	// fingerprints collide and the completeness comparator decides.
	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	browse := record.Record{Number: "GEO250000001", ScrapedAt: ts, ExtractionMethod: "browse-api"}
	detail := browse
	detail.ExtractionMethod = "detail-api"

	preferDetail := func(existing, candidate record.Record) bool {
		return candidate.ExtractionMethod == "detail-api" &&
			existing.ExtractionMethod != "detail-api"
	}

	for name, in := range map[string][]record.Record{
		"detail second": {browse, detail},
		"detail first":  {detail, browse},
	} {
		d := New(preferDetail)
		for _, r := range in {
			require.NoError(t, d.Add(r))
		}
		out := d.Records()
		require.Len(t, out, 1, name)
		assert.Equal(t, "detail-api", out[0].ExtractionMethod, name)
	}
}

func TestDedupePrefersDetailScrapeArtifacts(t *testing.T) {
	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	plain := record.Record{Number: "GEO250000001", ScrapedAt: ts}
	withCPV := plain
	withCPV.CPVCodes = []string{"60100000"}

	assert.True(t, DefaultCompleteness(plain, withCPV))
	assert.False(t, DefaultCompleteness(withCPV, plain))
}

func TestDedupeFirstSeenWinsOnFullTie(t *testing.T) {
	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	first := record.Record{Number: "GEO250000001", Buyer: "A", ScrapedAt: ts}
	second := first

	out := mustDedupe(t, []record.Record{first, second})
	require.Len(t, out, 1)
}

func TestDedupeDropsInvalidRows(t *testing.T) {
	out := mustDedupe(t, []record.Record{
		{Number: "17"}, // calendar cell
		{Number: "GEO250000001"},
	})
	assert.Len(t, out, 1)
}

func TestDedupeIdempotent(t *testing.T) {
	in := []record.Record{
		{Number: "GEO250000001", Status: "announced"},
		{Number: "GEO250000001", Status: "announced", ScrapedAt: time.Now().UTC()},
		{Number: "GEO250000002", Status: "closed"},
		{Number: "GEO250000002", Status: "announced"},
	}

	once := mustDedupe(t, in)
	twice := mustDedupe(t, once)
	assert.Equal(t, once, twice)
}

func TestDeduperStats(t *testing.T) {
	d := New(nil)
	require.NoError(t, d.Add(record.Record{Number: "GEO250000001"}))
	require.NoError(t, d.Add(record.Record{Number: "GEO250000001"}))
	require.NoError(t, d.Add(record.Record{Number: "17"}))

	total, invalid, unique := d.Stats()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, 1, unique)
}

// Package dedupe collapses records that share a content fingerprint.
package dedupe

import (
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/record"
)

// Completeness compares two records with equal fingerprints and reports
// whether candidate should be preferred over existing. The default prefers
// the record with detail-scrape artifacts (CPV codes, suppliers) and, failing
// that, the longer raw cell payload. Domain-specific; callers may swap it.
type Completeness func(existing, candidate record.Record) bool

// DefaultCompleteness mirrors the tie-break the registry pipeline has always
// used: presence of detailed sub-fields, then payload length.
func DefaultCompleteness(existing, candidate record.Record) bool {
	existingDetailed := len(existing.CPVCodes) > 0 || len(existing.Suppliers) > 0
	candidateDetailed := len(candidate.CPVCodes) > 0 || len(candidate.Suppliers) > 0
	if candidateDetailed != existingDetailed {
		return candidateDetailed
	}
	return len(candidate.AllCells) > len(existing.AllCells)
}

// Deduper accumulates records keyed by fingerprint. Memory is proportional to
// unique records, so it can be fed from an unbounded stream.
type Deduper struct {
	byFingerprint map[string]record.Record
	order         []string
	completeness  Completeness
	total         int
	invalid       int
}

// New creates a Deduper. A nil completeness falls back to
// DefaultCompleteness.
func New(completeness Completeness) *Deduper {
	if completeness == nil {
		completeness = DefaultCompleteness
	}
	return &Deduper{
		byFingerprint: make(map[string]record.Record),
		completeness:  completeness,
	}
}

// Add feeds one record into the deduper. Invalid rows (navigation chrome,
// header artifacts) are dropped. For a fingerprint collision the survivor is
// chosen by: newer ScrapedAt, then the completeness comparator, else
// first-seen.
func (d *Deduper) Add(r record.Record) error {
	d.total++

	if !r.Valid() {
		d.invalid++
		return nil
	}

	fp, err := record.Fingerprint(r)
	if err != nil {
		return err
	}

	existing, seen := d.byFingerprint[fp]
	if !seen {
		d.byFingerprint[fp] = r
		d.order = append(d.order, fp)
		return nil
	}

	switch {
	case r.ScrapedAt.After(existing.ScrapedAt):
		d.byFingerprint[fp] = r
	case r.ScrapedAt.Equal(existing.ScrapedAt) && d.completeness(existing, r):
		d.byFingerprint[fp] = r
	}
	return nil
}

// Records returns the surviving records in first-seen order.
func (d *Deduper) Records() []record.Record {
	out := make([]record.Record, 0, len(d.order))
	for _, fp := range d.order {
		out = append(out, d.byFingerprint[fp])
	}
	return out
}

// Stats returns (total seen, invalid dropped, unique kept).
func (d *Deduper) Stats() (total, invalid, unique int) {
	return d.total, d.invalid, len(d.byFingerprint)
}

// Dedupe collapses a record slice in one call.
func Dedupe(records []record.Record) ([]record.Record, error) {
	d := New(nil)
	for _, r := range records {
		if err := d.Add(r); err != nil {
			return nil, err
		}
	}

	total, invalid, unique := d.Stats()
	if dropped := total - invalid - unique; dropped > 0 || invalid > 0 {
		zap.L().Debug("dedupe pass",
			zap.Int("total", total),
			zap.Int("invalid", invalid),
			zap.Int("duplicates", dropped),
			zap.Int("unique", unique),
		)
	}
	return d.Records(), nil
}

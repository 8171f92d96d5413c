// Package remote defines the boundary to the procurement registry. The
// browser-automation layer that extracts fields from the registry's DOM lives
// behind the Reader interface; this package also ships an HTTP client for the
// registry's JSON browse gateway.
package remote

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tenderwatch/tendersync/internal/record"
)

// ErrCountUnavailable means the registry's count query failed or could not be
// parsed. Callers must treat the affected window as not synced; skipping it
// silently would risk missing drift.
var ErrCountUnavailable = eris.New("remote: count unavailable")

// ErrNotFound means the registry has no tender for the requested identity key.
var ErrNotFound = eris.New("remote: record not found")

// Filters narrows browse queries to a tender type and procurement category.
type Filters struct {
	TenderType   string
	CategoryCode string
}

// PageRequest addresses one browse result page within a date window.
type PageRequest struct {
	Page     int
	DateFrom time.Time
	DateTo   time.Time
	Filters  Filters
}

// Reader yields raw records and aggregate counts from the registry.
// Implementations own their retry policy; callers bound calls via ctx and
// degrade per-item failures rather than aborting a run.
type Reader interface {
	// FetchCount returns the number of tenders the registry reports for the
	// date window. Returns ErrCountUnavailable when the count cannot be
	// determined.
	FetchCount(ctx context.Context, from, to time.Time, f Filters) (int, error)

	// FetchPage returns the records on one browse result page.
	FetchPage(ctx context.Context, req PageRequest) ([]record.Record, error)

	// FetchRecord returns the current state of a single tender by its
	// identity key. Returns ErrNotFound when the registry has no such tender.
	FetchRecord(ctx context.Context, id string) (record.Record, error)

	// PageSize returns the number of records per browse page, used to derive
	// page counts from aggregate counts.
	PageSize() int
}

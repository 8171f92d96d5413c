package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tenderwatch/tendersync/internal/record"
	"github.com/tenderwatch/tendersync/internal/remote"
	"github.com/tenderwatch/tendersync/internal/runlog"
	"github.com/tenderwatch/tendersync/internal/schedule"
)

// driftScan compares local and remote counts over the window and re-scrapes
// the portion that drifted. When the window counts already agree, it fetches
// nothing.
func (d *Detector) driftScan(ctx context.Context, from, to time.Time) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "reconcile: drift scan cancelled")
	}

	if d.opts.ForceRescrape {
		d.log.Info("forced re-scrape, skipping count comparison")
		return d.rescrape(ctx, from, to)
	}

	remoteTotal, err := d.reader.FetchCount(ctx, from, to, d.opts.Filters)
	if err != nil {
		// An unverifiable window must be treated as drifted, not skipped.
		d.addError(fmt.Sprintf("window count %s..%s: %v",
			from.Format("2006-01-02"), to.Format("2006-01-02"), err))
		return d.rescrape(ctx, from, to)
	}

	localTotal, err := d.store.CountBetween(from, to)
	if err != nil {
		return nil, err
	}

	if remoteTotal == localTotal {
		d.log.Info("window counts match, store is in sync",
			zap.Int("count", remoteTotal),
			zap.String("from", from.Format("2006-01-02")),
			zap.String("to", to.Format("2006-01-02")),
		)
		d.perDay = append(d.perDay, runlog.DayReport{
			Date:        from.Format("2006-01-02") + ".." + to.Format("2006-01-02"),
			RemoteCount: remoteTotal,
			LocalCount:  localTotal,
			Outcome:     runlog.DaySynced,
		})
		return nil, nil
	}

	d.log.Info("window counts disagree, searching for sync boundary",
		zap.Int("remote", remoteTotal),
		zap.Int("local", localTotal),
	)

	rescrapeFrom, err := d.findBoundary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if rescrapeFrom.After(to) {
		// Boundary at the window edge; nothing left to re-scrape.
		return nil, nil
	}
	return d.rescrape(ctx, rescrapeFrom, to)
}

// findBoundary walks backward day by day from the latest locally known
// published date until it finds a day whose counts agree. That day is the
// sync boundary; everything after it is stale. The walk is bounded by
// LookbackDays, and a day whose count cannot be verified stops the walk
// conservatively.
func (d *Detector) findBoundary(ctx context.Context, from, to time.Time) (time.Time, error) {
	start, found, err := d.store.LatestPublishedDate()
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		d.log.Info("store has no dated records, re-scraping whole window")
		return from, nil
	}
	if start.After(to) {
		start = to
	}
	if start.Before(from) {
		return from, nil
	}

	oldest := start
	for i := 0; i < d.opts.LookbackDays; i++ {
		day := start.AddDate(0, 0, -i)
		if day.Before(from) {
			break
		}
		oldest = day

		if err := ctx.Err(); err != nil {
			return time.Time{}, eris.Wrap(err, "reconcile: boundary walk cancelled")
		}

		remoteN, err := d.reader.FetchCount(ctx, day, day, d.opts.Filters)
		if err != nil {
			// Without a count this day proves nothing, and neither would any
			// older day. Give up on the walk and re-scrape the whole bounded
			// window so no drift behind the failing day slips through.
			d.addError(fmt.Sprintf("day count %s: %v", day.Format("2006-01-02"), err))
			bounded := start.AddDate(0, 0, -(d.opts.LookbackDays - 1))
			if bounded.Before(from) {
				bounded = from
			}
			d.log.Warn("boundary walk unverifiable, re-scraping bounded window",
				zap.String("date", day.Format("2006-01-02")),
				zap.String("from", bounded.Format("2006-01-02")),
			)
			return bounded, nil
		}
		localN, err := d.store.CountOnDate(day)
		if err != nil {
			return time.Time{}, err
		}

		if remoteN == localN {
			d.log.Info("sync boundary found",
				zap.String("date", day.Format("2006-01-02")),
				zap.Int("count", remoteN),
			)
			d.perDay = append(d.perDay, runlog.DayReport{
				Date:        day.Format("2006-01-02"),
				RemoteCount: remoteN,
				LocalCount:  localN,
				Outcome:     runlog.DaySynced,
			})
			return day.AddDate(0, 0, 1), nil
		}

		d.log.Debug("day counts disagree",
			zap.String("date", day.Format("2006-01-02")),
			zap.Int("remote", remoteN),
			zap.Int("local", localN),
		)
	}

	d.log.Warn("no sync boundary within lookback, re-scraping bounded window",
		zap.Int("lookback_days", d.opts.LookbackDays),
		zap.String("from", oldest.Format("2006-01-02")),
	)
	return oldest, nil
}

// rescrape fetches every browse page for each day in [from, to], splitting
// pages across workers. Per-page failures degrade to error entries; local
// records missing from the fresh fetch are flagged in the day report, never
// deleted.
func (d *Detector) rescrape(ctx context.Context, from, to time.Time) ([]record.Record, error) {
	var all []record.Record
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "reconcile: re-scrape cancelled")
		}

		dateStr := day.Format("2006-01-02")
		localN, err := d.store.CountOnDate(day)
		if err != nil {
			return nil, err
		}

		outcome := runlog.DayRescraped
		var recs []record.Record
		remoteN, err := d.reader.FetchCount(ctx, day, day, d.opts.Filters)
		if err != nil {
			// An unverifiable count still forces a re-scrape; the day is only
			// UNVERIFIED if the page fetches fail too.
			d.addError(fmt.Sprintf("re-scrape count %s: %v", dateStr, err))
			recs, err = d.fetchDayUnbounded(ctx, day)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, err
				}
				d.addError(fmt.Sprintf("re-scrape %s: %v", dateStr, err))
				outcome = runlog.DayUnverified
			}
			remoteN = len(recs)
		} else {
			recs, err = d.fetchDay(ctx, day, remoteN)
			if err != nil {
				return nil, err
			}
		}
		all = append(all, recs...)

		// A partial fetch would falsely flag local records as extra.
		var extras []string
		if outcome == runlog.DayRescraped {
			if extras, err = d.extraLocalIDs(day, recs); err != nil {
				return nil, err
			}
		}

		d.perDay = append(d.perDay, runlog.DayReport{
			Date:          dateStr,
			RemoteCount:   remoteN,
			LocalCount:    localN,
			Outcome:       outcome,
			ExtraLocalIDs: extras,
		})
		d.log.Info("day re-scraped",
			zap.String("date", dateStr),
			zap.String("outcome", string(outcome)),
			zap.Int("remote_count", remoteN),
			zap.Int("fetched", len(recs)),
			zap.Int("extra_local", len(extras)),
		)
	}
	return all, nil
}

// fetchDay pulls all browse pages for one day in parallel. Pages are
// interleaved across workers so no worker coordination is needed.
func (d *Detector) fetchDay(ctx context.Context, day time.Time, remoteCount int) ([]record.Record, error) {
	pageSize := d.reader.PageSize()
	if pageSize <= 0 {
		pageSize = 1
	}
	totalPages := (remoteCount + pageSize - 1) / pageSize
	if totalPages == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		records []record.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cursor := range schedule.Partition(totalPages, d.opts.Workers) {
		cursor := cursor
		g.Go(func() error {
			for {
				page, ok := cursor.Next()
				if !ok {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return eris.Wrap(err, "reconcile: page fetch cancelled")
				}

				recs, err := d.reader.FetchPage(gctx, remote.PageRequest{
					Page:     page,
					DateFrom: day,
					DateTo:   day,
					Filters:  d.opts.Filters,
				})
				if err != nil {
					mu.Lock()
					d.addError(fmt.Sprintf("fetch page %d of %s: %v",
						page, day.Format("2006-01-02"), err))
					mu.Unlock()
					continue
				}

				mu.Lock()
				records = append(records, recs...)
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// fetchDayUnbounded enumerates a day's pages sequentially until an empty
// page, for days whose aggregate count cannot be verified. Records fetched
// before a failure are still returned alongside the error.
func (d *Detector) fetchDayUnbounded(ctx context.Context, day time.Time) ([]record.Record, error) {
	var all []record.Record
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, eris.Wrap(err, "reconcile: page fetch cancelled")
		}
		recs, err := d.reader.FetchPage(ctx, remote.PageRequest{
			Page:     page,
			DateFrom: day,
			DateTo:   day,
			Filters:  d.opts.Filters,
		})
		if err != nil {
			return all, eris.Wrapf(err, "reconcile: fetch page %d of %s",
				page, day.Format("2006-01-02"))
		}
		if len(recs) == 0 {
			return all, nil
		}
		all = append(all, recs...)
	}
}

// extraLocalIDs returns identity keys stored for the day that the fresh
// fetch did not return. They are audit signals only.
func (d *Detector) extraLocalIDs(day time.Time, fetched []record.Record) ([]string, error) {
	localIDs, err := d.store.IDsOnDate(day)
	if err != nil {
		return nil, err
	}
	if len(localIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(fetched))
	for _, r := range fetched {
		if key, ok := record.ExtractIdentity(r); ok {
			seen[key] = struct{}{}
		}
	}

	var extras []string
	for _, id := range localIDs {
		if _, ok := seen[id]; !ok {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)
	return extras, nil
}

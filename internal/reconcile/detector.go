// Package reconcile drives a reconciliation run against the registry: it
// revalidates recent mutable tenders, finds the date boundary where the local
// mirror stopped agreeing with the registry's counts, re-scrapes everything
// after it, and merges the result into the store.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/dedupe"
	"github.com/tenderwatch/tendersync/internal/record"
	"github.com/tenderwatch/tendersync/internal/remote"
	"github.com/tenderwatch/tendersync/internal/runlog"
	"github.com/tenderwatch/tendersync/internal/store"
)

type phase int

const (
	phaseInit phase = iota
	phaseRevalidate
	phaseDriftScan
	phaseMerge
	phaseReport
	phaseDone
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseInit:
		return "init"
	case phaseRevalidate:
		return "revalidate"
	case phaseDriftScan:
		return "drift-scan"
	case phaseMerge:
		return "merge"
	case phaseReport:
		return "report"
	case phaseDone:
		return "done"
	case phaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a reconciliation run.
type Options struct {
	// DateFrom and DateTo bound the reconciliation window. Zero values derive
	// the window from RollingWindowDays around the current date.
	DateFrom time.Time
	DateTo   time.Time

	// RollingWindowDays sizes the default window on each side of today.
	// Default: 7.
	RollingWindowDays int

	// LookbackDays bounds the backward day walk when counts disagree.
	// Default: 30.
	LookbackDays int

	// RecheckWindowDays bounds how far back mutable tenders are revalidated.
	// Default: 90.
	RecheckWindowDays int

	// MutableStatuses are statuses whose tenders may still change remotely.
	MutableStatuses map[string]struct{}

	// Workers sets the re-scrape parallelism. Default: 4.
	Workers int

	Filters remote.Filters

	// DryRun runs the full decision pipeline but never writes the store.
	DryRun bool

	// ForceRescrape skips the count short-circuit and re-scrapes the whole
	// window.
	ForceRescrape bool

	// SkipRevalidate disables the per-tender revalidation pass.
	SkipRevalidate bool

	// Now is overridable for tests. Default: time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RollingWindowDays <= 0 {
		o.RollingWindowDays = 7
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = 30
	}
	if o.RecheckWindowDays <= 0 {
		o.RecheckWindowDays = 90
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Detector runs the reconciliation state machine. One Detector serves one
// run; it is not reused.
type Detector struct {
	store  *store.Store
	reader remote.Reader
	opts   Options
	log    *zap.Logger

	phase  phase
	errs   []string
	perDay []runlog.DayReport
}

// New creates a Detector over a store and a registry reader.
func New(st *store.Store, rd remote.Reader, opts Options) *Detector {
	return &Detector{
		store:  st,
		reader: rd,
		opts:   opts.withDefaults(),
		log:    zap.L().With(zap.String("component", "reconcile")),
		phase:  phaseInit,
	}
}

func (d *Detector) transition(next phase) {
	d.log.Info("phase transition",
		zap.Stringer("from", d.phase),
		zap.Stringer("to", next),
	)
	d.phase = next
}

func (d *Detector) addError(msg string) {
	d.errs = append(d.errs, msg)
	d.log.Warn(msg)
}

// Run executes the full reconciliation: revalidate, drift scan, merge,
// report. The returned Run is populated even on failure so the caller can
// record what happened. Only unrecoverable faults (store unreadable, lock
// unobtainable, cancellation) return a non-nil error; per-item fetch
// failures degrade to error entries in the run.
func (d *Detector) Run(ctx context.Context) (runlog.Run, error) {
	start := d.opts.Now()
	run := runlog.NewRun(start)
	run.DryRun = d.opts.DryRun

	from, to := d.window()
	run.DateFrom = from.Format("2006-01-02")
	run.DateTo = to.Format("2006-01-02")

	d.log.Info("reconciliation run starting",
		zap.String("run_id", run.RunID),
		zap.String("from", run.DateFrom),
		zap.String("to", run.DateTo),
		zap.Bool("dry_run", d.opts.DryRun),
		zap.Bool("force_rescrape", d.opts.ForceRescrape),
	)

	fail := func(err error) (runlog.Run, error) {
		d.transition(phaseFailed)
		run.Status = runlog.StatusFailed
		run.Errors = append(d.errs, err.Error())
		run.PerDay = d.perDay
		run.DurationSecs = d.opts.Now().Sub(start).Seconds()
		return run, err
	}

	var (
		staged []record.Record
		counts store.Counts
	)

	d.transition(phaseRevalidate)
	if d.opts.SkipRevalidate {
		d.log.Info("revalidation skipped")
	} else {
		var err error
		staged, err = d.revalidate(ctx)
		if err != nil {
			return fail(err)
		}
	}

	// Revalidated changes must land before the count comparison, otherwise
	// the drift scan would compare against a store it knows to be stale. A
	// dry run defers them to the final preview instead.
	if !d.opts.DryRun && len(staged) > 0 {
		merged, err := dedupe.Dedupe(staged)
		if err != nil {
			return fail(eris.Wrap(err, "reconcile: dedupe revalidated records"))
		}
		c, err := d.store.UpsertAll(merged)
		if err != nil {
			return fail(err)
		}
		counts = addCounts(counts, c)
		staged = nil
	}

	d.transition(phaseDriftScan)
	fetched, err := d.driftScan(ctx, from, to)
	if err != nil {
		return fail(err)
	}

	d.transition(phaseMerge)
	merged, err := dedupe.Dedupe(append(staged, fetched...))
	if err != nil {
		return fail(eris.Wrap(err, "reconcile: dedupe fetched records"))
	}

	var c store.Counts
	if d.opts.DryRun {
		c, err = d.store.Preview(merged)
	} else {
		c, err = d.store.UpsertAll(merged)
	}
	if err != nil {
		return fail(err)
	}
	counts = addCounts(counts, c)

	d.transition(phaseReport)
	run.PerDay = d.perDay
	run.Metrics = runlog.Metrics{
		Added:    counts.Added,
		Replaced: counts.Replaced,
		Skipped:  counts.Skipped,
		Errors:   len(d.errs),
	}
	run.Errors = d.errs
	run.Status = runlog.StatusSuccess
	if len(d.errs) > 0 {
		run.Status = runlog.StatusPartial
	}
	run.DurationSecs = d.opts.Now().Sub(start).Seconds()

	d.transition(phaseDone)
	d.log.Info("reconciliation run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)),
		zap.Int("added", counts.Added),
		zap.Int("replaced", counts.Replaced),
		zap.Int("skipped", counts.Skipped),
		zap.Int("errors", len(d.errs)),
	)
	return run, nil
}

// window resolves the reconciliation window, defaulting to a rolling window
// around today.
func (d *Detector) window() (from, to time.Time) {
	today := truncateDay(d.opts.Now())
	from = d.opts.DateFrom
	to = d.opts.DateTo
	if from.IsZero() {
		from = today.AddDate(0, 0, -d.opts.RollingWindowDays)
	}
	if to.IsZero() {
		to = today.AddDate(0, 0, d.opts.RollingWindowDays)
	}
	return truncateDay(from), truncateDay(to)
}

// revalidate re-fetches recent mutable tenders and stages those whose
// content fingerprint changed. Fetch failures degrade to error entries.
func (d *Detector) revalidate(ctx context.Context) ([]record.Record, error) {
	cutoff := truncateDay(d.opts.Now()).AddDate(0, 0, -d.opts.RecheckWindowDays)
	candidates, err := d.store.SelectMutable(d.opts.MutableStatuses, cutoff)
	if err != nil {
		return nil, err
	}
	d.log.Info("revalidating mutable tenders", zap.Int("candidates", len(candidates)))

	var staged []record.Record
	for _, local := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "reconcile: revalidation cancelled")
		}

		key, ok := record.ExtractIdentity(local)
		if !ok {
			continue
		}

		fresh, err := d.reader.FetchRecord(ctx, key)
		if err != nil {
			if eris.Is(err, remote.ErrNotFound) {
				d.log.Debug("tender no longer in registry", zap.String("id", key))
				continue
			}
			d.addError(fmt.Sprintf("revalidate %s: %v", key, err))
			continue
		}

		localFP, err := record.Fingerprint(local)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: fingerprint stored %s", key)
		}
		freshFP, err := record.Fingerprint(fresh)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: fingerprint fetched %s", key)
		}
		if localFP != freshFP {
			d.log.Debug("tender changed remotely", zap.String("id", key))
			staged = append(staged, fresh)
		}
	}

	d.log.Info("revalidation complete", zap.Int("changed", len(staged)))
	return staged, nil
}

func addCounts(a, b store.Counts) store.Counts {
	a.Added += b.Added
	a.Replaced += b.Replaced
	a.Skipped += b.Skipped
	a.Rejected += b.Rejected
	return a
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

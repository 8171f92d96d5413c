// Package export writes the JSONL store and the run history into a SQLite
// database for downstream analysis.
package export

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tenderwatch/tendersync/internal/record"
	"github.com/tenderwatch/tendersync/internal/runlog"
	"github.com/tenderwatch/tendersync/internal/store"
)

const migration = `
CREATE TABLE IF NOT EXISTS tenders (
	id             TEXT PRIMARY KEY,
	buyer          TEXT,
	title          TEXT,
	status         TEXT,
	amount         TEXT,
	currency       TEXT,
	published_date TEXT,
	deadline_date  TEXT,
	raw            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	start_time       DATETIME NOT NULL,
	duration_seconds REAL NOT NULL,
	status           TEXT NOT NULL,
	date_from        TEXT,
	date_to          TEXT,
	added            INTEGER NOT NULL,
	replaced         INTEGER NOT NULL,
	skipped          INTEGER NOT NULL,
	errors           INTEGER NOT NULL,
	detail           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenders_status ON tenders(status);
CREATE INDEX IF NOT EXISTS idx_tenders_published_date ON tenders(published_date);
CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs(start_time);
`

// Counts reports how many rows the export wrote.
type Counts struct {
	Tenders int
	Runs    int
}

// ToSQLite exports all stored tenders and the run history into a SQLite
// database at dbPath. Rows are upserted by identity key, so repeated exports
// converge. An empty runsPath skips the run history.
func ToSQLite(ctx context.Context, st *store.Store, runsPath, dbPath string) (Counts, error) {
	db, err := open(dbPath)
	if err != nil {
		return Counts{}, err
	}
	defer db.Close() //nolint:errcheck

	if _, err := db.ExecContext(ctx, migration); err != nil {
		return Counts{}, eris.Wrap(err, "export: migrate")
	}

	var counts Counts
	if counts.Tenders, err = exportTenders(ctx, db, st); err != nil {
		return counts, err
	}
	if runsPath != "" {
		if counts.Runs, err = exportRuns(ctx, db, runsPath); err != nil {
			return counts, err
		}
	}

	zap.L().Info("export complete",
		zap.String("db", dbPath),
		zap.Int("tenders", counts.Tenders),
		zap.Int("runs", counts.Runs),
	)
	return counts, nil
}

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "export: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "export: exec %s", pragma)
		}
	}
	return db, nil
}

func exportTenders(ctx context.Context, db *sql.DB, st *store.Store) (int, error) {
	records, err := st.Records()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "export: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tenders (id, buyer, title, status, amount, currency, published_date, deadline_date, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			buyer = excluded.buyer,
			title = excluded.title,
			status = excluded.status,
			amount = excluded.amount,
			currency = excluded.currency,
			published_date = excluded.published_date,
			deadline_date = excluded.deadline_date,
			raw = excluded.raw`)
	if err != nil {
		return 0, eris.Wrap(err, "export: prepare tender upsert")
	}
	defer stmt.Close() //nolint:errcheck

	n := 0
	for _, r := range records {
		key, ok := record.ExtractIdentity(r)
		if !ok {
			continue
		}
		raw, err := json.Marshal(r)
		if err != nil {
			return n, eris.Wrapf(err, "export: marshal tender %s", key)
		}
		if _, err := stmt.ExecContext(ctx,
			key, r.Buyer, r.Title, r.Status, r.Amount, r.Currency,
			r.PublishedDate, r.DeadlineDate, string(raw),
		); err != nil {
			return n, eris.Wrapf(err, "export: upsert tender %s", key)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "export: commit tenders")
	}
	return n, nil
}

func exportRuns(ctx context.Context, db *sql.DB, runsPath string) (int, error) {
	runs, err := runlog.NewLog(runsPath, 0).List()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "export: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO runs (run_id, start_time, duration_seconds, status, date_from, date_to,
			added, replaced, skipped, errors, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			duration_seconds = excluded.duration_seconds,
			detail = excluded.detail`)
	if err != nil {
		return 0, eris.Wrap(err, "export: prepare run upsert")
	}
	defer stmt.Close() //nolint:errcheck

	n := 0
	for _, run := range runs {
		detail, err := json.Marshal(run)
		if err != nil {
			return n, eris.Wrapf(err, "export: marshal run %s", run.RunID)
		}
		if _, err := stmt.ExecContext(ctx,
			run.RunID, run.StartTime, run.DurationSecs, string(run.Status),
			run.DateFrom, run.DateTo,
			run.Metrics.Added, run.Metrics.Replaced, run.Metrics.Skipped, run.Metrics.Errors,
			string(detail),
		); err != nil {
			return n, eris.Wrapf(err, "export: upsert run %s", run.RunID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "export: commit runs")
	}
	return n, nil
}

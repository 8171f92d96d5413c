// Package runlog records the outcome of every reconciliation run in a
// JSON history file, one entry per run, newest last.
package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // completed with per-item errors
	StatusFailed  Status = "failed"
)

// DayOutcome classifies one examined day during backward reconciliation.
type DayOutcome string

const (
	DaySynced     DayOutcome = "synced"
	DayRescraped  DayOutcome = "rescraped"
	DayUnverified DayOutcome = "unverified"
)

// DayReport is the audit artifact for one date examined during the drift
// scan. It is never authoritative data; it exists only in the run history.
type DayReport struct {
	Date        string     `json:"date"`
	RemoteCount int        `json:"remote_count"`
	LocalCount  int        `json:"local_count"`
	Outcome     DayOutcome `json:"outcome"`

	// ExtraLocalIDs are identity keys present locally for a re-scraped day
	// but absent from the fresh fetch. Flagged for audit, never deleted.
	ExtraLocalIDs []string `json:"extra_local_ids,omitempty"`
}

// Metrics aggregates merge outcomes across a run.
type Metrics struct {
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Run is one entry in the run history.
type Run struct {
	RunID        string      `json:"run_id"`
	StartTime    time.Time   `json:"start_time"`
	DurationSecs float64     `json:"duration_seconds"`
	Status       Status      `json:"status"`
	DateFrom     string      `json:"date_from,omitempty"`
	DateTo       string      `json:"date_to,omitempty"`
	DryRun       bool        `json:"dry_run,omitempty"`
	PerDay       []DayReport `json:"per_day_report,omitempty"`
	Metrics      Metrics     `json:"metrics"`
	Errors       []string    `json:"errors,omitempty"`
}

// NewRun starts a run entry with a fresh ID.
func NewRun(start time.Time) Run {
	return Run{
		RunID:     uuid.New().String(),
		StartTime: start.UTC(),
	}
}

// Log reads and appends the run history file.
type Log struct {
	path string
	keep int
}

// NewLog creates a Log. keep bounds how many entries are retained; <= 0
// means keep the last 100.
func NewLog(path string, keep int) *Log {
	if keep <= 0 {
		keep = 100
	}
	return &Log{path: path, keep: keep}
}

// Append adds a run to the history, trimming to the newest keep entries.
// The file is rewritten via temp + rename so a crash never corrupts it.
func (l *Log) Append(run Run) error {
	runs, err := l.List()
	if err != nil {
		// A damaged history file must not block recording new runs.
		runs = nil
	}

	runs = append(runs, run)
	if len(runs) > l.keep {
		runs = runs[len(runs)-l.keep:]
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return eris.Wrap(err, "runlog: marshal history")
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "runlog: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "runlog: create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "runlog: write history")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "runlog: close temp file")
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "runlog: rename over %s", l.path)
	}
	return nil
}

// List returns all recorded runs, oldest first. A missing file is an empty
// history.
func (l *Log) List() ([]Run, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: read %s", l.path)
	}

	var runs []Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, eris.Wrapf(err, "runlog: parse %s", l.path)
	}
	return runs, nil
}

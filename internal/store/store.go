// Package store persists tender records as an append-only JSON-Lines file
// with identity-keyed upsert semantics. The file is logically a map from
// identity key to the single surviving record; every write rewrites it
// atomically under an exclusive lock, so readers only ever observe a fully
// old or fully new store.
package store

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/record"
)

// Store owns the JSONL file and an in-memory cache of its contents. It is
// passed by reference into consumers; there is no package-level state.
type Store struct {
	path         string
	lockTimeout  time.Duration
	staleLockAge time.Duration
	merge        MergePolicy

	mu      sync.Mutex
	byID    map[string]record.Record
	order   []string
	loaded  bool
	corrupt int
	unkeyed int
}

// Options configures a Store.
type Options struct {
	// LockTimeout bounds how long a writer waits for the store lock before
	// giving up with ErrLockConflict. Default: 30s.
	LockTimeout time.Duration

	// StaleLockAge is the age past which an existing lock file is presumed
	// abandoned by a crashed process and is broken. Default: 10m.
	StaleLockAge time.Duration

	// Merge decides whether a candidate replaces a stored record. Nil falls
	// back to DefaultMergePolicy.
	Merge MergePolicy
}

// New creates a Store for the given JSONL path. The file is not read until
// Load (or the first operation that needs the cache).
func New(path string, opts Options) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	if opts.StaleLockAge <= 0 {
		opts.StaleLockAge = 10 * time.Minute
	}
	if opts.Merge == nil {
		opts.Merge = DefaultMergePolicy
	}
	return &Store{
		path:         path,
		lockTimeout:  opts.LockTimeout,
		staleLockAge: opts.StaleLockAge,
		merge:        opts.Merge,
	}
}

// Path returns the store's file path.
func (s *Store) Path() string { return s.path }

// Load reads the JSONL file into the cache. Malformed lines are skipped with
// a warning and counted; a missing file is an empty store. Load is a no-op
// when the cache is already current.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Reload discards the cache and re-reads the file.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	return s.loadLocked()
}

// Invalidate discards the cache without re-reading; the next operation
// reloads lazily.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.byID = nil
	s.order = nil
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	log := zap.L().With(zap.String("component", "store"), zap.String("path", s.path))

	s.byID = make(map[string]record.Record)
	s.order = nil
	s.corrupt = 0
	s.unkeyed = 0

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			log.Debug("store file does not exist, starting empty")
			return nil
		}
		return eris.Wrapf(err, "store: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	// Detail-scraped tenders carry large cell payloads.
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var r record.Record
		if err := json.Unmarshal(line, &r); err != nil {
			s.corrupt++
			log.Warn("skipping corrupt store line",
				zap.Int("line", lineNum),
				zap.Error(err),
			)
			continue
		}

		key, ok := record.ExtractIdentity(r)
		if !ok {
			s.unkeyed++
			log.Warn("skipping record without identity key", zap.Int("line", lineNum))
			continue
		}

		if _, exists := s.byID[key]; !exists {
			s.order = append(s.order, key)
		}
		s.byID[key] = r
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrapf(err, "store: scan %s", s.path)
	}

	s.loaded = true
	log.Debug("store loaded",
		zap.Int("records", len(s.byID)),
		zap.Int("corrupt", s.corrupt),
		zap.Int("unkeyed", s.unkeyed),
	)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	return len(s.byID), nil
}

// Get returns the stored record for an identity key.
func (s *Store) Get(key string) (record.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return record.Record{}, false, err
	}
	r, ok := s.byID[key]
	return r, ok, nil
}

// Records returns all stored records in stable (first-seen) order.
func (s *Store) Records() ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byID[key])
	}
	return out, nil
}

// CountBetween counts records published within [from, to] inclusive.
func (s *Store) CountBetween(from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.byID {
		if d, ok := r.PublishedOn(); ok && !d.Before(from) && !d.After(to) {
			n++
		}
	}
	return n, nil
}

// CountOnDate counts records published on a calendar date.
func (s *Store) CountOnDate(day time.Time) (int, error) {
	day = truncateDay(day)
	return s.CountBetween(day, day)
}

// IDsOnDate returns sorted identity keys of records published on a date.
func (s *Store) IDsOnDate(day time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	var ids []string
	for key, r := range s.byID {
		if d, ok := r.PublishedOn(); ok && d.Equal(truncateDay(day)) {
			ids = append(ids, key)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestPublishedDate returns the most recent published date across the
// store; ok is false for an empty or dateless store.
func (s *Store) LatestPublishedDate() (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return time.Time{}, false, err
	}
	var latest time.Time
	found := false
	for _, r := range s.byID {
		if d, ok := r.PublishedOn(); ok && d.After(latest) {
			latest = d
			found = true
		}
	}
	return latest, found, nil
}

// SelectMutable returns records whose status is in the mutable set and whose
// published date is on or after cutoff. These are the revalidation
// candidates for a reconciliation run.
func (s *Store) SelectMutable(statuses map[string]struct{}, cutoff time.Time) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	var out []record.Record
	for _, key := range s.order {
		r := s.byID[key]
		if _, mutable := statuses[r.Status]; !mutable {
			continue
		}
		if d, ok := r.PublishedOn(); ok && d.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

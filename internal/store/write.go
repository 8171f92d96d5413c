package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/record"
)

// UpsertResult classifies the outcome of merging one candidate record.
type UpsertResult int

const (
	Skipped UpsertResult = iota
	Added
	Replaced
)

func (r UpsertResult) String() string {
	switch r {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ErrNoIdentity is returned for candidates from which no identity key can be
// extracted; they are never persisted.
var ErrNoIdentity = eris.New("store: record has no identity key")

// ErrLockConflict means the store lock could not be acquired within the
// configured timeout. This is fatal to a run.
var ErrLockConflict = eris.New("store: could not acquire write lock")

// Counts aggregates the outcomes of a batch upsert.
type Counts struct {
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Changed reports whether the batch modified the store.
func (c Counts) Changed() bool { return c.Added > 0 || c.Replaced > 0 }

// Upsert merges a single candidate into the store and persists the result.
func (s *Store) Upsert(r record.Record) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Skipped, err
	}

	result, _, err := s.applyLocked(r)
	if err != nil {
		return Skipped, err
	}
	if result == Skipped {
		return Skipped, nil
	}

	if err := s.persistLocked(); err != nil {
		return Skipped, err
	}
	return result, nil
}

// UpsertAll merges a batch of candidates under a single lock acquisition and
// a single atomic rewrite. Candidates without an identity key are counted as
// rejected, not fatal.
func (s *Store) UpsertAll(recs []record.Record) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Counts{}, err
	}

	var counts Counts
	for _, r := range recs {
		result, _, err := s.applyLocked(r)
		if err != nil {
			if eris.Is(err, ErrNoIdentity) {
				counts.Rejected++
				continue
			}
			return counts, err
		}
		switch result {
		case Added:
			counts.Added++
		case Replaced:
			counts.Replaced++
		case Skipped:
			counts.Skipped++
		}
	}

	if counts.Changed() {
		if err := s.persistLocked(); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// Preview computes what UpsertAll would do without touching the cache or the
// file. Used by dry runs.
func (s *Store) Preview(recs []record.Record) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Counts{}, err
	}

	shadow := make(map[string]record.Record, len(s.byID))
	for k, v := range s.byID {
		shadow[k] = v
	}

	var counts Counts
	for _, r := range recs {
		key, ok := record.ExtractIdentity(r)
		if !ok {
			counts.Rejected++
			continue
		}
		existing, exists := shadow[key]
		switch {
		case !exists:
			counts.Added++
			shadow[key] = r
		case s.merge(existing, r):
			counts.Replaced++
			shadow[key] = r
		default:
			counts.Skipped++
		}
	}
	return counts, nil
}

// applyLocked merges one candidate into the cache. Callers hold s.mu and are
// responsible for persisting.
func (s *Store) applyLocked(r record.Record) (UpsertResult, string, error) {
	key, ok := record.ExtractIdentity(r)
	if !ok {
		return Skipped, "", eris.Wrap(ErrNoIdentity, "store: upsert")
	}

	existing, exists := s.byID[key]
	switch {
	case !exists:
		s.byID[key] = r
		s.order = append(s.order, key)
		return Added, key, nil
	case s.merge(existing, r):
		s.byID[key] = r
		return Replaced, key, nil
	default:
		return Skipped, key, nil
	}
}

// persistLocked rewrites the store file: take the path-scoped lock, write the
// full record set to a temp file in the same directory, fsync, then rename
// over the original. A crash at any point leaves either the old file or the
// new file, never a torn one.
func (s *Store) persistLocked() error {
	release, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "store: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "store: create temp file")
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()          //nolint:errcheck
		os.Remove(tmpPath)   //nolint:errcheck
	}

	for _, key := range s.order {
		line, err := json.Marshal(s.byID[key])
		if err != nil {
			cleanup()
			return eris.Wrapf(err, "store: marshal record %s", key)
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			cleanup()
			return eris.Wrap(err, "store: write temp file")
		}
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return eris.Wrap(err, "store: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "store: close temp file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "store: rename %s over %s", tmpPath, s.path)
	}
	return nil
}

// acquireLock takes the exclusive lock file co-located with the store.
// Creation with O_EXCL is the atomic claim; a lock older than staleLockAge
// is presumed left behind by a crashed writer and is broken.
func (s *Store) acquireLock() (release func(), err error) {
	lockPath := s.path + ".lock"
	log := zap.L().With(zap.String("component", "store"))
	deadline := time.Now().Add(s.lockTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid()) //nolint:errcheck
			f.Close()                           //nolint:errcheck
			return func() {
				if rmErr := os.Remove(lockPath); rmErr != nil {
					log.Warn("failed to remove lock file", zap.Error(rmErr))
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, eris.Wrapf(err, "store: create lock %s", lockPath)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > s.staleLockAge {
			log.Warn("breaking stale store lock",
				zap.String("lock", lockPath),
				zap.Duration("age", time.Since(info.ModTime())),
			)
			os.Remove(lockPath) //nolint:errcheck
			continue
		}

		if time.Now().After(deadline) {
			return nil, eris.Wrapf(ErrLockConflict, "lock %s held past %s", lockPath, s.lockTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

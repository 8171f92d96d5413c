package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunHasUniqueID(t *testing.T) {
	a := NewRun(time.Now())
	b := NewRun(time.Now())
	assert.NotEmpty(t, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestAppendAndList(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "update_history.json"), 100)

	run := NewRun(time.Date(2025, 5, 2, 6, 0, 0, 0, time.UTC))
	run.Status = StatusSuccess
	run.Metrics = Metrics{Added: 3, Replaced: 1}
	run.PerDay = []DayReport{
		{Date: "2025-05-01", RemoteCount: 5, LocalCount: 5, Outcome: DaySynced},
		{Date: "2025-05-02", RemoteCount: 7, LocalCount: 3, Outcome: DayRescraped,
			ExtraLocalIDs: []string{"GEO250000009"}},
	}
	require.NoError(t, l.Append(run))

	runs, err := l.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, DayRescraped, runs[0].PerDay[1].Outcome)
	assert.Equal(t, []string{"GEO250000009"}, runs[0].PerDay[1].ExtraLocalIDs)
}

func TestAppendTrimsToKeep(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "history.json"), 3)

	var ids []string
	for i := 0; i < 5; i++ {
		run := NewRun(time.Now())
		run.Status = StatusSuccess
		ids = append(ids, run.RunID)
		require.NoError(t, l.Append(run))
	}

	runs, err := l.List()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[4], runs[2].RunID)
}

func TestListMissingFile(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "absent.json"), 10)
	runs, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestAppendSurvivesDamagedHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))

	l := NewLog(path, 10)
	run := NewRun(time.Now())
	require.NoError(t, l.Append(run))

	runs, err := l.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestAppendManySequential(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "history.json"), 100)
	for i := 0; i < 10; i++ {
		run := NewRun(time.Now())
		run.Errors = []string{fmt.Sprintf("error %d", i)}
		require.NoError(t, l.Append(run))
	}
	runs, err := l.List()
	require.NoError(t, err)
	assert.Len(t, runs, 10)
}

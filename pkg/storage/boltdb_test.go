package storage

import (
	"testing"
	"time"

	"github.com/reproserver/reproserver/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestRun(t *testing.T, store *BoltStore) *types.Run {
	t.Helper()
	exp := &types.Experiment{
		Hash: "abc123",
		Parameters: []types.Parameter{
			{Name: "cmdline_00000", Optional: true, Default: "./count.sh"},
		},
		Paths: []types.Path{
			{Name: "output", Path: "/data/output", IsOutput: true},
		},
	}
	require.NoError(t, store.CreateExperiment(exp))

	run := &types.Run{ExperimentHash: exp.Hash}
	require.NoError(t, store.CreateRun(run))
	return run
}

func TestRunIDsMonotonic(t *testing.T) {
	store := newTestStore(t)

	first := createTestRun(t, store)
	second := &types.Run{ExperimentHash: first.ExperimentHash}
	require.NoError(t, store.CreateRun(second))

	assert.Greater(t, second.ID, first.ID)
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStartedOnce(t *testing.T) {
	store := newTestStore(t)
	run := createTestRun(t, store)

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	already, err := store.SetStarted(run.ID, first)
	require.NoError(t, err)
	assert.False(t, already)

	// Second call must not move the timestamp
	already, err = store.SetStarted(run.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, already)

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Started)
	assert.Equal(t, first, *got.Started)
}

func TestSetDone(t *testing.T) {
	store := newTestStore(t)
	run := createTestRun(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SetDone(run.ID, now))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Done)
	assert.Equal(t, now, *got.Done)
}

func TestLogLinesPreserveOrder(t *testing.T) {
	store := newTestStore(t)
	run := createTestRun(t, store)

	batch1 := []types.LogLine{{Line: "one"}, {Line: "two"}}
	batch2 := []types.LogLine{{Line: "three"}}
	require.NoError(t, store.AppendLogLines(run.ID, batch1))
	require.NoError(t, store.AppendLogLines(run.ID, batch2))

	lines, err := store.ListLogLines(run.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, "one", lines[0].Line)
	assert.Equal(t, "two", lines[1].Line)
	assert.Equal(t, "three", lines[2].Line)

	// Ids strictly increasing in insertion order
	assert.Less(t, lines[0].ID, lines[1].ID)
	assert.Less(t, lines[1].ID, lines[2].ID)
}

func TestClearRunResults(t *testing.T) {
	store := newTestStore(t)
	run := createTestRun(t, store)

	require.NoError(t, store.AppendLogLines(run.ID, []types.LogLine{{Line: "old"}}))
	require.NoError(t, store.AddOutputFile(&types.OutputFile{
		RunID: run.ID, Name: "output", Hash: "deadbeef", Size: 12,
	}))

	require.NoError(t, store.ClearRunResults(run.ID))

	lines, err := store.ListLogLines(run.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	files, err := store.ListOutputFiles(run.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	// Clearing an already-clear run is fine
	require.NoError(t, store.ClearRunResults(run.ID))
}

func TestOutputFilesOnGetRun(t *testing.T) {
	store := newTestStore(t)
	run := createTestRun(t, store)

	require.NoError(t, store.AddOutputFile(&types.OutputFile{
		RunID: run.ID, Name: "output", Hash: "cafe", Size: 4,
	}))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	require.Len(t, got.OutputFiles, 1)
	assert.Equal(t, "output", got.OutputFiles[0].Name)
	assert.Equal(t, "cafe", got.OutputFiles[0].Hash)
}

func TestProgress(t *testing.T) {
	store := newTestStore(t)
	run := createTestRun(t, store)

	require.NoError(t, store.SetProgress(run.ID, 40, "Container is running"))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProgressPercent)
	assert.Equal(t, "Container is running", got.ProgressText)
}

package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-export/export"
)

// This our appStub for background processing isolation without real invocation
type appStubBG struct {
	jobCalls     atomic.Int32
	historyCalls atomic.Int32
	jobErr       error
}

func (a *appStubBG) pruneExpiredJobs() (int, error) {
	a.jobCalls.Add(1)
	return 2, a.jobErr
}

func (a *appStubBG) pruneExportHistory() (int, error) {
	a.historyCalls.Add(1)
	return 3, nil
}

func TestRunBackgroundCycle(t *testing.T) {
	stub := &appStubBG{}
	count, err := runBackgroundCycle(stub)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// A failing task does not stop the next one
	stub = &appStubBG{jobErr: errors.New("boom")}
	_, err = runBackgroundCycle(stub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruneExpiredJobs")
	assert.Equal(t, int32(1), stub.historyCalls.Load())
}

func TestStartBackgroundTasks_StopsOnCancel(t *testing.T) {
	stub := &appStubBG{}
	ctx, cancel := context.WithCancel(context.Background())

	StartBackgroundTasks(ctx, stub, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return stub.jobCalls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	calls := stub.jobCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, stub.jobCalls.Load())
}

func TestRemoveExpiredJobs(t *testing.T) {
	store := &JobStore{jobs: make(map[string]*ExportJob)}
	old := time.Now().Add(-2 * time.Hour)

	mk := func(status string, updated time.Time) *ExportJob {
		job := newExportJob(nil, export.Input{}, export.Options{})
		job.Status = status
		job.UpdatedAt = updated
		store.addJob(job)
		return job
	}
	expiredDone := mk(jobStatusCompleted, old)
	expiredFailed := mk(jobStatusFailed, old)
	running := mk(jobStatusInProgress, old)
	fresh := mk(jobStatusCompleted, time.Now())

	removed := store.removeExpired(time.Now().Add(-time.Hour))
	assert.Equal(t, 2, removed)

	_, ok := store.getJob(expiredDone.ID)
	assert.False(t, ok)
	_, ok = store.getJob(expiredFailed.ID)
	assert.False(t, ok)
	_, ok = store.getJob(running.ID)
	assert.True(t, ok)
	_, ok = store.getJob(fresh.ID)
	assert.True(t, ok)
}

func TestPruneExportHistory(t *testing.T) {
	db := newTestDB(t)
	seedRecords(t, db, 4)

	prev := historyLimit
	historyLimit = 1
	t.Cleanup(func() { historyLimit = prev })

	app := &App{Database: db}
	removed, err := app.pruneExportHistory()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

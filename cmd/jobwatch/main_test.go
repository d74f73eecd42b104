package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/monitor"
	"github.com/elecmate/api/internal/service"
	"github.com/elecmate/api/internal/store"
)

func seed(t *testing.T, mem *store.MemoryStore, id string, status model.JobStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, mem.CreateJob(context.Background(), &model.Job{
		ID:                 id,
		JobType:            "import",
		Status:             status,
		TotalBatches:       4,
		CompletedBatches:   4,
		ProgressPercentage: 100,
		CreatedAt:          now,
		UpdatedAt:          now,
	}))
}

func fastMonitor(mem *store.MemoryStore) *monitor.Monitor {
	return monitor.New(mem, monitor.Config{Interval: 10 * time.Millisecond}, nil, nil)
}

func TestWatchJob_Completed(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "job-1", model.JobStatusCompleted)

	var out bytes.Buffer
	require.NoError(t, watchJob(context.Background(), &out, fastMonitor(mem), "job-1", false))

	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), "100%")
	assert.Contains(t, out.String(), "[terminal]")
}

func TestWatchJob_FailedExitsWithError(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "job-1", model.JobStatusFailed)

	var out bytes.Buffer
	err := watchJob(context.Background(), &out, fastMonitor(mem), "job-1", false)
	assert.ErrorIs(t, err, errJobFailed)
}

func TestWatchJob_NotFound(t *testing.T) {
	var out bytes.Buffer
	err := watchJob(context.Background(), &out, fastMonitor(store.NewMemoryStore()), "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.Contains(t, out.String(), monitor.MsgJobFetchFailed)
}

func TestWatchJob_CancelStops(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "job-1", model.JobStatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, watchJob(ctx, &out, fastMonitor(mem), "job-1", true))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var final model.WatchResponse
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &final))
	assert.Equal(t, string(monitor.StopReasonCancelled), final.StopReason)
	assert.True(t, final.IsProcessing)
}

func TestPrintRecent(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := service.NewJobService(mem, nil, nil)

	var out bytes.Buffer
	require.NoError(t, printRecent(context.Background(), &out, svc, 5))
	assert.Equal(t, "No jobs yet\n", out.String())

	seed(t, mem, "job-1", model.JobStatusCompleted)
	out.Reset()
	require.NoError(t, printRecent(context.Background(), &out, svc, 5))
	assert.Contains(t, out.String(), "job-1")
	assert.Contains(t, out.String(), "4/4")
}

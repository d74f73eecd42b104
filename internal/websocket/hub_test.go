package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/monitor"
	"github.com/elecmate/api/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T, mem *store.MemoryStore) (*Hub, context.CancelFunc) {
	t.Helper()
	mon := monitor.New(mem, monitor.Config{Interval: 10 * time.Millisecond}, nil, nil)
	hub := NewHub(mon, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	return hub, func() {
		cancel()
		<-stopped
	}
}

func putJob(t *testing.T, mem *store.MemoryStore, id string, status model.JobStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, mem.CreateJob(context.Background(), &model.Job{
		ID:           id,
		JobType:      "import",
		Status:       status,
		TotalBatches: 2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_CompleteMessage(t *testing.T) {
	mem := store.NewMemoryStore()
	putJob(t, mem, "job-1", model.JobStatusPending)
	hub, stop := newTestHub(t, mem)
	defer stop()

	client := NewClient("job-1", nil)
	require.True(t, hub.Register(client))

	msg := receive(t, client)
	assert.Equal(t, model.WSMessageTypeProgress, msg["type"])
	assert.Equal(t, true, msg["isProcessing"])

	job, err := mem.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	job.Status = model.JobStatusCompleted
	job.ProgressPercentage = 100
	require.NoError(t, mem.SaveJob(context.Background(), job))

	for {
		msg = receive(t, client)
		if msg["type"] != model.WSMessageTypeProgress {
			break
		}
	}
	assert.Equal(t, model.WSMessageTypeComplete, msg["type"])
	assert.Equal(t, true, msg["isCompleted"])

	// A late subscriber gets the final message straight away
	late := NewClient("job-1", nil)
	require.True(t, hub.Register(late))
	assert.Equal(t, model.WSMessageTypeComplete, receive(t, late)["type"])

	hub.Unregister(client)
	hub.Unregister(late)
	assert.Eventually(t, func() bool { return hub.ActiveWatches() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_FetchFailedMessage(t *testing.T) {
	hub, stop := newTestHub(t, store.NewMemoryStore())
	defer stop()

	client := NewClient("missing", nil)
	require.True(t, hub.Register(client))

	msg := receive(t, client)
	assert.Equal(t, model.WSMessageTypeError, msg["type"])
	errBody, ok := msg["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, CodeFetchFailed, errBody["code"])
	assert.Equal(t, monitor.MsgJobFetchFailed, errBody["message"])

	hub.Unregister(client)
}

func TestHub_SharesSessionAndStopsWithLastClient(t *testing.T) {
	mem := store.NewMemoryStore()
	putJob(t, mem, "job-1", model.JobStatusProcessing)
	hub, stop := newTestHub(t, mem)
	defer stop()

	a := NewClient("job-1", nil)
	b := NewClient("job-1", nil)
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))

	subscribers := func() int {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		if w, ok := hub.watches["job-1"]; ok {
			return len(w.clients)
		}
		return 0
	}
	require.Eventually(t, func() bool { return subscribers() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ActiveWatches())

	hub.mu.RLock()
	sess := hub.watches["job-1"].session
	hub.mu.RUnlock()

	hub.Unregister(a)
	assert.False(t, sessionEnded(sess))

	hub.Unregister(b)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still running after last client left")
	}
	assert.Equal(t, monitor.StopReasonCancelled, sess.Snapshot().StopReason)
	assert.Equal(t, 0, hub.ActiveWatches())
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	mem := store.NewMemoryStore()
	putJob(t, mem, "job-1", model.JobStatusProcessing)
	hub, stop := newTestHub(t, mem)

	client := NewClient("job-1", nil)
	require.True(t, hub.Register(client))
	stop()

	// drain until closed
	for range client.Send {
	}
	assert.False(t, hub.Register(NewClient("job-1", nil)))
	hub.Unregister(client)
}

func TestMessageFor(t *testing.T) {
	hub := NewHub(nil, nil)
	job := &model.Job{ID: "j", Status: model.JobStatusProcessing, TotalBatches: 4, CompletedBatches: 1, ProgressPercentage: 25}

	_, ok := hub.messageFor(monitor.Snapshot{JobID: "j", Loading: true})
	assert.False(t, ok, "nothing to send before the first fetch")

	_, ok = hub.messageFor(monitor.Snapshot{JobID: "j", Job: job, Stopped: true, StopReason: monitor.StopReasonCancelled})
	assert.False(t, ok, "cancelled sessions are silent")

	data, ok := hub.messageFor(monitor.Snapshot{JobID: "j", Job: job})
	require.True(t, ok)
	var progress model.WSProgressMessage
	require.NoError(t, json.Unmarshal(data, &progress))
	assert.Equal(t, 25, progress.ProgressPercentage)
	assert.True(t, progress.IsProcessing)

	data, ok = hub.messageFor(monitor.Snapshot{JobID: "j", Job: job, Stopped: true, StopReason: monitor.StopReasonBudgetExhausted})
	require.True(t, ok)
	var expired model.WSErrorMessage
	require.NoError(t, json.Unmarshal(data, &expired))
	assert.Equal(t, CodeBudgetExhausted, expired.Error.Code)
}

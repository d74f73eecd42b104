package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elecmate/api/internal/logging"
	"github.com/elecmate/api/internal/middleware"
	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/monitor"
	"github.com/elecmate/api/internal/service"
	"github.com/elecmate/api/internal/store"
	"github.com/elecmate/api/pkg/response"
)

const testJWTSecret = "test-secret-for-handlers"

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{ID: "t", Type: task.Type()}, nil
}

type failingReader struct {
	store.JobStore
}

func (failingReader) GetJob(context.Context, string) (*model.Job, error) {
	return nil, errors.New("connection reset")
}

func (failingReader) ListLatestJobs(context.Context, int) ([]model.Job, error) {
	return nil, errors.New("connection reset")
}

type testApp struct {
	app   *fiber.App
	jobs  *JobHandler
	store *store.MemoryStore
	token string
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	mem := store.NewMemoryStore()
	return setupAppWithStore(t, mem, mem)
}

func setupAppWithStore(t *testing.T, mem *store.MemoryStore, jobStore store.JobStore) *testApp {
	t.Helper()

	svc := service.NewJobService(jobStore, nopEnqueuer{}, nil)
	mon := monitor.New(jobStore, monitor.Config{Interval: 10 * time.Millisecond}, nil, nil)
	auth := middleware.NewAuthMiddleware(testJWTSecret, time.Hour)

	jobs := NewJobHandler(svc, mon, validator.New(), nil)
	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	Routes{
		Jobs:   jobs,
		System: NewSystemHandler(logging.NewNop(), nil, "memory", "local"),
		Auth:   auth.Authenticate(),
		Debug:  true,
	}.Mount(app)

	token, err := auth.GenerateToken("test-user-123", "test@example.com")
	require.NoError(t, err)

	return &testApp{app: app, jobs: jobs, store: mem, token: token}
}

func (ta *testApp) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+ta.token)

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var result map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &result), "body: %s", raw)
	return resp.StatusCode, result
}

func (ta *testApp) seed(t *testing.T, id string, status model.JobStatus, created time.Time) {
	t.Helper()
	require.NoError(t, ta.store.CreateJob(context.Background(), &model.Job{
		ID:           id,
		JobType:      "import",
		Status:       status,
		TotalBatches: 2,
		CreatedAt:    created,
		UpdatedAt:    created,
	}))
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := errBody["code"].(string)
	return code
}

func TestStart(t *testing.T) {
	ta := setupApp(t)

	status, body := ta.do(t, http.MethodPost, "/api/jobs", `{"jobType":"import","totalBatches":3}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["jobId"])

	_, err := ta.store.GetJob(context.Background(), body["jobId"].(string))
	assert.NoError(t, err)
}

func TestStart_RecordsGatewayCaller(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := service.NewJobService(store.NewMemoryStore(), nopEnqueuer{}, zap.New(core))

	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	Routes{
		Jobs: NewJobHandler(svc, nil, validator.New(), nil),
		Auth: middleware.GatewayAuthMiddleware(),
	}.Mount(app)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"jobType":"import","totalBatches":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderUserID, "user-42")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	queued := logs.FilterMessage("Batch job queued").All()
	require.Len(t, queued, 1)
	assert.Equal(t, "user-42", queued[0].ContextMap()["requestedBy"])
}

func TestStart_Validation(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing type", `{"totalBatches":3}`},
		{"zero batches", `{"jobType":"import","totalBatches":0}`},
		{"too many batches", `{"jobType":"import","totalBatches":5000}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ta.do(t, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, response.CodeValidationError, errorCode(t, body))
		})
	}
}

func TestUnauthenticated(t *testing.T) {
	ta := setupApp(t)

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ta := setupApp(t)
	ta.seed(t, "job-1", model.JobStatusFailed, time.Now())

	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isFailed"])
	assert.Equal(t, false, body["isProcessing"])
	assert.Equal(t, []interface{}{}, body["batches"])

	status, body = ta.do(t, http.MethodGet, "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeNotFound, errorCode(t, body))
}

func TestStatus_StoreFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	ta := setupAppWithStore(t, mem, failingReader{JobStore: mem})

	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, response.CodeFetchFailed, errorCode(t, body))
}

func TestBatches(t *testing.T) {
	ta := setupApp(t)
	ta.seed(t, "job-1", model.JobStatusProcessing, time.Now())
	require.NoError(t, ta.store.SaveBatch(context.Background(), &model.BatchProgress{JobID: "job-1", BatchNumber: 1, Status: model.JobStatusCompleted}))

	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1/batches", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["batches"], 1)

	status, _ = ta.do(t, http.MethodGet, "/api/jobs/nope/batches", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestList(t *testing.T) {
	ta := setupApp(t)

	status, body := ta.do(t, http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["jobs"])
	assert.Nil(t, body["error"])

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		ta.seed(t, string(rune('a'+i)), model.JobStatusCompleted, base.Add(time.Duration(i)*time.Minute))
	}

	_, body = ta.do(t, http.MethodGet, "/api/jobs", "")
	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, service.DefaultRecentJobs)
	assert.Equal(t, "g", jobs[0].(map[string]interface{})["id"])

	_, body = ta.do(t, http.MethodGet, "/api/jobs?limit=2", "")
	assert.Len(t, body["jobs"], 2)

	status, _ = ta.do(t, http.MethodGet, "/api/jobs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestList_StoreFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	ta := setupAppWithStore(t, mem, failingReader{JobStore: mem})

	status, body := ta.do(t, http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, service.MsgRecentJobsFailed, body["error"])
	assert.Equal(t, []interface{}{}, body["jobs"])
}

func TestWait_Terminal(t *testing.T) {
	ta := setupApp(t)
	ta.seed(t, "job-1", model.JobStatusCompleted, time.Now())

	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1/wait?timeout=2s", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(monitor.StopReasonTerminal), body["stopReason"])
	assert.Equal(t, true, body["isCompleted"])
	assert.Equal(t, float64(1), body["polls"])
}

func TestWait_FollowsUntilSettled(t *testing.T) {
	ta := setupApp(t)
	ta.seed(t, "job-1", model.JobStatusProcessing, time.Now())

	go func() {
		time.Sleep(50 * time.Millisecond)
		job, err := ta.store.GetJob(context.Background(), "job-1")
		if err != nil {
			return
		}
		job.Status = model.JobStatusFailed
		_ = ta.store.SaveJob(context.Background(), job)
	}()

	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1/wait?timeout=5s", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isFailed"])
	assert.Greater(t, body["polls"].(float64), float64(1))
}

func TestWait_Timeout(t *testing.T) {
	ta := setupApp(t)
	ta.seed(t, "job-1", model.JobStatusPending, time.Now())

	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1/wait?timeout=60ms", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "timeout", body["stopReason"])
	assert.Equal(t, true, body["isProcessing"])
}

func TestWait_EndsOnServerShutdown(t *testing.T) {
	mem := store.NewMemoryStore()
	ta := setupAppWithStore(t, mem, mem)
	ta.seed(t, "job-1", model.JobStatusProcessing, time.Now())

	shutdown, cancel := context.WithCancel(context.Background())
	defer cancel()
	ta.jobs.WithShutdown(shutdown)

	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	status, body := ta.do(t, http.MethodGet, "/api/jobs/job-1/wait?timeout=5m", "")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(monitor.StopReasonCancelled), body["stopReason"])
	assert.Equal(t, true, body["isProcessing"])
}

func TestWait_Errors(t *testing.T) {
	ta := setupApp(t)

	status, body := ta.do(t, http.MethodGet, "/api/jobs/nope/wait", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeNotFound, errorCode(t, body))

	status, _ = ta.do(t, http.MethodGet, "/api/jobs/nope/wait?timeout=soon", "")
	assert.Equal(t, http.StatusBadRequest, status)

	mem := store.NewMemoryStore()
	broken := setupAppWithStore(t, mem, failingReader{JobStore: mem})
	status, body = broken.do(t, http.MethodGet, "/api/jobs/job-1/wait?timeout=1s", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, response.CodeFetchFailed, errorCode(t, body))
}

func TestHealthAndBreadcrumbs(t *testing.T) {
	ta := setupApp(t)

	status, body := ta.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["store"])

	status, body = ta.do(t, http.MethodGet, "/debug/breadcrumbs", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "breadcrumbs")
}

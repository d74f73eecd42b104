package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/elecmate/api/internal/middleware"
	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/monitor"
	"github.com/elecmate/api/internal/service"
	"github.com/elecmate/api/pkg/response"
)

const (
	DefaultWaitTimeout = 30 * time.Second
	MaxWaitTimeout     = 5 * time.Minute

	maxRecentJobs = 100
)

type JobHandler struct {
	service   *service.JobService
	monitor   *monitor.Monitor
	validator *validator.Validate
	logger    *zap.Logger
	shutdown  context.Context
}

func NewJobHandler(svc *service.JobService, mon *monitor.Monitor, v *validator.Validate, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		service:   svc,
		monitor:   mon,
		validator: v,
		logger:    logger,
		shutdown:  context.Background(),
	}
}

// WithShutdown ends in-flight waits when ctx is done so they do not
// outlive the server.
func (h *JobHandler) WithShutdown(ctx context.Context) *JobHandler {
	h.shutdown = ctx
	return h
}

// Start handles POST /api/jobs
func (h *JobHandler) Start(c *fiber.Ctx) error {
	var req model.StartJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	req.RequestedBy = middleware.GetUserID(c)

	result, err := h.service.StartJob(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidJob) {
			return response.ValidationError(c, "Invalid job request", nil)
		}
		h.logger.Error("Failed to start job", zap.Error(err))
		return response.ServiceError(c, "Failed to start job")
	}

	return response.Accepted(c, result)
}

// List handles GET /api/jobs?limit=N
func (h *JobHandler) List(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return response.ValidationError(c, "limit must be a non-negative integer", nil)
		}
		limit = min(n, maxRecentJobs)
	}

	return response.OK(c, h.service.LatestJobs(c.UserContext(), limit))
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return h.fetchError(c, jobID, err)
	}

	return response.OK(c, result)
}

// Batches handles GET /api/jobs/:jobId/batches
func (h *JobHandler) Batches(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetBatches(c.UserContext(), jobID)
	if err != nil {
		return h.fetchError(c, jobID, err)
	}

	return response.OK(c, result)
}

// Wait handles GET /api/jobs/:jobId/wait?timeout=30s. It follows the job
// until the session stops or the timeout passes and returns the last state.
func (h *JobHandler) Wait(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	timeout := DefaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return response.ValidationError(c, "timeout must be a positive duration such as 30s", nil)
		}
		timeout = min(d, MaxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()
	stopOnShutdown := context.AfterFunc(h.shutdown, cancel)
	defer stopOnShutdown()

	sess := h.monitor.Watch(ctx, jobID)
	_, _ = sess.Wait(ctx)
	sess.Stop()
	snap := sess.Snapshot()

	if snap.StopReason == monitor.StopReasonFetchFailed {
		if snap.Job == nil && errors.Is(snap.Err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if snap.Job == nil {
			return response.FetchFailed(c, snap.Error)
		}
	}

	stopReason := string(snap.StopReason)
	if snap.StopReason == monitor.StopReasonCancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		stopReason = "timeout"
	}

	batches := snap.Batches
	if batches == nil {
		batches = []model.BatchProgress{}
	}

	return response.OK(c, model.WatchResponse{
		JobID:      jobID,
		Job:        snap.Job,
		Batches:    batches,
		Error:      snap.Error,
		StopReason: stopReason,
		Polls:      snap.Polls,
		Projection: snap.Projection(),
	})
}

func (h *JobHandler) fetchError(c *fiber.Ctx, jobID string, err error) error {
	if errors.Is(err, service.ErrJobNotFound) {
		return response.NotFound(c, "Job not found")
	}
	h.logger.Error("Failed to fetch job", zap.String("jobId", jobID), zap.Error(err))
	return response.FetchFailed(c, monitor.MsgJobFetchFailed)
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}

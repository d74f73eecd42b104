package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/elecmate/api/internal/bootstrap"
	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/monitor"
)

var errJobFailed = errors.New("job failed")

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if bootstrap.NeedsRedis(cfg) {
		redisClient = bootstrap.NewRedisClient(cfg)
		defer redisClient.Close()
	}

	jobStore, closeStore, err := bootstrap.OpenStore(ctx, cfg, redisClient, logs.Named("store"))
	if err != nil {
		return err
	}
	defer closeStore()

	monCfg := cfg.Monitor.ToMonitor()
	if watchInterval > 0 {
		monCfg.Interval = watchInterval
	}
	mon := monitor.New(jobStore, monCfg, logs.Named("monitor"), nil)

	return watchJob(ctx, cmd.OutOrStdout(), mon, args[0], watchJSON)
}

// watchJob prints every snapshot of a session. Cancelling ctx stops the
// session; the final state is still printed.
func watchJob(ctx context.Context, out io.Writer, mon *monitor.Monitor, jobID string, asJSON bool) error {
	sess := mon.Watch(ctx, jobID)
	defer sess.Stop()

	var last monitor.Snapshot
	for snap := range sess.Updates() {
		last = snap
		if err := printSnapshot(out, snap, asJSON); err != nil {
			return err
		}
	}

	switch {
	case last.StopReason == monitor.StopReasonFetchFailed:
		return fmt.Errorf("%s: %w", last.Error, last.Err)
	case last.Projection().IsFailed:
		return errJobFailed
	}
	return nil
}

func printSnapshot(out io.Writer, snap monitor.Snapshot, asJSON bool) error {
	if asJSON {
		batches := snap.Batches
		if batches == nil {
			batches = []model.BatchProgress{}
		}
		return json.NewEncoder(out).Encode(model.WatchResponse{
			JobID:      snap.JobID,
			Job:        snap.Job,
			Batches:    batches,
			Error:      snap.Error,
			StopReason: string(snap.StopReason),
			Polls:      snap.Polls,
			Projection: snap.Projection(),
		})
	}

	if snap.Job == nil {
		if snap.Error != "" {
			_, err := fmt.Fprintf(out, "%s  %s\n", snap.JobID, snap.Error)
			return err
		}
		return nil
	}

	job := snap.Job
	line := fmt.Sprintf("%s  %-10s %3d%%  batch %d/%d  failed %d",
		job.ID, job.Status, job.ProgressPercentage,
		job.CompletedBatches+job.FailedBatches, job.TotalBatches, job.FailedBatches)
	if snap.Error != "" {
		line += "  (" + snap.Error + ")"
	}
	if snap.Stopped {
		line += "  [" + string(snap.StopReason) + "]"
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		line += "  " + *job.ErrorMessage
	}

	_, err := fmt.Fprintln(out, line)
	return err
}

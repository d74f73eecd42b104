package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/elecmate/api/internal/bootstrap"
	"github.com/elecmate/api/internal/service"
)

func runRecent(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

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

	svc := service.NewJobService(jobStore, nil, logs.Named("jobs"))
	return printRecent(ctx, cmd.OutOrStdout(), svc, recentLimit)
}

func printRecent(ctx context.Context, out io.Writer, svc *service.JobService, limit int) error {
	resp := svc.LatestJobs(ctx, limit)
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}

	if len(resp.Jobs) == 0 {
		_, err := fmt.Fprintln(out, "No jobs yet")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tBATCHES\tCREATED")
	for _, j := range resp.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
			j.ID, j.JobType, j.Status, j.ProgressPercentage,
			j.CompletedBatches+j.FailedBatches, j.TotalBatches,
			j.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

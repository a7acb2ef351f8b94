package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"trading-alerts/api/jobs"

	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run batch jobs outside the scheduler",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run [name]",
		Short: "Run one job now: " + strings.Join([]string{jobs.SendNotifications, jobs.ExpireSubscriptions, jobs.TrialReminders, jobs.CloseTrainings}, ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), args[0])
		},
	})
	return cmd
}

func runJob(ctx context.Context, name string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	result, err := a.runner.Run(ctx, name)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/job"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan in the foreground",
	Long:  "Fetches new mail for the selected accounts, tags it, reconciles contacts and writes the vault. Ctrl-C cancels the job.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		userID, _ := cmd.Flags().GetString("user")
		labels, _ := cmd.Flags().GetStringSlice("labels")

		env, err := initJobs(ctx, "scan", job.ExecutorConfig{
			MaxConcurrent: 1,
			MaxRetries:    cfg.Jobs.MaxRetries,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, err := env.Service.Start(ctx, userID, labels)
		if err != nil {
			return eris.Wrap(err, "scan start")
		}
		zap.L().Info("scan started", zap.String("job_id", jobID))

		env.Executor.Wait()

		j, err := env.Service.Status(context.WithoutCancel(ctx), jobID)
		if err != nil {
			return eris.Wrap(err, "scan status")
		}
		formatJob(cmd.OutOrStdout(), j)

		if j.Status != model.JobCompleted {
			return eris.Errorf("scan %s %s", jobID, j.Status)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().String("user", "", "user id to scan for")
	scanCmd.Flags().StringSlice("labels", nil, "account labels to scan (default: all, in default order)")
	_ = scanCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(scanCmd)
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tooeysb/gmail-obsidian-integration/internal/job"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel scan jobs",
}

// -- jobs status --

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, closeFn, err := jobService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		j, err := svc.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs status")
		}
		formatJob(cmd.OutOrStdout(), j)
		return nil
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, closeFn, err := jobService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := svc.Cancel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s cancelled\n", args[0])
		return nil
	},
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's recent jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		svc, closeFn, err := jobService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := svc.List(ctx, userID, limit)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

// jobService opens the store behind a service with no local executor.
func jobService(cmd *cobra.Command) (*job.Service, func(), error) {
	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return job.NewService(st, detachedQueue{}, cfg.Vault.Path), func() { _ = st.Close() }, nil
}

func formatJob(out io.Writer, j *model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	if j.Phase != model.PhaseNone {
		_, _ = fmt.Fprintf(w, "Phase:\t%s\n", j.Phase)
	}
	_, _ = fmt.Fprintf(w, "Progress:\t%d%%\n", j.ProgressPct)
	_, _ = fmt.Fprintf(w, "Emails:\t%s\n", emailCount(j))
	_, _ = fmt.Fprintf(w, "Contacts:\t%d\n", j.ContactsProcessed)
	_, _ = fmt.Fprintf(w, "Accounts:\t%s\n", joinLabels(j.AccountLabels))
	if j.RetryCount > 0 {
		_, _ = fmt.Fprintf(w, "Retries:\t%d\n", j.RetryCount)
	}
	if j.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", j.ErrorMessage)
	}
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", j.CreatedAt.Format(time.RFC3339))
	if j.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Completed:\t%s\n", j.CompletedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPHASE\tPROGRESS\tEMAILS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t--------\t------\t-------")

	for _, j := range jobs {
		phase := string(j.Phase)
		if phase == "" {
			phase = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			truncateID(j.ID),
			j.Status,
			phase,
			j.ProgressPct,
			emailCount(&j),
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func emailCount(j *model.Job) string {
	if j.EmailsTotal == nil {
		return fmt.Sprintf("%d", j.EmailsProcessed)
	}
	return fmt.Sprintf("%d/%d", j.EmailsProcessed, *j.EmailsTotal)
}

func joinLabels(labels []model.AccountLabel) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	jobsListCmd.Flags().String("user", "", "user id")
	jobsListCmd.Flags().Int("limit", 20, "max jobs to show")
	_ = jobsListCmd.MarkFlagRequired("user")

	jobsCmd.AddCommand(jobsStatusCmd, jobsCancelCmd, jobsListCmd)
	rootCmd.AddCommand(jobsCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis job history",
	Long:  "Commands for listing, viewing, and cancelling analysis jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status:     model.JobStatus(status),
			CategoryID: category,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the full record of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rec, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		formatResult(os.Stdout, rec)
		return nil
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Long:  "Marks a job that has not started processing as cancelled. Jobs running inside a serve process are cancelled through its API instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rec, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		if rec.Status.Terminal() {
			fmt.Fprintf(os.Stderr, "Job %s already %s.\n", rec.JobID, rec.Status)
			return nil
		}

		if err := st.UpdateJobStatus(ctx, rec.JobID, model.JobStatusCancelled, rec.Progress, ""); err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		fmt.Printf("Job %s cancelled.\n", rec.JobID)
		return nil
	},
}

func formatJobsList(w io.Writer, jobs []model.JobRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tCATEGORY\tSTATUS\tPROGRESS\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			j.JobID,
			j.Params.CategoryID,
			j.Status,
			j.Progress,
			j.CreatedAt.Format(time.RFC3339),
			j.Error,
		)
	}
	tw.Flush()
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status")
	jobsListCmd.Flags().String("category", "", "filter by category ID")
	jobsListCmd.Flags().Int("limit", 50, "maximum jobs to list")
	jobsShowCmd.Flags().Bool("json", false, "print the full record as JSON")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

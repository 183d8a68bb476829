package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/newsletter-curator/internal/config"
	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/observability"
)

var (
	jobsTenant  string
	jobsType    string
	jobsStatus  string
	jobsLimit   int
	cleanupDays int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage background jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of an active job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsRerunCmd = &cobra.Command{
	Use:   "rerun <job-id>",
	Short: "Clone a finished job into a fresh pending one",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRerun,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job that is not running",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than a cutoff",
	RunE:  runJobsCleanup,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsTenant, "tenant", "", "Filter by tenant ID")
	jobsListCmd.Flags().StringVar(&jobsType, "type", "", "Filter by job type")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to show")
	jobsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Delete terminal jobs created more than this many days ago")

	jobsCmd.AddCommand(jobsListCmd, jobsCancelCmd, jobsRerunCmd, jobsDeleteCmd, jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}

// connectDB opens the database for the lightweight management commands that
// never run pipelines.
func connectDB(ctx context.Context) (*db.DB, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return db.Connect(ctx, databaseURL)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	filters := db.JobFilters{Type: jobsType, Status: jobsStatus, Limit: jobsLimit}
	if jobsTenant != "" {
		tenantID, err := uuid.Parse(jobsTenant)
		if err != nil {
			return fmt.Errorf("invalid tenant ID: %w", err)
		}
		filters.TenantID = &tenantID
	}

	list, err := database.ListJobs(ctx, filters)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tSTAGE\tCREATED")
	for _, j := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			j.ID, j.Type, j.Status, j.ProgressPercent, j.CurrentStage, j.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	ok, err := database.RequestJobCancel(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s is not active", jobID)
	}
	fmt.Println("Cancellation requested")
	return nil
}

// runJobsRerun clones a terminal job and runs the clone in the foreground.
// Nothing picks up pending jobs on its own, so creating one without running
// it would only leave it for startup recovery to fail.
func runJobsRerun(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	ctx := context.Background()
	database, client, orch, err := buildDeps(ctx, config.Default())
	if err != nil {
		return err
	}
	defer database.Close()
	defer client.Close()

	clone, err := orch.RerunJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("Created job %s\n", clone.ID)

	printer := observability.NewPrinter(os.Stdout)
	return orch.RunJob(ctx, clone.ID, printer.PrintEvent)
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	jobID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	deleted, err := database.DeleteJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("job %s not found or still running", jobID)
	}
	fmt.Println("Deleted")
	return nil
}

func runJobsCleanup(cmd *cobra.Command, _ []string) error {
	if cleanupDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	deleted, err := database.DeleteJobsOlderThan(ctx, cleanupDays)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d jobs\n", deleted)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/newsletter-curator/internal/curation"
	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/jobs"
	"github.com/jonathan/newsletter-curator/internal/observability"
)

var (
	curateTenant  string
	curateSources []string
	curateConfig  string
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Run a curation job for a tenant and wait for it",
	Long:  `Create a curation job, run it in the foreground, and print progress as it executes.`,
	RunE:  runCurate,
}

func init() {
	curateCmd.Flags().StringVar(&curateTenant, "tenant", "", "Tenant ID (required)")
	curateCmd.Flags().StringSliceVar(&curateSources, "source", nil, "Source ID to curate (repeatable; default all active sources)")
	curateCmd.Flags().StringVar(&curateConfig, "config", "", "Path to JSON config file")
	_ = curateCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(curateCmd)
}

func runCurate(cmd *cobra.Command, _ []string) error {
	tenantID, err := uuid.Parse(curateTenant)
	if err != nil {
		return fmt.Errorf("invalid tenant ID: %w", err)
	}

	sourceIDs := make([]uuid.UUID, 0, len(curateSources))
	for _, raw := range curateSources {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid source ID %q: %w", raw, err)
		}
		sourceIDs = append(sourceIDs, id)
	}

	cfg, err := loadConfig(curateConfig)
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, client, orch, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	defer client.Close()

	params, err := json.Marshal(map[string]any{"source_ids": sourceIDs})
	if err != nil {
		return err
	}

	job, err := orch.CreateJob(ctx, tenantID, db.JobTypeCuration, params)
	if err != nil {
		return err
	}
	fmt.Printf("Created job %s\n", job.ID)

	printer := observability.NewPrinter(os.Stdout)
	var lastResult json.RawMessage
	sink := func(ev jobs.Event) {
		printer.PrintEvent(ev)
		if ev.Result != nil {
			lastResult = ev.Result
		}
	}

	runErr := orch.RunJob(ctx, job.ID, sink)

	if cfg.Verbose && lastResult != nil {
		var result curation.Result
		if err := json.Unmarshal(lastResult, &result); err == nil {
			printer.PrintRunSummary(&result)
		}
		if articles, err := database.ListArticles(ctx, tenantID, db.ArticleStatusPendingReview, 10); err == nil {
			printer.PrintArticles(articles)
		}
	}
	return runErr
}

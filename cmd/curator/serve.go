package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/jonathan/newsletter-curator/internal/server"
)

var (
	servePort   int
	serveConfig string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes job and curation endpoints.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config file)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to JSON config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfig)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	ctx := context.Background()
	database, client, orch, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	defer client.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	// Jobs left active by a previous process can never make progress.
	recovered, err := orch.RecoverStale(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if recovered > 0 {
		log.Printf("Marked %d stale jobs as failed", recovered)
	}

	srv := server.New(server.Config{Port: cfg.Port}, database, orch)
	return srv.Start()
}

// Package main provides the entry point for the newsletter curator service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Newsletter content curation service",
	Long:  "Curator ingests tenant-configured feeds, deduplicates and scores items with an LLM, and stages relevant articles for editorial review via background jobs and a REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage a tenant's feed sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list <tenant-id>",
	Short: "List the tenant's sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesList,
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <tenant-id> <name> <feed-url>",
	Short: "Register a new feed source",
	Args:  cobra.ExactArgs(3),
	RunE:  runSourcesAdd,
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <source-id>",
	Short: "Delete a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesRemove,
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesRemoveCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	tenantID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid tenant ID: %w", err)
	}

	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	sources, err := database.ListSources(ctx, tenantID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tFEED")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.ID, s.Name, s.Active, s.FeedURL)
	}
	return tw.Flush()
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	tenantID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid tenant ID: %w", err)
	}

	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	source, err := database.CreateSource(ctx, tenantID, args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("Created source %s\n", source.ID)
	return nil
}

func runSourcesRemove(cmd *cobra.Command, args []string) error {
	sourceID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid source ID: %w", err)
	}

	ctx := context.Background()
	database, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	deleted, err := database.DeleteSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("source %s not found", sourceID)
	}
	fmt.Println("Deleted")
	return nil
}

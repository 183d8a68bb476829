// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/newsletter-curator/internal/curation"
	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/jobs"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintSources outputs the sources selected for a curation run.
func (p *Printer) PrintSources(sources []db.Source) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Selected %d sources:\n", len(sources)))
	for i, s := range sources {
		if i >= maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(sources)-maxItemsToShow))
			break
		}
		marker := " "
		if s.Active {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%s %s (%s)\n", marker, s.Name, s.FeedURL))
	}

	p.printBox("CURATION SOURCES", sb.String())
}

// PrintEvent outputs one job event as a single progress line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(ev jobs.Event) {
	switch ev.Type {
	case jobs.EventStart:
		fmt.Fprintf(p.out, "▶ job %s started\n", ev.JobID)
	case jobs.EventProgress:
		fmt.Fprintf(p.out, "  [%3d%%] %-20s %s\n", ev.Percent, ev.Stage, ev.Message)
	case jobs.EventComplete:
		fmt.Fprintf(p.out, "✓ job %s completed\n", ev.JobID)
	case jobs.EventCancelled:
		fmt.Fprintf(p.out, "✗ job %s cancelled\n", ev.JobID)
	case jobs.EventError:
		fmt.Fprintf(p.out, "✗ job %s failed: %s\n", ev.JobID, ev.Message)
	}
}

// PrintRunSummary outputs the outcome counts of a finished curation run.
func (p *Printer) PrintRunSummary(result *curation.Result) {
	if result == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Curated:     %d\n", result.Curated))
	sb.WriteString(fmt.Sprintf("Duplicates:  %d\n", result.Duplicates))
	sb.WriteString(fmt.Sprintf("Low score:   %d\n", result.LowScore))
	sb.WriteString(fmt.Sprintf("Errors:      %d\n", result.Errors))
	if result.FailedSources > 0 {
		sb.WriteString(fmt.Sprintf("Feeds down:  %d\n", result.FailedSources))
	}

	p.printBox("CURATION RUN SUMMARY", sb.String())
}

// PrintArticles outputs a short listing of staged articles.
func (p *Printer) PrintArticles(articles []db.Article) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%d articles staged for review:\n", len(articles)))
	for i, a := range articles {
		if i >= maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(articles)-maxItemsToShow))
			break
		}
		sb.WriteString(fmt.Sprintf("[%.1f] %s\n", a.RelevanceScore, a.Title))
		if len(a.Categories) > 0 {
			sb.WriteString(fmt.Sprintf("      %s\n", strings.Join(a.Categories, ", ")))
		}
	}

	p.printBox("STAGED ARTICLES", sb.String())
}

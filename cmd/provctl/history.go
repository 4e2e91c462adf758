package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/GoCodeAlone/provision/store"
)

func runHistory(args []string) error {
	if len(args) < 1 {
		return historyUsage()
	}
	switch args[0] {
	case "list":
		return runHistoryList(args[1:])
	case "show":
		return runHistoryShow(args[1:])
	default:
		return historyUsage()
	}
}

func historyUsage() error {
	fmt.Fprintf(os.Stderr, `Usage: provctl history <subcommand> [options]

Subcommands:
  list   List recorded runs, most recent first
  show   Show the timeline of one run
`)
	return errors.New("history subcommand is required")
}

func openHistory(path string) (*store.SQLiteEventStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run history at %s", path)
	}
	return store.NewSQLiteEventStore(path)
}

func runHistoryList(args []string) error {
	fs := pflag.NewFlagSet("history list", pflag.ContinueOnError)
	path := fs.String("history", store.DefaultHistoryPath(), "Run history database")
	pipelineName := fs.StringP("pipeline", "p", "", "Only runs of this pipeline")
	status := fs.String("status", "", "Only runs with this status (running, completed, aborted, failed)")
	since := fs.Duration("since", 0, "Only runs started within this duration")
	limit := fs.IntP("limit", "n", 20, "Maximum number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openHistory(*path)
	if err != nil {
		return err
	}
	defer s.Close()

	filter := store.RunFilter{Pipeline: *pipelineName, Status: *status, Limit: *limit}
	if *since > 0 {
		t := time.Now().Add(-*since)
		filter.Since = &t
	}
	runs, err := s.ListRuns(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Pipeline, r.Status, formatTime(r.StartedAt), duration(r.StartedAt, r.CompletedAt))
	}
	return tw.Flush()
}

func runHistoryShow(args []string) error {
	fs := pflag.NewFlagSet("history show", pflag.ContinueOnError)
	path := fs.String("history", store.DefaultHistoryPath(), "Run history database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run ID is required")
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", fs.Arg(0), err)
	}

	s, err := openHistory(*path)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.GetTimeline(context.Background(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		return err
	}

	fmt.Fprintf(stdout, "Run:      %s\nPipeline: %s\n", run.RunID, run.Pipeline)
	if run.Title != "" {
		fmt.Fprintf(stdout, "Title:    %s\n", run.Title)
	}
	fmt.Fprintf(stdout, "Status:   %s\nStarted:  %s\nDuration: %s\n", run.Status, formatTime(run.StartedAt), duration(run.StartedAt, run.CompletedAt))
	if run.Error != "" {
		fmt.Fprintf(stdout, "Error:    %s\n", run.Error)
	}

	if len(run.Processors) > 0 {
		fmt.Fprintln(stdout, "\nProcessors:")
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		for _, p := range run.Processors {
			outcome := p.Result
			if p.Error != "" {
				outcome = p.Error
			}
			fmt.Fprintf(tw, "  %d.%d\t%s\t%s\t%s\t%s\n", p.Step, p.Index, p.Type, p.Status, duration(p.StartedAt, p.CompletedAt), outcome)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(run.Messages) > 0 {
		fmt.Fprintln(stdout, "\nMessages:")
		for _, m := range run.Messages {
			fmt.Fprintf(stdout, "  %s\n", m)
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func duration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}
	return end.Sub(*start).Round(time.Millisecond).String()
}
